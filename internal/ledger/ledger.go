// Package ledger computes the fee breakdown for a vehicle sale.
//
// The breakdown is computed exactly once, when a transaction is created, and
// frozen onto the transaction row. Rate configuration changes never alter
// fees on existing transactions.
package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidAmount = errors.New("ledger: invalid amount")

// Rates holds the fee configuration, in basis points.
type Rates struct {
	BuyerFeeBps         int // service fee charged to the buyer on top of the price
	SellerFeeBps        int // platform fee deducted from the seller payout
	DealerCommissionBps int // dealer commission, applied only when a dealer brokered the sale
	VATBps              int // VAT on the platform fees
}

// Breakdown is the frozen result of a fee computation. All values in cents.
type Breakdown struct {
	AmountCents           int64 `json:"amountCents"`           // vehicle price
	ServiceFeeCents       int64 `json:"serviceFeeCents"`       // buyer-side service fee
	SellerFeeCents        int64 `json:"sellerFeeCents"`        // seller-side platform fee
	DealerCommissionCents int64 `json:"dealerCommissionCents"` // 0 when no dealer
	VATCents              int64 `json:"vatCents"`              // VAT on service + seller fees
	TotalCents            int64 `json:"totalCents"`            // what the buyer wires
	NetPayoutCents        int64 `json:"netPayoutCents"`        // what the seller receives
}

// Compute calculates the fee breakdown for a sale amount.
//
// Each component is rounded (half-up) to whole cents immediately after its
// own multiplication, and the totals accumulate the rounded components.
// Invoice totals therefore always equal the sum of their printed lines.
// Pass hasDealer=false to skip the dealer commission regardless of rate.
func Compute(amountCents int64, r Rates, hasDealer bool) (Breakdown, error) {
	if amountCents <= 0 {
		return Breakdown{}, ErrInvalidAmount
	}

	serviceFee := applyBps(amountCents, r.BuyerFeeBps)
	sellerFee := applyBps(amountCents, r.SellerFeeBps)

	var dealerCommission int64
	if hasDealer {
		dealerCommission = applyBps(amountCents, r.DealerCommissionBps)
	}

	vat := applyBps(serviceFee+sellerFee, r.VATBps)

	return Breakdown{
		AmountCents:           amountCents,
		ServiceFeeCents:       serviceFee,
		SellerFeeCents:        sellerFee,
		DealerCommissionCents: dealerCommission,
		VATCents:              vat,
		TotalCents:            amountCents + serviceFee + vat,
		NetPayoutCents:        amountCents - sellerFee - dealerCommission,
	}, nil
}

// applyBps multiplies cents by a basis-point rate, rounding half-up.
func applyBps(cents int64, bps int) int64 {
	return (cents*int64(bps) + 5000) / 10000
}

// ParseAmount converts a decimal string like "10000.00" to cents.
// At most two decimal places are accepted.
func ParseAmount(s string) (int64, error) {
	if s == "" {
		return 0, ErrInvalidAmount
	}

	whole, frac, found := strings.Cut(s, ".")
	if whole == "" || len(frac) > 2 {
		return 0, ErrInvalidAmount
	}
	if found && frac == "" {
		return 0, ErrInvalidAmount
	}
	for len(frac) < 2 {
		frac += "0"
	}

	var cents int64
	for _, c := range whole + frac {
		if c < '0' || c > '9' {
			return 0, ErrInvalidAmount
		}
		d := int64(c - '0')
		if cents > (1<<62)/10 {
			return 0, ErrInvalidAmount
		}
		cents = cents*10 + d
	}
	return cents, nil
}

// FormatAmount converts cents to a decimal string like "10000.00".
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
