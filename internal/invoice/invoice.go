// Package invoice issues numbered invoices once a transaction's funds are
// verified.
//
// Numbers come from a monotonic per-year sequence in the format
// INV-{year}-{5-digit-seq}. A number is never reused: if issuance fails
// after the sequence advanced, the number is burned and the retry takes the
// next one. Issuance is idempotent per transaction.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/autovault/autovault/internal/idgen"
	"github.com/autovault/autovault/internal/metrics"
	"github.com/autovault/autovault/internal/transaction"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrDuplicateInvoice is returned by stores when an invoice already
	// exists for the transaction.
	ErrDuplicateInvoice = errors.New("invoice already exists for this transaction")
)

// Invoice is the billing record frozen from a transaction's ledger snapshot.
type Invoice struct {
	ID            string `json:"id"`
	Number        string `json:"number"` // e.g. INV-2026-00001
	TransactionID string `json:"transactionId"`
	BuyerID       string `json:"buyerId"`

	AmountCents           int64  `json:"amountCents"`
	ServiceFeeCents       int64  `json:"serviceFeeCents"`
	SellerFeeCents        int64  `json:"sellerFeeCents"`
	DealerCommissionCents int64  `json:"dealerCommissionCents"`
	VATCents              int64  `json:"vatCents"`
	TotalCents            int64  `json:"totalCents"`
	Currency              string `json:"currency"`

	IssuedAt  time.Time `json:"issuedAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists invoices and the numbering sequence. NextSequence must be
// atomic: two concurrent callers for the same year get distinct values.
type Store interface {
	NextSequence(ctx context.Context, year int) (int, error)
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	GetByTransaction(ctx context.Context, transactionID string) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
}

// Service implements invoice issuance.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates an invoice service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Issue creates the invoice for a verified transaction and returns its
// number. Calling it again returns the existing number.
// Part of the transaction.InvoiceIssuer contract.
func (s *Service) Issue(ctx context.Context, t *transaction.Transaction) (string, error) {
	if existing, err := s.store.GetByTransaction(ctx, t.ID); err == nil {
		return existing.Number, nil
	}

	now := time.Now()
	seq, err := s.store.NextSequence(ctx, now.Year())
	if err != nil {
		return "", fmt.Errorf("failed to advance invoice sequence: %w", err)
	}

	inv := &Invoice{
		ID:                    idgen.WithPrefix("inv_"),
		Number:                FormatNumber(now.Year(), seq),
		TransactionID:         t.ID,
		BuyerID:               t.BuyerID,
		AmountCents:           t.AmountCents,
		ServiceFeeCents:       t.ServiceFeeCents,
		SellerFeeCents:        t.SellerFeeCents,
		DealerCommissionCents: t.DealerCommissionCents,
		VATCents:              t.VATCents,
		TotalCents:            t.TotalCents,
		Currency:              t.Currency,
		IssuedAt:              now,
		CreatedAt:             now,
	}
	if err := s.store.Create(ctx, inv); err != nil {
		if errors.Is(err, ErrDuplicateInvoice) {
			// A concurrent retry won; its number stands, ours is burned.
			existing, getErr := s.store.GetByTransaction(ctx, t.ID)
			if getErr != nil {
				return "", getErr
			}
			return existing.Number, nil
		}
		return "", fmt.Errorf("failed to create invoice: %w", err)
	}

	metrics.InvoicesIssuedTotal.Inc()
	s.logger.Info("invoice issued",
		"invoice_number", inv.Number, "transaction_id", t.ID, "total_cents", inv.TotalCents)
	return inv.Number, nil
}

// Get returns an invoice by ID.
func (s *Service) Get(ctx context.Context, id string) (*Invoice, error) {
	return s.store.Get(ctx, id)
}

// ForTransaction returns the invoice issued for a transaction.
func (s *Service) ForTransaction(ctx context.Context, transactionID string) (*Invoice, error) {
	return s.store.GetByTransaction(ctx, transactionID)
}

// ByNumber returns an invoice by its human-facing number.
func (s *Service) ByNumber(ctx context.Context, number string) (*Invoice, error) {
	return s.store.GetByNumber(ctx, number)
}

// FormatNumber renders the canonical invoice number.
func FormatNumber(year, seq int) string {
	return fmt.Sprintf("INV-%d-%05d", year, seq)
}

// Compile-time assertion that Service satisfies the state machine contract.
var _ transaction.InvoiceIssuer = (*Service)(nil)
