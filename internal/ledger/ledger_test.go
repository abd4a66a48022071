package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var standardRates = Rates{
	BuyerFeeBps:         250,  // 2.5%
	SellerFeeBps:        150,  // 1.5%
	DealerCommissionBps: 300,  // 3.0%
	VATBps:              1900, // 19%
}

func TestCompute_StandardRates(t *testing.T) {
	// 1000.00 at 2.5% / 1.5% / 3.0% / 19%
	b, err := Compute(100_000, standardRates, true)
	require.NoError(t, err)

	assert.Equal(t, int64(2_500), b.ServiceFeeCents)       // 25.00
	assert.Equal(t, int64(1_500), b.SellerFeeCents)        // 15.00
	assert.Equal(t, int64(3_000), b.DealerCommissionCents) // 30.00
	assert.Equal(t, int64(760), b.VATCents)                // 19% of 40.00 = 7.60
	assert.Equal(t, int64(103_260), b.TotalCents)          // 1000.00 + 25.00 + 7.60
	assert.Equal(t, int64(95_500), b.NetPayoutCents)       // 1000.00 - 15.00 - 30.00
}

func TestCompute_Deterministic(t *testing.T) {
	first, err := Compute(1_234_567, standardRates, true)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := Compute(1_234_567, standardRates, true)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCompute_NoDealer(t *testing.T) {
	b, err := Compute(100_000, standardRates, false)
	require.NoError(t, err)

	assert.Zero(t, b.DealerCommissionCents)
	assert.Equal(t, int64(98_500), b.NetPayoutCents) // only the seller fee is deducted
}

func TestCompute_RoundsEachComponentBeforeAccumulating(t *testing.T) {
	// 33.33 at 2.5% = 0.833 -> rounds to 0.83
	// 33.33 at 1.5% = 0.500 -> rounds to 0.50 (half-up)
	b, err := Compute(3_333, standardRates, false)
	require.NoError(t, err)

	assert.Equal(t, int64(83), b.ServiceFeeCents)
	assert.Equal(t, int64(50), b.SellerFeeCents)
	// VAT on the rounded fees: 19% of 1.33 = 0.2527 -> 0.25
	assert.Equal(t, int64(25), b.VATCents)
	assert.Equal(t, int64(3_333+83+25), b.TotalCents)
}

func TestCompute_RejectsNonPositiveAmount(t *testing.T) {
	_, err := Compute(0, standardRates, false)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Compute(-100, standardRates, false)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCompute_ZeroRates(t *testing.T) {
	b, err := Compute(50_000, Rates{}, true)
	require.NoError(t, err)

	assert.Zero(t, b.ServiceFeeCents)
	assert.Zero(t, b.VATCents)
	assert.Equal(t, int64(50_000), b.TotalCents)
	assert.Equal(t, int64(50_000), b.NetPayoutCents)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"10000.00", 1_000_000, false},
		{"10000", 1_000_000, false},
		{"0.01", 1, false},
		{"99.9", 9_990, false},
		{"", 0, true},
		{"1.234", 0, true},
		{"1.", 0, true},
		{"abc", 0, true},
		{"-5", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "10000.00", FormatAmount(1_000_000))
	assert.Equal(t, "0.01", FormatAmount(1))
	assert.Equal(t, "7.60", FormatAmount(760))
	assert.Equal(t, "-12.34", FormatAmount(-1234))
}

func TestParseFormat_RoundTrip(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 100, 103_260, 1_000_000} {
		got, err := ParseAmount(FormatAmount(cents))
		require.NoError(t, err)
		assert.Equal(t, cents, got)
	}
}
