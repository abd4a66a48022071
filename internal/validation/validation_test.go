package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequired(t *testing.T) {
	errs := Validate(Required("buyer_id", ""))
	assert.Len(t, errs, 1)
	assert.Equal(t, "buyer_id", errs[0].Field)

	errs = Validate(Required("buyer_id", "usr_1"))
	assert.Empty(t, errs)
}

func TestValidAmount(t *testing.T) {
	valid := []string{"1", "10.5", "10000.00", "0.01"}
	for _, v := range valid {
		assert.Empty(t, Validate(ValidAmount("amount", v)), "expected %q valid", v)
	}

	invalid := []string{"", "-5", "1.234", "abc", "1,000", "0", "0.00"}
	for _, v := range invalid {
		assert.NotEmpty(t, Validate(ValidAmount("amount", v)), "expected %q invalid", v)
	}
}

func TestValidCurrency(t *testing.T) {
	assert.Empty(t, Validate(ValidCurrency("currency", "EUR")))
	assert.NotEmpty(t, Validate(ValidCurrency("currency", "eur")))
	assert.NotEmpty(t, Validate(ValidCurrency("currency", "EURO")))
	assert.NotEmpty(t, Validate(ValidCurrency("currency", "")))
}

func TestMaxLen(t *testing.T) {
	assert.Empty(t, Validate(MaxLen("reason", "short", 10)))
	assert.NotEmpty(t, Validate(MaxLen("reason", "this is far too long", 10)))
}

func TestErrors_Error(t *testing.T) {
	errs := Validate(
		Required("buyer_id", ""),
		ValidCurrency("currency", "x"),
	)
	assert.Len(t, errs, 2)
	assert.Contains(t, errs.Error(), "buyer_id")
	assert.Contains(t, errs.Error(), "currency")
}
