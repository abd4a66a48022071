// Package validation provides request field validation for API handlers.
package validation

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// FieldError describes a single invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is a collection of field errors.
type Errors []FieldError

// Error joins all field errors into one message.
func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return strings.Join(parts, "; ")
}

// Rule checks one field and returns a zero FieldError when valid.
type Rule func() (FieldError, bool)

// Validate runs all rules and collects failures.
func Validate(rules ...Rule) Errors {
	var errs Errors
	for _, rule := range rules {
		if fe, ok := rule(); !ok {
			errs = append(errs, fe)
		}
	}
	return errs
}

// Required checks that a string field is non-empty.
func Required(field, value string) Rule {
	return func() (FieldError, bool) {
		if strings.TrimSpace(value) == "" {
			return FieldError{Field: field, Message: "is required"}, false
		}
		return FieldError{}, true
	}
}

// amountPattern matches decimal amounts like "10000" or "10000.00".
var amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

// ValidAmount checks that a value parses as a positive money amount with at
// most two decimal places.
func ValidAmount(field, value string) Rule {
	return func() (FieldError, bool) {
		if value == "" {
			return FieldError{Field: field, Message: "is required"}, false
		}
		if !amountPattern.MatchString(value) {
			return FieldError{Field: field, Message: "must be a positive amount with at most 2 decimal places"}, false
		}
		if strings.Trim(value, "0.") == "" {
			return FieldError{Field: field, Message: "must be greater than zero"}, false
		}
		return FieldError{}, true
	}
}

// currencyPattern matches ISO 4217 alpha codes.
var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidCurrency checks for a three-letter uppercase currency code.
func ValidCurrency(field, value string) Rule {
	return func() (FieldError, bool) {
		if !currencyPattern.MatchString(value) {
			return FieldError{Field: field, Message: "must be a 3-letter ISO currency code"}, false
		}
		return FieldError{}, true
	}
}

// MaxLen checks that a string does not exceed n characters.
func MaxLen(field, value string, n int) Rule {
	return func() (FieldError, bool) {
		if len(value) > n {
			return FieldError{Field: field, Message: fmt.Sprintf("must be at most %d characters", n)}, false
		}
		return FieldError{}, true
	}
}
