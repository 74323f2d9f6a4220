// Package validation provides input validation for the orchestrator API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxQueryLength is the maximum length for a natural-language query
const MaxQueryLength = 2000

var (
	// accountIDRegex validates bank account identifiers (10 digits)
	accountIDRegex = regexp.MustCompile(`^[0-9]{10}$`)
	// currencyCodeRegex validates ISO-4217 currency codes
	currencyCodeRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	// otpRegex validates 6-digit one-time codes
	otpRegex = regexp.MustCompile(`^[0-9]{6}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAccountID checks if a string is a valid 10-digit account id
func IsValidAccountID(id string) bool {
	return accountIDRegex.MatchString(id)
}

// IsValidCurrencyCode checks if a string is a 3-letter uppercase currency code
func IsValidCurrencyCode(code string) bool {
	return currencyCodeRegex.MatchString(code)
}

// IsValidOTP checks if a string is a 6-digit numeric code
func IsValidOTP(code string) bool {
	return otpRegex.MatchString(code)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAccountID checks if a field is a valid account id
func ValidAccountID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidAccountID(value) {
			return &ValidationError{Field: field, Message: "must be a 10-digit account number"}
		}
		return nil
	}
}

// PositiveCents checks if an amount in cents is positive
func PositiveCents(field string, cents int64) func() *ValidationError {
	return func() *ValidationError {
		if cents <= 0 {
			return &ValidationError{Field: field, Message: "must be positive"}
		}
		return nil
	}
}
