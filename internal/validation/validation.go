// Package validation provides input validation helpers and middleware for the
// talentdesk API.
package validation

import (
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxNameLength bounds display names (tenants, keys, plans).
const MaxNameLength = 200

var (
	// slugRegex: 3-64 lowercase alphanumerics/hyphens, alphanumeric at both ends
	slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)
	// identifierRegex: snake_case catalog names such as module and limit keys
	identifierRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidSlug checks tenant slugs.
func IsValidSlug(s string) bool {
	return slugRegex.MatchString(s)
}

// IsValidIdentifier checks snake_case catalog identifiers.
func IsValidIdentifier(s string) bool {
	return identifierRegex.MatchString(s)
}

// SanitizeString trims whitespace, drops NUL bytes and caps the length in
// runes so multi-byte names are never cut mid-character.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
	if utf8.RuneCountInString(s) > maxLen {
		s = string([]rune(s)[:maxLen])
	}
	return s
}

// NormalizeSlug lower-cases and trims a slug before validation.
func NormalizeSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
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

// Validate runs validators and collects their errors.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
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

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if utf8.RuneCountInString(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// Slug checks a tenant slug field.
func Slug(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !IsValidSlug(value) {
			return &ValidationError{Field: field, Message: "must be 3-64 lowercase alphanumerics or hyphens, starting and ending with an alphanumeric"}
		}
		return nil
	}
}

// Limits checks that limit keys are identifiers and values are either
// non-negative or the unlimited marker (-1).
func Limits(field string, limits map[string]int64) func() *ValidationError {
	return func() *ValidationError {
		for k, v := range limits {
			if !IsValidIdentifier(k) {
				return &ValidationError{Field: field, Message: "limit name " + k + " must be snake_case"}
			}
			if v < -1 {
				return &ValidationError{Field: field, Message: "limit " + k + " must be -1 (unlimited) or non-negative"}
			}
		}
		return nil
	}
}

// IdentifierParamMiddleware rejects malformed snake_case values in the named
// URL parameter before they reach a handler.
func IdentifierParamMiddleware(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v := c.Param(param)
		if v != "" && !IsValidIdentifier(v) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_" + param,
				"message": param + " must be a snake_case identifier",
			})
			return
		}
		c.Next()
	}
}
