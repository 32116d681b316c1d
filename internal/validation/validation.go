// Package validation provides request validation helpers for the chainwatch API.
package validation

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/chainwatch/internal/chains"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

const (
	MaxLabelLength    = 200
	MaxTagLength      = 64
	MaxTags           = 20
	MaxWalletAddrs    = 50
	maxInstructionSig = 88
)

var (
	accountHashRegex     = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	instructionHashRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{64,88}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidTxHash reports whether hash is well-formed for the family: 32 hex
// bytes for account-model chains, a base58 signature for instruction-model.
func IsValidTxHash(hash string, fam chains.Family) bool {
	switch fam {
	case chains.AccountModel:
		return accountHashRegex.MatchString(hash)
	case chains.InstructionModel:
		return len(hash) <= maxInstructionSig && instructionHashRegex.MatchString(hash)
	}
	return false
}

// SanitizeString trims, drops null bytes and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs every validator and collects the failures.
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
		if len(value) > max {
			return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d", max)}
		}
		return nil
	}
}

// MaxItems checks a list length.
func MaxItems(field string, n, max int) func() *ValidationError {
	return func() *ValidationError {
		if n > max {
			return &ValidationError{Field: field, Message: fmt.Sprintf("at most %d items allowed", max)}
		}
		return nil
	}
}

// ChainParamMiddleware rejects requests whose :chain parameter names a
// chain the registry does not know.
func ChainParamMiddleware(registry *chains.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		chain := c.Param("chain")
		if chain != "" && !registry.Has(chains.ID(chain)) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_chain",
				"message": fmt.Sprintf("chain %q is not configured", chain),
			})
			return
		}
		c.Next()
	}
}
