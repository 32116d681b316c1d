// Package address validates and canonicalizes wallet addresses per chain
// family. Everything here is pure: no I/O, no shared state.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"github.com/mbd888/chainwatch/internal/chains"
)

// ErrInvalidAddress is returned when an address fails format or checksum
// validation. No downstream I/O should be attempted with such an address.
var ErrInvalidAddress = errors.New("address: invalid address")

// Result is the outcome of validating one address.
type Result struct {
	Valid      bool   `json:"isValid"`
	Normalized string `json:"normalizedForm,omitempty"`
	Reason     string `json:"errorReason,omitempty"`
}

// Err converts an invalid result into an error wrapping ErrInvalidAddress.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidAddress, r.Reason)
}

// Validator resolves a chain id to its family and validates accordingly.
type Validator struct {
	registry *chains.Registry
}

// NewValidator creates a validator backed by the chain registry.
func NewValidator(registry *chains.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate checks an address for the given chain.
func (v *Validator) Validate(addr string, chain chains.ID) Result {
	fam, err := v.registry.Family(chain)
	if err != nil {
		return Result{Reason: err.Error()}
	}
	return ValidateFamily(addr, fam)
}

// Normalize returns the canonical form of an address on a chain.
// An unconfigured chain yields the registry's ErrUnknownChain.
func (v *Validator) Normalize(addr string, chain chains.ID) (string, error) {
	fam, err := v.registry.Family(chain)
	if err != nil {
		return "", err
	}
	r := ValidateFamily(addr, fam)
	if !r.Valid {
		return "", r.Err()
	}
	return r.Normalized, nil
}

// Equal compares two addresses on a chain after normalization. If either
// side fails to normalize it falls back to a case-insensitive comparison of
// the trimmed raw strings.
func (v *Validator) Equal(a, b string, chain chains.ID) bool {
	fam, err := v.registry.Family(chain)
	if err != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return EqualFamily(a, b, fam)
}

// ValidateFamily validates an address for a chain family.
func ValidateFamily(addr string, fam chains.Family) Result {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Result{Reason: "empty address"}
	}
	switch fam {
	case chains.AccountModel:
		return validateAccount(addr)
	case chains.InstructionModel:
		return validateInstruction(addr)
	default:
		return Result{Reason: fmt.Sprintf("unsupported chain family %q", fam)}
	}
}

// NormalizeFamily returns the canonical form of an address for a family.
func NormalizeFamily(addr string, fam chains.Family) (string, error) {
	r := ValidateFamily(addr, fam)
	if !r.Valid {
		return "", r.Err()
	}
	return r.Normalized, nil
}

// EqualFamily is Equal without a registry lookup.
func EqualFamily(a, b string, fam chains.Family) bool {
	na, errA := NormalizeFamily(a, fam)
	nb, errB := NormalizeFamily(b, fam)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return na == nb
}

func validateAccount(addr string) Result {
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return Result{Reason: "missing 0x prefix"}
	}
	body := addr[2:]
	raw, err := hex.DecodeString(body)
	if err != nil {
		return Result{Reason: "not hex encoded"}
	}
	if len(raw) != common.AddressLength {
		return Result{Reason: fmt.Sprintf("decodes to %d bytes, want %d", len(raw), common.AddressLength)}
	}

	checksummed := common.BytesToAddress(raw).Hex()
	if isMixedCase(body) && "0x"+body != checksummed {
		return Result{Reason: "checksum mismatch"}
	}
	return Result{Valid: true, Normalized: checksummed}
}

func validateInstruction(addr string) Result {
	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return Result{Reason: "not a base58 public key"}
	}
	if !pk.IsOnCurve() {
		return Result{Reason: "public key is not on the ed25519 curve"}
	}
	return Result{Valid: true, Normalized: pk.String()}
}

// isMixedCase reports whether the hex body contains both upper- and
// lower-case letters, which signals an EIP-55 checksum is being asserted.
func isMixedCase(s string) bool {
	var upper, lower bool
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'f':
			lower = true
		case c >= 'A' && c <= 'F':
			upper = true
		}
	}
	return upper && lower
}
