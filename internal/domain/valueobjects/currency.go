// Package valueobjects contains immutable value objects that represent domain concepts
// without identity. They are compared by their values, not by identity.
//
// SOLID Principles Applied:
// - SRP: Currency only handles currency validation and representation
// - OCP: Can extend supported currencies without modifying existing code
package valueobjects

import (
	"errors"
	"strings"
)

// Currency represents a monetary currency code (ISO 4217).
// It's a value object - immutable and validated on creation.
//
// Value Object Pattern: No identity, compared by value, immutable.
// This prevents invalid currency codes from entering the domain.
type Currency struct {
	code string // Private field ensures immutability
}

// Predefined supported currencies (can be extended)
var (
	USD = Currency{code: "USD"}
	EUR = Currency{code: "EUR"}
	GBP = Currency{code: "GBP"}
)

// supportedCurrencies defines the whitelist of allowed currencies.
// Multi-currency FX conversion is out of scope: a transfer only ever
// touches wallets of a single currency.
var supportedCurrencies = map[string]bool{
	"USD": true,
	"EUR": true,
	"GBP": true,
}

// ErrInvalidCurrency is returned when an invalid currency code is provided.
var ErrInvalidCurrency = errors.New("invalid currency code")

// DefaultCurrency is used when a transfer request omits the currency.
func DefaultCurrency() Currency {
	return USD
}

// NewCurrency creates a new Currency value object with validation.
// Factory function pattern ensures all Currency instances are valid.
func NewCurrency(code string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if !supportedCurrencies[normalized] {
		return Currency{}, ErrInvalidCurrency
	}
	return Currency{code: normalized}, nil
}

// MustNewCurrency creates a Currency or panics. For tests and constants only.
func MustNewCurrency(code string) Currency {
	c, err := NewCurrency(code)
	if err != nil {
		panic(err)
	}
	return c
}

// Code returns the ISO currency code.
func (c Currency) Code() string {
	return c.code
}

// IsZero returns true for the zero-value Currency.
func (c Currency) IsZero() bool {
	return c.code == ""
}

// Equals compares two currencies by code.
func (c Currency) Equals(other Currency) bool {
	return c.code == other.code
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return c.code
}
