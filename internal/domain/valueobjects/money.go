// Package valueobjects - Money is one of the most critical value objects in financial systems.
// It combines amount and currency to prevent common bugs like mixing currencies.
//
// SOLID Principles:
// - SRP: Money knows how to be Money (arithmetic, comparison, validation)
// - LSP: All Money instances follow the same contract
package valueobjects

import (
	"errors"
	"fmt"
)

// Money represents a monetary amount in minor units (cents) with its currency.
//
// Value Object Pattern:
// - Immutable: All operations return new Money instances
// - Self-validating: Cannot create negative Money
// - Type-safe: Prevents mixing currencies
//
// Why integer cents?
// - Exact arithmetic, no floating-point drift
// - Maps 1:1 to the BIGINT column in the ledger store
// - The conditional balance update is a single integer increment
type Money struct {
	cents    int64
	currency Currency
}

// Common domain errors for Money operations
var (
	ErrNegativeAmount   = errors.New("amount cannot be negative")
	ErrCurrencyMismatch = errors.New("cannot operate on different currencies")
)

// NewMoney creates Money from an amount in minor units (cents).
//
// Example:
//
//	NewMoney(10050, USD) // $100.50
func NewMoney(cents int64, currency Currency) (Money, error) {
	if cents < 0 {
		return Money{}, ErrNegativeAmount
	}
	if currency.IsZero() {
		return Money{}, ErrInvalidCurrency
	}
	return Money{cents: cents, currency: currency}, nil
}

// MustNewMoney creates Money or panics. For tests only.
func MustNewMoney(cents int64, currency Currency) Money {
	m, err := NewMoney(cents, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero creates a zero money amount for the given currency.
func Zero(currency Currency) Money {
	return Money{cents: 0, currency: currency}
}

// Cents returns the amount in minor units.
func (m Money) Cents() int64 {
	return m.cents
}

// Currency returns the currency of this money.
func (m Money) Currency() Currency {
	return m.currency
}

// IsPositive returns true if the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.cents > 0
}

// IsZeroAmount returns true if the amount equals zero.
func (m Money) IsZeroAmount() bool {
	return m.cents == 0
}

// Add returns the sum of two Money values.
// Returns ErrCurrencyMismatch when currencies differ.
func (m Money) Add(other Money) (Money, error) {
	if !m.currency.Equals(other.currency) {
		return Money{}, ErrCurrencyMismatch
	}
	return Money{cents: m.cents + other.cents, currency: m.currency}, nil
}

// Sub returns the difference of two Money values.
// Returns ErrNegativeAmount when the result would be negative.
func (m Money) Sub(other Money) (Money, error) {
	if !m.currency.Equals(other.currency) {
		return Money{}, ErrCurrencyMismatch
	}
	if m.cents < other.cents {
		return Money{}, ErrNegativeAmount
	}
	return Money{cents: m.cents - other.cents, currency: m.currency}, nil
}

// GreaterOrEqual reports m >= other. Currencies must match; a mismatch
// always reports false (the caller validates currencies up front).
func (m Money) GreaterOrEqual(other Money) bool {
	return m.currency.Equals(other.currency) && m.cents >= other.cents
}

// Equals compares amount and currency.
func (m Money) Equals(other Money) bool {
	return m.currency.Equals(other.currency) && m.cents == other.cents
}

// String implements fmt.Stringer, e.g. "100.50 USD".
func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.cents/100, m.cents%100, m.currency.Code())
}
