// Package entities - Wallet is the core entity for managing user balances.
// It enforces business rules around balance operations and status.
package entities

import (
	"time"

	"github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/valueobjects"
	"github.com/google/uuid"
)

// Wallet represents a user's wallet for a specific currency.
// Exactly one wallet exists per (user, currency) pair.
//
// Entity Pattern:
// - Has identity (ID)
// - Enforces invariants (balance never negative)
// - Rich behavior (not just data)
//
// The balance invariant is enforced twice: here for in-memory operations,
// and by the store's conditional update for concurrent persistence.
type Wallet struct {
	id       uuid.UUID
	userID   uuid.UUID
	balance  valueobjects.Money
	currency valueobjects.Currency
	isActive bool

	createdAt time.Time
	updatedAt time.Time
}

// NewWallet creates a new active wallet with zero balance.
//
// Business Rules:
// - User must exist (checked by application layer)
// - Currency must be supported
// - New wallets start ACTIVE with zero balance
func NewWallet(userID uuid.UUID, currency valueobjects.Currency) (*Wallet, error) {
	if currency.IsZero() {
		return nil, errors.ValidationError{
			Field:   "currency",
			Message: "currency is required",
		}
	}

	now := time.Now()
	return &Wallet{
		id:        uuid.New(),
		userID:    userID,
		balance:   valueobjects.Zero(currency),
		currency:  currency,
		isActive:  true,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructWallet reconstructs a Wallet from stored data.
func ReconstructWallet(
	id, userID uuid.UUID,
	balance valueobjects.Money,
	currency valueobjects.Currency,
	isActive bool,
	createdAt, updatedAt time.Time,
) *Wallet {
	return &Wallet{
		id:        id,
		userID:    userID,
		balance:   balance,
		currency:  currency,
		isActive:  isActive,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

// Getters

func (w *Wallet) ID() uuid.UUID                      { return w.id }
func (w *Wallet) UserID() uuid.UUID                  { return w.userID }
func (w *Wallet) Balance() valueobjects.Money        { return w.balance }
func (w *Wallet) Currency() valueobjects.Currency    { return w.currency }
func (w *Wallet) IsActive() bool                     { return w.isActive }
func (w *Wallet) CreatedAt() time.Time               { return w.createdAt }
func (w *Wallet) UpdatedAt() time.Time               { return w.updatedAt }

// Business Methods

// CanDebit reports whether the wallet holds at least the given amount.
func (w *Wallet) CanDebit(amount valueobjects.Money) bool {
	return w.isActive && w.balance.GreaterOrEqual(amount)
}

// Credit adds funds to the wallet. Amount must be positive.
func (w *Wallet) Credit(amount valueobjects.Money) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}

	newBalance, err := w.balance.Add(amount)
	if err != nil {
		return err
	}

	w.balance = newBalance
	w.updatedAt = time.Now()
	return nil
}

// Debit removes funds from the wallet.
// Business rule: balance must never go negative.
func (w *Wallet) Debit(amount valueobjects.Money) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if !w.balance.GreaterOrEqual(amount) {
		return errors.ErrInsufficientBalance
	}

	newBalance, err := w.balance.Sub(amount)
	if err != nil {
		return err
	}

	w.balance = newBalance
	w.updatedAt = time.Now()
	return nil
}

// Deactivate marks the wallet inactive. Balance is preserved.
func (w *Wallet) Deactivate() {
	w.isActive = false
	w.updatedAt = time.Now()
}
