// Package entities - Transaction represents a transfer moving funds between two wallets.
// This is a critical entity with a strict state machine and terminal-state protection.
package entities

import (
	"fmt"
	"strings"
	"time"

	"github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/valueobjects"
	"github.com/google/uuid"
)

// TransactionStatus represents the current state of a transfer.
type TransactionStatus string

const (
	TransactionStatusInitiated TransactionStatus = "INITIATED" // Created, debit not yet attempted
	TransactionStatusDebited   TransactionStatus = "DEBITED"   // Sender debited, credit pending
	TransactionStatusCredited  TransactionStatus = "CREDITED"  // Retained for compatibility; never entered
	TransactionStatusRefunding TransactionStatus = "REFUNDING" // Credit failed, compensation in flight
	TransactionStatusRefunded  TransactionStatus = "REFUNDED"  // Retained for compatibility; never entered
	TransactionStatusCompleted TransactionStatus = "COMPLETED" // Terminal: funds moved
	TransactionStatusFailed    TransactionStatus = "FAILED"    // Terminal: no net funds moved
)

// IsValid checks if the transaction status is valid.
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusInitiated, TransactionStatusDebited, TransactionStatusCredited,
		TransactionStatusRefunding, TransactionStatusRefunded,
		TransactionStatusCompleted, TransactionStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status admits no further transitions.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// allowedTransitions is the legal status graph. Anything absent here
// is an invalid transition. Terminal states have no outgoing edges.
//
//	INITIATED  → DEBITED | FAILED
//	DEBITED    → COMPLETED | REFUNDING
//	REFUNDING  → FAILED
var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusInitiated: {TransactionStatusDebited, TransactionStatusFailed},
	TransactionStatusDebited:   {TransactionStatusCompleted, TransactionStatusRefunding},
	TransactionStatusRefunding: {TransactionStatusFailed},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NewTransactionID generates a globally unique opaque transaction token:
// "txn_" prefix followed by 128 random bits in hex.
func NewTransactionID() string {
	return "txn_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Transaction represents a transfer between two wallets.
//
// Entity Pattern:
// - Has identity (server-generated opaque token)
// - State machine with validated transitions
// - Immutable after reaching a terminal state
//
// Patterns Applied:
// - State Machine: Status transitions validated against the legal graph
// - Saga: Each step has a compensating action (refund) driven by the orchestrator
type Transaction struct {
	id         string
	senderID   uuid.UUID
	receiverID uuid.UUID
	amount     valueobjects.Money

	status        TransactionStatus
	failureReason string
	description   string

	initiatedAt time.Time
	updatedAt   time.Time
	completedAt *time.Time
}

// NewTransaction creates a new transfer in INITIATED status.
//
// Business Rules:
// - Amount must be positive
// - Sender and receiver must differ
func NewTransaction(
	senderID, receiverID uuid.UUID,
	amount valueobjects.Money,
	description string,
) (*Transaction, error) {
	if senderID == receiverID {
		return nil, errors.ErrSelfTransfer
	}
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}

	now := time.Now()
	return &Transaction{
		id:          NewTransactionID(),
		senderID:    senderID,
		receiverID:  receiverID,
		amount:      amount,
		status:      TransactionStatusInitiated,
		description: description,
		initiatedAt: now,
		updatedAt:   now,
	}, nil
}

// ReconstructTransaction reconstructs a Transaction from stored data.
func ReconstructTransaction(
	id string,
	senderID, receiverID uuid.UUID,
	amount valueobjects.Money,
	status TransactionStatus,
	failureReason, description string,
	initiatedAt, updatedAt time.Time,
	completedAt *time.Time,
) *Transaction {
	return &Transaction{
		id:            id,
		senderID:      senderID,
		receiverID:    receiverID,
		amount:        amount,
		status:        status,
		failureReason: failureReason,
		description:   description,
		initiatedAt:   initiatedAt,
		updatedAt:     updatedAt,
		completedAt:   completedAt,
	}
}

// Getters

func (t *Transaction) ID() string                       { return t.id }
func (t *Transaction) SenderID() uuid.UUID              { return t.senderID }
func (t *Transaction) ReceiverID() uuid.UUID            { return t.receiverID }
func (t *Transaction) Amount() valueobjects.Money       { return t.amount }
func (t *Transaction) Status() TransactionStatus        { return t.status }
func (t *Transaction) FailureReason() string            { return t.failureReason }
func (t *Transaction) Description() string              { return t.description }
func (t *Transaction) InitiatedAt() time.Time           { return t.initiatedAt }
func (t *Transaction) UpdatedAt() time.Time             { return t.updatedAt }
func (t *Transaction) CompletedAt() *time.Time          { return t.completedAt }

// IsTerminal returns true if the transaction is in a terminal state.
func (t *Transaction) IsTerminal() bool {
	return t.status.IsTerminal()
}

// State Machine Transitions

// transition validates and applies a status change.
func (t *Transaction) transition(to TransactionStatus) error {
	if !CanTransition(t.status, to) {
		return fmt.Errorf("%w: %s -> %s", errors.ErrInvalidStateTransition, t.status, to)
	}
	t.status = to
	t.updatedAt = time.Now()
	return nil
}

// MarkDebited transitions INITIATED → DEBITED after the sender was debited.
func (t *Transaction) MarkDebited() error {
	return t.transition(TransactionStatusDebited)
}

// MarkCompleted transitions DEBITED → COMPLETED and stamps completedAt.
// The CREDITED status is intentionally skipped: debit confirmation and
// completion are a single update once the credit lands.
func (t *Transaction) MarkCompleted() error {
	if err := t.transition(TransactionStatusCompleted); err != nil {
		return err
	}
	now := time.Now()
	t.completedAt = &now
	return nil
}

// MarkRefunding transitions DEBITED → REFUNDING after a failed credit.
func (t *Transaction) MarkRefunding() error {
	return t.transition(TransactionStatusRefunding)
}

// MarkFailed transitions to FAILED with a reason. Legal from INITIATED
// (debit failed) and REFUNDING (compensation finished).
func (t *Transaction) MarkFailed(reason string) error {
	if err := t.transition(TransactionStatusFailed); err != nil {
		return err
	}
	t.failureReason = reason
	return nil
}
