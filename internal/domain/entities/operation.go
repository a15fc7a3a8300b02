// Package entities - WalletOperation is the audit and idempotency row for
// every balance change. At most one row exists per (transaction, kind).
package entities

import (
	"fmt"
	"time"

	"github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/valueobjects"
	"github.com/google/uuid"
)

// OperationKind classifies a balance change.
type OperationKind string

const (
	OperationDebit   OperationKind = "DEBIT"
	OperationCredit  OperationKind = "CREDIT"
	OperationRefund  OperationKind = "REFUND"
	OperationDeposit OperationKind = "DEPOSIT"
)

// IsValid checks if the operation kind is valid.
func (k OperationKind) IsValid() bool {
	switch k {
	case OperationDebit, OperationCredit, OperationRefund, OperationDeposit:
		return true
	default:
		return false
	}
}

// SagaOperationID derives the deterministic idempotency key for a saga step.
// The uniqueness index on this value is what makes debit/credit/refund
// effectively at-most-once per transaction.
func SagaOperationID(transactionID string, kind OperationKind) string {
	return fmt.Sprintf("%s:%s", transactionID, kind)
}

// DepositOperationID derives the idempotency key for a client-keyed deposit.
func DepositOperationID(clientKey string) string {
	return "deposit:" + clientKey
}

// WalletOperation records one applied balance change together with the
// balance that resulted from it. Duplicate attempts converge to the same
// resultBalance by re-reading this row.
type WalletOperation struct {
	operationID   string
	walletID      uuid.UUID
	userID        uuid.UUID
	kind          OperationKind
	amount        valueobjects.Money
	resultBalance valueobjects.Money
	transactionID string // empty for deposits
	createdAt     time.Time
}

// NewWalletOperation creates an operation row.
func NewWalletOperation(
	operationID string,
	walletID, userID uuid.UUID,
	kind OperationKind,
	amount, resultBalance valueobjects.Money,
	transactionID string,
) (*WalletOperation, error) {
	if operationID == "" {
		return nil, errors.ValidationError{Field: "operationId", Message: "operation ID is required"}
	}
	if !kind.IsValid() {
		return nil, errors.ValidationError{Field: "kind", Message: "invalid operation kind"}
	}
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}

	return &WalletOperation{
		operationID:   operationID,
		walletID:      walletID,
		userID:        userID,
		kind:          kind,
		amount:        amount,
		resultBalance: resultBalance,
		transactionID: transactionID,
		createdAt:     time.Now(),
	}, nil
}

// ReconstructWalletOperation reconstructs a WalletOperation from stored data.
func ReconstructWalletOperation(
	operationID string,
	walletID, userID uuid.UUID,
	kind OperationKind,
	amount, resultBalance valueobjects.Money,
	transactionID string,
	createdAt time.Time,
) *WalletOperation {
	return &WalletOperation{
		operationID:   operationID,
		walletID:      walletID,
		userID:        userID,
		kind:          kind,
		amount:        amount,
		resultBalance: resultBalance,
		transactionID: transactionID,
		createdAt:     createdAt,
	}
}

func (o *WalletOperation) OperationID() string                { return o.operationID }
func (o *WalletOperation) WalletID() uuid.UUID                { return o.walletID }
func (o *WalletOperation) UserID() uuid.UUID                  { return o.userID }
func (o *WalletOperation) Kind() OperationKind                { return o.kind }
func (o *WalletOperation) Amount() valueobjects.Money         { return o.amount }
func (o *WalletOperation) ResultBalance() valueobjects.Money  { return o.resultBalance }
func (o *WalletOperation) TransactionID() string              { return o.transactionID }
func (o *WalletOperation) CreatedAt() time.Time               { return o.createdAt }
