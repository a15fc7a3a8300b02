package entities

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/valueobjects"
)

func testAmount(t *testing.T, cents int64) valueobjects.Money {
	t.Helper()
	return valueobjects.MustNewMoney(cents, valueobjects.USD)
}

func TestNewTransaction(t *testing.T) {
	sender := uuid.New()
	receiver := uuid.New()

	tx, err := NewTransaction(sender, receiver, testAmount(t, 10000), "rent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tx.Status() != TransactionStatusInitiated {
		t.Errorf("new transaction status = %s, want INITIATED", tx.Status())
	}
	if !strings.HasPrefix(tx.ID(), "txn_") {
		t.Errorf("transaction ID %q should have txn_ prefix", tx.ID())
	}
	if tx.CompletedAt() != nil {
		t.Error("new transaction should not have completedAt")
	}
}

func TestNewTransaction_Validation(t *testing.T) {
	sender := uuid.New()

	// Перевод самому себе запрещён
	if _, err := NewTransaction(sender, sender, testAmount(t, 100), ""); !domainErrors.Is(err, domainErrors.ErrSelfTransfer) {
		t.Errorf("self transfer: err = %v, want ErrSelfTransfer", err)
	}

	// Нулевая сумма запрещена
	zero := valueobjects.Zero(valueobjects.USD)
	if _, err := NewTransaction(sender, uuid.New(), zero, ""); !domainErrors.Is(err, domainErrors.ErrInvalidAmount) {
		t.Errorf("zero amount: err = %v, want ErrInvalidAmount", err)
	}
}

func TestNewTransactionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTransactionID()
		if !strings.HasPrefix(id, "txn_") {
			t.Fatalf("ID %q missing txn_ prefix", id)
		}
		if len(id) != len("txn_")+32 {
			t.Fatalf("ID %q has unexpected length %d", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

// TestCanTransition enumerates the full legal status graph
func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{TransactionStatusInitiated, TransactionStatusDebited, true},
		{TransactionStatusInitiated, TransactionStatusFailed, true},
		{TransactionStatusInitiated, TransactionStatusCompleted, false},
		{TransactionStatusDebited, TransactionStatusCompleted, true},
		{TransactionStatusDebited, TransactionStatusRefunding, true},
		{TransactionStatusDebited, TransactionStatusFailed, false},
		{TransactionStatusRefunding, TransactionStatusFailed, true},
		{TransactionStatusRefunding, TransactionStatusCompleted, false},
		// Терминальные статусы не имеют исходящих переходов
		{TransactionStatusCompleted, TransactionStatusFailed, false},
		{TransactionStatusCompleted, TransactionStatusDebited, false},
		{TransactionStatusFailed, TransactionStatusInitiated, false},
		{TransactionStatusFailed, TransactionStatusDebited, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransaction_HappyPath(t *testing.T) {
	tx, _ := NewTransaction(uuid.New(), uuid.New(), testAmount(t, 5000), "")

	if err := tx.MarkDebited(); err != nil {
		t.Fatalf("MarkDebited: %v", err)
	}
	if tx.Status() != TransactionStatusDebited {
		t.Fatalf("status = %s, want DEBITED", tx.Status())
	}

	if err := tx.MarkCompleted(); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if tx.Status() != TransactionStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", tx.Status())
	}
	if tx.CompletedAt() == nil {
		t.Error("completed transaction must have completedAt")
	}
	if !tx.IsTerminal() {
		t.Error("COMPLETED must be terminal")
	}
}

func TestTransaction_CompensationPath(t *testing.T) {
	tx, _ := NewTransaction(uuid.New(), uuid.New(), testAmount(t, 5000), "")

	if err := tx.MarkDebited(); err != nil {
		t.Fatalf("MarkDebited: %v", err)
	}
	if err := tx.MarkRefunding(); err != nil {
		t.Fatalf("MarkRefunding: %v", err)
	}
	if err := tx.MarkFailed("Credit failed, amount refunded to sender"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if tx.Status() != TransactionStatusFailed {
		t.Fatalf("status = %s, want FAILED", tx.Status())
	}
	if tx.FailureReason() != "Credit failed, amount refunded to sender" {
		t.Errorf("failureReason = %q", tx.FailureReason())
	}
}

func TestTransaction_DebitFailedPath(t *testing.T) {
	tx, _ := NewTransaction(uuid.New(), uuid.New(), testAmount(t, 5000), "")

	if err := tx.MarkFailed("Insufficient balance"); err != nil {
		t.Fatalf("MarkFailed from INITIATED: %v", err)
	}
	if tx.Status() != TransactionStatusFailed {
		t.Fatalf("status = %s, want FAILED", tx.Status())
	}
}

// TestTransaction_TerminalProtection проверяет иммутабельность
// терминальных статусов
func TestTransaction_TerminalProtection(t *testing.T) {
	tx, _ := NewTransaction(uuid.New(), uuid.New(), testAmount(t, 5000), "")
	_ = tx.MarkDebited()
	_ = tx.MarkCompleted()

	if err := tx.MarkFailed("too late"); !domainErrors.IsInvalidStateTransition(err) {
		t.Errorf("MarkFailed on COMPLETED: err = %v, want ErrInvalidStateTransition", err)
	}
	if err := tx.MarkDebited(); !domainErrors.IsInvalidStateTransition(err) {
		t.Errorf("MarkDebited on COMPLETED: err = %v, want ErrInvalidStateTransition", err)
	}
	if tx.Status() != TransactionStatusCompleted {
		t.Errorf("terminal status must not change, got %s", tx.Status())
	}
	if tx.FailureReason() != "" {
		t.Error("failed transition must not set failureReason")
	}
}

func TestTransaction_SkippedStatesNeverEntered(t *testing.T) {
	// CREDITED и REFUNDED остаются в enum, но граф переходов в них
	// не ведёт.
	for _, from := range []TransactionStatus{
		TransactionStatusInitiated,
		TransactionStatusDebited,
		TransactionStatusRefunding,
	} {
		if CanTransition(from, TransactionStatusCredited) {
			t.Errorf("transition %s -> CREDITED must be illegal", from)
		}
		if CanTransition(from, TransactionStatusRefunded) {
			t.Errorf("transition %s -> REFUNDED must be illegal", from)
		}
	}
}

func TestReconstructTransaction(t *testing.T) {
	now := time.Now()
	completed := now.Add(time.Minute)
	tx := ReconstructTransaction(
		"txn_abc", uuid.New(), uuid.New(), testAmount(t, 100),
		TransactionStatusCompleted, "", "desc", now, completed, &completed,
	)

	if tx.ID() != "txn_abc" {
		t.Errorf("ID = %q", tx.ID())
	}
	if tx.Status() != TransactionStatusCompleted {
		t.Errorf("Status = %s", tx.Status())
	}
	if tx.CompletedAt() == nil || !tx.CompletedAt().Equal(completed) {
		t.Error("CompletedAt not preserved")
	}
}
