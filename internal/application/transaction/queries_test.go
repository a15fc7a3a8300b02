package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Haleralex/payflow/internal/application/dtos"
	"github.com/Haleralex/payflow/internal/domain/entities"
	domainErrors "github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/valueobjects"
	"github.com/Haleralex/payflow/internal/infrastructure/persistence/memory"
)

func seedTransaction(t *testing.T, store *memory.Store, sender, receiver uuid.UUID, status entities.TransactionStatus) *entities.Transaction {
	t.Helper()
	now := time.Now()
	tx := entities.ReconstructTransaction(
		entities.NewTransactionID(), sender, receiver,
		valueobjects.MustNewMoney(6000, valueobjects.USD),
		status, "", "seeded",
		now, now, nil,
	)
	if err := store.Transactions().Save(context.Background(), tx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return tx
}

func TestQueries_GetTransaction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	q := NewQueries(store.Transactions())

	tx := seedTransaction(t, store, uuid.New(), uuid.New(), entities.TransactionStatusCompleted)

	dto, err := q.GetTransaction(ctx, dtos.GetTransactionQuery{TransactionID: tx.ID()})
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if dto.ID != tx.ID() || dto.Status != "COMPLETED" || dto.AmountCents != 6000 {
		t.Errorf("dto = %+v", dto)
	}

	if _, err := q.GetTransaction(ctx, dtos.GetTransactionQuery{TransactionID: "txn_missing"}); !domainErrors.IsNotFound(err) {
		t.Errorf("missing transaction: err = %v, want not found", err)
	}
	if _, err := q.GetTransaction(ctx, dtos.GetTransactionQuery{}); err == nil {
		t.Error("empty transaction id must be rejected")
	}
}

func TestQueries_ListTransactions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	q := NewQueries(store.Transactions())

	alice := uuid.New()
	bob := uuid.New()
	seedTransaction(t, store, alice, bob, entities.TransactionStatusCompleted)
	seedTransaction(t, store, alice, bob, entities.TransactionStatusFailed)
	seedTransaction(t, store, bob, alice, entities.TransactionStatusCompleted)

	// Обе роли
	page, err := q.ListTransactions(ctx, dtos.ListTransactionsQuery{UserID: alice.String()})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if page.TotalCount != 3 || len(page.Transactions) != 3 {
		t.Errorf("total = %d, page = %d, want 3/3", page.TotalCount, len(page.Transactions))
	}

	// Только отправленные
	page, err = q.ListTransactions(ctx, dtos.ListTransactionsQuery{UserID: alice.String(), Role: "sender"})
	if err != nil {
		t.Fatalf("ListTransactions sender: %v", err)
	}
	if page.TotalCount != 2 {
		t.Errorf("sender total = %d, want 2", page.TotalCount)
	}

	// Фильтр по статусу
	status := "FAILED"
	page, err = q.ListTransactions(ctx, dtos.ListTransactionsQuery{UserID: alice.String(), Status: &status})
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if page.TotalCount != 1 || page.Transactions[0].Status != "FAILED" {
		t.Errorf("failed filter: %+v", page)
	}

	// Пагинация
	page, err = q.ListTransactions(ctx, dtos.ListTransactionsQuery{UserID: alice.String(), Limit: 2})
	if err != nil {
		t.Fatalf("ListTransactions limit: %v", err)
	}
	if page.TotalCount != 3 || len(page.Transactions) != 2 {
		t.Errorf("total = %d, page = %d, want 3/2", page.TotalCount, len(page.Transactions))
	}

	// Неизвестная роль
	if _, err := q.ListTransactions(ctx, dtos.ListTransactionsQuery{UserID: alice.String(), Role: "observer"}); err == nil {
		t.Error("unknown role must be rejected")
	}
}
