// Package transaction - read-side запросы по переводам.
//
// Статус перевода меняется асинхронно: клиент опрашивает его этими
// запросами после InitiateTransfer.
package transaction

import (
	"context"
	"fmt"

	"github.com/Haleralex/payflow/internal/application/dtos"
	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/domain/entities"
	"github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Queries - сервис чтения транзакций.
type Queries struct {
	txRepo   ports.TransactionRepository
	validate *validator.Validate
}

// NewQueries создаёт read-side сервис.
func NewQueries(txRepo ports.TransactionRepository) *Queries {
	return &Queries{
		txRepo:   txRepo,
		validate: validator.New(),
	}
}

// GetTransaction возвращает перевод по ID.
func (q *Queries) GetTransaction(ctx context.Context, query dtos.GetTransactionQuery) (*dtos.TransactionDTO, error) {
	if err := q.validate.Struct(query); err != nil {
		return nil, errors.ValidationError{Field: "transaction_id", Message: err.Error()}
	}

	tx, err := q.txRepo.FindByID(ctx, query.TransactionID)
	if err != nil {
		return nil, err
	}

	dto := dtos.ToTransactionDTO(tx)
	return &dto, nil
}

// ListTransactions возвращает страницу переводов пользователя,
// новые первыми, с общим количеством под фильтром.
func (q *Queries) ListTransactions(ctx context.Context, query dtos.ListTransactionsQuery) (*dtos.TransactionListDTO, error) {
	if query.Limit == 0 {
		query.Limit = 20
	}
	if err := q.validate.Struct(query); err != nil {
		return nil, errors.ValidationError{Field: "query", Message: err.Error()}
	}

	userID, err := uuid.Parse(query.UserID)
	if err != nil {
		return nil, errors.ValidationError{Field: "user_id", Message: "invalid UUID"}
	}

	filter := ports.TransactionFilter{Role: ports.TransactionRole(query.Role)}
	if query.Status != nil {
		status := entities.TransactionStatus(*query.Status)
		if !status.IsValid() {
			return nil, errors.ValidationError{Field: "status", Message: "unknown status"}
		}
		filter.Status = &status
	}

	txs, total, err := q.txRepo.ListByUser(ctx, userID, filter, query.Offset, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	dto := dtos.ToTransactionListDTO(txs, total, query.Offset, query.Limit)
	return &dto, nil
}
