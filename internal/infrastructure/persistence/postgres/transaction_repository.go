// Package postgres - TransactionRepository с guarded-обновлением статуса.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/domain/entities"
	domainErrors "github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/valueobjects"
)

// Compile-time check
var _ ports.TransactionRepository = (*TransactionRepository)(nil)

// TransactionRepository реализует ports.TransactionRepository.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository создаёт новый TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// Save вставляет новую транзакцию.
func (r *TransactionRepository) Save(ctx context.Context, tx *entities.Transaction) error {
	q := getQuerier(ctx, r.pool)

	query := `
		INSERT INTO transactions (
			id, sender_id, receiver_id, amount, currency, status,
			failure_reason, description, initiated_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := q.Exec(ctx, query,
		tx.ID(),
		tx.SenderID(),
		tx.ReceiverID(),
		tx.Amount().Cents(),
		tx.Amount().Currency().Code(),
		string(tx.Status()),
		tx.FailureReason(),
		tx.Description(),
		tx.InitiatedAt(),
		tx.UpdatedAt(),
		tx.CompletedAt(),
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return fmt.Errorf("transaction %s: %w", tx.ID(), domainErrors.ErrEntityAlreadyExists)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// FindByID загружает транзакцию по ID.
func (r *TransactionRepository) FindByID(ctx context.Context, id string) (*entities.Transaction, error) {
	q := getQuerier(ctx, r.pool)

	query := `
		SELECT id, sender_id, receiver_id, amount, currency, status,
		       failure_reason, description, initiated_at, updated_at, completed_at
		FROM transactions
		WHERE id = $1
	`
	return r.scanTransaction(q.QueryRow(ctx, query, id))
}

// UpdateStatusIf - guarded UPDATE: статус меняется, только если текущее
// значение в БД входит в allowedFrom. Проверка и запись - одна атомарная
// операция; проигравший гонку получает ErrPreconditionFailed.
func (r *TransactionRepository) UpdateStatusIf(ctx context.Context, tx *entities.Transaction, allowedFrom []entities.TransactionStatus) error {
	q := getQuerier(ctx, r.pool)

	from := make([]string, 0, len(allowedFrom))
	for _, s := range allowedFrom {
		from = append(from, string(s))
	}

	query := `
		UPDATE transactions
		SET status = $2, failure_reason = $3, updated_at = $4, completed_at = $5
		WHERE id = $1 AND status = ANY($6)
	`

	tag, err := q.Exec(ctx, query,
		tx.ID(),
		string(tx.Status()),
		tx.FailureReason(),
		tx.UpdatedAt(),
		tx.CompletedAt(),
		from,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s status update: %w", tx.ID(), domainErrors.ErrPreconditionFailed)
	}
	return nil
}

// ListByUser возвращает транзакции пользователя с фильтром и пагинацией,
// новые первыми, вместе с общим количеством.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter ports.TransactionFilter, offset, limit int) ([]*entities.Transaction, int, error) {
	q := getQuerier(ctx, r.pool)

	where := "(sender_id = $1 OR receiver_id = $1)"
	switch filter.Role {
	case ports.RoleSender:
		where = "sender_id = $1"
	case ports.RoleReceiver:
		where = "receiver_id = $1"
	}

	args := []any{userID}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM transactions WHERE " + where
	if err := q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	args = append(args, offset, limit)
	listQuery := fmt.Sprintf(`
		SELECT id, sender_id, receiver_id, amount, currency, status,
		       failure_reason, description, initiated_at, updated_at, completed_at
		FROM transactions
		WHERE %s
		ORDER BY initiated_at DESC
		OFFSET $%d LIMIT $%d
	`, where, len(args)-1, len(args))

	rows, err := q.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*entities.Transaction
	for rows.Next() {
		tx, err := r.scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, tx)
	}
	return txs, total, rows.Err()
}

// ListStalled возвращает нетерминальные транзакции, не менявшиеся с
// olderThan. Питает reconciler.
func (r *TransactionRepository) ListStalled(ctx context.Context, olderThan time.Time, limit int) ([]*entities.Transaction, error) {
	q := getQuerier(ctx, r.pool)

	query := `
		SELECT id, sender_id, receiver_id, amount, currency, status,
		       failure_reason, description, initiated_at, updated_at, completed_at
		FROM transactions
		WHERE status IN ('INITIATED', 'DEBITED', 'REFUNDING') AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`

	rows, err := q.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stalled transactions: %w", err)
	}
	defer rows.Close()

	var txs []*entities.Transaction
	for rows.Next() {
		tx, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (r *TransactionRepository) scanTransaction(row rowScanner) (*entities.Transaction, error) {
	var (
		id, currencyCode, status       string
		failureReason, description     string
		senderID, receiverID           uuid.UUID
		amountCents                    int64
		initiatedAt, updatedAt         time.Time
		completedAt                    *time.Time
	)

	err := row.Scan(&id, &senderID, &receiverID, &amountCents, &currencyCode,
		&status, &failureReason, &description, &initiatedAt, &updatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	currency, err := valueobjects.NewCurrency(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("corrupt transaction row %s: %w", id, err)
	}
	amount, err := valueobjects.NewMoney(amountCents, currency)
	if err != nil {
		return nil, fmt.Errorf("corrupt transaction row %s: %w", id, err)
	}

	return entities.ReconstructTransaction(
		id, senderID, receiverID, amount,
		entities.TransactionStatus(status),
		failureReason, description,
		initiatedAt, updatedAt, completedAt,
	), nil
}
