// Package postgres - OperationRepository: строки идемпотентности ledger'а.
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
var _ ports.OperationRepository = (*OperationRepository)(nil)

// OperationRepository реализует ports.OperationRepository.
// Уникальный индекс по operation_id - тот самый механизм at-most-once.
type OperationRepository struct {
	pool *pgxpool.Pool
}

// NewOperationRepository создаёт новый OperationRepository.
func NewOperationRepository(pool *pgxpool.Pool) *OperationRepository {
	return &OperationRepository{pool: pool}
}

// CreateIfAbsent вставляет операцию, если operation_id свободен.
// ON CONFLICT DO NOTHING + повторное чтение отдают проигравшему гонку
// строку победителя.
func (r *OperationRepository) CreateIfAbsent(ctx context.Context, op *entities.WalletOperation) (bool, *entities.WalletOperation, error) {
	q := getQuerier(ctx, r.pool)

	query := `
		INSERT INTO wallet_operations (
			operation_id, wallet_id, user_id, kind, amount, currency,
			result_balance, transaction_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		ON CONFLICT (operation_id) DO NOTHING
	`

	tag, err := q.Exec(ctx, query,
		op.OperationID(),
		op.WalletID(),
		op.UserID(),
		string(op.Kind()),
		op.Amount().Cents(),
		op.Amount().Currency().Code(),
		op.ResultBalance().Cents(),
		op.TransactionID(),
		op.CreatedAt(),
	)
	if err != nil {
		return false, nil, fmt.Errorf("failed to insert operation: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return true, op, nil
	}

	existing, err := r.FindByID(ctx, op.OperationID())
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// FindByID загружает операцию по operation_id.
func (r *OperationRepository) FindByID(ctx context.Context, operationID string) (*entities.WalletOperation, error) {
	q := getQuerier(ctx, r.pool)

	query := `
		SELECT operation_id, wallet_id, user_id, kind, amount, currency,
		       result_balance, COALESCE(transaction_id, ''), created_at
		FROM wallet_operations
		WHERE operation_id = $1
	`
	return r.scanOperation(q.QueryRow(ctx, query, operationID))
}

// ListByUser возвращает операции пользователя, новые первыми,
// вместе с общим количеством.
func (r *OperationRepository) ListByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*entities.WalletOperation, int, error) {
	q := getQuerier(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM wallet_operations WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count operations: %w", err)
	}

	query := `
		SELECT operation_id, wallet_id, user_id, kind, amount, currency,
		       result_balance, COALESCE(transaction_id, ''), created_at
		FROM wallet_operations
		WHERE user_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3
	`

	rows, err := q.Query(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []*entities.WalletOperation
	for rows.Next() {
		op, err := r.scanOperation(rows)
		if err != nil {
			return nil, 0, err
		}
		ops = append(ops, op)
	}
	return ops, total, rows.Err()
}

func (r *OperationRepository) scanOperation(row rowScanner) (*entities.WalletOperation, error) {
	var (
		operationID, kind, currencyCode, transactionID string
		walletID, userID                               uuid.UUID
		amountCents, resultBalanceCents                int64
		createdAt                                      time.Time
	)

	err := row.Scan(&operationID, &walletID, &userID, &kind, &amountCents,
		&currencyCode, &resultBalanceCents, &transactionID, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to scan operation: %w", err)
	}

	currency, err := valueobjects.NewCurrency(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("corrupt operation row %s: %w", operationID, err)
	}
	amount, err := valueobjects.NewMoney(amountCents, currency)
	if err != nil {
		return nil, fmt.Errorf("corrupt operation row %s: %w", operationID, err)
	}
	resultBalance, err := valueobjects.NewMoney(resultBalanceCents, currency)
	if err != nil {
		return nil, fmt.Errorf("corrupt operation row %s: %w", operationID, err)
	}

	return entities.ReconstructWalletOperation(
		operationID, walletID, userID,
		entities.OperationKind(kind),
		amount, resultBalance,
		transactionID, createdAt,
	), nil
}
