// Package postgres - UnitOfWork implementation для PostgreSQL.
//
// Unit of Work Pattern:
// - Управляет границами транзакций
// - Автоматический ROLLBACK при ошибках, COMMIT при успехе
//
// Usage:
//
//	err := uow.WithinTransaction(ctx, func(txCtx context.Context) error {
//	    // Все операции с репозиториями используют txCtx
//	    userRepo.Save(txCtx, user)
//	    walletRepo.Save(txCtx, wallet)
//	    return nil // COMMIT
//	})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Haleralex/payflow/internal/application/ports"
)

// Compile-time check
var _ ports.UnitOfWork = (*UnitOfWork)(nil)

// UnitOfWork реализует ports.UnitOfWork с PostgreSQL транзакциями.
//
// Thread-safe: использует connection pool.
// Transaction isolation: READ COMMITTED. Условные UPDATE'ы ledger'а не
// требуют большего: предикат проверяется на строчной блокировке.
type UnitOfWork struct {
	pool *pgxpool.Pool
	opts pgx.TxOptions
}

// NewUnitOfWork создаёт новый UnitOfWork.
func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{
		pool: pool,
		opts: pgx.TxOptions{
			IsoLevel: pgx.ReadCommitted,
		},
	}
}

// WithinTransaction выполняет fn внутри транзакции.
//
// Поведение:
// - Вложенный вызов переиспользует транзакцию из context
// - fn вернула nil: COMMIT
// - fn вернула error: ROLLBACK
// - panic: ROLLBACK + re-panic
//
// ВАЖНО: репозитории внутри fn должны использовать переданный txCtx.
func (u *UnitOfWork) WithinTransaction(ctx context.Context, fn func(context.Context) error) error {
	// PostgreSQL не поддерживает true nested transactions - вложенный
	// вызов просто продолжает текущую.
	if hasTx(ctx) {
		return fn(ctx)
	}

	tx, err := u.pool.BeginTx(ctx, u.opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	txCtx := injectTx(ctx, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// WithRetry выполняет транзакцию с повтором при serialization
// failures и deadlock'ах. maxRetries = 0 означает без повторов.
func (u *UnitOfWork) WithRetry(ctx context.Context, maxRetries int, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := u.WithinTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
