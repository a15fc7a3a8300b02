// Package postgres - WalletRepository с условным атомарным инкрементом.
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
var _ ports.WalletRepository = (*WalletRepository)(nil)

// WalletRepository реализует ports.WalletRepository.
//
// Особенности:
// - Money хранится как BIGINT (центы)
// - Инвариант balance >= 0 защищён CHECK constraint'ом и предикатом
//   условного UPDATE - read-modify-write баланса в коде отсутствует
type WalletRepository struct {
	pool *pgxpool.Pool
}

// NewWalletRepository создаёт новый WalletRepository.
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

// Save вставляет новый кошелёк.
func (r *WalletRepository) Save(ctx context.Context, wallet *entities.Wallet) error {
	q := getQuerier(ctx, r.pool)

	query := `
		INSERT INTO wallets (
			id, user_id, currency, balance, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := q.Exec(ctx, query,
		wallet.ID(),
		wallet.UserID(),
		wallet.Currency().Code(),
		wallet.Balance().Cents(),
		wallet.IsActive(),
		wallet.CreatedAt(),
		wallet.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err, "wallets_user_currency") {
			return fmt.Errorf("wallet for currency %s: %w",
				wallet.Currency().Code(), domainErrors.ErrEntityAlreadyExists)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("wallet owner: %w", domainErrors.ErrEntityNotFound)
		}
		return fmt.Errorf("failed to insert wallet: %w", err)
	}

	return nil
}

// FindByID загружает кошелёк по ID.
func (r *WalletRepository) FindByID(ctx context.Context, id uuid.UUID) (*entities.Wallet, error) {
	q := getQuerier(ctx, r.pool)

	query := `
		SELECT id, user_id, currency, balance, is_active, created_at, updated_at
		FROM wallets
		WHERE id = $1
	`
	return r.scanWallet(q.QueryRow(ctx, query, id))
}

// FindByUserAndCurrency находит кошелёк пользователя для валюты.
func (r *WalletRepository) FindByUserAndCurrency(ctx context.Context, userID uuid.UUID, currency valueobjects.Currency) (*entities.Wallet, error) {
	q := getQuerier(ctx, r.pool)

	query := `
		SELECT id, user_id, currency, balance, is_active, created_at, updated_at
		FROM wallets
		WHERE user_id = $1 AND currency = $2
	`
	return r.scanWallet(q.QueryRow(ctx, query, userID, currency.Code()))
}

// FindByUserID возвращает все кошельки пользователя.
func (r *WalletRepository) FindByUserID(ctx context.Context, userID uuid.UUID) ([]*entities.Wallet, error) {
	q := getQuerier(ctx, r.pool)

	query := `
		SELECT id, user_id, currency, balance, is_active, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
		ORDER BY created_at
	`

	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*entities.Wallet
	for rows.Next() {
		w, err := r.scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// ConditionalIncrementBalance атомарно применяет delta к балансу.
//
// Весь инвариант - в одном UPDATE: предикат "balance + delta >= 0"
// проверяется под строчной блокировкой, поэтому конкурирующие списания
// не могут увести баланс в минус. RETURNING отдаёт новый баланс тем же
// round-trip'ом.
func (r *WalletRepository) ConditionalIncrementBalance(ctx context.Context, walletID uuid.UUID, delta int64, requireFunds bool) (int64, error) {
	q := getQuerier(ctx, r.pool)

	query := `
		UPDATE wallets
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1 AND is_active AND ($3 = false OR balance + $2 >= 0)
		RETURNING balance
	`

	var newBalance int64
	err := q.QueryRow(ctx, query, walletID, delta, requireFunds).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Либо кошелька нет/неактивен, либо не прошёл предикат.
			// Различаем отдельным чтением - это не горячий путь.
			w, findErr := r.FindByID(ctx, walletID)
			if findErr != nil {
				return 0, findErr
			}
			if !w.IsActive() {
				return 0, fmt.Errorf("wallet %s is inactive: %w", walletID, domainErrors.ErrWalletNotFound)
			}
			return 0, domainErrors.ErrInsufficientBalance
		}
		if isCheckViolation(err) {
			return 0, domainErrors.ErrInsufficientBalance
		}
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	return newBalance, nil
}

// rowScanner покрывает pgx.Row и pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WalletRepository) scanWallet(row rowScanner) (*entities.Wallet, error) {
	var (
		id, userID   uuid.UUID
		currencyCode string
		balanceCents int64
		isActive     bool
		createdAt    time.Time
		updatedAt    time.Time
	)

	err := row.Scan(&id, &userID, &currencyCode, &balanceCents, &isActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}

	currency, err := valueobjects.NewCurrency(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("corrupt wallet row %s: %w", id, err)
	}
	balance, err := valueobjects.NewMoney(balanceCents, currency)
	if err != nil {
		return nil, fmt.Errorf("corrupt wallet row %s: %w", id, err)
	}

	return entities.ReconstructWallet(id, userID, balance, currency, isActive, createdAt, updatedAt), nil
}
