// Package postgres - UserRepository.
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
)

// Compile-time check
var _ ports.UserRepository = (*UserRepository)(nil)

// UserRepository реализует ports.UserRepository.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository создаёт новый UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Save сохраняет пользователя (upsert по ID).
func (r *UserRepository) Save(ctx context.Context, user *entities.User) error {
	q := getQuerier(ctx, r.pool)

	query := `
		INSERT INTO users (id, name, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`

	_, err := q.Exec(ctx, query, user.ID(), user.Name(), user.Email(), user.CreatedAt())
	if err != nil {
		if isUniqueViolation(err, "users_email") {
			return fmt.Errorf("email %s: %w", user.Email(), domainErrors.ErrEntityAlreadyExists)
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// FindByID загружает пользователя по ID.
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	q := getQuerier(ctx, r.pool)

	query := `SELECT id, name, email, created_at FROM users WHERE id = $1`
	return r.scanUser(q.QueryRow(ctx, query, id))
}

// FindByEmail загружает пользователя по email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*entities.User, error) {
	q := getQuerier(ctx, r.pool)

	query := `SELECT id, name, email, created_at FROM users WHERE email = $1`
	return r.scanUser(q.QueryRow(ctx, query, email))
}

func (r *UserRepository) scanUser(row rowScanner) (*entities.User, error) {
	var (
		id          uuid.UUID
		name, email string
		createdAt   time.Time
	)

	if err := row.Scan(&id, &name, &email, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	return entities.ReconstructUser(id, name, email, createdAt), nil
}
