// Package postgres - WebhookRepository: подписки и журнал доставок.
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
var _ ports.WebhookRepository = (*WebhookRepository)(nil)

// WebhookRepository реализует ports.WebhookRepository.
// events[] хранится как text[]; payload доставки - как bytea.
type WebhookRepository struct {
	pool *pgxpool.Pool
}

// NewWebhookRepository создаёт новый WebhookRepository.
func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

// ============================================
// Subscriptions
// ============================================

// SaveSubscription сохраняет подписку (upsert по ID).
func (r *WebhookRepository) SaveSubscription(ctx context.Context, sub *entities.WebhookSubscription) error {
	q := getQuerier(ctx, r.pool)

	query := `
		INSERT INTO webhook_subscriptions (
			id, user_id, url, secret, events, is_active, failure_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			events = EXCLUDED.events,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`

	_, err := q.Exec(ctx, query,
		sub.ID(),
		sub.UserID(),
		sub.URL(),
		sub.Secret(),
		sub.Events(),
		sub.IsActive(),
		sub.FailureCount(),
		sub.CreatedAt(),
		sub.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err, "webhook_subscriptions_user_url") {
			return domainErrors.ErrDuplicateSubscription
		}
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// FindSubscriptionByID загружает подписку по ID.
func (r *WebhookRepository) FindSubscriptionByID(ctx context.Context, id string) (*entities.WebhookSubscription, error) {
	q := getQuerier(ctx, r.pool)

	query := `
		SELECT id, user_id, url, secret, events, is_active, failure_count, created_at, updated_at
		FROM webhook_subscriptions
		WHERE id = $1
	`
	return r.scanSubscription(q.QueryRow(ctx, query, id))
}

// ListSubscriptionsByUser возвращает подписки пользователя.
func (r *WebhookRepository) ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]*entities.WebhookSubscription, error) {
	q := getQuerier(ctx, r.pool)

	query := `
		SELECT id, user_id, url, secret, events, is_active, failure_count, created_at, updated_at
		FROM webhook_subscriptions
		WHERE user_id = $1
		ORDER BY created_at
	`
	return r.querySubscriptions(ctx, q, query, userID)
}

// ListActiveSubscriptionsForEvent возвращает активные подписки на тип события.
func (r *WebhookRepository) ListActiveSubscriptionsForEvent(ctx context.Context, eventType string) ([]*entities.WebhookSubscription, error) {
	q := getQuerier(ctx, r.pool)

	query := `
		SELECT id, user_id, url, secret, events, is_active, failure_count, created_at, updated_at
		FROM webhook_subscriptions
		WHERE is_active AND $1 = ANY(events)
		ORDER BY created_at
	`
	return r.querySubscriptions(ctx, q, query, eventType)
}

// DeleteSubscription удаляет подписку вместе с журналом доставок (FK CASCADE).
func (r *WebhookRepository) DeleteSubscription(ctx context.Context, id string) error {
	q := getQuerier(ctx, r.pool)

	tag, err := q.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrEntityNotFound
	}
	return nil
}

// IncrementFailureCount атомарно увеличивает счётчик подряд идущих
// неудач и возвращает новое значение.
func (r *WebhookRepository) IncrementFailureCount(ctx context.Context, subscriptionID string) (int, error) {
	q := getQuerier(ctx, r.pool)

	var count int
	err := q.QueryRow(ctx, `
		UPDATE webhook_subscriptions
		SET failure_count = failure_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING failure_count
	`, subscriptionID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domainErrors.ErrEntityNotFound
		}
		return 0, fmt.Errorf("failed to increment failure count: %w", err)
	}
	return count, nil
}

// ResetFailureCount обнуляет счётчик после успешной доставки.
func (r *WebhookRepository) ResetFailureCount(ctx context.Context, subscriptionID string) error {
	q := getQuerier(ctx, r.pool)

	_, err := q.Exec(ctx, `
		UPDATE webhook_subscriptions
		SET failure_count = 0, updated_at = NOW()
		WHERE id = $1
	`, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to reset failure count: %w", err)
	}
	return nil
}

// DeactivateSubscription помечает подписку неактивной.
func (r *WebhookRepository) DeactivateSubscription(ctx context.Context, subscriptionID string) error {
	q := getQuerier(ctx, r.pool)

	_, err := q.Exec(ctx, `
		UPDATE webhook_subscriptions
		SET is_active = false, updated_at = NOW()
		WHERE id = $1
	`, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	return nil
}

// ============================================
// Deliveries
// ============================================

// SaveDelivery сохраняет запись доставки (upsert по ID).
func (r *WebhookRepository) SaveDelivery(ctx context.Context, d *entities.WebhookDelivery) error {
	q := getQuerier(ctx, r.pool)

	query := `
		INSERT INTO webhook_deliveries (
			id, webhook_id, transaction_id, event_type, payload, status,
			attempt_count, response_code, last_error, next_retry_at, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt_count = EXCLUDED.attempt_count,
			response_code = EXCLUDED.response_code,
			last_error = EXCLUDED.last_error,
			next_retry_at = EXCLUDED.next_retry_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err := q.Exec(ctx, query,
		d.ID(),
		d.WebhookID(),
		d.TransactionID(),
		d.EventType(),
		d.Payload(),
		string(d.Status()),
		d.AttemptCount(),
		d.ResponseCode(),
		d.LastError(),
		d.NextRetryAt(),
		d.CreatedAt(),
		d.CompletedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to save delivery: %w", err)
	}
	return nil
}

// FindDeliveryByID загружает запись доставки.
func (r *WebhookRepository) FindDeliveryByID(ctx context.Context, id string) (*entities.WebhookDelivery, error) {
	q := getQuerier(ctx, r.pool)

	query := `
		SELECT id, webhook_id, transaction_id, event_type, payload, status,
		       attempt_count, response_code, last_error, next_retry_at, created_at, completed_at
		FROM webhook_deliveries
		WHERE id = $1
	`
	return r.scanDelivery(q.QueryRow(ctx, query, id))
}

// ListDeliveriesByWebhook возвращает доставки подписки, новые первыми.
func (r *WebhookRepository) ListDeliveriesByWebhook(ctx context.Context, webhookID string, offset, limit int) ([]*entities.WebhookDelivery, error) {
	q := getQuerier(ctx, r.pool)

	query := `
		SELECT id, webhook_id, transaction_id, event_type, payload, status,
		       attempt_count, response_code, last_error, next_retry_at, created_at, completed_at
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3
	`

	rows, err := q.Query(ctx, query, webhookID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	var out []*entities.WebhookDelivery
	for rows.Next() {
		d, err := r.scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ============================================
// Scanning
// ============================================

func (r *WebhookRepository) querySubscriptions(ctx context.Context, q querier, query string, args ...any) ([]*entities.WebhookSubscription, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*entities.WebhookSubscription
	for rows.Next() {
		sub, err := r.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (r *WebhookRepository) scanSubscription(row rowScanner) (*entities.WebhookSubscription, error) {
	var (
		id, url, secret      string
		userID               uuid.UUID
		events               []string
		isActive             bool
		failureCount         int
		createdAt, updatedAt time.Time
	)

	err := row.Scan(&id, &userID, &url, &secret, &events, &isActive, &failureCount, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}

	return entities.ReconstructWebhookSubscription(
		id, userID, url, secret, events, isActive, failureCount, createdAt, updatedAt,
	), nil
}

func (r *WebhookRepository) scanDelivery(row rowScanner) (*entities.WebhookDelivery, error) {
	var (
		id, webhookID, transactionID, eventType string
		payload                                 []byte
		status                                  string
		attemptCount                            int
		responseCode                            *int
		lastError                               *string
		nextRetryAt                             *time.Time
		createdAt                               time.Time
		completedAt                             *time.Time
	)

	err := row.Scan(&id, &webhookID, &transactionID, &eventType, &payload, &status,
		&attemptCount, &responseCode, &lastError, &nextRetryAt, &createdAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to scan delivery: %w", err)
	}

	lastErrStr := ""
	if lastError != nil {
		lastErrStr = *lastError
	}

	return entities.ReconstructWebhookDelivery(
		id, webhookID, transactionID, eventType, payload,
		entities.DeliveryStatus(status), attemptCount, responseCode,
		lastErrStr, nextRetryAt, createdAt, completedAt,
	), nil
}
