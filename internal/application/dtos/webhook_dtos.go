// Package dtos - Webhook DTOs.
package dtos

import "time"

// ============================================
// Commands (Write операции)
// ============================================

// CreateWebhookCommand - команда регистрации webhook-подписки.
type CreateWebhookCommand struct {
	UserID string   `json:"user_id" validate:"required,uuid"`
	URL    string   `json:"url" validate:"required,url,startswith=https://"`
	Secret string   `json:"secret" validate:"required,min=32"`
	Events []string `json:"events" validate:"required,min=1,dive,min=1"`
}

// UpdateWebhookCommand - команда изменения подписки.
// Пустые поля не меняются.
type UpdateWebhookCommand struct {
	WebhookID string   `json:"webhook_id" validate:"required"`
	URL       string   `json:"url" validate:"omitempty,url,startswith=https://"`
	Events    []string `json:"events" validate:"omitempty,min=1,dive,min=1"`
	IsActive  *bool    `json:"is_active,omitempty"`
}

// DeleteWebhookCommand - команда удаления подписки.
type DeleteWebhookCommand struct {
	WebhookID string `json:"webhook_id" validate:"required"`
}

// ============================================
// Queries (Read операции)
// ============================================

// ListWebhooksQuery - запрос подписок пользователя.
type ListWebhooksQuery struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

// ListDeliveriesQuery - запрос истории доставок подписки.
type ListDeliveriesQuery struct {
	WebhookID string `json:"webhook_id" validate:"required"`
	Offset    int    `json:"offset" validate:"min=0"`
	Limit     int    `json:"limit" validate:"min=1,max=100"`
}

// ============================================
// Response DTOs
// ============================================

// WebhookDTO - представление подписки. Secret наружу не отдаётся.
type WebhookDTO struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	URL          string    `json:"url"`
	Events       []string  `json:"events"`
	IsActive     bool      `json:"is_active"`
	FailureCount int       `json:"failure_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DeliveryDTO - представление записи доставки.
type DeliveryDTO struct {
	ID            string     `json:"id"`
	WebhookID     string     `json:"webhook_id"`
	TransactionID string     `json:"transaction_id"`
	EventType     string     `json:"event_type"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	ResponseCode  *int       `json:"response_code,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
