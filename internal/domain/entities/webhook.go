// Package entities - webhook subscriptions and delivery records.
// Deliveries are the durable trail of outbound notifications; the queue
// uses the delivery ID as its job deduplication key.
package entities

import (
	"strings"
	"time"

	"github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/google/uuid"
)

// minWebhookSecretLen is the minimum HMAC secret length in bytes.
const minWebhookSecretLen = 32

// WebhookSubscription is a user-registered HTTPS endpoint interested in
// a set of event types. One subscription per (user, url).
type WebhookSubscription struct {
	id           string
	userID       uuid.UUID
	url          string
	secret       string
	events       []string
	isActive     bool
	failureCount int
	createdAt    time.Time
	updatedAt    time.Time
}

// NewWebhookSubscription creates an active subscription.
//
// Business Rules:
// - URL must be HTTPS
// - Secret must be at least 32 bytes (HMAC key strength)
// - At least one event type must be subscribed
func NewWebhookSubscription(userID uuid.UUID, url, secret string, events []string) (*WebhookSubscription, error) {
	if !strings.HasPrefix(url, "https://") {
		return nil, errors.ErrInsecureWebhookURL
	}
	if len(secret) < minWebhookSecretLen {
		return nil, errors.ErrWeakWebhookSecret
	}
	if len(events) == 0 {
		return nil, errors.ValidationError{Field: "events", Message: "at least one event type is required"}
	}

	now := time.Now()
	return &WebhookSubscription{
		id:        "whs_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		userID:    userID,
		url:       url,
		secret:    secret,
		events:    events,
		isActive:  true,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructWebhookSubscription reconstructs a subscription from stored data.
func ReconstructWebhookSubscription(
	id string,
	userID uuid.UUID,
	url, secret string,
	events []string,
	isActive bool,
	failureCount int,
	createdAt, updatedAt time.Time,
) *WebhookSubscription {
	return &WebhookSubscription{
		id:           id,
		userID:       userID,
		url:          url,
		secret:       secret,
		events:       events,
		isActive:     isActive,
		failureCount: failureCount,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
	}
}

func (s *WebhookSubscription) ID() string           { return s.id }
func (s *WebhookSubscription) UserID() uuid.UUID    { return s.userID }
func (s *WebhookSubscription) URL() string          { return s.url }
func (s *WebhookSubscription) Secret() string       { return s.secret }
func (s *WebhookSubscription) Events() []string     { return s.events }
func (s *WebhookSubscription) IsActive() bool       { return s.isActive }
func (s *WebhookSubscription) FailureCount() int    { return s.failureCount }
func (s *WebhookSubscription) CreatedAt() time.Time { return s.createdAt }
func (s *WebhookSubscription) UpdatedAt() time.Time { return s.updatedAt }

// WantsEvent reports whether the subscription listens for the event type.
func (s *WebhookSubscription) WantsEvent(eventType string) bool {
	for _, e := range s.events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Update applies mutable fields. Nil/empty arguments leave the field unchanged.
func (s *WebhookSubscription) Update(url string, events []string, isActive *bool) error {
	if url != "" {
		if !strings.HasPrefix(url, "https://") {
			return errors.ErrInsecureWebhookURL
		}
		s.url = url
	}
	if len(events) > 0 {
		s.events = events
	}
	if isActive != nil {
		s.isActive = *isActive
	}
	s.updatedAt = time.Now()
	return nil
}

// DeliveryStatus tracks the lifecycle of one webhook delivery attempt chain.
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "PENDING"
	DeliveryStatusSuccess  DeliveryStatus = "SUCCESS"
	DeliveryStatusFailed   DeliveryStatus = "FAILED"
	DeliveryStatusRetrying DeliveryStatus = "RETRYING"
)

// WebhookDelivery is the durable record of one fan-out to one subscription.
// The delivery ID doubles as the queue job ID, which deduplicates enqueues.
type WebhookDelivery struct {
	id            string
	webhookID     string
	transactionID string
	eventType     string
	payload       []byte
	status        DeliveryStatus
	attemptCount  int
	responseCode  *int
	lastError     string
	nextRetryAt   *time.Time
	createdAt     time.Time
	completedAt   *time.Time
}

// NewWebhookDelivery creates a PENDING delivery record.
func NewWebhookDelivery(webhookID, transactionID, eventType string, payload []byte) *WebhookDelivery {
	return &WebhookDelivery{
		id:            "whd_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		webhookID:     webhookID,
		transactionID: transactionID,
		eventType:     eventType,
		payload:       payload,
		status:        DeliveryStatusPending,
		createdAt:     time.Now(),
	}
}

// ReconstructWebhookDelivery reconstructs a delivery from stored data.
func ReconstructWebhookDelivery(
	id, webhookID, transactionID, eventType string,
	payload []byte,
	status DeliveryStatus,
	attemptCount int,
	responseCode *int,
	lastError string,
	nextRetryAt *time.Time,
	createdAt time.Time,
	completedAt *time.Time,
) *WebhookDelivery {
	return &WebhookDelivery{
		id:            id,
		webhookID:     webhookID,
		transactionID: transactionID,
		eventType:     eventType,
		payload:       payload,
		status:        status,
		attemptCount:  attemptCount,
		responseCode:  responseCode,
		lastError:     lastError,
		nextRetryAt:   nextRetryAt,
		createdAt:     createdAt,
		completedAt:   completedAt,
	}
}

func (d *WebhookDelivery) ID() string              { return d.id }
func (d *WebhookDelivery) WebhookID() string       { return d.webhookID }
func (d *WebhookDelivery) TransactionID() string   { return d.transactionID }
func (d *WebhookDelivery) EventType() string       { return d.eventType }
func (d *WebhookDelivery) Payload() []byte         { return d.payload }
func (d *WebhookDelivery) Status() DeliveryStatus  { return d.status }
func (d *WebhookDelivery) AttemptCount() int       { return d.attemptCount }
func (d *WebhookDelivery) ResponseCode() *int      { return d.responseCode }
func (d *WebhookDelivery) LastError() string       { return d.lastError }
func (d *WebhookDelivery) NextRetryAt() *time.Time { return d.nextRetryAt }
func (d *WebhookDelivery) CreatedAt() time.Time    { return d.createdAt }
func (d *WebhookDelivery) CompletedAt() *time.Time { return d.completedAt }

// MarkSuccess records a 2xx response.
func (d *WebhookDelivery) MarkSuccess(responseCode int) {
	now := time.Now()
	d.status = DeliveryStatusSuccess
	d.responseCode = &responseCode
	d.attemptCount++
	d.completedAt = &now
	d.nextRetryAt = nil
}

// MarkRetrying records a failed attempt that will be retried.
func (d *WebhookDelivery) MarkRetrying(responseCode *int, errMsg string, nextRetryAt time.Time) {
	d.status = DeliveryStatusRetrying
	d.responseCode = responseCode
	d.lastError = errMsg
	d.attemptCount++
	d.nextRetryAt = &nextRetryAt
}

// MarkFailed records the final failure after attempts are exhausted.
func (d *WebhookDelivery) MarkFailed(responseCode *int, errMsg string) {
	now := time.Now()
	d.status = DeliveryStatusFailed
	d.responseCode = responseCode
	d.lastError = errMsg
	d.attemptCount++
	d.completedAt = &now
	d.nextRetryAt = nil
}
