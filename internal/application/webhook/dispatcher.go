// Package webhook - Dispatcher превращает события шины в durable-доставки.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/domain/entities"
	"github.com/Haleralex/payflow/internal/domain/events"
)

// QueueJobDeliver - имя job-типа доставки в очереди webhooks.
const QueueJobDeliver = "deliver"

// DeliverJobPayload - полезная нагрузка job'а доставки.
// Всё остальное worker перечитывает из хранилища по deliveryId.
type DeliverJobPayload struct {
	DeliveryID string `json:"deliveryId"`
}

// DispatchedEventTypes - события, уходящие наружу через webhooks.
// Внутренние шаги саги (DEBIT_*, CREDIT_*, REFUND_*) наружу не
// транслируются: внешнему потребителю важен только итог перевода.
var DispatchedEventTypes = []string{
	events.TransactionCompleted,
	events.TransactionFailed,
}

// Body - плоское JSON-тело исходящего webhook-запроса.
// Это внешний контракт; поля не переименовывать.
type Body struct {
	Event         string    `json:"event"`
	TransactionID string    `json:"transactionId"`
	Status        string    `json:"status"`
	AmountCents   int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
	SenderID      string    `json:"senderId"`
	ReceiverID    string    `json:"receiverId"`
	Reason        string    `json:"reason,omitempty"`
	Refunded      *bool     `json:"refunded,omitempty"`
}

// buildBody разворачивает событие шины в тело запроса.
func buildBody(event events.Event) (Body, error) {
	body := Body{
		Event:         event.EventType,
		TransactionID: event.TransactionID,
		Timestamp:     event.Timestamp,
	}

	switch event.EventType {
	case events.TransactionCompleted:
		var p events.TransactionCompletedPayload
		if err := event.DecodePayload(&p); err != nil {
			return Body{}, err
		}
		body.Status = string(entities.TransactionStatusCompleted)
		body.AmountCents = p.AmountCents
		body.Currency = p.Currency
		body.SenderID = p.SenderID
		body.ReceiverID = p.ReceiverID
	case events.TransactionFailed:
		var p events.TransactionFailedPayload
		if err := event.DecodePayload(&p); err != nil {
			return Body{}, err
		}
		body.Status = string(entities.TransactionStatusFailed)
		body.AmountCents = p.AmountCents
		body.Currency = p.Currency
		body.SenderID = p.SenderID
		body.ReceiverID = p.ReceiverID
		body.Reason = p.Reason
		refunded := p.Refunded
		body.Refunded = &refunded
	default:
		return Body{}, fmt.Errorf("event %s is not dispatched to webhooks", event.EventType)
	}
	return body, nil
}

// Dispatcher подписан на шину и раскладывает события по подпискам.
//
// Idempotency: jobId = deliveryId. Повторное событие шины создаёт новую
// delivery-запись, но для уже поставленной доставки дубликат job'а
// схлопнется на dedup-ключе очереди.
type Dispatcher struct {
	repo   ports.WebhookRepository
	bus    ports.EventBus
	queue  ports.JobQueue
	logger *slog.Logger
}

// NewDispatcher создаёт диспетчер. Start подписывает его на шину.
func NewDispatcher(
	repo ports.WebhookRepository,
	bus ports.EventBus,
	queue ports.JobQueue,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		repo:   repo,
		bus:    bus,
		queue:  queue,
		logger: logger,
	}
}

// Start подписывает диспетчер на внешние события.
func (d *Dispatcher) Start(ctx context.Context) error {
	for _, eventType := range DispatchedEventTypes {
		if err := d.bus.Subscribe(ctx, eventType, d.handleEvent); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
	}
	return nil
}

// handleEvent создаёт PENDING-доставку на каждую активную подписку,
// слушающую этот тип события, и ставит job на каждую.
func (d *Dispatcher) handleEvent(ctx context.Context, event events.Event) error {
	subs, err := d.repo.ListActiveSubscriptionsForEvent(ctx, event.EventType)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions for %s: %w", event.EventType, err)
	}
	if len(subs) == 0 {
		return nil
	}

	flat, err := buildBody(event)
	if err != nil {
		return err
	}
	body, err := json.Marshal(flat)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventType, err)
	}

	for _, sub := range subs {
		delivery := entities.NewWebhookDelivery(sub.ID(), event.TransactionID, event.EventType, body)
		if err := d.repo.SaveDelivery(ctx, delivery); err != nil {
			return fmt.Errorf("failed to save delivery for %s: %w", sub.ID(), err)
		}

		payload, err := json.Marshal(DeliverJobPayload{DeliveryID: delivery.ID()})
		if err != nil {
			return err
		}

		if err := d.queue.Enqueue(ctx, QueueJobDeliver, payload, ports.EnqueueOptions{
			JobID: delivery.ID(),
		}); err != nil {
			return fmt.Errorf("failed to enqueue delivery %s: %w", delivery.ID(), err)
		}

		d.logger.DebugContext(ctx, "webhook delivery enqueued",
			slog.String("delivery_id", delivery.ID()),
			slog.String("webhook_id", sub.ID()),
			slog.String("event_type", event.EventType))
	}
	return nil
}
