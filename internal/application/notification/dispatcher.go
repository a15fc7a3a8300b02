// Package notification - пользовательские уведомления об исходах перевода.
//
// Диспетчер слушает шину и ставит notification-job'ы; воркер - заглушка,
// которая логирует. Контракт: доставить в настроенный канал
// at-least-once; сам канал (push/email/sms) - внешняя интеграция.
package notification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/domain/events"
)

// QueueJobNotify - имя job-типа уведомления.
const QueueJobNotify = "notify"

// NotifyJobPayload - полезная нагрузка notification-job'а.
// jobId очереди = NotificationID.
type NotifyJobPayload struct {
	NotificationID string            `json:"notificationId"`
	UserID         string            `json:"userId"`
	Type           string            `json:"type"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Data           map[string]string `json:"data,omitempty"`
}

// notificationID детерминированно выводится из типа уведомления,
// транзакции и получателя: повторная доставка того же события даёт тот
// же ID, и дедупликация очереди гасит дубликат.
func notificationID(notifType, transactionID, userID string) string {
	sum := sha256.Sum256([]byte(notifType + "|" + transactionID + "|" + userID))
	return "ntf_" + hex.EncodeToString(sum[:16])
}

// Dispatcher переводит события саги в уведомления.
type Dispatcher struct {
	bus    ports.EventBus
	queue  ports.JobQueue
	logger *slog.Logger
}

// NewDispatcher создаёт диспетчер. Start подписывает его на шину.
func NewDispatcher(bus ports.EventBus, queue ports.JobQueue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		bus:    bus,
		queue:  queue,
		logger: logger,
	}
}

// Start подписывает диспетчер на события, видимые пользователю.
// CREDIT_SUCCESS нужен отдельно: это единственный момент, когда можно
// уведомить получателя о входящих деньгах до завершения саги.
func (d *Dispatcher) Start(ctx context.Context) error {
	subscriptions := map[string]ports.EventHandler{
		events.TransactionInitiated: d.handleInitiated,
		events.TransactionCompleted: d.handleCompleted,
		events.TransactionFailed:    d.handleFailed,
		events.CreditSuccess:        d.handleCreditSuccess,
	}
	for eventType, handler := range subscriptions {
		if err := d.bus.Subscribe(ctx, eventType, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
	}
	return nil
}

func (d *Dispatcher) handleInitiated(ctx context.Context, event events.Event) error {
	var p events.TransactionInitiatedPayload
	if err := event.DecodePayload(&p); err != nil {
		return err
	}
	return d.enqueue(ctx, NotifyJobPayload{
		UserID:  p.SenderID,
		Type:    "transfer_initiated",
		Title:   "Transfer started",
		Message: fmt.Sprintf("Your transfer of %s is being processed", formatAmount(p.AmountCents, p.Currency)),
		Data:    map[string]string{"transactionId": p.TransactionID},
	})
}

func (d *Dispatcher) handleCompleted(ctx context.Context, event events.Event) error {
	var p events.TransactionCompletedPayload
	if err := event.DecodePayload(&p); err != nil {
		return err
	}
	return d.enqueue(ctx, NotifyJobPayload{
		UserID:  p.SenderID,
		Type:    "transfer_completed",
		Title:   "Transfer completed",
		Message: fmt.Sprintf("Your transfer of %s was delivered", formatAmount(p.AmountCents, p.Currency)),
		Data:    map[string]string{"transactionId": p.TransactionID},
	})
}

func (d *Dispatcher) handleFailed(ctx context.Context, event events.Event) error {
	var p events.TransactionFailedPayload
	if err := event.DecodePayload(&p); err != nil {
		return err
	}
	msg := fmt.Sprintf("Your transfer of %s failed: %s", formatAmount(p.AmountCents, p.Currency), p.Reason)
	if p.Refunded {
		msg += " (amount refunded)"
	}
	return d.enqueue(ctx, NotifyJobPayload{
		UserID:  p.SenderID,
		Type:    "transfer_failed",
		Title:   "Transfer failed",
		Message: msg,
		Data:    map[string]string{"transactionId": p.TransactionID},
	})
}

func (d *Dispatcher) handleCreditSuccess(ctx context.Context, event events.Event) error {
	var p events.CreditResultPayload
	if err := event.DecodePayload(&p); err != nil {
		return err
	}
	return d.enqueue(ctx, NotifyJobPayload{
		UserID:  p.ReceiverID,
		Type:    "funds_received",
		Title:   "You received funds",
		Message: fmt.Sprintf("%s has been credited to your wallet", formatAmount(p.AmountCents, p.Currency)),
		Data:    map[string]string{"transactionId": p.TransactionID},
	})
}

func (d *Dispatcher) enqueue(ctx context.Context, p NotifyJobPayload) error {
	p.NotificationID = notificationID(p.Type, p.Data["transactionId"], p.UserID)

	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := d.queue.Enqueue(ctx, QueueJobNotify, payload, ports.EnqueueOptions{
		JobID: p.NotificationID,
	}); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	d.logger.DebugContext(ctx, "notification enqueued",
		slog.String("notification_id", p.NotificationID),
		slog.String("type", p.Type),
		slog.String("user_id", p.UserID))
	return nil
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
}
