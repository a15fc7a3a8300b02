// Package saga - Reconciler подметает застрявшие саги.
//
// Шина не durable: если процесс упал между шагом и публикацией, сага
// зависает в нетерминальном статусе, хотя строки операций уже
// зафиксированы. Reconciler периодически находит такие транзакции и
// переиздаёт событие, соответствующее их персистентному состоянию.
// Переиздание безопасно: все реакции идемпотентны.
package saga

import (
	"context"
	"log/slog"
	"time"

	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/domain/entities"
	"github.com/Haleralex/payflow/internal/domain/events"
)

const (
	// DefaultSweepInterval - период между проходами.
	DefaultSweepInterval = 30 * time.Second

	// DefaultStallThreshold - возраст, после которого нетерминальная
	// транзакция считается застрявшей.
	DefaultStallThreshold = 60 * time.Second

	// sweepBatchSize - потолок транзакций за один проход.
	sweepBatchSize = 100
)

// Reconciler - фоновая горутина переиздания событий.
type Reconciler struct {
	txRepo         ports.TransactionRepository
	bus            ports.EventBus
	logger         *slog.Logger
	sweepInterval  time.Duration
	stallThreshold time.Duration
	done           chan struct{}
}

// NewReconciler создаёт reconciler. Нулевые интервалы заменяются
// дефолтами.
func NewReconciler(
	txRepo ports.TransactionRepository,
	bus ports.EventBus,
	logger *slog.Logger,
	sweepInterval, stallThreshold time.Duration,
) *Reconciler {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if stallThreshold <= 0 {
		stallThreshold = DefaultStallThreshold
	}
	return &Reconciler{
		txRepo:         txRepo,
		bus:            bus,
		logger:         logger,
		sweepInterval:  sweepInterval,
		stallThreshold: stallThreshold,
		done:           make(chan struct{}),
	}
}

// Start запускает периодические проходы до отмены ctx или Stop.
func (r *Reconciler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-ticker.C:
				if err := r.Sweep(ctx); err != nil {
					r.logger.ErrorContext(ctx, "reconciler sweep failed",
						slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop останавливает проходы.
func (r *Reconciler) Stop() {
	close(r.done)
}

// Sweep делает один проход: находит застрявшие транзакции и переиздаёт
// событие, с которого их сага продолжится.
func (r *Reconciler) Sweep(ctx context.Context) error {
	olderThan := time.Now().Add(-r.stallThreshold)
	stalled, err := r.txRepo.ListStalled(ctx, olderThan, sweepBatchSize)
	if err != nil {
		return err
	}

	for _, tx := range stalled {
		event, ok := r.replayEvent(tx)
		if !ok {
			continue
		}
		if err := r.bus.Publish(ctx, event); err != nil {
			return err
		}
		r.logger.WarnContext(ctx, "stalled saga re-driven",
			slog.String("transaction_id", tx.ID()),
			slog.String("status", string(tx.Status())),
			slog.String("replayed_event", event.EventType))
	}
	return nil
}

// replayEvent строит событие по персистентному статусу.
func (r *Reconciler) replayEvent(tx *entities.Transaction) (events.Event, bool) {
	switch tx.Status() {
	case entities.TransactionStatusInitiated:
		event, err := events.NewEvent(events.TransactionInitiated, tx.ID(), events.TransactionInitiatedPayload{
			TransactionID: tx.ID(),
			SenderID:      tx.SenderID().String(),
			ReceiverID:    tx.ReceiverID().String(),
			AmountCents:   tx.Amount().Cents(),
			Currency:      tx.Amount().Currency().Code(),
			Description:   tx.Description(),
		})
		return event, err == nil
	case entities.TransactionStatusDebited:
		event, err := events.NewEvent(events.DebitSuccess, tx.ID(), events.DebitResultPayload{
			TransactionID: tx.ID(),
			SenderID:      tx.SenderID().String(),
			ReceiverID:    tx.ReceiverID().String(),
			AmountCents:   tx.Amount().Cents(),
			Currency:      tx.Amount().Currency().Code(),
			OperationID:   entities.SagaOperationID(tx.ID(), entities.OperationDebit),
		})
		return event, err == nil
	case entities.TransactionStatusRefunding:
		event, err := events.NewEvent(events.RefundRequested, tx.ID(), events.RefundPayload{
			TransactionID: tx.ID(),
			SenderID:      tx.SenderID().String(),
			AmountCents:   tx.Amount().Cents(),
			Currency:      tx.Amount().Currency().Code(),
			Reason:        tx.FailureReason(),
		})
		return event, err == nil
	default:
		return events.Event{}, false
	}
}
