package saga

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/domain/entities"
	"github.com/Haleralex/payflow/internal/domain/events"
	"github.com/Haleralex/payflow/internal/domain/valueobjects"
	"github.com/Haleralex/payflow/internal/infrastructure/persistence/memory"
)

// recordingBus копит опубликованные события вместо доставки.
type recordingBus struct {
	published []events.Event
}

func (b *recordingBus) Connect(ctx context.Context) error { return nil }
func (b *recordingBus) Close(ctx context.Context) error   { return nil }
func (b *recordingBus) Publish(ctx context.Context, event events.Event) error {
	b.published = append(b.published, event)
	return nil
}
func (b *recordingBus) Subscribe(ctx context.Context, eventType string, handler ports.EventHandler) error {
	return nil
}
func (b *recordingBus) Unsubscribe(ctx context.Context, eventType string) error { return nil }

func stalledTransaction(t *testing.T, status entities.TransactionStatus, age time.Duration) *entities.Transaction {
	t.Helper()
	past := time.Now().Add(-age)
	return entities.ReconstructTransaction(
		entities.NewTransactionID(),
		uuid.New(), uuid.New(),
		valueobjects.MustNewMoney(6000, valueobjects.USD),
		status, "", "stalled transfer",
		past, past, nil,
	)
}

func TestReconciler_Sweep(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	bus := &recordingBus{}
	r := NewReconciler(store.Transactions(), bus, slog.New(slog.DiscardHandler), 0, time.Minute)

	// Три застрявшие в разных статусах, одна свежая, одна терминальная
	initiated := stalledTransaction(t, entities.TransactionStatusInitiated, 5*time.Minute)
	debited := stalledTransaction(t, entities.TransactionStatusDebited, 4*time.Minute)
	refunding := stalledTransaction(t, entities.TransactionStatusRefunding, 3*time.Minute)
	fresh := stalledTransaction(t, entities.TransactionStatusDebited, time.Second)
	completed := stalledTransaction(t, entities.TransactionStatusCompleted, 10*time.Minute)

	for _, tx := range []*entities.Transaction{initiated, debited, refunding, fresh, completed} {
		if err := store.Transactions().Save(ctx, tx); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	if err := r.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(bus.published) != 3 {
		t.Fatalf("published %d events, want 3", len(bus.published))
	}

	byTxn := make(map[string]events.Event)
	for _, e := range bus.published {
		byTxn[e.TransactionID] = e
	}

	if e := byTxn[initiated.ID()]; e.EventType != events.TransactionInitiated {
		t.Errorf("INITIATED replayed as %s, want TRANSACTION_INITIATED", e.EventType)
	}
	if e := byTxn[refunding.ID()]; e.EventType != events.RefundRequested {
		t.Errorf("REFUNDING replayed as %s, want REFUND_REQUESTED", e.EventType)
	}

	e, ok := byTxn[debited.ID()]
	if !ok || e.EventType != events.DebitSuccess {
		t.Fatalf("DEBITED replayed as %s, want DEBIT_SUCCESS", e.EventType)
	}
	var p events.DebitResultPayload
	if err := e.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	// Переизданный DEBIT_SUCCESS несёт детерминированный operationID,
	// чтобы credit-шаг остался идемпотентным.
	if want := entities.SagaOperationID(debited.ID(), entities.OperationDebit); p.OperationID != want {
		t.Errorf("OperationID = %q, want %q", p.OperationID, want)
	}
	if p.AmountCents != 6000 || p.Currency != "USD" {
		t.Errorf("payload = %+v", p)
	}
}

func TestReconciler_Sweep_NothingStalled(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	bus := &recordingBus{}
	r := NewReconciler(store.Transactions(), bus, slog.New(slog.DiscardHandler), 0, time.Minute)

	fresh := stalledTransaction(t, entities.TransactionStatusInitiated, time.Second)
	if err := store.Transactions().Save(ctx, fresh); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := r.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(bus.published) != 0 {
		t.Errorf("published %d events, want 0", len(bus.published))
	}
}

// TestReconciler_RedrivesStalledSaga: полный цикл - сага, потерявшая
// событие, доезжает после переиздания.
func TestReconciler_RedrivesStalledSaga(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t)
	sender := f.seedAccount(t, 10000)
	receiver := f.seedAccount(t, 0)

	// Транзакция зависла в DEBITED: debit уже применён, событие о нём
	// потеряно.
	past := time.Now().Add(-5 * time.Minute)
	tx := entities.ReconstructTransaction(
		entities.NewTransactionID(), sender, receiver,
		valueobjects.MustNewMoney(6000, valueobjects.USD),
		entities.TransactionStatusDebited, "", "",
		past, past, nil,
	)
	if err := f.store.Transactions().Save(ctx, tx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := f.orchestrator.ledger.Debit(ctx, tx.ID(), sender, tx.Amount()); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	r := NewReconciler(f.store.Transactions(), f.orchestrator.bus, slog.New(slog.DiscardHandler), 0, time.Minute)
	if err := r.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	reloaded, _ := f.store.Transactions().FindByID(ctx, tx.ID())
	if reloaded.Status() != entities.TransactionStatusCompleted {
		t.Errorf("status = %s, want COMPLETED after re-drive", reloaded.Status())
	}
	if got := f.balance(t, sender); got != 4000 {
		t.Errorf("sender balance = %d, want 4000", got)
	}
	if got := f.balance(t, receiver); got != 6000 {
		t.Errorf("receiver balance = %d, want 6000", got)
	}
}

func TestReconciler_Defaults(t *testing.T) {
	r := NewReconciler(nil, nil, slog.New(slog.DiscardHandler), 0, 0)
	if r.sweepInterval != DefaultSweepInterval {
		t.Errorf("sweepInterval = %v", r.sweepInterval)
	}
	if r.stallThreshold != DefaultStallThreshold {
		t.Errorf("stallThreshold = %v", r.stallThreshold)
	}
}
