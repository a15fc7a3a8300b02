package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/Haleralex/payflow/internal/domain/events"
	domainErrors "github.com/Haleralex/payflow/internal/domain/errors"
)

func testEvent(t *testing.T, eventType string) events.Event {
	t.Helper()
	event, err := events.NewEvent(eventType, "txn_1", events.DebitResultPayload{TransactionID: "txn_1"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return event
}

func TestBus_PublishBeforeConnect(t *testing.T) {
	bus := NewBroker().NewBus()

	err := bus.Publish(context.Background(), testEvent(t, events.DebitSuccess))
	if !errors.Is(err, domainErrors.ErrNotConnected) {
		t.Errorf("publish before connect: err = %v, want ErrNotConnected", err)
	}
}

func TestBus_DeliversToSubscriber(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker()
	pub := broker.NewBus()
	sub := broker.NewBus()

	if err := pub.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var got []events.Event
	err := sub.Subscribe(ctx, events.DebitSuccess, func(ctx context.Context, e events.Event) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := pub.Publish(ctx, testEvent(t, events.DebitSuccess)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// Событие другого типа не доставляется
	if err := pub.Publish(ctx, testEvent(t, events.CreditSuccess)); err != nil {
		t.Fatalf("Publish other type: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("handler called %d times, want 1", len(got))
	}
	if got[0].EventType != events.DebitSuccess {
		t.Errorf("delivered %s, want DEBIT_SUCCESS", got[0].EventType)
	}
}

func TestBus_OneHandlerPerType(t *testing.T) {
	// Повторная подписка на тот же тип заменяет предыдущий обработчик:
	// на экземпляре шины живёт максимум один обработчик на тип.
	ctx := context.Background()
	broker := NewBroker()
	pub := broker.NewBus()
	bus := broker.NewBus()
	_ = pub.Connect(ctx)

	var first, second int
	if err := bus.Subscribe(ctx, events.DebitSuccess, func(ctx context.Context, e events.Event) error {
		first++
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := bus.Subscribe(ctx, events.DebitSuccess, func(ctx context.Context, e events.Event) error {
		second++
		return nil
	}); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}

	if err := pub.Publish(ctx, testEvent(t, events.DebitSuccess)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if first != 0 || second != 1 {
		t.Errorf("calls = (%d, %d), want superseded handler (0, 1)", first, second)
	}

	// Другой экземпляр той же шины получает событие независимо
	other := broker.NewBus()
	calls := 0
	_ = other.Subscribe(ctx, events.DebitSuccess, func(ctx context.Context, e events.Event) error {
		calls++
		return nil
	})
	if err := pub.Publish(ctx, testEvent(t, events.DebitSuccess)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if calls != 1 {
		t.Errorf("second instance calls = %d, want 1", calls)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker()
	pub := broker.NewBus()
	sub := broker.NewBus()
	_ = pub.Connect(ctx)

	calls := 0
	_ = sub.Subscribe(ctx, events.DebitSuccess, func(ctx context.Context, e events.Event) error {
		calls++
		return nil
	})

	if err := sub.Unsubscribe(ctx, events.DebitSuccess); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := sub.Unsubscribe(ctx, events.DebitSuccess); !errors.Is(err, domainErrors.ErrEntityNotFound) {
		t.Errorf("double unsubscribe: err = %v, want ErrEntityNotFound", err)
	}

	_ = pub.Publish(ctx, testEvent(t, events.DebitSuccess))
	if calls != 0 {
		t.Errorf("handler called after unsubscribe: %d", calls)
	}
}

func TestBus_HandlerErrorPropagates(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker()
	pub := broker.NewBus()
	sub := broker.NewBus()
	_ = pub.Connect(ctx)

	wantErr := errors.New("handler broke")
	_ = sub.Subscribe(ctx, events.DebitSuccess, func(ctx context.Context, e events.Event) error {
		return wantErr
	})

	if err := pub.Publish(ctx, testEvent(t, events.DebitSuccess)); !errors.Is(err, wantErr) {
		t.Errorf("publish: err = %v, want handler error", err)
	}
}

func TestBus_HandlerCanPublishRecursively(t *testing.T) {
	// Обработчик публикует следующее событие синхронно - как шаги саги.
	ctx := context.Background()
	broker := NewBroker()
	pub := broker.NewBus()
	chain := broker.NewBus()
	_ = pub.Connect(ctx)
	_ = chain.Connect(ctx)

	var order []string
	_ = chain.Subscribe(ctx, events.DebitSuccess, func(ctx context.Context, e events.Event) error {
		order = append(order, e.EventType)
		return chain.Publish(ctx, testEvent(t, events.CreditSuccess))
	})
	_ = chain.Subscribe(ctx, events.CreditSuccess, func(ctx context.Context, e events.Event) error {
		order = append(order, e.EventType)
		return nil
	})

	if err := pub.Publish(ctx, testEvent(t, events.DebitSuccess)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(order) != 2 || order[0] != events.DebitSuccess || order[1] != events.CreditSuccess {
		t.Errorf("delivery order = %v", order)
	}
}

func TestBus_Close(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker()
	pub := broker.NewBus()
	sub := broker.NewBus()
	_ = pub.Connect(ctx)
	_ = sub.Connect(ctx)

	calls := 0
	_ = sub.Subscribe(ctx, events.DebitSuccess, func(ctx context.Context, e events.Event) error {
		calls++
		return nil
	})

	if err := sub.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Публикация на закрытой шине отклоняется
	if err := sub.Publish(ctx, testEvent(t, events.DebitSuccess)); !errors.Is(err, domainErrors.ErrNotConnected) {
		t.Errorf("publish after close: err = %v, want ErrNotConnected", err)
	}
	// Закрытая шина не получает событий от живых
	_ = pub.Publish(ctx, testEvent(t, events.DebitSuccess))
	if calls != 0 {
		t.Errorf("closed bus received %d events", calls)
	}
	// Повторное подключение закрытой шины запрещено
	if err := sub.Connect(ctx); !errors.Is(err, domainErrors.ErrNotConnected) {
		t.Errorf("reconnect closed bus: err = %v, want ErrNotConnected", err)
	}
}
