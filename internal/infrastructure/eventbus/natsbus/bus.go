// Package natsbus - альтернативный драйвер шины событий на NATS.
//
// Выбирается конфигурацией (bus.driver = "nats"). Семантика та же,
// что у redisbus: канал на тип события, не более одного обработчика
// на тип в рамках экземпляра, потерянное соединение после исчерпания
// попыток переподключения фатально для процесса.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Haleralex/payflow/internal/application/ports"
	domainErrors "github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/events"
)

const (
	// subjectPrefix - префикс NATS-сабжектов для событий движка.
	subjectPrefix = "payflow.events."

	// maxReconnectAttempts - лимит переподключений клиента.
	maxReconnectAttempts = 3
)

// reconnectDelay - пауза перед n-й попыткой: min(100ms * attempt, 3s).
func reconnectDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * 100 * time.Millisecond
	if d > 3*time.Second {
		return 3 * time.Second
	}
	return d
}

// Compile-time check
var _ ports.EventBus = (*Bus)(nil)

// Bus - шина событий поверх одного NATS-соединения.
type Bus struct {
	url    string
	logger *slog.Logger
	fatal  ports.FatalFunc

	mu     sync.Mutex
	conn   *nats.Conn
	closed bool
	subs   map[string]*nats.Subscription
}

// NewBus создаёт шину. Соединение устанавливается в Connect.
func NewBus(url string, logger *slog.Logger, fatal ports.FatalFunc) *Bus {
	if fatal == nil {
		fatal = func(reason string) {
			slog.Error("event bus connection lost, terminating", "reason", reason)
			os.Exit(1)
		}
	}
	return &Bus{
		url:    url,
		logger: logger,
		fatal:  fatal,
		subs:   make(map[string]*nats.Subscription),
	}
}

// Connect устанавливает соединение. Переподключение и его пределы
// делегированы клиенту NATS; закрытие соединения после исчерпания
// попыток фатально.
func (b *Bus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return domainErrors.ErrNotConnected
	}
	if b.conn != nil && b.conn.IsConnected() {
		return nil
	}

	conn, err := nats.Connect(b.url,
		nats.MaxReconnects(maxReconnectAttempts),
		nats.CustomReconnectDelay(reconnectDelay),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("event bus disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("event bus reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if !closed {
				b.fatal(fmt.Sprintf("event bus connection closed: %v", nc.LastError()))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}

	b.conn = conn
	return nil
}

// Publish сериализует событие и публикует его в сабжект типа.
func (b *Bus) Publish(ctx context.Context, event events.Event) error {
	b.mu.Lock()
	conn := b.conn
	ready := conn != nil && !b.closed
	b.mu.Unlock()
	if !ready {
		return domainErrors.ErrNotConnected
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventType, err)
	}

	if err := conn.Publish(subjectPrefix+event.EventType, payload); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType, err)
	}
	return nil
}

// Subscribe регистрирует обработчик типа события. Повторная подписка
// на тот же тип заменяет предыдущий обработчик.
func (b *Bus) Subscribe(ctx context.Context, eventType string, handler ports.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil || b.closed {
		return domainErrors.ErrNotConnected
	}
	if old, ok := b.subs[eventType]; ok {
		if err := old.Unsubscribe(); err != nil {
			return fmt.Errorf("failed to replace subscription for %s: %w", eventType, err)
		}
		delete(b.subs, eventType)
	}

	sub, err := b.conn.Subscribe(subjectPrefix+eventType, func(msg *nats.Msg) {
		b.handleMessage(context.Background(), eventType, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
	}
	b.subs[eventType] = sub
	return nil
}

// Unsubscribe снимает обработчик с типа события.
func (b *Bus) Unsubscribe(ctx context.Context, eventType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[eventType]
	if !ok {
		return domainErrors.ErrEntityNotFound
	}
	delete(b.subs, eventType)

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", eventType, err)
	}
	return nil
}

// Close дожидается отправки буферизованных сообщений и закрывает
// соединение.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conn := b.conn
	b.mu.Unlock()

	if conn != nil {
		if err := conn.Drain(); err != nil {
			conn.Close()
			return fmt.Errorf("failed to drain nats connection: %w", err)
		}
	}
	return nil
}

// handleMessage декодирует событие и зовёт обработчик. Ошибка
// обработчика логируется: core NATS не умеет redelivery, застрявшую
// сагу добивает reconciler.
func (b *Bus) handleMessage(ctx context.Context, eventType string, data []byte, handler ports.EventHandler) {
	var event events.Event
	if err := json.Unmarshal(data, &event); err != nil {
		b.logger.ErrorContext(ctx, "failed to unmarshal event",
			"event_type", eventType,
			"error", err)
		return
	}

	if err := handler(ctx, event); err != nil {
		b.logger.ErrorContext(ctx, "event handler failed",
			"event_type", event.EventType,
			"transaction_id", event.TransactionID,
			"error", err)
	}
}
