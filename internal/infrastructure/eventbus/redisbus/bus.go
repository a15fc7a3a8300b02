// Package redisbus - шина событий на Redis Pub/Sub.
//
// Каждый тип события публикуется в собственный канал
// "payflow:events:<TYPE>". Доставка at-most-once на уровне Redis;
// потерянные события догоняет reconciler, поэтому контракт шины
// остаётся at-least-once для саги в целом.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Haleralex/payflow/internal/application/ports"
	domainErrors "github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/events"
)

const (
	// channelPrefix - префикс каналов Redis для событий движка.
	channelPrefix = "payflow:events:"

	// maxReconnectAttempts - сколько раз шина пытается восстановить
	// соединение, прежде чем признать процесс неработоспособным.
	maxReconnectAttempts = 3
)

// reconnectDelay считает паузу перед n-й попыткой переподключения:
// min(100ms * attempt, 3s).
func reconnectDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * 100 * time.Millisecond
	if d > 3*time.Second {
		return 3 * time.Second
	}
	return d
}

// Compile-time check
var _ ports.EventBus = (*Bus)(nil)

// Bus - один экземпляр шины поверх общего Redis-клиента.
// Не более одного обработчика на тип события в рамках экземпляра;
// компоненты с пересекающимися подписками держат отдельные экземпляры.
type Bus struct {
	client *redis.Client
	logger *slog.Logger
	fatal  ports.FatalFunc

	mu        sync.Mutex
	connected bool
	closed    bool
	handlers  map[string]ports.EventHandler
	pubsub    *redis.PubSub
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewBus создаёт шину. fatal == nil означает завершение процесса
// после исчерпания попыток переподключения.
func NewBus(client *redis.Client, logger *slog.Logger, fatal ports.FatalFunc) *Bus {
	if fatal == nil {
		fatal = func(reason string) {
			slog.Error("event bus connection lost, terminating", "reason", reason)
			os.Exit(1)
		}
	}
	return &Bus{
		client:   client,
		logger:   logger,
		fatal:    fatal,
		handlers: make(map[string]ports.EventHandler),
	}
}

// Connect проверяет соединение и запускает цикл потребления.
// Повторный вызов на живом соединении - no-op.
func (b *Bus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return domainErrors.ErrNotConnected
	}
	if b.connected {
		return nil
	}

	if err := b.pingWithRetry(ctx); err != nil {
		return err
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.pubsub = b.client.Subscribe(consumeCtx)
	b.connected = true

	b.wg.Add(1)
	go b.consume(consumeCtx, b.pubsub)
	return nil
}

// pingWithRetry повторяет PING с нарастающей паузой.
func (b *Bus) pingWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		if lastErr = b.client.Ping(ctx).Err(); lastErr == nil {
			return nil
		}
		b.logger.WarnContext(ctx, "event bus connect attempt failed",
			"attempt", attempt,
			"error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay(attempt)):
		}
	}
	return fmt.Errorf("event bus: %d connect attempts failed: %w", maxReconnectAttempts, lastErr)
}

// Publish сериализует событие и публикует его в канал типа.
func (b *Bus) Publish(ctx context.Context, event events.Event) error {
	b.mu.Lock()
	ready := b.connected && !b.closed
	b.mu.Unlock()
	if !ready {
		return domainErrors.ErrNotConnected
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventType, err)
	}

	if err := b.client.Publish(ctx, channelPrefix+event.EventType, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType, err)
	}
	return nil
}

// Subscribe регистрирует обработчик и добавляет канал в подписку.
// Повторная подписка на тот же тип заменяет предыдущий обработчик.
func (b *Bus) Subscribe(ctx context.Context, eventType string, handler ports.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || !b.connected {
		return domainErrors.ErrNotConnected
	}

	if _, ok := b.handlers[eventType]; !ok {
		if err := b.pubsub.Subscribe(ctx, channelPrefix+eventType); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
	}
	b.handlers[eventType] = handler
	return nil
}

// Unsubscribe снимает обработчик и убирает канал из подписки.
func (b *Bus) Unsubscribe(ctx context.Context, eventType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.handlers[eventType]; !ok {
		return domainErrors.ErrEntityNotFound
	}
	delete(b.handlers, eventType)

	if b.pubsub != nil {
		if err := b.pubsub.Unsubscribe(ctx, channelPrefix+eventType); err != nil {
			return fmt.Errorf("failed to unsubscribe from %s: %w", eventType, err)
		}
	}
	return nil
}

// Close останавливает потребление и закрывает подписку.
// Общий Redis-клиент остаётся открытым: его закрывает владелец.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.connected = false
	cancel := b.cancel
	pubsub := b.pubsub
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			return fmt.Errorf("failed to close pubsub: %w", err)
		}
	}
	b.wg.Wait()
	return nil
}

// consume читает сообщения подписки до Close. Неожиданное закрытие
// канала означает потерю соединения: go-redis сам переподключается,
// закрытый канал остаётся только при закрытом клиенте.
func (b *Bus) consume(ctx context.Context, pubsub *redis.PubSub) {
	defer b.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				b.mu.Lock()
				closed := b.closed
				b.mu.Unlock()
				if !closed {
					b.fatal("event bus subscription channel closed")
				}
				return
			}
			b.handleMessage(ctx, msg)
		}
	}
}

// handleMessage декодирует событие и зовёт обработчик его типа.
// Ошибка обработчика логируется: Pub/Sub не умеет redelivery,
// застрявшую сагу добивает reconciler.
func (b *Bus) handleMessage(ctx context.Context, msg *redis.Message) {
	var event events.Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		b.logger.ErrorContext(ctx, "failed to unmarshal event",
			"channel", msg.Channel,
			"error", err)
		return
	}

	b.mu.Lock()
	handler, ok := b.handlers[event.EventType]
	b.mu.Unlock()
	if !ok {
		return
	}

	if err := handler(ctx, event); err != nil {
		b.logger.ErrorContext(ctx, "event handler failed",
			"event_type", event.EventType,
			"transaction_id", event.TransactionID,
			"error", err)
	}
}
