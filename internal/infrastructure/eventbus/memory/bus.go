// Package memory - внутрипроцессная шина событий.
//
// Broker - общая точка обмена; каждый компонент (оркестратор, webhook
// dispatcher, notification dispatcher) держит собственный Bus, потому
// что на одном экземпляре шины допустим максимум один обработчик на
// тип события. Publish доставляет событие синхронно всем подписанным
// экземплярам - тесты получают детерминированный порядок доставки.
package memory

import (
	"context"
	"sync"

	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/domain/events"
	domainErrors "github.com/Haleralex/payflow/internal/domain/errors"
)

// Broker связывает экземпляры Bus в один поток событий.
type Broker struct {
	mu    sync.RWMutex
	buses []*Bus
}

// NewBroker создаёт пустой брокер.
func NewBroker() *Broker {
	return &Broker{}
}

// NewBus создаёт новый экземпляр шины, подключённый к брокеру.
func (b *Broker) NewBus() *Bus {
	bus := &Bus{
		broker:   b,
		handlers: make(map[string]ports.EventHandler),
	}
	b.mu.Lock()
	b.buses = append(b.buses, bus)
	b.mu.Unlock()
	return bus
}

// dispatch доставляет событие всем шинам с обработчиком данного типа.
// Снимок обработчиков берётся под RLock, вызовы идут без блокировки:
// обработчик сам публикует следующие события саги.
func (b *Broker) dispatch(ctx context.Context, event events.Event) error {
	b.mu.RLock()
	var handlers []ports.EventHandler
	for _, bus := range b.buses {
		bus.mu.RLock()
		if !bus.closed {
			if h, ok := bus.handlers[event.EventType]; ok {
				handlers = append(handlers, h)
			}
		}
		bus.mu.RUnlock()
	}
	b.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Compile-time check
var _ ports.EventBus = (*Bus)(nil)

// Bus - один экземпляр шины: максимум один обработчик на тип события.
type Bus struct {
	broker *Broker

	mu        sync.RWMutex
	connected bool
	closed    bool
	handlers  map[string]ports.EventHandler
}

// Connect помечает шину подключённой. Сетевых ресурсов нет.
func (b *Bus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return domainErrors.ErrNotConnected
	}
	b.connected = true
	return nil
}

// Publish доставляет событие синхронно всем подписчикам брокера.
// Ошибка обработчика возвращается вызывающему - как redelivery-сигнал
// настоящей шины.
func (b *Bus) Publish(ctx context.Context, event events.Event) error {
	b.mu.RLock()
	ready := b.connected && !b.closed
	b.mu.RUnlock()
	if !ready {
		return domainErrors.ErrNotConnected
	}
	return b.broker.dispatch(ctx, event)
}

// Subscribe регистрирует обработчик типа события. Повторная подписка
// на тот же тип заменяет предыдущий обработчик.
func (b *Bus) Subscribe(ctx context.Context, eventType string, handler ports.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return domainErrors.ErrNotConnected
	}
	b.handlers[eventType] = handler
	return nil
}

// Unsubscribe снимает обработчик типа события.
func (b *Bus) Unsubscribe(ctx context.Context, eventType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.handlers[eventType]; !ok {
		return domainErrors.ErrEntityNotFound
	}
	delete(b.handlers, eventType)
	return nil
}

// Close отключает шину. Дальнейшие Publish возвращают ErrNotConnected.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.connected = false
	return nil
}
