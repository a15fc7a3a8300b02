// Package ports - EventBus для публикации и потребления domain events.
//
// SOLID Principles:
// - DIP: Application не знает о Redis/NATS деталях
// - OCP: Драйвер шины меняется конфигурацией, не кодом use cases
//
// Pattern: Publisher/Subscriber
package ports

import (
	"context"

	"github.com/Haleralex/payflow/internal/domain/events"
)

// EventHandler обрабатывает одно событие. Доставка at-least-once:
// обработчик ОБЯЗАН быть идемпотентным.
type EventHandler func(ctx context.Context, event events.Event) error

// EventBus определяет контракт шины событий.
//
// Реализации:
// - Redis Pub/Sub (production, драйвер по умолчанию)
// - NATS (альтернативный драйвер)
// - In-memory (тесты)
type EventBus interface {
	// Connect устанавливает соединение с брокером.
	// Повторный вызов на живом соединении — no-op.
	Connect(ctx context.Context) error

	// Publish публикует событие в канал его типа.
	// Возвращает ErrNotConnected до Connect.
	Publish(ctx context.Context, event events.Event) error

	// Subscribe регистрирует обработчик для типа события.
	//
	// Ограничение: не более одного обработчика на тип в рамках
	// экземпляра. Повторная подписка заменяет предыдущий обработчик.
	Subscribe(ctx context.Context, eventType string, handler EventHandler) error

	// Unsubscribe снимает обработчик с типа события.
	Unsubscribe(ctx context.Context, eventType string) error

	// Close закрывает соединение. Публикация после Close возвращает
	// ErrNotConnected.
	Close(ctx context.Context) error
}

// FatalFunc вызывается шиной, когда соединение потеряно и все попытки
// переподключения исчерпаны. Процесс в таком состоянии бесполезен:
// дефолтная реализация завершает его.
type FatalFunc func(reason string)
