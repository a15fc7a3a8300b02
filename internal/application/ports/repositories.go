// Package ports определяет интерфейсы (порты) для внешних зависимостей.
// Эти интерфейсы реализуются в Infrastructure Layer.
//
// SOLID Principles:
// - DIP: Application зависит от абстракций, не от конкретных реализаций
// - ISP: Каждый интерфейс фокусируется на одной сущности
// - SRP: Repository отвечает только за persistence
//
// Pattern: Repository Pattern + Ports & Adapters (Hexagonal Architecture)
package ports

import (
	"context"
	"time"

	"github.com/Haleralex/payflow/internal/domain/entities"
	"github.com/Haleralex/payflow/internal/domain/valueobjects"
	"github.com/google/uuid"
)

// UserRepository определяет контракт для хранения пользователей.
type UserRepository interface {
	// Save сохраняет пользователя (create or update по ID).
	Save(ctx context.Context, user *entities.User) error

	// FindByID загружает пользователя по ID.
	// Возвращает ErrEntityNotFound если не найден.
	FindByID(ctx context.Context, id uuid.UUID) (*entities.User, error)

	// FindByEmail загружает пользователя по email.
	// Email уникален в системе (UNIQUE constraint).
	FindByEmail(ctx context.Context, email string) (*entities.User, error)
}

// WalletRepository определяет контракт для хранения кошельков.
//
// Важно: баланс меняется ТОЛЬКО через ConditionalIncrementBalance.
// Save никогда не перезаписывает баланс конкурентного кошелька.
type WalletRepository interface {
	// Save сохраняет новый кошелёк.
	Save(ctx context.Context, wallet *entities.Wallet) error

	// FindByID загружает кошелёк по ID.
	FindByID(ctx context.Context, id uuid.UUID) (*entities.Wallet, error)

	// FindByUserAndCurrency находит кошелёк пользователя для валюты.
	// У пользователя ровно один кошелёк на валюту.
	FindByUserAndCurrency(ctx context.Context, userID uuid.UUID, currency valueobjects.Currency) (*entities.Wallet, error)

	// FindByUserID возвращает все кошельки пользователя.
	FindByUserID(ctx context.Context, userID uuid.UUID) ([]*entities.Wallet, error)

	// ConditionalIncrementBalance атомарно применяет delta (в центах)
	// к балансу кошелька и возвращает новый баланс.
	//
	// Если requireFunds == true и баланс + delta < 0, операция НЕ
	// применяется и возвращается ErrInsufficientBalance. Это единственная
	// защита инварианта "баланс никогда не отрицательный" при конкуренции:
	// в SQL это одиночный условный UPDATE, не read-modify-write.
	ConditionalIncrementBalance(ctx context.Context, walletID uuid.UUID, delta int64, requireFunds bool) (int64, error)
}

// OperationRepository хранит строки идемпотентности (wallet operations).
type OperationRepository interface {
	// CreateIfAbsent вставляет операцию, если operationID ещё не существует.
	//
	// Возвращает:
	// - (created=true, op) если строка вставлена этим вызовом
	// - (created=false, existing) если строка уже существовала — вызывающий
	//   обязан вернуть сохранённый resultBalance вместо повторного эффекта
	CreateIfAbsent(ctx context.Context, op *entities.WalletOperation) (bool, *entities.WalletOperation, error)

	// FindByID загружает операцию по operationID.
	FindByID(ctx context.Context, operationID string) (*entities.WalletOperation, error)

	// ListByUser возвращает операции пользователя, новые первыми.
	ListByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*entities.WalletOperation, int, error)
}

// TransactionFilter определяет критерии выборки транзакций.
type TransactionFilter struct {
	Status *entities.TransactionStatus // nil = все статусы
	Role   TransactionRole             // участие пользователя
}

// TransactionRole ограничивает выборку стороной перевода.
type TransactionRole string

const (
	RoleAny      TransactionRole = ""         // отправитель ИЛИ получатель
	RoleSender   TransactionRole = "sender"   // только отправитель
	RoleReceiver TransactionRole = "receiver" // только получатель
)

// TransactionRepository определяет контракт для хранения транзакций.
type TransactionRepository interface {
	// Save сохраняет новую транзакцию.
	Save(ctx context.Context, tx *entities.Transaction) error

	// FindByID загружает транзакцию по ID.
	FindByID(ctx context.Context, id string) (*entities.Transaction, error)

	// UpdateStatusIf переводит транзакцию в newStatus, только если её
	// текущий статус входит в allowedFrom. Обновление и проверка — одна
	// атомарная операция (guarded UPDATE).
	//
	// Возвращает ErrPreconditionFailed, если статус уже ушёл дальше.
	// Для саги это штатный исход (дубликат события), не ошибка.
	UpdateStatusIf(ctx context.Context, tx *entities.Transaction, allowedFrom []entities.TransactionStatus) error

	// ListByUser возвращает транзакции пользователя (новые первыми)
	// вместе с общим количеством под фильтром.
	ListByUser(ctx context.Context, userID uuid.UUID, filter TransactionFilter, offset, limit int) ([]*entities.Transaction, int, error)

	// ListStalled возвращает нетерминальные транзакции, не менявшиеся
	// с olderThan. Используется reconciler'ом для перезапуска саг,
	// потерявших событие (шина не durable).
	ListStalled(ctx context.Context, olderThan time.Time, limit int) ([]*entities.Transaction, error)
}

// WebhookRepository хранит подписки и записи доставки.
type WebhookRepository interface {
	// SaveSubscription сохраняет подписку (create or update).
	// Дубликат (user, url) возвращает ErrEntityAlreadyExists.
	SaveSubscription(ctx context.Context, sub *entities.WebhookSubscription) error

	// FindSubscriptionByID загружает подписку по ID.
	FindSubscriptionByID(ctx context.Context, id string) (*entities.WebhookSubscription, error)

	// ListSubscriptionsByUser возвращает подписки пользователя.
	ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]*entities.WebhookSubscription, error)

	// ListActiveSubscriptionsForEvent возвращает активные подписки,
	// слушающие данный тип события.
	ListActiveSubscriptionsForEvent(ctx context.Context, eventType string) ([]*entities.WebhookSubscription, error)

	// DeleteSubscription удаляет подписку.
	DeleteSubscription(ctx context.Context, id string) error

	// IncrementFailureCount атомарно увеличивает счётчик последовательных
	// неудач и возвращает новое значение. Сброс — через ResetFailureCount.
	IncrementFailureCount(ctx context.Context, subscriptionID string) (int, error)

	// ResetFailureCount обнуляет счётчик после успешной доставки.
	ResetFailureCount(ctx context.Context, subscriptionID string) error

	// DeactivateSubscription помечает подписку неактивной.
	DeactivateSubscription(ctx context.Context, subscriptionID string) error

	// SaveDelivery сохраняет запись доставки (create or update по ID).
	SaveDelivery(ctx context.Context, delivery *entities.WebhookDelivery) error

	// FindDeliveryByID загружает запись доставки.
	FindDeliveryByID(ctx context.Context, id string) (*entities.WebhookDelivery, error)

	// ListDeliveriesByWebhook возвращает доставки подписки, новые первыми.
	ListDeliveriesByWebhook(ctx context.Context, webhookID string, offset, limit int) ([]*entities.WebhookDelivery, error)
}

// UnitOfWork исполняет функцию в одной транзакции хранилища.
//
// Pattern: Unit of Work. Репозитории внутри fn видят транзакционное
// соединение через context. Используется там, где несколько записей
// обязаны зафиксироваться атомарно (регистрация: user + wallet).
type UnitOfWork interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
