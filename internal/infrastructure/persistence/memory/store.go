// Package memory - потокобезопасное in-memory хранилище.
//
// Семантика повторяет postgres-реализацию: условный инкремент баланса
// атомарен, guarded-обновление статуса возвращает ErrPreconditionFailed,
// operation_id уникален. UnitOfWork сериализует транзакции одним
// мьютексом, поэтому check-then-act внутри транзакции атомарен
// относительно других транзакций - как и в PostgreSQL.
//
// Используется в тестах и как драйвер хранилища для локального запуска.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/domain/entities"
	domainErrors "github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/valueobjects"
)

// Store - общее ядро всех репозиториев: коллекции под одним мьютексом.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	users         map[uuid.UUID]*entities.User
	usersByEmail  map[string]uuid.UUID
	wallets       map[uuid.UUID]*entities.Wallet
	operations    map[string]*entities.WalletOperation
	transactions  map[string]*entities.Transaction
	subscriptions map[string]*entities.WebhookSubscription
	deliveries    map[string]*entities.WebhookDelivery
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		users:         make(map[uuid.UUID]*entities.User),
		usersByEmail:  make(map[string]uuid.UUID),
		wallets:       make(map[uuid.UUID]*entities.Wallet),
		operations:    make(map[string]*entities.WalletOperation),
		transactions:  make(map[string]*entities.Transaction),
		subscriptions: make(map[string]*entities.WebhookSubscription),
		deliveries:    make(map[string]*entities.WebhookDelivery),
	}
}

// Compile-time check
var _ ports.UnitOfWork = (*Store)(nil)

// WithinTransaction сериализует транзакции глобальным мьютексом.
// Отката нет: проигравших гонку внутри транзакции не бывает, потому
// что транзакции не перекрываются во времени.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(ctx)
}

// Фасады репозиториев поверх общего ядра.

func (s *Store) Users() *UserRepository               { return &UserRepository{store: s} }
func (s *Store) Wallets() *WalletRepository           { return &WalletRepository{store: s} }
func (s *Store) Operations() *OperationRepository     { return &OperationRepository{store: s} }
func (s *Store) Transactions() *TransactionRepository { return &TransactionRepository{store: s} }
func (s *Store) Webhooks() *WebhookRepository         { return &WebhookRepository{store: s} }

// ============================================
// Users
// ============================================

// Compile-time check
var _ ports.UserRepository = (*UserRepository)(nil)

// UserRepository реализует ports.UserRepository поверх Store.
type UserRepository struct {
	store *Store
}

func (r *UserRepository) Save(ctx context.Context, user *entities.User) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.usersByEmail[user.Email()]; ok && existingID != user.ID() {
		return fmt.Errorf("email %s: %w", user.Email(), domainErrors.ErrEntityAlreadyExists)
	}
	s.users[user.ID()] = cloneUser(user)
	s.usersByEmail[user.Email()] = user.ID()
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domainErrors.ErrEntityNotFound
	}
	return cloneUser(u), nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*entities.User, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByEmail[email]
	if !ok {
		return nil, domainErrors.ErrEntityNotFound
	}
	return cloneUser(s.users[id]), nil
}

// ============================================
// Wallets
// ============================================

// Compile-time check
var _ ports.WalletRepository = (*WalletRepository)(nil)

// WalletRepository реализует ports.WalletRepository поверх Store.
type WalletRepository struct {
	store *Store
}

func (r *WalletRepository) Save(ctx context.Context, wallet *entities.Wallet) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.wallets {
		if w.UserID() == wallet.UserID() && w.Currency().Equals(wallet.Currency()) && w.ID() != wallet.ID() {
			return fmt.Errorf("wallet for currency %s: %w", wallet.Currency().Code(), domainErrors.ErrEntityAlreadyExists)
		}
	}
	s.wallets[wallet.ID()] = cloneWallet(wallet)
	return nil
}

func (r *WalletRepository) FindByID(ctx context.Context, id uuid.UUID) (*entities.Wallet, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[id]
	if !ok {
		return nil, domainErrors.ErrWalletNotFound
	}
	return cloneWallet(w), nil
}

func (r *WalletRepository) FindByUserAndCurrency(ctx context.Context, userID uuid.UUID, currency valueobjects.Currency) (*entities.Wallet, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.wallets {
		if w.UserID() == userID && w.Currency().Equals(currency) {
			return cloneWallet(w), nil
		}
	}
	return nil, domainErrors.ErrWalletNotFound
}

func (r *WalletRepository) FindByUserID(ctx context.Context, userID uuid.UUID) ([]*entities.Wallet, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entities.Wallet
	for _, w := range s.wallets {
		if w.UserID() == userID {
			out = append(out, cloneWallet(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out, nil
}

// ConditionalIncrementBalance атомарно применяет delta к балансу.
// Проверка и запись происходят под мьютексом, как одиночный условный
// UPDATE в postgres-реализации.
func (r *WalletRepository) ConditionalIncrementBalance(ctx context.Context, walletID uuid.UUID, delta int64, requireFunds bool) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[walletID]
	if !ok {
		return 0, domainErrors.ErrWalletNotFound
	}
	if !w.IsActive() {
		return 0, fmt.Errorf("wallet %s is inactive: %w", walletID, domainErrors.ErrWalletNotFound)
	}

	newCents := w.Balance().Cents() + delta
	if newCents < 0 {
		return 0, domainErrors.ErrInsufficientBalance
	}

	newBalance, err := valueobjects.NewMoney(newCents, w.Currency())
	if err != nil {
		return 0, err
	}
	s.wallets[walletID] = entities.ReconstructWallet(
		w.ID(), w.UserID(), newBalance, w.Currency(), w.IsActive(), w.CreatedAt(), time.Now(),
	)
	return newCents, nil
}

// ============================================
// Operations
// ============================================

// Compile-time check
var _ ports.OperationRepository = (*OperationRepository)(nil)

// OperationRepository реализует ports.OperationRepository поверх Store.
type OperationRepository struct {
	store *Store
}

func (r *OperationRepository) CreateIfAbsent(ctx context.Context, op *entities.WalletOperation) (bool, *entities.WalletOperation, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.operations[op.OperationID()]; ok {
		return false, cloneOperation(existing), nil
	}
	s.operations[op.OperationID()] = cloneOperation(op)
	return true, op, nil
}

func (r *OperationRepository) FindByID(ctx context.Context, operationID string) (*entities.WalletOperation, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[operationID]
	if !ok {
		return nil, domainErrors.ErrEntityNotFound
	}
	return cloneOperation(op), nil
}

func (r *OperationRepository) ListByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*entities.WalletOperation, int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*entities.WalletOperation
	for _, op := range s.operations {
		if op.UserID() == userID {
			all = append(all, cloneOperation(op))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt().After(all[j].CreatedAt()) })
	return paginate(all, offset, limit), len(all), nil
}

// ============================================
// Transactions
// ============================================

// Compile-time check
var _ ports.TransactionRepository = (*TransactionRepository)(nil)

// TransactionRepository реализует ports.TransactionRepository поверх Store.
type TransactionRepository struct {
	store *Store
}

func (r *TransactionRepository) Save(ctx context.Context, tx *entities.Transaction) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[tx.ID()]; ok {
		return fmt.Errorf("transaction %s: %w", tx.ID(), domainErrors.ErrEntityAlreadyExists)
	}
	s.transactions[tx.ID()] = cloneTransaction(tx)
	return nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id string) (*entities.Transaction, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, domainErrors.ErrEntityNotFound
	}
	return cloneTransaction(tx), nil
}

// UpdateStatusIf - guarded update: проверка текущего статуса и запись
// происходят под одним мьютексом.
func (r *TransactionRepository) UpdateStatusIf(ctx context.Context, tx *entities.Transaction, allowedFrom []entities.TransactionStatus) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.transactions[tx.ID()]
	if !ok {
		return domainErrors.ErrEntityNotFound
	}

	allowed := false
	for _, st := range allowedFrom {
		if current.Status() == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("transaction %s status update: %w", tx.ID(), domainErrors.ErrPreconditionFailed)
	}

	s.transactions[tx.ID()] = cloneTransaction(tx)
	return nil
}

func (r *TransactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter ports.TransactionFilter, offset, limit int) ([]*entities.Transaction, int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*entities.Transaction
	for _, tx := range s.transactions {
		switch filter.Role {
		case ports.RoleSender:
			if tx.SenderID() != userID {
				continue
			}
		case ports.RoleReceiver:
			if tx.ReceiverID() != userID {
				continue
			}
		default:
			if tx.SenderID() != userID && tx.ReceiverID() != userID {
				continue
			}
		}
		if filter.Status != nil && tx.Status() != *filter.Status {
			continue
		}
		all = append(all, cloneTransaction(tx))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].InitiatedAt().After(all[j].InitiatedAt()) })
	return paginate(all, offset, limit), len(all), nil
}

func (r *TransactionRepository) ListStalled(ctx context.Context, olderThan time.Time, limit int) ([]*entities.Transaction, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entities.Transaction
	for _, tx := range s.transactions {
		if tx.IsTerminal() || !tx.UpdatedAt().Before(olderThan) {
			continue
		}
		out = append(out, cloneTransaction(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt().Before(out[j].UpdatedAt()) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ============================================
// Webhooks
// ============================================

// Compile-time check
var _ ports.WebhookRepository = (*WebhookRepository)(nil)

// WebhookRepository реализует ports.WebhookRepository поверх Store.
type WebhookRepository struct {
	store *Store
}

func (r *WebhookRepository) SaveSubscription(ctx context.Context, sub *entities.WebhookSubscription) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subscriptions {
		if existing.UserID() == sub.UserID() && existing.URL() == sub.URL() && existing.ID() != sub.ID() {
			return domainErrors.ErrDuplicateSubscription
		}
	}
	s.subscriptions[sub.ID()] = cloneSubscription(sub)
	return nil
}

func (r *WebhookRepository) FindSubscriptionByID(ctx context.Context, id string) (*entities.WebhookSubscription, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, domainErrors.ErrEntityNotFound
	}
	return cloneSubscription(sub), nil
}

func (r *WebhookRepository) ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]*entities.WebhookSubscription, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entities.WebhookSubscription
	for _, sub := range s.subscriptions {
		if sub.UserID() == userID {
			out = append(out, cloneSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out, nil
}

func (r *WebhookRepository) ListActiveSubscriptionsForEvent(ctx context.Context, eventType string) ([]*entities.WebhookSubscription, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entities.WebhookSubscription
	for _, sub := range s.subscriptions {
		if sub.IsActive() && sub.WantsEvent(eventType) {
			out = append(out, cloneSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out, nil
}

func (r *WebhookRepository) DeleteSubscription(ctx context.Context, id string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[id]; !ok {
		return domainErrors.ErrEntityNotFound
	}
	delete(s.subscriptions, id)
	for did, d := range s.deliveries {
		if d.WebhookID() == id {
			delete(s.deliveries, did)
		}
	}
	return nil
}

func (r *WebhookRepository) IncrementFailureCount(ctx context.Context, subscriptionID string) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return 0, domainErrors.ErrEntityNotFound
	}

	count := sub.FailureCount() + 1
	s.subscriptions[subscriptionID] = entities.ReconstructWebhookSubscription(
		sub.ID(), sub.UserID(), sub.URL(), sub.Secret(), sub.Events(),
		sub.IsActive(), count, sub.CreatedAt(), time.Now(),
	)
	return count, nil
}

func (r *WebhookRepository) ResetFailureCount(ctx context.Context, subscriptionID string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return domainErrors.ErrEntityNotFound
	}
	s.subscriptions[subscriptionID] = entities.ReconstructWebhookSubscription(
		sub.ID(), sub.UserID(), sub.URL(), sub.Secret(), sub.Events(),
		sub.IsActive(), 0, sub.CreatedAt(), time.Now(),
	)
	return nil
}

func (r *WebhookRepository) DeactivateSubscription(ctx context.Context, subscriptionID string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return domainErrors.ErrEntityNotFound
	}
	s.subscriptions[subscriptionID] = entities.ReconstructWebhookSubscription(
		sub.ID(), sub.UserID(), sub.URL(), sub.Secret(), sub.Events(),
		false, sub.FailureCount(), sub.CreatedAt(), time.Now(),
	)
	return nil
}

func (r *WebhookRepository) SaveDelivery(ctx context.Context, d *entities.WebhookDelivery) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries[d.ID()] = cloneDelivery(d)
	return nil
}

func (r *WebhookRepository) FindDeliveryByID(ctx context.Context, id string) (*entities.WebhookDelivery, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[id]
	if !ok {
		return nil, domainErrors.ErrEntityNotFound
	}
	return cloneDelivery(d), nil
}

func (r *WebhookRepository) ListDeliveriesByWebhook(ctx context.Context, webhookID string, offset, limit int) ([]*entities.WebhookDelivery, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entities.WebhookDelivery
	for _, d := range s.deliveries {
		if d.WebhookID() == webhookID {
			out = append(out, cloneDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().After(out[j].CreatedAt()) })
	return paginate(out, offset, limit), nil
}

// ============================================
// Helpers
// ============================================

// Клонирование через Reconstruct*: хранилище никогда не делит изменяемое
// состояние с вызывающим.

func cloneUser(u *entities.User) *entities.User {
	return entities.ReconstructUser(u.ID(), u.Name(), u.Email(), u.CreatedAt())
}

func cloneWallet(w *entities.Wallet) *entities.Wallet {
	return entities.ReconstructWallet(
		w.ID(), w.UserID(), w.Balance(), w.Currency(), w.IsActive(), w.CreatedAt(), w.UpdatedAt(),
	)
}

func cloneOperation(op *entities.WalletOperation) *entities.WalletOperation {
	return entities.ReconstructWalletOperation(
		op.OperationID(), op.WalletID(), op.UserID(), op.Kind(),
		op.Amount(), op.ResultBalance(), op.TransactionID(), op.CreatedAt(),
	)
}

func cloneTransaction(tx *entities.Transaction) *entities.Transaction {
	return entities.ReconstructTransaction(
		tx.ID(), tx.SenderID(), tx.ReceiverID(), tx.Amount(), tx.Status(),
		tx.FailureReason(), tx.Description(), tx.InitiatedAt(), tx.UpdatedAt(),
		copyTimePtr(tx.CompletedAt()),
	)
}

func cloneSubscription(sub *entities.WebhookSubscription) *entities.WebhookSubscription {
	return entities.ReconstructWebhookSubscription(
		sub.ID(), sub.UserID(), sub.URL(), sub.Secret(),
		append([]string(nil), sub.Events()...),
		sub.IsActive(), sub.FailureCount(), sub.CreatedAt(), sub.UpdatedAt(),
	)
}

func cloneDelivery(d *entities.WebhookDelivery) *entities.WebhookDelivery {
	return entities.ReconstructWebhookDelivery(
		d.ID(), d.WebhookID(), d.TransactionID(), d.EventType(),
		append([]byte(nil), d.Payload()...),
		d.Status(), d.AttemptCount(), copyIntPtr(d.ResponseCode()),
		d.LastError(), copyTimePtr(d.NextRetryAt()), d.CreatedAt(), copyTimePtr(d.CompletedAt()),
	)
}

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyIntPtr(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
