package wallet

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Haleralex/payflow/internal/application/dtos"
	"github.com/Haleralex/payflow/internal/domain/entities"
	domainErrors "github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/valueobjects"
	"github.com/Haleralex/payflow/internal/infrastructure/persistence/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	logger := slog.New(slog.DiscardHandler)
	return NewService(store.Wallets(), store.Operations(), store, logger), store
}

func seedWallet(t *testing.T, store *memory.Store, balanceCents int64) *entities.Wallet {
	t.Helper()
	ctx := context.Background()

	u, err := entities.NewUser("Alice", "alice-"+uuid.NewString()+"@example.com")
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if err := store.Users().Save(ctx, u); err != nil {
		t.Fatalf("Save user: %v", err)
	}

	w := entities.ReconstructWallet(
		uuid.New(), u.ID(),
		valueobjects.MustNewMoney(balanceCents, valueobjects.USD),
		valueobjects.USD, true, time.Now(), time.Now(),
	)
	if err := store.Wallets().Save(ctx, w); err != nil {
		t.Fatalf("Save wallet: %v", err)
	}
	return w
}

func TestService_Debit(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	w := seedWallet(t, store, 10000)
	amount := valueobjects.MustNewMoney(4000, valueobjects.USD)

	result, err := svc.Debit(ctx, "txn_1", w.UserID(), amount)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if result.NewBalanceCents != 6000 {
		t.Errorf("NewBalanceCents = %d, want 6000", result.NewBalanceCents)
	}
	if result.OperationID != "txn_1:DEBIT" {
		t.Errorf("OperationID = %q, want txn_1:DEBIT", result.OperationID)
	}
	if result.Idempotent {
		t.Error("first debit must not report idempotent")
	}
}

func TestService_Debit_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	w := seedWallet(t, store, 1000)
	amount := valueobjects.MustNewMoney(5000, valueobjects.USD)

	_, err := svc.Debit(ctx, "txn_1", w.UserID(), amount)
	if !domainErrors.Is(err, domainErrors.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// Баланс не изменился, строка идемпотентности не создана
	reloaded, _ := store.Wallets().FindByID(ctx, w.ID())
	if reloaded.Balance().Cents() != 1000 {
		t.Errorf("balance = %d, want 1000", reloaded.Balance().Cents())
	}
	if _, err := store.Operations().FindByID(ctx, "txn_1:DEBIT"); !domainErrors.IsNotFound(err) {
		t.Error("no operation row must exist after rejected debit")
	}
}

// TestService_Debit_Idempotent: повтор того же саг-шага не даёт
// второго эффекта и возвращает сохранённый результат.
func TestService_Debit_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	w := seedWallet(t, store, 10000)
	amount := valueobjects.MustNewMoney(4000, valueobjects.USD)

	first, err := svc.Debit(ctx, "txn_1", w.UserID(), amount)
	if err != nil {
		t.Fatalf("first Debit: %v", err)
	}

	second, err := svc.Debit(ctx, "txn_1", w.UserID(), amount)
	if err != nil {
		t.Fatalf("second Debit: %v", err)
	}
	if !second.Idempotent {
		t.Error("replay must report idempotent")
	}
	if second.NewBalanceCents != first.NewBalanceCents {
		t.Errorf("replay balance = %d, want %d", second.NewBalanceCents, first.NewBalanceCents)
	}

	reloaded, _ := store.Wallets().FindByID(ctx, w.ID())
	if reloaded.Balance().Cents() != 6000 {
		t.Errorf("balance = %d, want 6000 (debited exactly once)", reloaded.Balance().Cents())
	}
}

func TestService_CreditAndRefund(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	w := seedWallet(t, store, 1000)
	amount := valueobjects.MustNewMoney(2500, valueobjects.USD)

	credit, err := svc.Credit(ctx, "txn_1", w.UserID(), amount)
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if credit.NewBalanceCents != 3500 {
		t.Errorf("after credit = %d, want 3500", credit.NewBalanceCents)
	}
	if credit.OperationID != "txn_1:CREDIT" {
		t.Errorf("OperationID = %q", credit.OperationID)
	}

	// Refund — отдельная операция с собственным ключом идемпотентности
	refund, err := svc.Refund(ctx, "txn_1", w.UserID(), amount)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refund.OperationID != "txn_1:REFUND" {
		t.Errorf("OperationID = %q", refund.OperationID)
	}
	if refund.NewBalanceCents != 6000 {
		t.Errorf("after refund = %d, want 6000", refund.NewBalanceCents)
	}
}

func TestService_Deposit_ClientKeyIdempotency(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	w := seedWallet(t, store, 0)

	cmd := dtos.DepositCommand{
		UserID:      w.UserID().String(),
		AmountCents: 10000,
		Currency:    "USD",
		ClientKey:   "order-42",
	}

	first, err := svc.Deposit(ctx, cmd)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if first.NewBalanceCents != 10000 {
		t.Errorf("balance = %d, want 10000", first.NewBalanceCents)
	}
	if first.OperationID != "deposit:order-42" {
		t.Errorf("OperationID = %q", first.OperationID)
	}

	// Повтор с тем же ключом: эффект один
	second, err := svc.Deposit(ctx, cmd)
	if err != nil {
		t.Fatalf("Deposit replay: %v", err)
	}
	if !second.Idempotent {
		t.Error("replay must report idempotent")
	}
	if second.NewBalanceCents != 10000 {
		t.Errorf("replay balance = %d, want 10000", second.NewBalanceCents)
	}

	reloaded, _ := store.Wallets().FindByID(ctx, w.ID())
	if reloaded.Balance().Cents() != 10000 {
		t.Errorf("stored balance = %d, want 10000", reloaded.Balance().Cents())
	}

	// Другой ключ — отдельное пополнение
	cmd.ClientKey = "order-43"
	third, err := svc.Deposit(ctx, cmd)
	if err != nil {
		t.Fatalf("Deposit with new key: %v", err)
	}
	if third.NewBalanceCents != 20000 {
		t.Errorf("balance after second deposit = %d, want 20000", third.NewBalanceCents)
	}
}

func TestService_Deposit_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		cmd  dtos.DepositCommand
	}{
		{"missing client key", dtos.DepositCommand{UserID: uuid.NewString(), AmountCents: 100, Currency: "USD"}},
		{"invalid uuid", dtos.DepositCommand{UserID: "nope", AmountCents: 100, Currency: "USD", ClientKey: "k"}},
		{"zero amount", dtos.DepositCommand{UserID: uuid.NewString(), AmountCents: 0, Currency: "USD", ClientKey: "k"}},
		{"bad currency", dtos.DepositCommand{UserID: uuid.NewString(), AmountCents: 100, Currency: "XXX", ClientKey: "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Deposit(ctx, tt.cmd); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestService_GetBalance(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	w := seedWallet(t, store, 7500)

	// Валюта по умолчанию — USD
	dto, err := svc.GetBalance(ctx, dtos.GetBalanceQuery{UserID: w.UserID().String()})
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if dto.BalanceCents != 7500 || dto.Currency != "USD" {
		t.Errorf("got %d %s, want 7500 USD", dto.BalanceCents, dto.Currency)
	}

	// Кошелька в другой валюте нет
	if _, err := svc.GetBalance(ctx, dtos.GetBalanceQuery{UserID: w.UserID().String(), Currency: "EUR"}); !domainErrors.IsNotFound(err) {
		t.Errorf("missing EUR wallet: err = %v, want not found", err)
	}
}

func TestService_History(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	w := seedWallet(t, store, 0)

	for i := 0; i < 5; i++ {
		_, err := svc.Deposit(ctx, dtos.DepositCommand{
			UserID:      w.UserID().String(),
			AmountCents: 100,
			Currency:    "USD",
			ClientKey:   uuid.NewString(),
		})
		if err != nil {
			t.Fatalf("Deposit %d: %v", i, err)
		}
	}

	page, err := svc.History(ctx, dtos.ListOperationsQuery{UserID: w.UserID().String(), Limit: 3})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if page.TotalCount != 5 {
		t.Errorf("TotalCount = %d, want 5", page.TotalCount)
	}
	if len(page.Operations) != 3 {
		t.Errorf("page size = %d, want 3", len(page.Operations))
	}
	for _, op := range page.Operations {
		if op.Kind != string(entities.OperationDeposit) {
			t.Errorf("kind = %s, want DEPOSIT", op.Kind)
		}
	}
}
