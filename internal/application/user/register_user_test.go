package user

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/Haleralex/payflow/internal/application/dtos"
	domainErrors "github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/valueobjects"
	"github.com/Haleralex/payflow/internal/infrastructure/persistence/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewService(store.Users(), store.Wallets(), store, slog.New(slog.DiscardHandler)), store
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	result, err := svc.Register(ctx, dtos.RegisterUserCommand{
		Name:  "Alice",
		Email: "alice@example.com",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if result.User.Email != "alice@example.com" {
		t.Errorf("email = %q", result.User.Email)
	}
	// Валюта не указана - кошелёк в валюте по умолчанию
	if result.Wallet.Currency != "USD" {
		t.Errorf("currency = %q, want USD", result.Wallet.Currency)
	}
	if result.Wallet.BalanceCents != 0 {
		t.Errorf("balance = %d, want 0", result.Wallet.BalanceCents)
	}
	if result.Wallet.UserID != result.User.ID {
		t.Error("wallet must belong to the registered user")
	}

	// Обе записи реально сохранены
	userID, err := uuid.Parse(result.User.ID)
	if err != nil {
		t.Fatalf("parse user id: %v", err)
	}
	if _, err := store.Users().FindByID(ctx, userID); err != nil {
		t.Errorf("user not persisted: %v", err)
	}
	if _, err := store.Wallets().FindByUserAndCurrency(ctx, userID, valueobjects.USD); err != nil {
		t.Errorf("wallet not persisted: %v", err)
	}
}

func TestService_Register_ExplicitCurrency(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	result, err := svc.Register(ctx, dtos.RegisterUserCommand{
		Name:     "Bob",
		Email:    "bob@example.com",
		Currency: "eur",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if result.Wallet.Currency != "EUR" {
		t.Errorf("currency = %q, want EUR (normalized)", result.Wallet.Currency)
	}
}

func TestService_Register_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	cmd := dtos.RegisterUserCommand{Name: "Alice", Email: "alice@example.com"}
	if _, err := svc.Register(ctx, cmd); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cmd.Name = "Another Alice"
	if _, err := svc.Register(ctx, cmd); !domainErrors.IsConflict(err) {
		t.Errorf("duplicate email: err = %v, want conflict", err)
	}
}

func TestService_Register_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		cmd  dtos.RegisterUserCommand
	}{
		{"empty name", dtos.RegisterUserCommand{Email: "a@example.com"}},
		{"bad email", dtos.RegisterUserCommand{Name: "Alice", Email: "not-an-email"}},
		{"unknown currency", dtos.RegisterUserCommand{Name: "Alice", Email: "a@example.com", Currency: "XXX"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tt.cmd); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestService_Get(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	result, err := svc.Register(ctx, dtos.RegisterUserCommand{Name: "Alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	dto, err := svc.Get(ctx, result.User.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if dto.Name != "Alice" {
		t.Errorf("name = %q", dto.Name)
	}

	if _, err := svc.Get(ctx, "not-a-uuid"); err == nil {
		t.Error("invalid uuid must be rejected")
	}
	if _, err := svc.Get(ctx, uuid.NewString()); !domainErrors.IsNotFound(err) {
		t.Errorf("missing user: err = %v, want not found", err)
	}
}
