// Package dtos - Commands, Queries и Response DTOs приложения.
// Суммы передаются в минорных единицах (центах).
package dtos

import "time"

// ============================================
// Commands (Write операции)
// ============================================

// DepositCommand - команда внешнего пополнения кошелька.
type DepositCommand struct {
	UserID      string `json:"user_id" validate:"required,uuid"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	// ClientKey - клиентский ключ идемпотентности. Повтор с тем же
	// ключом возвращает сохранённый результат без второго зачисления.
	ClientKey string `json:"client_key" validate:"required,min=1,max=128"`
}

// ============================================
// Queries (Read операции)
// ============================================

// GetBalanceQuery - запрос баланса кошелька пользователя.
type GetBalanceQuery struct {
	UserID   string `json:"user_id" validate:"required,uuid"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

// ListOperationsQuery - запрос истории операций пользователя.
type ListOperationsQuery struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Offset int    `json:"offset" validate:"min=0"`
	Limit  int    `json:"limit" validate:"min=1,max=100"`
}

// ============================================
// Response DTOs
// ============================================

// WalletDTO - представление кошелька.
type WalletDTO struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Currency     string    `json:"currency"`
	BalanceCents int64     `json:"balance_cents"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OperationResultDTO - результат одной ledger-операции.
type OperationResultDTO struct {
	Success         bool   `json:"success"`
	OperationID     string `json:"operation_id"`
	Kind            string `json:"kind"`
	NewBalanceCents int64  `json:"new_balance_cents"`
	// Idempotent = true, если эффект уже был применён ранее и этот
	// вызов вернул сохранённый результат.
	Idempotent bool   `json:"idempotent"`
	Reason     string `json:"reason,omitempty"`
}

// OperationDTO - одна запись истории операций.
type OperationDTO struct {
	OperationID        string    `json:"operation_id"`
	WalletID           string    `json:"wallet_id"`
	Kind               string    `json:"kind"`
	AmountCents        int64     `json:"amount_cents"`
	Currency           string    `json:"currency"`
	ResultBalanceCents int64     `json:"result_balance_cents"`
	TransactionID      string    `json:"transaction_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// OperationListDTO - страница истории операций.
type OperationListDTO struct {
	Operations []OperationDTO `json:"operations"`
	TotalCount int            `json:"total_count"`
	Offset     int            `json:"offset"`
	Limit      int            `json:"limit"`
}
