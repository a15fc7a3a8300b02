// Package dtos - Transaction DTOs.
package dtos

import "time"

// ============================================
// Commands (Write операции)
// ============================================

// InitiateTransferCommand - команда запуска перевода между пользователями.
type InitiateTransferCommand struct {
	SenderID    string `json:"sender_id" validate:"required,uuid"`
	ReceiverID  string `json:"receiver_id" validate:"required,uuid"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	Description string `json:"description" validate:"max=255"`
}

// ============================================
// Queries (Read операции)
// ============================================

// GetTransactionQuery - запрос транзакции по ID.
type GetTransactionQuery struct {
	TransactionID string `json:"transaction_id" validate:"required"`
}

// ListTransactionsQuery - запрос списка транзакций пользователя.
type ListTransactionsQuery struct {
	UserID string  `json:"user_id" validate:"required,uuid"`
	Status *string `json:"status,omitempty" validate:"omitempty,oneof=INITIATED DEBITED CREDITED REFUNDING REFUNDED COMPLETED FAILED"`
	// Role: "" (обе стороны), "sender" или "receiver".
	Role   string `json:"role,omitempty" validate:"omitempty,oneof=sender receiver"`
	Offset int    `json:"offset" validate:"min=0"`
	Limit  int    `json:"limit" validate:"min=1,max=100"`
}

// ============================================
// Response DTOs
// ============================================

// TransactionDTO - представление перевода.
type TransactionDTO struct {
	ID            string     `json:"id"`
	SenderID      string     `json:"sender_id"`
	ReceiverID    string     `json:"receiver_id"`
	AmountCents   int64      `json:"amount_cents"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	Description   string     `json:"description,omitempty"`
	InitiatedAt   time.Time  `json:"initiated_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// TransactionListDTO - страница транзакций.
type TransactionListDTO struct {
	Transactions []TransactionDTO `json:"transactions"`
	TotalCount   int              `json:"total_count"`
	Offset       int              `json:"offset"`
	Limit        int              `json:"limit"`
}

// InitiateTransferResultDTO - ответ на запуск перевода.
// Перевод асинхронный: статус на момент ответа всегда INITIATED.
type InitiateTransferResultDTO struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}
