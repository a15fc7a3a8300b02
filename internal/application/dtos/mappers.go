// Package dtos - мапперы Domain Entities -> DTOs.
// Единственное место преобразования доменных типов в транспортные.
package dtos

import (
	"github.com/Haleralex/payflow/internal/domain/entities"
)

// ToUserDTO преобразует User entity в DTO.
func ToUserDTO(u *entities.User) UserDTO {
	return UserDTO{
		ID:        u.ID().String(),
		Name:      u.Name(),
		Email:     u.Email(),
		CreatedAt: u.CreatedAt(),
	}
}

// ToWalletDTO преобразует Wallet entity в DTO.
func ToWalletDTO(w *entities.Wallet) WalletDTO {
	return WalletDTO{
		ID:           w.ID().String(),
		UserID:       w.UserID().String(),
		Currency:     w.Currency().Code(),
		BalanceCents: w.Balance().Cents(),
		IsActive:     w.IsActive(),
		CreatedAt:    w.CreatedAt(),
		UpdatedAt:    w.UpdatedAt(),
	}
}

// ToTransactionDTO преобразует Transaction entity в DTO.
func ToTransactionDTO(t *entities.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:            t.ID(),
		SenderID:      t.SenderID().String(),
		ReceiverID:    t.ReceiverID().String(),
		AmountCents:   t.Amount().Cents(),
		Currency:      t.Amount().Currency().Code(),
		Status:        string(t.Status()),
		FailureReason: t.FailureReason(),
		Description:   t.Description(),
		InitiatedAt:   t.InitiatedAt(),
		UpdatedAt:     t.UpdatedAt(),
		CompletedAt:   t.CompletedAt(),
	}
}

// ToTransactionListDTO преобразует страницу транзакций.
func ToTransactionListDTO(txs []*entities.Transaction, total, offset, limit int) TransactionListDTO {
	out := make([]TransactionDTO, 0, len(txs))
	for _, t := range txs {
		out = append(out, ToTransactionDTO(t))
	}
	return TransactionListDTO{
		Transactions: out,
		TotalCount:   total,
		Offset:       offset,
		Limit:        limit,
	}
}

// ToOperationDTO преобразует WalletOperation entity в DTO.
func ToOperationDTO(op *entities.WalletOperation) OperationDTO {
	return OperationDTO{
		OperationID:        op.OperationID(),
		WalletID:           op.WalletID().String(),
		Kind:               string(op.Kind()),
		AmountCents:        op.Amount().Cents(),
		Currency:           op.Amount().Currency().Code(),
		ResultBalanceCents: op.ResultBalance().Cents(),
		TransactionID:      op.TransactionID(),
		CreatedAt:          op.CreatedAt(),
	}
}

// ToOperationListDTO преобразует страницу истории операций.
func ToOperationListDTO(ops []*entities.WalletOperation, total, offset, limit int) OperationListDTO {
	out := make([]OperationDTO, 0, len(ops))
	for _, op := range ops {
		out = append(out, ToOperationDTO(op))
	}
	return OperationListDTO{
		Operations: out,
		TotalCount: total,
		Offset:     offset,
		Limit:      limit,
	}
}

// ToWebhookDTO преобразует WebhookSubscription entity в DTO.
// Secret намеренно не попадает в DTO.
func ToWebhookDTO(s *entities.WebhookSubscription) WebhookDTO {
	return WebhookDTO{
		ID:           s.ID(),
		UserID:       s.UserID().String(),
		URL:          s.URL(),
		Events:       s.Events(),
		IsActive:     s.IsActive(),
		FailureCount: s.FailureCount(),
		CreatedAt:    s.CreatedAt(),
		UpdatedAt:    s.UpdatedAt(),
	}
}

// ToDeliveryDTO преобразует WebhookDelivery entity в DTO.
func ToDeliveryDTO(d *entities.WebhookDelivery) DeliveryDTO {
	return DeliveryDTO{
		ID:            d.ID(),
		WebhookID:     d.WebhookID(),
		TransactionID: d.TransactionID(),
		EventType:     d.EventType(),
		Status:        string(d.Status()),
		AttemptCount:  d.AttemptCount(),
		ResponseCode:  d.ResponseCode(),
		LastError:     d.LastError(),
		NextRetryAt:   d.NextRetryAt(),
		CreatedAt:     d.CreatedAt(),
		CompletedAt:   d.CompletedAt(),
	}
}
