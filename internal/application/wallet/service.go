// Package wallet - ledger service: единственная точка изменения балансов.
//
// Каждая операция (debit/credit/refund/deposit) проходит один и тот же
// алгоритм:
//  1. Детерминированный operationID
//  2. Проверка строки идемпотентности - дубликат возвращает сохранённый
//     результат без второго эффекта
//  3. Атомарный условный инкремент баланса
//  4. Запись строки идемпотентности с результирующим балансом
//
// Шаги 2-4 выполняются в одной транзакции хранилища (Unit of Work),
// поэтому конкурирующие дубликаты схлопываются на уникальном индексе
// operation_id, а не двоят эффект.
package wallet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Haleralex/payflow/internal/application/dtos"
	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/domain/entities"
	"github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/valueobjects"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Service - ledger service поверх wallet/operation репозиториев.
type Service struct {
	walletRepo ports.WalletRepository
	opRepo     ports.OperationRepository
	uow        ports.UnitOfWork
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewService создаёт ledger service.
func NewService(
	walletRepo ports.WalletRepository,
	opRepo ports.OperationRepository,
	uow ports.UnitOfWork,
	logger *slog.Logger,
) *Service {
	return &Service{
		walletRepo: walletRepo,
		opRepo:     opRepo,
		uow:        uow,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Debit списывает amount с кошелька отправителя в рамках перевода.
// operationID = "{txnID}:DEBIT". Недостаток средств - ErrInsufficientBalance,
// баланс не меняется.
func (s *Service) Debit(ctx context.Context, txnID string, senderID uuid.UUID, amount valueobjects.Money) (*dtos.OperationResultDTO, error) {
	opID := entities.SagaOperationID(txnID, entities.OperationDebit)
	return s.apply(ctx, opID, senderID, entities.OperationDebit, amount, txnID, -amount.Cents(), true)
}

// Credit зачисляет amount получателю в рамках перевода.
// operationID = "{txnID}:CREDIT".
func (s *Service) Credit(ctx context.Context, txnID string, receiverID uuid.UUID, amount valueobjects.Money) (*dtos.OperationResultDTO, error) {
	opID := entities.SagaOperationID(txnID, entities.OperationCredit)
	return s.apply(ctx, opID, receiverID, entities.OperationCredit, amount, txnID, amount.Cents(), false)
}

// Refund возвращает amount отправителю (компенсация неудачного credit).
// operationID = "{txnID}:REFUND".
func (s *Service) Refund(ctx context.Context, txnID string, senderID uuid.UUID, amount valueobjects.Money) (*dtos.OperationResultDTO, error) {
	opID := entities.SagaOperationID(txnID, entities.OperationRefund)
	return s.apply(ctx, opID, senderID, entities.OperationRefund, amount, txnID, amount.Cents(), false)
}

// Deposit - внешнее пополнение, идемпотентное по клиентскому ключу.
// operationID = "deposit:{clientKey}".
func (s *Service) Deposit(ctx context.Context, cmd dtos.DepositCommand) (*dtos.OperationResultDTO, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, errors.ValidationError{Field: "deposit", Message: err.Error()}
	}

	userID, err := uuid.Parse(cmd.UserID)
	if err != nil {
		return nil, errors.ValidationError{Field: "user_id", Message: "invalid UUID"}
	}
	currency, err := valueobjects.NewCurrency(cmd.Currency)
	if err != nil {
		return nil, errors.ValidationError{Field: "currency", Message: err.Error()}
	}
	amount, err := valueobjects.NewMoney(cmd.AmountCents, currency)
	if err != nil {
		return nil, errors.ErrInvalidAmount
	}

	opID := entities.DepositOperationID(cmd.ClientKey)
	return s.apply(ctx, opID, userID, entities.OperationDeposit, amount, "", amount.Cents(), false)
}

// GetBalance возвращает кошелёк пользователя для валюты.
func (s *Service) GetBalance(ctx context.Context, q dtos.GetBalanceQuery) (*dtos.WalletDTO, error) {
	if err := s.validate.Struct(q); err != nil {
		return nil, errors.ValidationError{Field: "query", Message: err.Error()}
	}

	userID, err := uuid.Parse(q.UserID)
	if err != nil {
		return nil, errors.ValidationError{Field: "user_id", Message: "invalid UUID"}
	}

	currency := valueobjects.DefaultCurrency()
	if q.Currency != "" {
		if currency, err = valueobjects.NewCurrency(q.Currency); err != nil {
			return nil, errors.ValidationError{Field: "currency", Message: err.Error()}
		}
	}

	w, err := s.walletRepo.FindByUserAndCurrency(ctx, userID, currency)
	if err != nil {
		return nil, err
	}

	dto := dtos.ToWalletDTO(w)
	return &dto, nil
}

// History возвращает страницу операций пользователя, новые первыми.
func (s *Service) History(ctx context.Context, q dtos.ListOperationsQuery) (*dtos.OperationListDTO, error) {
	if q.Limit == 0 {
		q.Limit = 20
	}
	if err := s.validate.Struct(q); err != nil {
		return nil, errors.ValidationError{Field: "query", Message: err.Error()}
	}

	userID, err := uuid.Parse(q.UserID)
	if err != nil {
		return nil, errors.ValidationError{Field: "user_id", Message: "invalid UUID"}
	}

	ops, total, err := s.opRepo.ListByUser(ctx, userID, q.Offset, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}

	dto := dtos.ToOperationListDTO(ops, total, q.Offset, q.Limit)
	return &dto, nil
}

// apply - единый алгоритм применения операции к балансу.
//
// delta подписан: отрицательный для debit, положительный для остальных.
// requireFunds включает проверку "balance + delta >= 0" в условный UPDATE.
func (s *Service) apply(
	ctx context.Context,
	opID string,
	userID uuid.UUID,
	kind entities.OperationKind,
	amount valueobjects.Money,
	txnID string,
	delta int64,
	requireFunds bool,
) (*dtos.OperationResultDTO, error) {
	var result *dtos.OperationResultDTO

	err := s.uow.WithinTransaction(ctx, func(txCtx context.Context) error {
		// 1. Проверка идемпотентности: дубликат возвращает сохранённый
		// результат, эффект не повторяется.
		existing, err := s.opRepo.FindByID(txCtx, opID)
		if err != nil && !errors.IsNotFound(err) {
			return fmt.Errorf("failed to check operation %s: %w", opID, err)
		}
		if existing != nil {
			result = s.buildResult(existing, true)
			return nil
		}

		// 2. Кошелёк пользователя для валюты операции.
		w, err := s.walletRepo.FindByUserAndCurrency(txCtx, userID, amount.Currency())
		if err != nil {
			return err
		}

		// 3. Атомарный условный инкремент. Единственное место, где
		// инвариант неотрицательного баланса встречает конкуренцию.
		newBalanceCents, err := s.walletRepo.ConditionalIncrementBalance(txCtx, w.ID(), delta, requireFunds)
		if err != nil {
			return err
		}

		newBalance, err := valueobjects.NewMoney(newBalanceCents, amount.Currency())
		if err != nil {
			return fmt.Errorf("invalid balance after %s: %w", kind, err)
		}

		// 4. Строка идемпотентности с результирующим балансом.
		op, err := entities.NewWalletOperation(opID, w.ID(), userID, kind, amount, newBalance, txnID)
		if err != nil {
			return fmt.Errorf("failed to build operation %s: %w", opID, err)
		}

		created, raced, err := s.opRepo.CreateIfAbsent(txCtx, op)
		if err != nil {
			return fmt.Errorf("failed to record operation %s: %w", opID, err)
		}
		if !created {
			// Конкурирующий дубликат выиграл вставку. Транзакция
			// откатит наш инкремент; возвращаем его результат.
			result = s.buildResult(raced, true)
			return errors.ErrEntityAlreadyExists
		}

		result = s.buildResult(op, false)
		return nil
	})

	if err != nil {
		if errors.IsConflict(err) && result != nil {
			s.logger.InfoContext(ctx, "duplicate operation collapsed",
				slog.String("operation_id", opID))
			return result, nil
		}
		return nil, err
	}

	if result.Idempotent {
		s.logger.InfoContext(ctx, "idempotent replay",
			slog.String("operation_id", opID),
			slog.String("kind", string(kind)))
	}

	return result, nil
}

func (s *Service) buildResult(op *entities.WalletOperation, idempotent bool) *dtos.OperationResultDTO {
	return &dtos.OperationResultDTO{
		Success:         true,
		OperationID:     op.OperationID(),
		Kind:            string(op.Kind()),
		NewBalanceCents: op.ResultBalance().Cents(),
		Idempotent:      idempotent,
	}
}
