// Package saga - Orchestrator управляет переводом как сагой.
//
// Перевод = debit у отправителя, затем credit у получателя. Двухфазной
// фиксации нет: если credit падает, уже списанные деньги возвращает
// компенсирующий refund. Каждый шаг - реакция на событие шины, поэтому
// оркестратор переживает рестарт процесса: незаконченная сага
// продолжится с того события, которое придёт следующим.
//
// Все реакции идемпотентны:
// - ledger-шаги дедуплицируются строками операций
// - статусные переходы - guarded UPDATE (ErrPreconditionFailed = дубликат
//   события, штатный no-op)
package saga

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Haleralex/payflow/internal/application/dtos"
	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/application/wallet"
	"github.com/Haleralex/payflow/internal/domain/entities"
	"github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/events"
	"github.com/Haleralex/payflow/internal/domain/valueobjects"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Orchestrator - саговый координатор переводов.
type Orchestrator struct {
	txRepo     ports.TransactionRepository
	userRepo   ports.UserRepository
	walletRepo ports.WalletRepository
	ledger     *wallet.Service
	bus        ports.EventBus
	simulator  *Simulator
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewOrchestrator создаёт оркестратор. Start подписывает его на шину.
func NewOrchestrator(
	txRepo ports.TransactionRepository,
	userRepo ports.UserRepository,
	walletRepo ports.WalletRepository,
	ledger *wallet.Service,
	bus ports.EventBus,
	simulator *Simulator,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		txRepo:     txRepo,
		userRepo:   userRepo,
		walletRepo: walletRepo,
		ledger:     ledger,
		bus:        bus,
		simulator:  simulator,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Start подписывает оркестратор на события саги.
func (o *Orchestrator) Start(ctx context.Context) error {
	subscriptions := map[string]ports.EventHandler{
		events.TransactionInitiated: o.handleTransactionInitiated,
		events.DebitSuccess:         o.handleDebitSuccess,
		events.DebitFailed:          o.handleDebitFailed,
		events.CreditSuccess:        o.handleCreditSuccess,
		events.CreditFailed:         o.handleCreditFailed,
		events.RefundRequested:      o.handleRefundRequested,
		events.RefundCompleted:      o.handleRefundCompleted,
		events.RefundFailed:         o.handleRefundFailed,
	}
	for eventType, handler := range subscriptions {
		if err := o.bus.Subscribe(ctx, eventType, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
	}
	return nil
}

// ============================================
// Запуск перевода (API-операция)
// ============================================

// InitiateTransfer валидирует команду, создаёт транзакцию в INITIATED и
// публикует TRANSACTION_INITIATED. Сам перевод идёт асинхронно.
func (o *Orchestrator) InitiateTransfer(ctx context.Context, cmd dtos.InitiateTransferCommand) (*dtos.InitiateTransferResultDTO, error) {
	if err := o.validate.Struct(cmd); err != nil {
		return nil, errors.ValidationError{Field: "transfer", Message: err.Error()}
	}

	senderID, err := uuid.Parse(cmd.SenderID)
	if err != nil {
		return nil, errors.ValidationError{Field: "sender_id", Message: "invalid UUID"}
	}
	receiverID, err := uuid.Parse(cmd.ReceiverID)
	if err != nil {
		return nil, errors.ValidationError{Field: "receiver_id", Message: "invalid UUID"}
	}

	currency, err := valueobjects.NewCurrency(cmd.Currency)
	if err != nil {
		return nil, errors.ValidationError{Field: "currency", Message: err.Error()}
	}
	amount, err := valueobjects.NewMoney(cmd.AmountCents, currency)
	if err != nil {
		return nil, errors.ErrInvalidAmount
	}

	// Оба кошелька должны существовать до запуска саги: падение debit
	// из-за отсутствующего получателя - бессмысленная работа.
	if _, err := o.walletRepo.FindByUserAndCurrency(ctx, senderID, currency); err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.ErrSenderWalletNotFound
		}
		return nil, err
	}
	if _, err := o.walletRepo.FindByUserAndCurrency(ctx, receiverID, currency); err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.ErrReceiverWalletNotFound
		}
		return nil, err
	}

	tx, err := entities.NewTransaction(senderID, receiverID, amount, cmd.Description)
	if err != nil {
		return nil, err
	}

	if err := o.txRepo.Save(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}

	event, err := events.NewEvent(events.TransactionInitiated, tx.ID(), events.TransactionInitiatedPayload{
		TransactionID: tx.ID(),
		SenderID:      senderID.String(),
		ReceiverID:    receiverID.String(),
		AmountCents:   amount.Cents(),
		Currency:      currency.Code(),
		Description:   cmd.Description,
	})
	if err != nil {
		return nil, err
	}
	if err := o.bus.Publish(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to publish %s: %w", events.TransactionInitiated, err)
	}

	o.logger.InfoContext(ctx, "transfer initiated",
		slog.String("transaction_id", tx.ID()),
		slog.Int64("amount_cents", amount.Cents()),
		slog.String("currency", currency.Code()))

	return &dtos.InitiateTransferResultDTO{
		TransactionID: tx.ID(),
		Status:        string(tx.Status()),
	}, nil
}

// ============================================
// Реакции саги
// ============================================

// handleTransactionInitiated выполняет debit отправителя.
func (o *Orchestrator) handleTransactionInitiated(ctx context.Context, event events.Event) error {
	var p events.TransactionInitiatedPayload
	if err := event.DecodePayload(&p); err != nil {
		return err
	}

	senderID, receiverID, amount, err := o.parseParties(p.SenderID, p.ReceiverID, p.AmountCents, p.Currency)
	if err != nil {
		return err
	}

	result, err := o.ledger.Debit(ctx, p.TransactionID, senderID, amount)
	if err != nil {
		if errors.Is(err, errors.ErrInsufficientBalance) || errors.IsNotFound(err) {
			return o.publishDebitFailed(ctx, p, err.Error())
		}
		// Инфраструктурная ошибка: вернуть её шине, пусть доставит
		// событие повторно.
		return fmt.Errorf("debit failed for %s: %w", p.TransactionID, err)
	}

	out, err := events.NewEvent(events.DebitSuccess, p.TransactionID, events.DebitResultPayload{
		TransactionID: p.TransactionID,
		SenderID:      senderID.String(),
		ReceiverID:    receiverID.String(),
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		OperationID:   result.OperationID,
	})
	if err != nil {
		return err
	}
	return o.bus.Publish(ctx, out)
}

// handleDebitSuccess фиксирует DEBITED и выполняет credit получателя.
//
// В отличие от остальных реакций, транзакция уже в DEBITED - не повод
// остановиться: Reconciler переиздаёт DEBIT_SUCCESS именно для таких
// транзакций, когда credit мог не примениться. Шаг идемпотентен, лишний
// проход безвреден.
func (o *Orchestrator) handleDebitSuccess(ctx context.Context, event events.Event) error {
	var p events.DebitResultPayload
	if err := event.DecodePayload(&p); err != nil {
		return err
	}

	tx, err := o.txRepo.FindByID(ctx, p.TransactionID)
	if err != nil {
		return fmt.Errorf("failed to load transaction %s: %w", p.TransactionID, err)
	}
	switch tx.Status() {
	case entities.TransactionStatusInitiated:
		if err := tx.MarkDebited(); err != nil {
			return err
		}
		if err := o.txRepo.UpdateStatusIf(ctx, tx, []entities.TransactionStatus{entities.TransactionStatusInitiated}); err != nil {
			if !errors.IsPreconditionFailed(err) {
				return fmt.Errorf("failed to update transaction %s: %w", p.TransactionID, err)
			}
			// Конкурент успел первым - перечитать и решить по факту.
			tx, err = o.txRepo.FindByID(ctx, p.TransactionID)
			if err != nil {
				return err
			}
			if tx.Status() != entities.TransactionStatusDebited {
				return nil
			}
		}
	case entities.TransactionStatusDebited:
		// Переизданное событие: статус зафиксирован, едем к credit.
	default:
		// Сага уже ушла дальше - событие-дубликат.
		o.logger.DebugContext(ctx, "stale saga event ignored",
			slog.String("transaction_id", p.TransactionID),
			slog.String("status", string(tx.Status())))
		return nil
	}

	_, receiverID, amount, err := o.parseParties(p.SenderID, p.ReceiverID, p.AmountCents, p.Currency)
	if err != nil {
		return err
	}

	// Управляемая точка отказа: симулятор роняет credit до эффекта.
	if o.simulator != nil && o.simulator.ShouldFailCredit(p.TransactionID) {
		o.logger.WarnContext(ctx, "credit failure simulated",
			slog.String("transaction_id", p.TransactionID))
		return o.publishCreditFailed(ctx, p, errors.ErrSimulatedFailure.Error())
	}

	result, err := o.ledger.Credit(ctx, p.TransactionID, receiverID, amount)
	if err != nil {
		if errors.IsNotFound(err) {
			return o.publishCreditFailed(ctx, p, err.Error())
		}
		return fmt.Errorf("credit failed for %s: %w", p.TransactionID, err)
	}

	out, err := events.NewEvent(events.CreditSuccess, p.TransactionID, events.CreditResultPayload{
		TransactionID: p.TransactionID,
		SenderID:      p.SenderID,
		ReceiverID:    p.ReceiverID,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		OperationID:   result.OperationID,
	})
	if err != nil {
		return err
	}
	return o.bus.Publish(ctx, out)
}

// handleCreditSuccess завершает перевод: DEBITED -> COMPLETED.
func (o *Orchestrator) handleCreditSuccess(ctx context.Context, event events.Event) error {
	var p events.CreditResultPayload
	if err := event.DecodePayload(&p); err != nil {
		return err
	}

	if done, err := o.advanceStatus(ctx, p.TransactionID,
		entities.TransactionStatusDebited,
		func(tx *entities.Transaction) error { return tx.MarkCompleted() },
	); err != nil || done {
		return err
	}

	out, err := events.NewEvent(events.TransactionCompleted, p.TransactionID, events.TransactionCompletedPayload{
		TransactionID: p.TransactionID,
		SenderID:      p.SenderID,
		ReceiverID:    p.ReceiverID,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		CompletedAt:   event.Timestamp,
	})
	if err != nil {
		return err
	}
	if err := o.bus.Publish(ctx, out); err != nil {
		return err
	}

	o.logger.InfoContext(ctx, "transfer completed",
		slog.String("transaction_id", p.TransactionID))
	return nil
}

// handleCreditFailed запускает компенсацию: DEBITED -> REFUNDING.
func (o *Orchestrator) handleCreditFailed(ctx context.Context, event events.Event) error {
	var p events.CreditResultPayload
	if err := event.DecodePayload(&p); err != nil {
		return err
	}

	if done, err := o.advanceStatus(ctx, p.TransactionID,
		entities.TransactionStatusDebited,
		func(tx *entities.Transaction) error { return tx.MarkRefunding() },
	); err != nil || done {
		return err
	}

	out, err := events.NewEvent(events.RefundRequested, p.TransactionID, events.RefundPayload{
		TransactionID: p.TransactionID,
		SenderID:      p.SenderID,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		Reason:        p.Reason,
	})
	if err != nil {
		return err
	}
	return o.bus.Publish(ctx, out)
}

// handleRefundRequested возвращает списанное отправителю.
func (o *Orchestrator) handleRefundRequested(ctx context.Context, event events.Event) error {
	var p events.RefundPayload
	if err := event.DecodePayload(&p); err != nil {
		return err
	}

	senderID, err := uuid.Parse(p.SenderID)
	if err != nil {
		return errors.ValidationError{Field: "senderId", Message: "invalid UUID"}
	}
	currency, err := valueobjects.NewCurrency(p.Currency)
	if err != nil {
		return err
	}
	amount, err := valueobjects.NewMoney(p.AmountCents, currency)
	if err != nil {
		return err
	}

	result, err := o.ledger.Refund(ctx, p.TransactionID, senderID, amount)
	if err != nil {
		// Refund не смог примениться: публикуем REFUND_FAILED, деньги
		// остаются списанными до ручного вмешательства.
		out, evErr := events.NewEvent(events.RefundFailed, p.TransactionID, events.RefundPayload{
			TransactionID: p.TransactionID,
			SenderID:      p.SenderID,
			AmountCents:   p.AmountCents,
			Currency:      p.Currency,
			Reason:        err.Error(),
		})
		if evErr != nil {
			return evErr
		}
		return o.bus.Publish(ctx, out)
	}

	out, err := events.NewEvent(events.RefundCompleted, p.TransactionID, events.RefundPayload{
		TransactionID: p.TransactionID,
		SenderID:      p.SenderID,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		OperationID:   result.OperationID,
		Reason:        p.Reason,
	})
	if err != nil {
		return err
	}
	return o.bus.Publish(ctx, out)
}

// handleRefundCompleted закрывает сагу: REFUNDING -> FAILED.
func (o *Orchestrator) handleRefundCompleted(ctx context.Context, event events.Event) error {
	var p events.RefundPayload
	if err := event.DecodePayload(&p); err != nil {
		return err
	}

	// Фиксированная формулировка: именно по ней внешний наблюдатель
	// отличает компенсированный перевод от обычного отказа.
	reason := "Credit failed, amount refunded to sender"

	if done, err := o.advanceStatus(ctx, p.TransactionID,
		entities.TransactionStatusRefunding,
		func(tx *entities.Transaction) error { return tx.MarkFailed(reason) },
	); err != nil || done {
		return err
	}

	return o.publishTransactionFailed(ctx, p.TransactionID, reason, true)
}

// handleDebitFailed закрывает сагу без компенсации: INITIATED -> FAILED.
func (o *Orchestrator) handleDebitFailed(ctx context.Context, event events.Event) error {
	var p events.DebitResultPayload
	if err := event.DecodePayload(&p); err != nil {
		return err
	}

	if done, err := o.advanceStatus(ctx, p.TransactionID,
		entities.TransactionStatusInitiated,
		func(tx *entities.Transaction) error { return tx.MarkFailed(p.Reason) },
	); err != nil || done {
		return err
	}

	return o.publishTransactionFailed(ctx, p.TransactionID, p.Reason, false)
}

// handleRefundFailed не двигает статус: транзакция остаётся в REFUNDING
// как маркер зависшей компенсации. Лог уровня Error - сигнал дежурному.
func (o *Orchestrator) handleRefundFailed(ctx context.Context, event events.Event) error {
	var p events.RefundPayload
	if err := event.DecodePayload(&p); err != nil {
		return err
	}

	o.logger.ErrorContext(ctx, "refund failed, manual intervention required",
		slog.String("transaction_id", p.TransactionID),
		slog.String("sender_id", p.SenderID),
		slog.Int64("amount_cents", p.AmountCents),
		slog.String("reason", p.Reason))
	return nil
}

// ============================================
// Helpers
// ============================================

// advanceStatus загружает транзакцию, применяет переход и фиксирует его
// guarded-обновлением. done=true означает "дубликат события, шаг уже
// сделан" - реакция должна молча закончиться.
func (o *Orchestrator) advanceStatus(
	ctx context.Context,
	transactionID string,
	allowedFrom entities.TransactionStatus,
	mark func(*entities.Transaction) error,
) (done bool, err error) {
	tx, err := o.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		return false, fmt.Errorf("failed to load transaction %s: %w", transactionID, err)
	}

	if err := mark(tx); err != nil {
		if errors.IsInvalidStateTransition(err) {
			// Статус уже ушёл дальше - событие-дубликат.
			o.logger.DebugContext(ctx, "stale saga event ignored",
				slog.String("transaction_id", transactionID),
				slog.String("status", string(tx.Status())))
			return true, nil
		}
		return false, err
	}

	if err := o.txRepo.UpdateStatusIf(ctx, tx, []entities.TransactionStatus{allowedFrom}); err != nil {
		if errors.IsPreconditionFailed(err) {
			// Конкурент успел первым - тоже штатный no-op.
			o.logger.DebugContext(ctx, "status already advanced",
				slog.String("transaction_id", transactionID))
			return true, nil
		}
		return false, fmt.Errorf("failed to update transaction %s: %w", transactionID, err)
	}
	return false, nil
}

func (o *Orchestrator) parseParties(senderID, receiverID string, amountCents int64, currencyCode string) (uuid.UUID, uuid.UUID, valueobjects.Money, error) {
	var zero valueobjects.Money

	sID, err := uuid.Parse(senderID)
	if err != nil {
		return uuid.Nil, uuid.Nil, zero, errors.ValidationError{Field: "senderId", Message: "invalid UUID"}
	}
	rID, err := uuid.Parse(receiverID)
	if err != nil {
		return uuid.Nil, uuid.Nil, zero, errors.ValidationError{Field: "receiverId", Message: "invalid UUID"}
	}
	currency, err := valueobjects.NewCurrency(currencyCode)
	if err != nil {
		return uuid.Nil, uuid.Nil, zero, err
	}
	amount, err := valueobjects.NewMoney(amountCents, currency)
	if err != nil {
		return uuid.Nil, uuid.Nil, zero, err
	}
	return sID, rID, amount, nil
}

func (o *Orchestrator) publishDebitFailed(ctx context.Context, p events.TransactionInitiatedPayload, reason string) error {
	out, err := events.NewEvent(events.DebitFailed, p.TransactionID, events.DebitResultPayload{
		TransactionID: p.TransactionID,
		SenderID:      p.SenderID,
		ReceiverID:    p.ReceiverID,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		Reason:        reason,
	})
	if err != nil {
		return err
	}
	return o.bus.Publish(ctx, out)
}

func (o *Orchestrator) publishCreditFailed(ctx context.Context, p events.DebitResultPayload, reason string) error {
	out, err := events.NewEvent(events.CreditFailed, p.TransactionID, events.CreditResultPayload{
		TransactionID: p.TransactionID,
		SenderID:      p.SenderID,
		ReceiverID:    p.ReceiverID,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		Reason:        reason,
	})
	if err != nil {
		return err
	}
	return o.bus.Publish(ctx, out)
}

func (o *Orchestrator) publishTransactionFailed(ctx context.Context, transactionID, reason string, refunded bool) error {
	tx, err := o.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		return err
	}

	out, err := events.NewEvent(events.TransactionFailed, transactionID, events.TransactionFailedPayload{
		TransactionID: transactionID,
		SenderID:      tx.SenderID().String(),
		ReceiverID:    tx.ReceiverID().String(),
		AmountCents:   tx.Amount().Cents(),
		Currency:      tx.Amount().Currency().Code(),
		Reason:        reason,
		Refunded:      refunded,
	})
	if err != nil {
		return err
	}
	if err := o.bus.Publish(ctx, out); err != nil {
		return err
	}

	o.logger.InfoContext(ctx, "transfer failed",
		slog.String("transaction_id", transactionID),
		slog.String("reason", reason),
		slog.Bool("refunded", refunded))
	return nil
}
