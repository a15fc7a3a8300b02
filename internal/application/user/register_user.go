// Package user - регистрация пользователей.
//
// Пользователь без кошелька в этой системе бесполезен, поэтому
// регистрация создаёт обе записи в одной транзакции хранилища
// (Unit of Work): либо есть и user, и wallet, либо ничего.
package user

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

// Service - сервис управления пользователями.
type Service struct {
	userRepo   ports.UserRepository
	walletRepo ports.WalletRepository
	uow        ports.UnitOfWork
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewService создаёт сервис пользователей.
func NewService(
	userRepo ports.UserRepository,
	walletRepo ports.WalletRepository,
	uow ports.UnitOfWork,
	logger *slog.Logger,
) *Service {
	return &Service{
		userRepo:   userRepo,
		walletRepo: walletRepo,
		uow:        uow,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Register создаёт пользователя и его кошелёк атомарно.
// Дубликат email возвращает ErrEntityAlreadyExists.
func (s *Service) Register(ctx context.Context, cmd dtos.RegisterUserCommand) (*dtos.RegisterUserResultDTO, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, errors.ValidationError{Field: "register", Message: err.Error()}
	}

	currency := valueobjects.DefaultCurrency()
	if cmd.Currency != "" {
		var err error
		if currency, err = valueobjects.NewCurrency(cmd.Currency); err != nil {
			return nil, errors.ValidationError{Field: "currency", Message: err.Error()}
		}
	}

	u, err := entities.NewUser(cmd.Name, cmd.Email)
	if err != nil {
		return nil, err
	}
	w, err := entities.NewWallet(u.ID(), currency)
	if err != nil {
		return nil, err
	}

	err = s.uow.WithinTransaction(ctx, func(txCtx context.Context) error {
		if existing, err := s.userRepo.FindByEmail(txCtx, u.Email()); err == nil && existing != nil {
			return errors.ErrEntityAlreadyExists
		} else if err != nil && !errors.IsNotFound(err) {
			return fmt.Errorf("failed to check email: %w", err)
		}

		if err := s.userRepo.Save(txCtx, u); err != nil {
			return fmt.Errorf("failed to save user: %w", err)
		}
		if err := s.walletRepo.Save(txCtx, w); err != nil {
			return fmt.Errorf("failed to save wallet: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", u.ID().String()),
		slog.String("currency", currency.Code()))

	return &dtos.RegisterUserResultDTO{
		User:   dtos.ToUserDTO(u),
		Wallet: dtos.ToWalletDTO(w),
	}, nil
}

// Get возвращает пользователя по ID.
func (s *Service) Get(ctx context.Context, id string) (*dtos.UserDTO, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.ValidationError{Field: "user_id", Message: "invalid UUID"}
	}

	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	dto := dtos.ToUserDTO(u)
	return &dto, nil
}
