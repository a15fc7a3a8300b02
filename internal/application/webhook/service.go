// Package webhook - управление подписками и доставка событий на
// внешние HTTPS-endpoints.
//
// Жизненный цикл доставки:
//
//	событие шины -> Dispatcher создаёт PENDING delivery и ставит job
//	-> Worker подписывает тело HMAC-SHA256 и делает POST
//	-> 2xx: SUCCESS; иначе ретраи с экспоненциальным backoff
//	-> после исчерпания попыток: FAILED, растёт failure_count подписки
//	-> 10 подряд проваленных доставок деактивируют подписку
package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Haleralex/payflow/internal/application/dtos"
	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/domain/entities"
	"github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/Haleralex/payflow/internal/domain/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Service - CRUD подписок.
type Service struct {
	repo     ports.WebhookRepository
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService создаёт сервис подписок.
func NewService(repo ports.WebhookRepository, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
		logger:   logger,
	}
}

// Create регистрирует подписку.
//
// Правила:
// - только https URL
// - секрет не короче 32 байт
// - известные типы событий
// - не более одной подписки на (user, url) - дубликат даёт Conflict
func (s *Service) Create(ctx context.Context, cmd dtos.CreateWebhookCommand) (*dtos.WebhookDTO, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, errors.ValidationError{Field: "webhook", Message: err.Error()}
	}

	userID, err := uuid.Parse(cmd.UserID)
	if err != nil {
		return nil, errors.ValidationError{Field: "user_id", Message: "invalid UUID"}
	}
	for _, ev := range cmd.Events {
		if !events.IsValidEventType(ev) {
			return nil, errors.ValidationError{Field: "events", Message: fmt.Sprintf("unknown event type %q", ev)}
		}
	}

	sub, err := entities.NewWebhookSubscription(userID, cmd.URL, cmd.Secret, cmd.Events)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		if errors.IsConflict(err) {
			return nil, errors.ErrDuplicateSubscription
		}
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	s.logger.InfoContext(ctx, "webhook subscription created",
		slog.String("webhook_id", sub.ID()),
		slog.String("user_id", cmd.UserID))

	dto := dtos.ToWebhookDTO(sub)
	return &dto, nil
}

// Update изменяет URL, набор событий или активность подписки.
// Ручная активация также сбрасывает счётчик неудач.
func (s *Service) Update(ctx context.Context, cmd dtos.UpdateWebhookCommand) (*dtos.WebhookDTO, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, errors.ValidationError{Field: "webhook", Message: err.Error()}
	}

	for _, ev := range cmd.Events {
		if !events.IsValidEventType(ev) {
			return nil, errors.ValidationError{Field: "events", Message: fmt.Sprintf("unknown event type %q", ev)}
		}
	}

	sub, err := s.repo.FindSubscriptionByID(ctx, cmd.WebhookID)
	if err != nil {
		return nil, err
	}

	if err := sub.Update(cmd.URL, cmd.Events, cmd.IsActive); err != nil {
		return nil, err
	}

	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	if cmd.IsActive != nil && *cmd.IsActive {
		if err := s.repo.ResetFailureCount(ctx, sub.ID()); err != nil {
			return nil, fmt.Errorf("failed to reset failure count: %w", err)
		}
	}

	dto := dtos.ToWebhookDTO(sub)
	return &dto, nil
}

// Delete удаляет подписку.
func (s *Service) Delete(ctx context.Context, cmd dtos.DeleteWebhookCommand) error {
	if err := s.validate.Struct(cmd); err != nil {
		return errors.ValidationError{Field: "webhook_id", Message: err.Error()}
	}
	return s.repo.DeleteSubscription(ctx, cmd.WebhookID)
}

// List возвращает подписки пользователя.
func (s *Service) List(ctx context.Context, q dtos.ListWebhooksQuery) ([]dtos.WebhookDTO, error) {
	if err := s.validate.Struct(q); err != nil {
		return nil, errors.ValidationError{Field: "user_id", Message: err.Error()}
	}

	userID, err := uuid.Parse(q.UserID)
	if err != nil {
		return nil, errors.ValidationError{Field: "user_id", Message: "invalid UUID"}
	}

	subs, err := s.repo.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	out := make([]dtos.WebhookDTO, 0, len(subs))
	for _, sub := range subs {
		out = append(out, dtos.ToWebhookDTO(sub))
	}
	return out, nil
}

// ListDeliveries возвращает историю доставок подписки.
func (s *Service) ListDeliveries(ctx context.Context, q dtos.ListDeliveriesQuery) ([]dtos.DeliveryDTO, error) {
	if q.Limit == 0 {
		q.Limit = 20
	}
	if err := s.validate.Struct(q); err != nil {
		return nil, errors.ValidationError{Field: "query", Message: err.Error()}
	}

	deliveries, err := s.repo.ListDeliveriesByWebhook(ctx, q.WebhookID, q.Offset, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}

	out := make([]dtos.DeliveryDTO, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, dtos.ToDeliveryDTO(d))
	}
	return out, nil
}
