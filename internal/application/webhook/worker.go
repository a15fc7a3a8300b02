// Package webhook - Worker выполняет HTTP-доставку из очереди.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/domain/entities"
	"github.com/Haleralex/payflow/internal/domain/errors"
)

const (
	// DefaultRequestTimeout - потолок на один HTTP-запрос доставки.
	DefaultRequestTimeout = 10 * time.Second

	// DeactivationThreshold - столько подряд проваленных доставок
	// деактивируют подписку.
	DeactivationThreshold = 10
)

// Worker обрабатывает job'ы очереди webhooks.
//
// Поведение по результату POST:
// - 2xx: delivery -> SUCCESS, счётчик неудач подписки обнуляется
// - иначе: попытка фиксируется и ошибка уходит наружу; не последняя -
//   RETRYING (очередь сделает backoff-ретрай); последняя - FAILED,
//   инкремент счётчика подписки, при достижении порога подписка
//   деактивируется, а очередь учитывает job как проваленный
//
// Job'ы, которые ретраить бессмысленно (битая нагрузка, исчезнувшая
// delivery, дубликат после успеха, неактивная подписка), завершаются
// без ошибки.
type Worker struct {
	repo   ports.WebhookRepository
	queue  ports.JobQueue
	client *http.Client
	logger *slog.Logger
}

// NewWorker создаёт воркера доставки. client == nil даёт клиента с
// дефолтным таймаутом.
func NewWorker(repo ports.WebhookRepository, queue ports.JobQueue, client *http.Client, logger *slog.Logger) *Worker {
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Worker{
		repo:   repo,
		queue:  queue,
		client: client,
		logger: logger,
	}
}

// Start запускает потребление очереди.
func (w *Worker) Start(ctx context.Context) error {
	return w.queue.Consume(ctx, w.Handle)
}

// Handle - обработчик одного job'а доставки.
func (w *Worker) Handle(ctx context.Context, job ports.Job) error {
	var p DeliverJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		// Битая нагрузка не станет лучше от ретраев.
		w.logger.ErrorContext(ctx, "malformed delivery job dropped",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return nil
	}

	delivery, err := w.repo.FindDeliveryByID(ctx, p.DeliveryID)
	if err != nil {
		if errors.IsNotFound(err) {
			w.logger.WarnContext(ctx, "delivery record missing, job dropped",
				slog.String("delivery_id", p.DeliveryID))
			return nil
		}
		return err
	}
	if delivery.Status() == entities.DeliveryStatusSuccess {
		// Дубликат job'а после успешной доставки.
		return nil
	}

	sub, err := w.repo.FindSubscriptionByID(ctx, delivery.WebhookID())
	if err != nil {
		if errors.IsNotFound(err) {
			delivery.MarkFailed(nil, "subscription deleted")
			return w.repo.SaveDelivery(ctx, delivery)
		}
		return err
	}
	if !sub.IsActive() {
		delivery.MarkFailed(nil, "subscription inactive")
		return w.repo.SaveDelivery(ctx, delivery)
	}

	responseCode, postErr := w.post(ctx, sub, delivery)

	if postErr == nil {
		delivery.MarkSuccess(*responseCode)
		if err := w.repo.SaveDelivery(ctx, delivery); err != nil {
			return err
		}
		if err := w.repo.ResetFailureCount(ctx, sub.ID()); err != nil {
			return err
		}
		w.logger.InfoContext(ctx, "webhook delivered",
			slog.String("delivery_id", delivery.ID()),
			slog.Int("response_code", *responseCode))
		return nil
	}

	attempt := job.AttemptsMade + 1
	final := attempt >= job.MaxAttempts

	if !final {
		nextRetry := time.Now().Add(backoffDelay(job.BackoffBase, attempt))
		delivery.MarkRetrying(responseCode, postErr.Error(), nextRetry)
		if err := w.repo.SaveDelivery(ctx, delivery); err != nil {
			return err
		}
		w.logger.WarnContext(ctx, "webhook delivery failed, will retry",
			slog.String("delivery_id", delivery.ID()),
			slog.Int("attempt", attempt),
			slog.String("error", postErr.Error()))
		// Ошибка наружу заставляет очередь сделать ретрай.
		return postErr
	}

	delivery.MarkFailed(responseCode, postErr.Error())
	if err := w.repo.SaveDelivery(ctx, delivery); err != nil {
		return err
	}

	failures, err := w.repo.IncrementFailureCount(ctx, sub.ID())
	if err != nil {
		return err
	}
	if failures >= DeactivationThreshold {
		if err := w.repo.DeactivateSubscription(ctx, sub.ID()); err != nil {
			return err
		}
		w.logger.WarnContext(ctx, "webhook subscription deactivated",
			slog.String("webhook_id", sub.ID()),
			slog.Int("consecutive_failures", failures))
	}

	w.logger.ErrorContext(ctx, "webhook delivery failed permanently",
		slog.String("delivery_id", delivery.ID()),
		slog.Int("attempts", attempt),
		slog.String("error", postErr.Error()))
	// Попытки исчерпаны, очередь сама положит job в failed.
	return postErr
}

// post выполняет один подписанный POST. Возвращает HTTP-код (если ответ
// был) и ошибку при не-2xx или сетевом сбое.
func (w *Worker) post(ctx context.Context, sub *entities.WebhookSubscription, delivery *entities.WebhookDelivery) (*int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL(), bytes.NewReader(delivery.Payload()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(sub.Secret(), delivery.Payload()))

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, errors.NewTransientError("webhook.deliver", err)
	}
	defer resp.Body.Close()
	// Тело не интересует, но соединение надо вычитать для keep-alive.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	code := resp.StatusCode
	if code < 200 || code > 299 {
		return &code, fmt.Errorf("endpoint returned %d", code)
	}
	return &code, nil
}

// backoffDelay = base * 2^(attempt-1), как считает очередь.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
