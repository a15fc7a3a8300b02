// Package notification - Worker-заглушка канала доставки.
package notification

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Haleralex/payflow/internal/application/ports"
)

// Worker потребляет очередь notifications. Реальный канал доставки
// (push/email/sms) подключается вместо логирования; контракт очереди
// при этом не меняется.
type Worker struct {
	queue  ports.JobQueue
	logger *slog.Logger
}

// NewWorker создаёт воркера уведомлений.
func NewWorker(queue ports.JobQueue, logger *slog.Logger) *Worker {
	return &Worker{queue: queue, logger: logger}
}

// Start запускает потребление очереди.
func (w *Worker) Start(ctx context.Context) error {
	return w.queue.Consume(ctx, w.Handle)
}

// Handle доставляет одно уведомление (сейчас - в лог).
func (w *Worker) Handle(ctx context.Context, job ports.Job) error {
	var p NotifyJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		w.logger.ErrorContext(ctx, "malformed notification job dropped",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return nil
	}

	w.logger.InfoContext(ctx, "notification delivered",
		slog.String("notification_id", p.NotificationID),
		slog.String("user_id", p.UserID),
		slog.String("type", p.Type),
		slog.String("title", p.Title),
		slog.String("message", p.Message))
	return nil
}
