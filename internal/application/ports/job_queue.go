// Package ports - JobQueue для отложенной фоновой работы с ретраями.
//
// Контракт в духе BullMQ: именованные очереди, dedup по jobId,
// экспоненциальный backoff, ограниченное хранение завершённых задач.
package ports

import (
	"context"
	"time"
)

// Job - одна единица фоновой работы.
type Job struct {
	// ID - ключ дедупликации. Повторный Enqueue с тем же ID,
	// пока задача живёт в очереди, игнорируется.
	ID string `json:"id"`

	// Name - тип задачи внутри очереди (routing для консюмера).
	Name string `json:"name"`

	// Payload - произвольные данные задачи (JSON).
	Payload []byte `json:"payload"`

	// AttemptsMade - сколько попыток уже сделано (0 при первом запуске).
	AttemptsMade int `json:"attemptsMade"`

	// MaxAttempts - потолок попыток для этой задачи.
	MaxAttempts int `json:"maxAttempts"`

	// BackoffBase - база экспоненциального backoff:
	// delay(n) = BackoffBase * 2^(n-1) после n-й неудачи.
	BackoffBase time.Duration `json:"backoffBase"`

	// EnqueuedAt - время постановки.
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// EnqueueOptions настраивают постановку задачи.
type EnqueueOptions struct {
	// JobID - явный ключ дедупликации. Пустой = без дедупликации.
	JobID string

	// Attempts - максимум попыток (0 = дефолт очереди).
	Attempts int

	// BackoffBase - база backoff (0 = дефолт очереди).
	BackoffBase time.Duration

	// Delay - отложить первый запуск.
	Delay time.Duration
}

// JobHandler обрабатывает задачу. nil = успех; ошибка = ретрай с
// backoff, пока не исчерпаны попытки.
type JobHandler func(ctx context.Context, job Job) error

// QueueStats - счётчики состояния очереди.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// JobQueue - именованная durable-очередь задач.
//
// Гарантии:
// - задача переживает рестарт процесса (хранение в Redis)
// - at-least-once обработка: handler обязан быть идемпотентным
// - неудача -> повтор через BackoffBase * 2^(attempt-1)
// - после исчерпания попыток задача попадает в failed
type JobQueue interface {
	// Enqueue ставит задачу. Дубликат по JobID молча игнорируется.
	Enqueue(ctx context.Context, name string, payload []byte, opts EnqueueOptions) error

	// Consume запускает воркеров, обрабатывающих задачи handler'ом.
	// Не блокирует; воркеры живут до Close или отмены ctx.
	Consume(ctx context.Context, handler JobHandler) error

	// Stats возвращает текущие счётчики очереди.
	Stats(ctx context.Context) (QueueStats, error)

	// Close останавливает воркеров (дожидаясь текущих задач) и
	// закрывает соединение.
	Close(ctx context.Context) error
}
