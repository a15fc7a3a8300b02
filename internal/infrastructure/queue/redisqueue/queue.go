// Package redisqueue - durable-очередь задач на Redis.
//
// Контракт в духе BullMQ: dedup по jobId, экспоненциальный backoff,
// ограниченное хранение завершённых задач. Раскладка ключей
// (префикс "payflow:queue:<name>:"):
//
//	jobs      HASH  jobID -> JSON задачи
//	wait      LIST  jobID, готовые к исполнению
//	active    LIST  jobID, взятые воркером
//	claims    HASH  jobID -> unix ms момента взятия
//	delayed   ZSET  jobID -> unix ms готовности (backoff и Delay)
//	completed LIST  jobID, успешно завершённые (обрезается)
//	failed    LIST  jobID, исчерпавшие попытки (обрезается)
//	dedup     SET   живые jobID (wait | active | delayed)
//
// Воркеры забирают задачи через LMOVE wait -> active: упавший процесс
// оставляет jobID в active, а не теряет задачу. Фоновый reclaim-цикл
// возвращает в wait задачи, чья отметка в claims старше StalledAfter -
// аналог проверки stalled-задач в BullMQ.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Haleralex/payflow/internal/application/ports"
)

const (
	keyPrefix = "payflow:queue:"

	// retainedJobs - сколько завершённых/проваленных jobID хранится.
	retainedJobs = 1000

	// pollInterval - пауза воркера при пустой очереди.
	pollInterval = 100 * time.Millisecond

	// promoteInterval - период переноса созревших delayed-задач в wait.
	promoteInterval = 250 * time.Millisecond
)

// Options настраивают очередь.
type Options struct {
	// Concurrency - число воркеров Consume. 0 = 1.
	Concurrency int

	// DefaultAttempts - потолок попыток, если Enqueue не задал свой.
	DefaultAttempts int

	// DefaultBackoff - база backoff, если Enqueue не задал свою.
	DefaultBackoff time.Duration

	// StalledAfter - сколько задача может висеть в active без движения,
	// прежде чем reclaim вернёт её в wait. 0 = 30s.
	StalledAfter time.Duration
}

// Compile-time check
var _ ports.JobQueue = (*Queue)(nil)

// Queue - одна именованная очередь поверх общего Redis-клиента.
type Queue struct {
	name   string
	client *redis.Client
	logger *slog.Logger
	opts   Options

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	consumed bool
}

// NewQueue создаёт очередь.
func NewQueue(name string, client *redis.Client, logger *slog.Logger, opts Options) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.DefaultAttempts <= 0 {
		opts.DefaultAttempts = 1
	}
	if opts.DefaultBackoff <= 0 {
		opts.DefaultBackoff = time.Second
	}
	if opts.StalledAfter <= 0 {
		opts.StalledAfter = 30 * time.Second
	}
	return &Queue{
		name:   name,
		client: client,
		logger: logger,
		opts:   opts,
	}
}

func (q *Queue) key(suffix string) string {
	return keyPrefix + q.name + ":" + suffix
}

// backoffDelay считает паузу после n-й неудачной попытки:
// base * 2^(n-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Enqueue ставит задачу. Повтор с тем же JobID, пока задача живёт
// в очереди, молча игнорируется.
func (q *Queue) Enqueue(ctx context.Context, name string, payload []byte, opts ports.EnqueueOptions) error {
	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	added, err := q.client.SAdd(ctx, q.key("dedup"), jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve job id: %w", err)
	}
	if added == 0 {
		jobsDeduplicated.WithLabelValues(q.name).Inc()
		return nil
	}

	job := ports.Job{
		ID:           jobID,
		Name:         name,
		Payload:      payload,
		MaxAttempts:  q.opts.DefaultAttempts,
		BackoffBase:  q.opts.DefaultBackoff,
		EnqueuedAt:   time.Now(),
	}
	if opts.Attempts > 0 {
		job.MaxAttempts = opts.Attempts
	}
	if opts.BackoffBase > 0 {
		job.BackoffBase = opts.BackoffBase
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.HSet(ctx, q.key("jobs"), jobID, data).Err(); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}

	if opts.Delay > 0 {
		readyAt := float64(time.Now().Add(opts.Delay).UnixMilli())
		if err := q.client.ZAdd(ctx, q.key("delayed"), redis.Z{Score: readyAt, Member: jobID}).Err(); err != nil {
			return fmt.Errorf("failed to delay job: %w", err)
		}
	} else {
		if err := q.client.LPush(ctx, q.key("wait"), jobID).Err(); err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
	}

	jobsEnqueued.WithLabelValues(q.name).Inc()
	return nil
}

// Consume запускает воркеров и промоутер delayed-задач. Не блокирует.
func (q *Queue) Consume(ctx context.Context, handler ports.JobHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("queue %s is closed", q.name)
	}
	if q.consumed {
		return fmt.Errorf("queue %s already has consumers", q.name)
	}
	q.consumed = true

	runCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	q.wg.Add(1)
	go q.promoteLoop(runCtx)

	q.wg.Add(1)
	go q.reclaimLoop(runCtx)

	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.workerLoop(runCtx, handler)
	}
	return nil
}

// promoteLoop переносит созревшие delayed-задачи в wait.
func (q *Queue) promoteLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				q.logger.ErrorContext(ctx, "failed to promote delayed jobs",
					"queue", q.name,
					"error", err)
			}
		}
	}
}

// promoteDue атомарность не требуется: ZRem до LPush гарантирует, что
// задача не будет продвинута дважды.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	due, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}

	for _, jobID := range due {
		removed, err := q.client.ZRem(ctx, q.key("delayed"), jobID).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.key("wait"), jobID).Err(); err != nil {
			return err
		}
	}
	return nil
}

// reclaimLoop периодически возвращает зависшие active-задачи в wait.
func (q *Queue) reclaimLoop(ctx context.Context) {
	defer q.wg.Done()

	interval := q.opts.StalledAfter / 2
	if interval < pollInterval {
		interval = pollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.reclaimStalled(ctx); err != nil && !errors.Is(err, context.Canceled) {
				q.logger.ErrorContext(ctx, "failed to reclaim stalled jobs",
					"queue", q.name,
					"error", err)
			}
		}
	}
}

// reclaimStalled возвращает в wait задачи, чья отметка в claims старше
// StalledAfter. Задача без отметки (воркер упал между LMOVE и HSET)
// получает её здесь и будет возвращена следующим проходом. LREM с
// нулевым результатом означает, что воркер успел завершить задачу -
// такую не трогаем.
func (q *Queue) reclaimStalled(ctx context.Context) error {
	jobIDs, err := q.client.LRange(ctx, q.key("active"), 0, -1).Result()
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for _, jobID := range jobIDs {
		set, err := q.client.HSetNX(ctx, q.key("claims"), jobID, now).Result()
		if err != nil {
			return err
		}
		if set {
			continue
		}

		claimed, err := q.client.HGet(ctx, q.key("claims"), jobID).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return err
		}
		if now-claimed < q.opts.StalledAfter.Milliseconds() {
			continue
		}

		removed, err := q.client.LRem(ctx, q.key("active"), 1, jobID).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}

		q.client.HDel(ctx, q.key("claims"), jobID)
		if err := q.client.LPush(ctx, q.key("wait"), jobID).Err(); err != nil {
			return err
		}
		jobsReclaimed.WithLabelValues(q.name).Inc()

		q.logger.WarnContext(ctx, "stalled job returned to wait",
			"queue", q.name,
			"job_id", jobID,
			"stalled_for", time.Duration(now-claimed)*time.Millisecond)
	}
	return nil
}

// workerLoop забирает задачи из wait и исполняет их.
func (q *Queue) workerLoop(ctx context.Context, handler ports.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := q.client.LMove(ctx, q.key("wait"), q.key("active"), "right", "left").Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
				q.logger.ErrorContext(ctx, "failed to claim job",
					"queue", q.name,
					"error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		q.runJob(ctx, jobID, handler)
	}
}

// runJob исполняет одну попытку задачи и раскладывает исход.
//
// Учёт исхода идёт через context.WithoutCancel: отмена воркера при
// Close не должна оставлять уже обработанную задачу висеть в active.
func (q *Queue) runJob(ctx context.Context, jobID string, handler ports.JobHandler) {
	bg := context.WithoutCancel(ctx)

	q.client.HSet(bg, q.key("claims"), jobID, time.Now().UnixMilli())

	data, err := q.client.HGet(bg, q.key("jobs"), jobID).Result()
	if err != nil {
		// Данные задачи потеряны: убираем её из active и dedup.
		q.logger.ErrorContext(ctx, "job data missing, dropping",
			"queue", q.name,
			"job_id", jobID,
			"error", err)
		q.discard(bg, jobID)
		return
	}

	var job ports.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		q.logger.ErrorContext(ctx, "job data corrupt, dropping",
			"queue", q.name,
			"job_id", jobID,
			"error", err)
		q.discard(bg, jobID)
		return
	}

	handlerErr := handler(ctx, job)
	if handlerErr == nil {
		q.complete(bg, jobID)
		return
	}

	attempt := job.AttemptsMade + 1
	if attempt >= job.MaxAttempts {
		q.fail(bg, jobID, handlerErr)
		return
	}
	q.reschedule(bg, job, attempt, handlerErr)
}

// complete убирает задачу из active и кладёт её в completed.
func (q *Queue) complete(ctx context.Context, jobID string) {
	q.client.LRem(ctx, q.key("active"), 1, jobID)
	q.client.HDel(ctx, q.key("claims"), jobID)
	q.client.HDel(ctx, q.key("jobs"), jobID)
	q.client.SRem(ctx, q.key("dedup"), jobID)
	q.client.LPush(ctx, q.key("completed"), jobID)
	q.client.LTrim(ctx, q.key("completed"), 0, retainedJobs-1)
	jobsCompleted.WithLabelValues(q.name).Inc()
}

// fail фиксирует окончательный провал задачи.
func (q *Queue) fail(ctx context.Context, jobID string, cause error) {
	q.client.LRem(ctx, q.key("active"), 1, jobID)
	q.client.HDel(ctx, q.key("claims"), jobID)
	q.client.HDel(ctx, q.key("jobs"), jobID)
	q.client.SRem(ctx, q.key("dedup"), jobID)
	q.client.LPush(ctx, q.key("failed"), jobID)
	q.client.LTrim(ctx, q.key("failed"), 0, retainedJobs-1)
	jobsFailed.WithLabelValues(q.name).Inc()

	q.logger.ErrorContext(ctx, "job exhausted all attempts",
		"queue", q.name,
		"job_id", jobID,
		"error", cause)
}

// reschedule возвращает задачу в delayed с экспоненциальным backoff.
func (q *Queue) reschedule(ctx context.Context, job ports.Job, attempt int, cause error) {
	job.AttemptsMade = attempt

	data, err := json.Marshal(job)
	if err != nil {
		q.logger.ErrorContext(ctx, "failed to marshal job for retry",
			"queue", q.name,
			"job_id", job.ID,
			"error", err)
		q.discard(ctx, job.ID)
		return
	}

	delay := backoffDelay(job.BackoffBase, attempt)
	readyAt := float64(time.Now().Add(delay).UnixMilli())

	q.client.HSet(ctx, q.key("jobs"), job.ID, data)
	q.client.LRem(ctx, q.key("active"), 1, job.ID)
	q.client.HDel(ctx, q.key("claims"), job.ID)
	q.client.ZAdd(ctx, q.key("delayed"), redis.Z{Score: readyAt, Member: job.ID})
	jobsRetried.WithLabelValues(q.name).Inc()

	q.logger.WarnContext(ctx, "job attempt failed, retrying",
		"queue", q.name,
		"job_id", job.ID,
		"attempt", attempt,
		"max_attempts", job.MaxAttempts,
		"retry_in", delay,
		"error", cause)
}

// discard убирает следы задачи без записи в completed/failed.
func (q *Queue) discard(ctx context.Context, jobID string) {
	q.client.LRem(ctx, q.key("active"), 1, jobID)
	q.client.HDel(ctx, q.key("claims"), jobID)
	q.client.HDel(ctx, q.key("jobs"), jobID)
	q.client.SRem(ctx, q.key("dedup"), jobID)
}

// Stats возвращает счётчики очереди. Completed считает задачи, чей
// обработчик вернул nil, включая сознательно отброшенные; Failed -
// только исчерпавшие попытки.
func (q *Queue) Stats(ctx context.Context) (ports.QueueStats, error) {
	var stats ports.QueueStats
	var err error

	if stats.Waiting, err = q.client.LLen(ctx, q.key("wait")).Result(); err != nil {
		return stats, fmt.Errorf("failed to read queue stats: %w", err)
	}
	if stats.Active, err = q.client.LLen(ctx, q.key("active")).Result(); err != nil {
		return stats, fmt.Errorf("failed to read queue stats: %w", err)
	}
	if stats.Completed, err = q.client.LLen(ctx, q.key("completed")).Result(); err != nil {
		return stats, fmt.Errorf("failed to read queue stats: %w", err)
	}
	if stats.Failed, err = q.client.LLen(ctx, q.key("failed")).Result(); err != nil {
		return stats, fmt.Errorf("failed to read queue stats: %w", err)
	}
	if stats.Delayed, err = q.client.ZCard(ctx, q.key("delayed")).Result(); err != nil {
		return stats, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return stats, nil
}

// Close останавливает воркеров, дожидаясь текущих задач.
// Общий Redis-клиент остаётся открытым: его закрывает владелец.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
	return nil
}
