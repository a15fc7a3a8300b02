package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/domain/entities"
	"github.com/Haleralex/payflow/internal/domain/events"
	"github.com/Haleralex/payflow/internal/infrastructure/persistence/memory"
)

// seedSubscription сохраняет активную подписку, указывающую на url.
// Конструктор требует https, поэтому подписка под httptest-сервер
// собирается через Reconstruct.
func seedSubscription(t *testing.T, store *memory.Store, url string, failureCount int) *entities.WebhookSubscription {
	t.Helper()
	sub := entities.ReconstructWebhookSubscription(
		"whs_"+uuid.NewString(), uuid.New(), url, testSecret,
		[]string{events.TransactionCompleted, events.TransactionFailed},
		true, failureCount, time.Now(), time.Now(),
	)
	if err := store.Webhooks().SaveSubscription(context.Background(), sub); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	return sub
}

func seedDelivery(t *testing.T, store *memory.Store, webhookID string) *entities.WebhookDelivery {
	t.Helper()
	body := []byte(`{"event":"TRANSACTION_COMPLETED","transactionId":"txn_1","amount":6000}`)
	delivery := entities.NewWebhookDelivery(webhookID, "txn_1", events.TransactionCompleted, body)
	if err := store.Webhooks().SaveDelivery(context.Background(), delivery); err != nil {
		t.Fatalf("SaveDelivery: %v", err)
	}
	return delivery
}

func deliverJob(t *testing.T, deliveryID string, attemptsMade, maxAttempts int) ports.Job {
	t.Helper()
	payload, err := json.Marshal(DeliverJobPayload{DeliveryID: deliveryID})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return ports.Job{
		ID:           deliveryID,
		Name:         QueueJobDeliver,
		Payload:      payload,
		AttemptsMade: attemptsMade,
		MaxAttempts:  maxAttempts,
		BackoffBase:  time.Second,
		EnqueuedAt:   time.Now(),
	}
}

func TestWorker_Handle_Success(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	var gotSignature string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// Подписка с накопленными неудачами: успех должен их обнулить
	sub := seedSubscription(t, store, server.URL, 4)
	delivery := seedDelivery(t, store, sub.ID())
	worker := NewWorker(store.Webhooks(), nil, server.Client(), slog.New(slog.DiscardHandler))

	if err := worker.Handle(ctx, deliverJob(t, delivery.ID(), 0, 3)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if !VerifySignature(testSecret, gotBody, gotSignature) {
		t.Errorf("delivered body does not verify against %s header", SignatureHeader)
	}

	reloaded, err := store.Webhooks().FindDeliveryByID(ctx, delivery.ID())
	if err != nil {
		t.Fatalf("FindDeliveryByID: %v", err)
	}
	if reloaded.Status() != entities.DeliveryStatusSuccess {
		t.Errorf("status = %s, want SUCCESS", reloaded.Status())
	}
	if reloaded.ResponseCode() == nil || *reloaded.ResponseCode() != http.StatusOK {
		t.Errorf("responseCode = %v, want 200", reloaded.ResponseCode())
	}
	if reloaded.AttemptCount() != 1 {
		t.Errorf("attemptCount = %d, want 1", reloaded.AttemptCount())
	}

	subReloaded, _ := store.Webhooks().FindSubscriptionByID(ctx, sub.ID())
	if subReloaded.FailureCount() != 0 {
		t.Errorf("failureCount = %d, want 0 after success", subReloaded.FailureCount())
	}
}

// TestWorker_Handle_Retry: не-2xx на непоследней попытке возвращает
// ошибку наружу, чтобы очередь сделала backoff-ретрай.
func TestWorker_Handle_Retry(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sub := seedSubscription(t, store, server.URL, 0)
	delivery := seedDelivery(t, store, sub.ID())
	worker := NewWorker(store.Webhooks(), nil, server.Client(), slog.New(slog.DiscardHandler))

	err := worker.Handle(ctx, deliverJob(t, delivery.ID(), 0, 3))
	if err == nil {
		t.Fatal("non-final failure must return an error for the queue to retry")
	}

	reloaded, _ := store.Webhooks().FindDeliveryByID(ctx, delivery.ID())
	if reloaded.Status() != entities.DeliveryStatusRetrying {
		t.Errorf("status = %s, want RETRYING", reloaded.Status())
	}
	if reloaded.ResponseCode() == nil || *reloaded.ResponseCode() != http.StatusInternalServerError {
		t.Errorf("responseCode = %v, want 500", reloaded.ResponseCode())
	}
	if reloaded.NextRetryAt() == nil {
		t.Error("nextRetryAt must be set for a retrying delivery")
	}

	// Неудача промежуточной попытки ещё не трогает счётчик подписки
	subReloaded, _ := store.Webhooks().FindSubscriptionByID(ctx, sub.ID())
	if subReloaded.FailureCount() != 0 {
		t.Errorf("failureCount = %d, want 0", subReloaded.FailureCount())
	}
}

// TestWorker_Handle_FinalFailure: последняя попытка закрывает доставку в
// FAILED, ошибка уходит наружу (очередь учтёт job как проваленный),
// счётчик подписки растёт.
func TestWorker_Handle_FinalFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sub := seedSubscription(t, store, server.URL, 0)
	delivery := seedDelivery(t, store, sub.ID())
	worker := NewWorker(store.Webhooks(), nil, server.Client(), slog.New(slog.DiscardHandler))

	// AttemptsMade 2 при MaxAttempts 3: эта попытка - последняя
	if err := worker.Handle(ctx, deliverJob(t, delivery.ID(), 2, 3)); err == nil {
		t.Fatal("final failure must return an error so the queue records it as failed")
	}

	reloaded, _ := store.Webhooks().FindDeliveryByID(ctx, delivery.ID())
	if reloaded.Status() != entities.DeliveryStatusFailed {
		t.Errorf("status = %s, want FAILED", reloaded.Status())
	}
	if reloaded.CompletedAt() == nil {
		t.Error("completedAt must be set for a failed delivery")
	}

	subReloaded, _ := store.Webhooks().FindSubscriptionByID(ctx, sub.ID())
	if subReloaded.FailureCount() != 1 {
		t.Errorf("failureCount = %d, want 1", subReloaded.FailureCount())
	}
	if !subReloaded.IsActive() {
		t.Error("subscription must stay active below the threshold")
	}
}

// TestWorker_Handle_Deactivation: десятая подряд проваленная доставка
// выключает подписку.
func TestWorker_Handle_Deactivation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sub := seedSubscription(t, store, server.URL, DeactivationThreshold-1)
	delivery := seedDelivery(t, store, sub.ID())
	worker := NewWorker(store.Webhooks(), nil, server.Client(), slog.New(slog.DiscardHandler))

	if err := worker.Handle(ctx, deliverJob(t, delivery.ID(), 0, 1)); err == nil {
		t.Fatal("exhausted delivery must return an error")
	}

	subReloaded, _ := store.Webhooks().FindSubscriptionByID(ctx, sub.ID())
	if subReloaded.IsActive() {
		t.Error("subscription must be deactivated at the failure threshold")
	}
	if subReloaded.FailureCount() != DeactivationThreshold {
		t.Errorf("failureCount = %d, want %d", subReloaded.FailureCount(), DeactivationThreshold)
	}
}

func TestWorker_Handle_DroppedJobs(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := seedSubscription(t, store, server.URL, 0)
	worker := NewWorker(store.Webhooks(), nil, server.Client(), slog.New(slog.DiscardHandler))

	// Битая нагрузка
	if err := worker.Handle(ctx, ports.Job{ID: "j1", Payload: []byte("{not json"), MaxAttempts: 3}); err != nil {
		t.Errorf("malformed payload must be dropped, got %v", err)
	}
	// Запись доставки отсутствует
	if err := worker.Handle(ctx, deliverJob(t, "whd_missing", 0, 3)); err != nil {
		t.Errorf("missing delivery must be dropped, got %v", err)
	}
	// Доставка уже успешна - дубликат job'а
	done := seedDelivery(t, store, sub.ID())
	done.MarkSuccess(http.StatusOK)
	if err := store.Webhooks().SaveDelivery(ctx, done); err != nil {
		t.Fatalf("SaveDelivery: %v", err)
	}
	if err := worker.Handle(ctx, deliverJob(t, done.ID(), 1, 3)); err != nil {
		t.Errorf("already delivered job must be dropped, got %v", err)
	}

	if calls != 0 {
		t.Errorf("endpoint called %d times, want 0", calls)
	}
}

func TestWorker_Handle_InactiveSubscription(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	sub := seedSubscription(t, store, "http://127.0.0.1:0", 0)
	delivery := seedDelivery(t, store, sub.ID())
	if err := store.Webhooks().DeactivateSubscription(ctx, sub.ID()); err != nil {
		t.Fatalf("DeactivateSubscription: %v", err)
	}

	worker := NewWorker(store.Webhooks(), nil, nil, slog.New(slog.DiscardHandler))
	if err := worker.Handle(ctx, deliverJob(t, delivery.ID(), 0, 3)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	reloaded, _ := store.Webhooks().FindDeliveryByID(ctx, delivery.ID())
	if reloaded.Status() != entities.DeliveryStatusFailed {
		t.Errorf("status = %s, want FAILED", reloaded.Status())
	}
	if reloaded.LastError() != "subscription inactive" {
		t.Errorf("lastError = %q", reloaded.LastError())
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(time.Second, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(1s, %d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	// Нулевая база заменяется секундой
	if got := backoffDelay(0, 1); got != time.Second {
		t.Errorf("backoffDelay(0, 1) = %v", got)
	}
}
