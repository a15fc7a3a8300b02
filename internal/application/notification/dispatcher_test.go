package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/domain/events"
)

type recordingQueue struct {
	enqueued []recordedJob
}

type recordedJob struct {
	name    string
	payload []byte
	opts    ports.EnqueueOptions
}

func (q *recordingQueue) Enqueue(ctx context.Context, name string, payload []byte, opts ports.EnqueueOptions) error {
	q.enqueued = append(q.enqueued, recordedJob{name: name, payload: payload, opts: opts})
	return nil
}
func (q *recordingQueue) Consume(ctx context.Context, handler ports.JobHandler) error { return nil }
func (q *recordingQueue) Stats(ctx context.Context) (ports.QueueStats, error) {
	return ports.QueueStats{}, nil
}
func (q *recordingQueue) Close(ctx context.Context) error { return nil }

func (q *recordingQueue) lastPayload(t *testing.T) NotifyJobPayload {
	t.Helper()
	if len(q.enqueued) == 0 {
		t.Fatal("no jobs enqueued")
	}
	job := q.enqueued[len(q.enqueued)-1]
	if job.name != QueueJobNotify {
		t.Fatalf("job name = %q, want %q", job.name, QueueJobNotify)
	}
	var p NotifyJobPayload
	if err := json.Unmarshal(job.payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if job.opts.JobID != p.NotificationID {
		t.Errorf("JobID = %q, notificationID = %q", job.opts.JobID, p.NotificationID)
	}
	return p
}

func mustEvent(t *testing.T, eventType string, payload any) events.Event {
	t.Helper()
	event, err := events.NewEvent(eventType, "txn_1", payload)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return event
}

func TestDispatcher_Initiated(t *testing.T) {
	queue := &recordingQueue{}
	d := NewDispatcher(nil, queue, slog.New(slog.DiscardHandler))
	sender := uuid.NewString()

	err := d.handleInitiated(context.Background(), mustEvent(t, events.TransactionInitiated, events.TransactionInitiatedPayload{
		TransactionID: "txn_1",
		SenderID:      sender,
		ReceiverID:    uuid.NewString(),
		AmountCents:   10050,
		Currency:      "USD",
	}))
	if err != nil {
		t.Fatalf("handleInitiated: %v", err)
	}

	p := queue.lastPayload(t)
	if p.UserID != sender || p.Type != "transfer_initiated" {
		t.Errorf("payload = %+v", p)
	}
	if !strings.Contains(p.Message, "100.50 USD") {
		t.Errorf("message = %q", p.Message)
	}
	if p.Data["transactionId"] != "txn_1" {
		t.Errorf("data = %v", p.Data)
	}
	if !strings.HasPrefix(p.NotificationID, "ntf_") {
		t.Errorf("notificationID = %q", p.NotificationID)
	}
}

func TestDispatcher_Completed(t *testing.T) {
	queue := &recordingQueue{}
	d := NewDispatcher(nil, queue, slog.New(slog.DiscardHandler))
	sender := uuid.NewString()

	err := d.handleCompleted(context.Background(), mustEvent(t, events.TransactionCompleted, events.TransactionCompletedPayload{
		TransactionID: "txn_1",
		SenderID:      sender,
		ReceiverID:    uuid.NewString(),
		AmountCents:   6000,
		Currency:      "USD",
		CompletedAt:   time.Now(),
	}))
	if err != nil {
		t.Fatalf("handleCompleted: %v", err)
	}

	p := queue.lastPayload(t)
	if p.UserID != sender || p.Type != "transfer_completed" {
		t.Errorf("payload = %+v", p)
	}
}

func TestDispatcher_Failed(t *testing.T) {
	tests := []struct {
		name        string
		refunded    bool
		wantRefund  bool
	}{
		{"without refund", false, false},
		{"with refund", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &recordingQueue{}
			d := NewDispatcher(nil, queue, slog.New(slog.DiscardHandler))
			sender := uuid.NewString()

			err := d.handleFailed(context.Background(), mustEvent(t, events.TransactionFailed, events.TransactionFailedPayload{
				TransactionID: "txn_1",
				SenderID:      sender,
				ReceiverID:    uuid.NewString(),
				AmountCents:   6000,
				Currency:      "USD",
				Reason:        "insufficient balance",
				Refunded:      tt.refunded,
			}))
			if err != nil {
				t.Fatalf("handleFailed: %v", err)
			}

			p := queue.lastPayload(t)
			if p.UserID != sender || p.Type != "transfer_failed" {
				t.Errorf("payload = %+v", p)
			}
			if !strings.Contains(p.Message, "insufficient balance") {
				t.Errorf("message = %q", p.Message)
			}
			if got := strings.Contains(p.Message, "(amount refunded)"); got != tt.wantRefund {
				t.Errorf("refund suffix present = %v, want %v", got, tt.wantRefund)
			}
		})
	}
}

// TestDispatcher_CreditSuccess: единственное уведомление, адресованное
// получателю перевода.
func TestDispatcher_CreditSuccess(t *testing.T) {
	queue := &recordingQueue{}
	d := NewDispatcher(nil, queue, slog.New(slog.DiscardHandler))
	receiver := uuid.NewString()

	err := d.handleCreditSuccess(context.Background(), mustEvent(t, events.CreditSuccess, events.CreditResultPayload{
		TransactionID: "txn_1",
		SenderID:      uuid.NewString(),
		ReceiverID:    receiver,
		AmountCents:   6000,
		Currency:      "USD",
	}))
	if err != nil {
		t.Fatalf("handleCreditSuccess: %v", err)
	}

	p := queue.lastPayload(t)
	if p.UserID != receiver {
		t.Errorf("UserID = %q, want receiver %q", p.UserID, receiver)
	}
	if p.Type != "funds_received" {
		t.Errorf("Type = %q", p.Type)
	}
}

// TestDispatcher_RedeliveredEventKeepsJobID: повторная доставка того же
// события даёт тот же jobId, чтобы дедупликация очереди погасила
// дубликат уведомления. Разные события дают разные jobId.
func TestDispatcher_RedeliveredEventKeepsJobID(t *testing.T) {
	queue := &recordingQueue{}
	d := NewDispatcher(nil, queue, slog.New(slog.DiscardHandler))
	sender := uuid.NewString()

	payload := events.TransactionCompletedPayload{
		TransactionID: "txn_1",
		SenderID:      sender,
		ReceiverID:    uuid.NewString(),
		AmountCents:   6000,
		Currency:      "USD",
		CompletedAt:   time.Now(),
	}
	for i := 0; i < 2; i++ {
		if err := d.handleCompleted(context.Background(), mustEvent(t, events.TransactionCompleted, payload)); err != nil {
			t.Fatalf("handleCompleted #%d: %v", i+1, err)
		}
	}
	if len(queue.enqueued) != 2 {
		t.Fatalf("enqueued = %d jobs, want 2", len(queue.enqueued))
	}
	if queue.enqueued[0].opts.JobID != queue.enqueued[1].opts.JobID {
		t.Errorf("redelivered event changed jobId: %q vs %q",
			queue.enqueued[0].opts.JobID, queue.enqueued[1].opts.JobID)
	}

	// Другая транзакция того же отправителя - другой jobId
	payload.TransactionID = "txn_2"
	if err := d.handleCompleted(context.Background(), mustEvent(t, events.TransactionCompleted, payload)); err != nil {
		t.Fatalf("handleCompleted: %v", err)
	}
	if queue.enqueued[2].opts.JobID == queue.enqueued[0].opts.JobID {
		t.Error("different transactions must produce different jobIds")
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{10050, "100.50 USD"},
		{5, "0.05 USD"},
		{100, "1.00 USD"},
	}
	for _, tt := range tests {
		if got := formatAmount(tt.cents, "USD"); got != tt.want {
			t.Errorf("formatAmount(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}
