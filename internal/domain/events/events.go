// Package events defines the domain events flowing through the event bus.
// Every message on the wire is an Event envelope with a typed JSON payload.
//
// Delivery is at-least-once: every consumer must tolerate duplicates.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types published by the engine. The string values are the wire
// contract shared with external webhook consumers.
const (
	// Transaction lifecycle.
	TransactionInitiated = "TRANSACTION_INITIATED"
	TransactionCompleted = "TRANSACTION_COMPLETED"
	TransactionFailed    = "TRANSACTION_FAILED"

	// Saga step outcomes.
	DebitSuccess    = "DEBIT_SUCCESS"
	DebitFailed     = "DEBIT_FAILED"
	CreditSuccess   = "CREDIT_SUCCESS"
	CreditFailed    = "CREDIT_FAILED"
	RefundRequested = "REFUND_REQUESTED"
	RefundCompleted = "REFUND_COMPLETED"
	RefundFailed    = "REFUND_FAILED"
)

// AllEventTypes lists every event type the engine can publish.
var AllEventTypes = []string{
	TransactionInitiated,
	TransactionCompleted,
	TransactionFailed,
	DebitSuccess,
	DebitFailed,
	CreditSuccess,
	CreditFailed,
	RefundRequested,
	RefundCompleted,
	RefundFailed,
}

// IsValidEventType reports whether t is a known event type.
func IsValidEventType(t string) bool {
	for _, known := range AllEventTypes {
		if known == t {
			return true
		}
	}
	return false
}

// Event is the envelope carried on the bus. Payload holds the
// type-specific body as raw JSON.
type Event struct {
	EventType     string          `json:"eventType"`
	TransactionID string          `json:"transactionId"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEvent wraps a payload struct into an envelope.
func NewEvent(eventType, transactionID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		EventType:     eventType,
		TransactionID: transactionID,
		Timestamp:     time.Now().UTC(),
		Payload:       raw,
	}, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (e Event) DecodePayload(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// Payload bodies. Amounts travel as minor units (cents).

// TransactionInitiatedPayload accompanies TRANSACTION_INITIATED.
type TransactionInitiatedPayload struct {
	TransactionID string `json:"transactionId"`
	SenderID      string `json:"senderId"`
	ReceiverID    string `json:"receiverId"`
	AmountCents   int64  `json:"amountCents"`
	Currency      string `json:"currency"`
	Description   string `json:"description,omitempty"`
}

// TransactionCompletedPayload accompanies TRANSACTION_COMPLETED.
type TransactionCompletedPayload struct {
	TransactionID string    `json:"transactionId"`
	SenderID      string    `json:"senderId"`
	ReceiverID    string    `json:"receiverId"`
	AmountCents   int64     `json:"amountCents"`
	Currency      string    `json:"currency"`
	CompletedAt   time.Time `json:"completedAt"`
}

// TransactionFailedPayload accompanies TRANSACTION_FAILED.
type TransactionFailedPayload struct {
	TransactionID string `json:"transactionId"`
	SenderID      string `json:"senderId"`
	ReceiverID    string `json:"receiverId"`
	AmountCents   int64  `json:"amountCents"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason"`
	Refunded      bool   `json:"refunded"`
}

// DebitResultPayload accompanies DEBIT_SUCCESS and DEBIT_FAILED.
type DebitResultPayload struct {
	TransactionID string `json:"transactionId"`
	SenderID      string `json:"senderId"`
	ReceiverID    string `json:"receiverId"`
	AmountCents   int64  `json:"amountCents"`
	Currency      string `json:"currency"`
	OperationID   string `json:"operationId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// CreditResultPayload accompanies CREDIT_SUCCESS and CREDIT_FAILED.
type CreditResultPayload struct {
	TransactionID string `json:"transactionId"`
	SenderID      string `json:"senderId"`
	ReceiverID    string `json:"receiverId"`
	AmountCents   int64  `json:"amountCents"`
	Currency      string `json:"currency"`
	OperationID   string `json:"operationId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// RefundPayload accompanies REFUND_REQUESTED, REFUND_COMPLETED and
// REFUND_FAILED.
type RefundPayload struct {
	TransactionID string `json:"transactionId"`
	SenderID      string `json:"senderId"`
	AmountCents   int64  `json:"amountCents"`
	Currency      string `json:"currency"`
	OperationID   string `json:"operationId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}
