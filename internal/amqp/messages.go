package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"budgeit/internal/core"
)

// Message kinds carried on the export queue.
const (
	KindRecorded = "transaction.recorded"
	KindVoided   = "transaction.voided"
)

// Envelope wraps every message with its kind and a raw payload.
type Envelope struct {
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// RecordedPayload references a transaction by id. The consumer re-reads
// the row, so a stale message after an edit still exports fresh data.
type RecordedPayload struct {
	TransactionID int64 `json:"transaction_id"`
}

// VoidedPayload carries the deleted row's summary in full.
type VoidedPayload struct {
	TransactionID int64             `json:"transaction_id"`
	Type          core.CategoryType `json:"type"`
	AmountCents   int64             `json:"amount_cents"`
	ItemName      string            `json:"item_name"`
	Date          core.Date         `json:"date"`
}

func newEnvelope(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	body, err := json.Marshal(Envelope{Kind: kind, Timestamp: time.Now().UTC(), Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", kind, err)
	}
	return body, nil
}

// Decode parses an envelope body received from the queue.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
