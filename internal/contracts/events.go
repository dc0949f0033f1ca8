package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	EventClass       string          `json:"event_class,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

type EscrowHoldCreatedPayload struct {
	BookingID    string `json:"booking_id"`
	PayerID      string `json:"payer_id"`
	PayeeID      string `json:"payee_id"`
	NetAmount    int64  `json:"net_amount"`
	PlatformFee  int64  `json:"platform_fee"`
	ReleaseCount int    `json:"release_count"`
	HeldAt       string `json:"held_at"`
}

type ReleaseCompletedPayload struct {
	BookingID          string `json:"booking_id"`
	ReleaseID          string `json:"release_id"`
	PayeeID            string `json:"payee_id"`
	Amount             int64  `json:"amount"`
	ExternalTransferID string `json:"external_transfer_id"`
	EquipmentTitle     string `json:"equipment_title,omitempty"`
	ReleasedAt         string `json:"released_at"`
}

type ReleaseRetryScheduledPayload struct {
	BookingID    string `json:"booking_id"`
	ReleaseID    string `json:"release_id"`
	AttemptCount int    `json:"attempt_count"`
	NextAttempt  string `json:"next_attempt"`
	Reason       string `json:"reason"`
}

type ReleaseFailedPayload struct {
	BookingID    string `json:"booking_id"`
	ReleaseID    string `json:"release_id"`
	PayeeID      string `json:"payee_id"`
	Amount       int64  `json:"amount"`
	AttemptCount int    `json:"attempt_count"`
	Reason       string `json:"reason"`
	FailedAt     string `json:"failed_at"`
}

type BookingReleasedPayload struct {
	BookingID      string `json:"booking_id"`
	PayeeID        string `json:"payee_id"`
	ReleasedAmount int64  `json:"released_amount"`
	ReleasedAt     string `json:"released_at"`
}

type DLQRecord struct {
	OriginalEvent EventEnvelope `json:"original_event"`
	ErrorSummary  string        `json:"error_summary"`
	RetryCount    int           `json:"retry_count"`
	FirstSeenAt   time.Time     `json:"first_seen_at"`
	LastErrorAt   time.Time     `json:"last_error_at"`
	SourceTopic   string        `json:"source_topic,omitempty"`
	DLQTopic      string        `json:"dlq_topic,omitempty"`
	TraceID       string        `json:"trace_id,omitempty"`
}
