package domain

import "time"

type ReleaseStatus string

const (
	ReleaseStatusPending    ReleaseStatus = "pending"
	ReleaseStatusProcessing ReleaseStatus = "processing"
	ReleaseStatusCompleted  ReleaseStatus = "completed"
	ReleaseStatusFailed     ReleaseStatus = "failed"
)

type ReleaseType string

const (
	ReleaseTypeImmediate   ReleaseType = "immediate"
	ReleaseTypePartial     ReleaseType = "partial"
	ReleaseTypeInstallment ReleaseType = "installment"
)

// EscrowRelease is one scheduled partial payout of a booking's escrowed
// funds. pending is the only re-entrant state; processing is a claim held by
// exactly one worker, never a rest state.
type EscrowRelease struct {
	ReleaseID          string        `json:"release_id"`
	BookingID          string        `json:"booking_id"`
	Amount             int64         `json:"amount"`
	ReleaseType        ReleaseType   `json:"release_type"`
	ScheduledFor       time.Time     `json:"scheduled_for"`
	Status             ReleaseStatus `json:"status"`
	AttemptCount       int           `json:"attempt_count"`
	ClaimToken         string        `json:"-"`
	ProcessingAt       *time.Time    `json:"processing_at,omitempty"`
	ReleasedAt         *time.Time    `json:"released_at,omitempty"`
	ExternalTransferID string        `json:"external_transfer_id,omitempty"`
	FailureReason      string        `json:"failure_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// RetryBackoff returns the delay before the given attempt is retried:
// base * 2^attempt, capped.
func RetryBackoff(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if cap > 0 && d >= cap {
			return cap
		}
	}
	if cap > 0 && d > cap {
		return cap
	}
	return d
}
