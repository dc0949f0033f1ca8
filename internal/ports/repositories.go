package ports

import (
	"context"
	"time"

	"github.com/gearmarket/escrow-service/internal/contracts"
	"github.com/gearmarket/escrow-service/internal/domain"
)

type BookingRepository interface {
	Create(ctx context.Context, row domain.Booking) error
	GetByID(ctx context.Context, bookingID string) (domain.Booking, error)
}

// EscrowLedger is the transactional store for bookings and their releases.
// Every method is a single atomic read-modify-write; the claim-token
// arguments make terminal transitions safe across concurrent workers.
type EscrowLedger interface {
	// HoldWithSchedule performs the intake transaction: records the external
	// event id (ErrDuplicateEvent if already recorded), transitions the
	// booking none -> holding with its platform fee, and persists the
	// schedule as pending releases. All-or-nothing.
	HoldWithSchedule(ctx context.Context, eventID, eventType, bookingID string, platformFee int64, releases []domain.EscrowRelease, dedupUntil, at time.Time) error

	// ClaimDue flips up to limit due pending releases to processing, stamped
	// with claimToken. Only rows whose conditional update succeeded are
	// returned; concurrent callers never receive the same release.
	ClaimDue(ctx context.Context, limit int, claimToken string, now time.Time) ([]domain.EscrowRelease, error)

	// ReclaimStuck re-claims releases left in processing since before
	// stuckBefore, for reconciliation against the transfer API.
	ReclaimStuck(ctx context.Context, stuckBefore time.Time, limit int, claimToken string, now time.Time) ([]domain.EscrowRelease, error)

	// CompleteRelease marks a claimed release completed, increments the
	// booking's released amount, and flips the booking to released once every
	// release is completed. Returns the updated booking and release.
	CompleteRelease(ctx context.Context, releaseID, claimToken, transferID string, at time.Time) (domain.Booking, domain.EscrowRelease, error)

	// RescheduleRelease returns a claimed release to pending with an
	// incremented attempt count, due again at nextAttempt.
	RescheduleRelease(ctx context.Context, releaseID, claimToken, reason string, nextAttempt, at time.Time) (domain.EscrowRelease, error)

	// FailRelease marks a claimed release permanently failed and the owning
	// booking failed.
	FailRelease(ctx context.Context, releaseID, claimToken, reason string, at time.Time) (domain.Booking, domain.EscrowRelease, error)

	// RetryFailedRelease is the operator override: failed -> pending with a
	// fresh attempt budget, booking back to holding.
	RetryFailedRelease(ctx context.Context, releaseID string, scheduledFor, at time.Time) (domain.EscrowRelease, error)

	// ResolveFailedRelease is the operator override for transfers settled out
	// of band: applies the normal completion transition from failed state.
	ResolveFailedRelease(ctx context.Context, releaseID, transferID, note string, at time.Time) (domain.Booking, domain.EscrowRelease, error)

	GetRelease(ctx context.Context, releaseID string) (domain.EscrowRelease, error)
	ListByPayee(ctx context.Context, payeeID string) ([]domain.EscrowRelease, error)
	BalanceByPayee(ctx context.Context, payeeID string, at time.Time) (domain.PayeeBalance, error)
}

// DedupCache is an advisory fast path in front of the ledger's processed
// event record. Misses are harmless; the ledger transaction is authoritative.
type DedupCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string, ttl time.Duration) error
}

type OutboxRecord struct {
	RecordID   string
	EventClass string
	Envelope   contracts.EventEnvelope
	CreatedAt  time.Time
	SentAt     *time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, record OutboxRecord) error
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, recordID string, at time.Time) error
}
