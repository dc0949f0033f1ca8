package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/gearmarket/escrow-service/internal/domain"
)

// ProcessDueReleases claims due pending releases and drives each through the
// transfer API. Failures are contained per release; one bad transfer never
// aborts the rest of the batch.
func (s *Service) ProcessDueReleases(ctx context.Context) (ProcessStats, error) {
	claimToken := uuid.NewString()
	now := s.nowFn()
	claimed, err := s.ledger.ClaimDue(ctx, s.cfg.ClaimBatchSize, claimToken, now)
	if err != nil {
		return ProcessStats{}, err
	}

	stats := ProcessStats{Claimed: len(claimed)}
	for _, release := range claimed {
		switch s.processClaimed(ctx, release, claimToken) {
		case outcomeCompleted:
			stats.Completed++
		case outcomeRetried:
			stats.Retried++
		case outcomeFailed:
			stats.Failed++
		}
	}
	if stats.Claimed > 0 {
		s.logger.InfoContext(ctx, "release batch processed",
			"module", "application",
			"operation", "process_due_releases",
			"outcome", "success",
			"claimed", stats.Claimed,
			"completed", stats.Completed,
			"retried", stats.Retried,
			"failed", stats.Failed,
		)
	}
	return stats, nil
}

type releaseOutcome int

const (
	outcomeSkipped releaseOutcome = iota
	outcomeCompleted
	outcomeRetried
	outcomeFailed
)

func (s *Service) processClaimed(ctx context.Context, release domain.EscrowRelease, claimToken string) releaseOutcome {
	booking, err := s.bookings.GetByID(ctx, release.BookingID)
	if err != nil {
		return s.handleTransferFailure(ctx, release, claimToken, "booking lookup: "+err.Error())
	}
	destination, err := s.directory.PayeeConnectAccount(ctx, booking.PayeeID)
	if err != nil {
		return s.handleTransferFailure(ctx, release, claimToken, "connect account lookup: "+err.Error())
	}

	transferCtx, cancel := context.WithTimeout(ctx, s.cfg.TransferTimeout)
	result, err := s.transfers.Transfer(transferCtx, destination, release.Amount, booking.Currency, release.ReleaseID)
	cancel()
	if err != nil {
		// A timeout may have succeeded on the provider side; the idempotency
		// key (release id) makes the retry safe.
		return s.handleTransferFailure(ctx, release, claimToken, err.Error())
	}

	return s.completeClaimed(ctx, release, claimToken, result.TransferID)
}

func (s *Service) completeClaimed(ctx context.Context, release domain.EscrowRelease, claimToken, transferID string) releaseOutcome {
	now := s.nowFn()
	booking, completed, err := s.ledger.CompleteRelease(ctx, release.ReleaseID, claimToken, transferID, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "complete release failed",
			"module", "application",
			"operation", "complete_release",
			"outcome", "failure",
			"release_id", release.ReleaseID,
			"transfer_id", transferID,
			"error", err,
		)
		return outcomeSkipped
	}
	s.enqueueCompletionEvents(ctx, booking, completed, now)
	return outcomeCompleted
}

func (s *Service) handleTransferFailure(ctx context.Context, release domain.EscrowRelease, claimToken, reason string) releaseOutcome {
	now := s.nowFn()
	attempts := release.AttemptCount + 1

	if attempts < s.cfg.MaxAttempts {
		next := now.Add(domain.RetryBackoff(s.cfg.RetryBackoffBase, s.cfg.RetryBackoffCap, attempts))
		rescheduled, err := s.ledger.RescheduleRelease(ctx, release.ReleaseID, claimToken, reason, next, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "reschedule release failed",
				"module", "application",
				"operation", "reschedule_release",
				"outcome", "failure",
				"release_id", release.ReleaseID,
				"error", err,
			)
			return outcomeSkipped
		}
		s.logger.WarnContext(ctx, "transfer failed, retry scheduled",
			"module", "application",
			"operation", "process_release",
			"outcome", "retry",
			"release_id", release.ReleaseID,
			"attempt_count", rescheduled.AttemptCount,
			"next_attempt", next,
			"reason", reason,
		)
		if err := s.enqueueRetryScheduled(ctx, rescheduled, next, reason, now); err != nil {
			s.logger.ErrorContext(ctx, "enqueue retry event failed",
				"module", "application",
				"operation", "process_release",
				"outcome", "degraded",
				"release_id", release.ReleaseID,
				"error", err,
			)
		}
		return outcomeRetried
	}

	booking, failed, err := s.ledger.FailRelease(ctx, release.ReleaseID, claimToken, reason, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "fail release failed",
			"module", "application",
			"operation", "fail_release",
			"outcome", "failure",
			"release_id", release.ReleaseID,
			"error", err,
		)
		return outcomeSkipped
	}
	s.logger.ErrorContext(ctx, "release permanently failed, operator action required",
		"module", "application",
		"operation", "process_release",
		"outcome", "failure",
		"release_id", failed.ReleaseID,
		"booking_id", booking.BookingID,
		"attempt_count", failed.AttemptCount,
		"reason", reason,
	)
	if err := s.enqueueReleaseFailed(ctx, booking, failed, now); err != nil {
		s.logger.ErrorContext(ctx, "enqueue failure alert failed",
			"module", "application",
			"operation", "process_release",
			"outcome", "degraded",
			"release_id", release.ReleaseID,
			"error", err,
		)
	}
	return outcomeFailed
}

// ReconcileStuck recovers releases left in processing past the sanity
// timeout, e.g. after a worker crash mid-transfer. The transfer API is the
// source of truth: a release is completed only if the provider confirms the
// idempotency key settled, and is otherwise reset to pending. This path never
// issues a transfer.
func (s *Service) ReconcileStuck(ctx context.Context) (ReconcileStats, error) {
	claimToken := uuid.NewString()
	now := s.nowFn()
	stuck, err := s.ledger.ReclaimStuck(ctx, now.Add(-s.cfg.StuckAfter), s.cfg.ClaimBatchSize, claimToken, now)
	if err != nil {
		return ReconcileStats{}, err
	}

	stats := ReconcileStats{Reclaimed: len(stuck)}
	for _, release := range stuck {
		lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.TransferTimeout)
		result, found, err := s.transfers.LookupByIdempotencyKey(lookupCtx, release.ReleaseID)
		cancel()
		if err != nil {
			s.logger.ErrorContext(ctx, "transfer lookup failed, leaving release claimed",
				"module", "application",
				"operation", "reconcile_stuck",
				"outcome", "failure",
				"release_id", release.ReleaseID,
				"error", err,
			)
			continue
		}
		if found {
			if s.completeClaimed(ctx, release, claimToken, result.TransferID) == outcomeCompleted {
				stats.Completed++
			}
			continue
		}
		if _, err := s.ledger.RescheduleRelease(ctx, release.ReleaseID, claimToken, "no settled transfer found during reconciliation", now, now); err != nil {
			s.logger.ErrorContext(ctx, "reset stuck release failed",
				"module", "application",
				"operation", "reconcile_stuck",
				"outcome", "failure",
				"release_id", release.ReleaseID,
				"error", err,
			)
			continue
		}
		stats.Reset++
	}
	if stats.Reclaimed > 0 {
		s.logger.InfoContext(ctx, "stuck releases reconciled",
			"module", "application",
			"operation", "reconcile_stuck",
			"outcome", "success",
			"reclaimed", stats.Reclaimed,
			"completed", stats.Completed,
			"reset", stats.Reset,
		)
	}
	return stats, nil
}
