package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gearmarket/escrow-service/internal/domain"
)

const paymentCapturedEventType = "payment.captured"

// HandlePaymentCaptured converts an inbound payment-captured notification
// into one atomic ledger transition plus schedule materialization. Duplicate
// deliveries return ErrDuplicateEvent, which callers treat as success.
func (s *Service) HandlePaymentCaptured(ctx context.Context, input PaymentCapturedInput) error {
	input.EventID = strings.TrimSpace(input.EventID)
	input.BookingID = strings.TrimSpace(input.BookingID)
	if input.EventID == "" || input.BookingID == "" || input.Amount <= 0 {
		return domain.ErrInvalidInput
	}

	if s.dedupCache != nil {
		if seen, err := s.dedupCache.Seen(ctx, input.EventID); err == nil && seen {
			return domain.ErrDuplicateEvent
		}
	}

	booking, err := s.bookings.GetByID(ctx, input.BookingID)
	if err != nil {
		return err
	}
	if input.Amount != booking.TotalAmount {
		s.logger.WarnContext(ctx, "captured amount mismatch",
			"module", "application",
			"operation", "handle_payment_captured",
			"outcome", "rejected",
			"booking_id", booking.BookingID,
			"event_id", input.EventID,
			"captured_amount", input.Amount,
			"booking_total", booking.TotalAmount,
		)
		return domain.ErrAmountMismatch
	}

	fee := domain.PlatformFeeFor(booking.TotalAmount, s.cfg.PlatformFeeBps)
	schedule, err := domain.GenerateSchedule(booking.TotalAmount, s.cfg.PlatformFeeBps, booking.StartDate, booking.EndDate, domain.ScheduleOptions{
		MinInstallmentAmount: s.cfg.MinInstallmentAmount,
	})
	if err != nil {
		return err
	}

	now := s.nowFn()
	for i := range schedule {
		schedule[i].ReleaseID = uuid.NewString()
		schedule[i].BookingID = booking.BookingID
		schedule[i].CreatedAt = now
		schedule[i].UpdatedAt = now
	}

	err = s.ledger.HoldWithSchedule(ctx, input.EventID, paymentCapturedEventType, booking.BookingID, fee, schedule, now.Add(s.cfg.DedupTTL), now)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			s.markDedup(ctx, input.EventID)
		}
		return err
	}
	s.markDedup(ctx, input.EventID)

	booking.PlatformFee = fee
	if err := s.enqueueHoldCreated(ctx, booking, len(schedule), now); err != nil {
		s.logger.ErrorContext(ctx, "enqueue hold created failed",
			"module", "application",
			"operation", "handle_payment_captured",
			"outcome", "degraded",
			"booking_id", booking.BookingID,
			"error", err,
		)
	}
	return nil
}

func (s *Service) markDedup(ctx context.Context, eventID string) {
	if s.dedupCache == nil {
		return
	}
	_ = s.dedupCache.Mark(ctx, eventID, s.cfg.DedupTTL)
}

// GetBalance aggregates a payee's escrow position for dashboards. Pure read.
func (s *Service) GetBalance(ctx context.Context, payeeID string) (domain.PayeeBalance, error) {
	payeeID = strings.TrimSpace(payeeID)
	if payeeID == "" {
		return domain.PayeeBalance{}, domain.ErrInvalidInput
	}
	balance, err := s.ledger.BalanceByPayee(ctx, payeeID, s.nowFn())
	if err != nil {
		return domain.PayeeBalance{}, err
	}
	if balance.Currency == "" {
		balance.Currency = s.cfg.DefaultCurrency
	}
	return balance, nil
}

func (s *Service) ListReleases(ctx context.Context, payeeID string) ([]domain.EscrowRelease, error) {
	payeeID = strings.TrimSpace(payeeID)
	if payeeID == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.ledger.ListByPayee(ctx, payeeID)
}

func (s *Service) GetRelease(ctx context.Context, releaseID string) (domain.EscrowRelease, error) {
	releaseID = strings.TrimSpace(releaseID)
	if releaseID == "" {
		return domain.EscrowRelease{}, domain.ErrInvalidInput
	}
	return s.ledger.GetRelease(ctx, releaseID)
}

// RetryRelease is the operator override for a permanently failed release: a
// fresh attempt budget, due immediately, booking back to holding.
func (s *Service) RetryRelease(ctx context.Context, actor Actor, releaseID string) (domain.EscrowRelease, error) {
	if err := requireOperator(actor); err != nil {
		return domain.EscrowRelease{}, err
	}
	releaseID = strings.TrimSpace(releaseID)
	if releaseID == "" {
		return domain.EscrowRelease{}, domain.ErrInvalidInput
	}
	now := s.nowFn()
	release, err := s.ledger.RetryFailedRelease(ctx, releaseID, now, now)
	if err != nil {
		return domain.EscrowRelease{}, err
	}
	s.logger.InfoContext(ctx, "failed release requeued by operator",
		"module", "application",
		"operation", "retry_release",
		"outcome", "success",
		"release_id", releaseID,
		"operator", actor.SubjectID,
	)
	return release, nil
}

// ResolveRelease records a transfer that an operator settled out of band and
// applies the normal completion transition.
func (s *Service) ResolveRelease(ctx context.Context, actor Actor, input ResolveReleaseInput) (domain.EscrowRelease, error) {
	if err := requireOperator(actor); err != nil {
		return domain.EscrowRelease{}, err
	}
	input.ReleaseID = strings.TrimSpace(input.ReleaseID)
	input.ExternalTransferID = strings.TrimSpace(input.ExternalTransferID)
	if input.ReleaseID == "" || input.ExternalTransferID == "" {
		return domain.EscrowRelease{}, domain.ErrInvalidInput
	}
	now := s.nowFn()
	booking, release, err := s.ledger.ResolveFailedRelease(ctx, input.ReleaseID, input.ExternalTransferID, input.Note, now)
	if err != nil {
		return domain.EscrowRelease{}, err
	}
	s.enqueueCompletionEvents(ctx, booking, release, now)
	return release, nil
}

func requireOperator(actor Actor) error {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.ErrUnauthorized
	}
	if actor.Role != "operator" && actor.Role != "admin" {
		return domain.ErrForbidden
	}
	return nil
}

func (s *Service) enqueueCompletionEvents(ctx context.Context, booking domain.Booking, release domain.EscrowRelease, now time.Time) {
	if err := s.enqueueReleaseCompleted(ctx, booking, release, now); err != nil {
		s.logger.ErrorContext(ctx, "enqueue release completed failed",
			"module", "application",
			"operation", "enqueue_completion_events",
			"outcome", "degraded",
			"release_id", release.ReleaseID,
			"error", err,
		)
	}
	if booking.EscrowStatus == domain.EscrowStatusReleased {
		if err := s.enqueueBookingReleased(ctx, booking, now); err != nil {
			s.logger.ErrorContext(ctx, "enqueue booking released failed",
				"module", "application",
				"operation", "enqueue_completion_events",
				"outcome", "degraded",
				"booking_id", booking.BookingID,
				"error", err,
			)
		}
	}
}
