package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gearmarket/escrow-service/internal/contracts"
	"github.com/gearmarket/escrow-service/internal/domain"
	"github.com/gearmarket/escrow-service/internal/ports"
)

// FlushOutbox publishes pending outbox records to the event bus. Domain
// publish failures go to the DLQ and stop the batch; analytics publishes are
// best-effort. Notification delivery never rolls back ledger state.
func (s *Service) FlushOutbox(ctx context.Context) error {
	if s.outbox == nil {
		return nil
	}
	pending, err := s.outbox.ListPending(ctx, s.cfg.OutboxFlushBatchSize)
	if err != nil {
		return err
	}
	for _, rec := range pending {
		now := s.nowFn()
		switch rec.EventClass {
		case domain.CanonicalEventClassDomain:
			if s.domainEvents != nil {
				if err := s.domainEvents.PublishDomain(ctx, rec.Envelope); err != nil {
					if s.dlq != nil {
						n := s.nowFn()
						_ = s.dlq.PublishDLQ(ctx, contracts.DLQRecord{
							OriginalEvent: rec.Envelope,
							ErrorSummary:  err.Error(),
							RetryCount:    1,
							FirstSeenAt:   n,
							LastErrorAt:   n,
							SourceTopic:   rec.Envelope.EventType,
							DLQTopic:      "escrow-release-engine.dlq",
							TraceID:       rec.Envelope.TraceID,
						})
					}
					return err
				}
			}
		case domain.CanonicalEventClassAnalyticsOnly:
			if s.analytics != nil {
				_ = s.analytics.PublishAnalytics(ctx, rec.Envelope)
			}
		default:
			return fmt.Errorf("%w: %s", domain.ErrUnsupportedClass, rec.EventClass)
		}
		if err := s.outbox.MarkSent(ctx, rec.RecordID, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) enqueueEvent(ctx context.Context, eventType string, data any, bookingID string, now time.Time) error {
	if s.outbox == nil {
		return nil
	}
	if !domain.IsCanonicalEmittedEvent(eventType) {
		return domain.ErrUnsupportedEvent
	}
	b, err := json.Marshal(data)
	if err != nil {
		return domain.ErrInvalidInput
	}
	env := contracts.EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        eventType,
		EventClass:       domain.CanonicalEventClass(eventType),
		OccurredAt:       now,
		PartitionKeyPath: domain.CanonicalPartitionKeyPath(eventType),
		PartitionKey:     bookingID,
		SourceService:    s.cfg.ServiceName,
		TraceID:          uuid.NewString(),
		SchemaVersion:    "v1",
		Data:             b,
	}
	return s.outbox.Enqueue(ctx, ports.OutboxRecord{
		RecordID:   uuid.NewString(),
		EventClass: env.EventClass,
		Envelope:   env,
		CreatedAt:  now,
	})
}

func (s *Service) enqueueHoldCreated(ctx context.Context, booking domain.Booking, releaseCount int, now time.Time) error {
	return s.enqueueEvent(ctx, domain.EventEscrowHoldCreated, contracts.EscrowHoldCreatedPayload{
		BookingID:    booking.BookingID,
		PayerID:      booking.PayerID,
		PayeeID:      booking.PayeeID,
		NetAmount:    booking.NetAmount(),
		PlatformFee:  booking.PlatformFee,
		ReleaseCount: releaseCount,
		HeldAt:       now.UTC().Format(time.RFC3339),
	}, booking.BookingID, now)
}

func (s *Service) enqueueReleaseCompleted(ctx context.Context, booking domain.Booking, release domain.EscrowRelease, now time.Time) error {
	title := ""
	if s.directory != nil {
		// Best effort; the notification text degrades without it.
		if t, err := s.directory.EquipmentTitle(ctx, booking.EquipmentID); err == nil {
			title = t
		}
	}
	return s.enqueueEvent(ctx, domain.EventEscrowReleaseCompleted, contracts.ReleaseCompletedPayload{
		BookingID:          booking.BookingID,
		ReleaseID:          release.ReleaseID,
		PayeeID:            booking.PayeeID,
		Amount:             release.Amount,
		ExternalTransferID: release.ExternalTransferID,
		EquipmentTitle:     title,
		ReleasedAt:         now.UTC().Format(time.RFC3339),
	}, booking.BookingID, now)
}

func (s *Service) enqueueRetryScheduled(ctx context.Context, release domain.EscrowRelease, nextAttempt time.Time, reason string, now time.Time) error {
	return s.enqueueEvent(ctx, domain.EventEscrowReleaseRetryScheduled, contracts.ReleaseRetryScheduledPayload{
		BookingID:    release.BookingID,
		ReleaseID:    release.ReleaseID,
		AttemptCount: release.AttemptCount,
		NextAttempt:  nextAttempt.UTC().Format(time.RFC3339),
		Reason:       reason,
	}, release.BookingID, now)
}

func (s *Service) enqueueReleaseFailed(ctx context.Context, booking domain.Booking, release domain.EscrowRelease, now time.Time) error {
	return s.enqueueEvent(ctx, domain.EventEscrowReleaseFailed, contracts.ReleaseFailedPayload{
		BookingID:    booking.BookingID,
		ReleaseID:    release.ReleaseID,
		PayeeID:      booking.PayeeID,
		Amount:       release.Amount,
		AttemptCount: release.AttemptCount,
		Reason:       release.FailureReason,
		FailedAt:     now.UTC().Format(time.RFC3339),
	}, booking.BookingID, now)
}

func (s *Service) enqueueBookingReleased(ctx context.Context, booking domain.Booking, now time.Time) error {
	return s.enqueueEvent(ctx, domain.EventEscrowBookingReleased, contracts.BookingReleasedPayload{
		BookingID:      booking.BookingID,
		PayeeID:        booking.PayeeID,
		ReleasedAmount: booking.ReleasedAmount,
		ReleasedAt:     now.UTC().Format(time.RFC3339),
	}, booking.BookingID, now)
}
