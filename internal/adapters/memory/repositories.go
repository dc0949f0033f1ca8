// Package memory provides in-process implementations of the service's
// repository ports. They back the unit tests and dependency-free local runs;
// the postgres adapter is the production ledger.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gearmarket/escrow-service/internal/domain"
	"github.com/gearmarket/escrow-service/internal/ports"
)

// Store holds bookings, releases and processed-event records behind a single
// mutex, so every ledger method is one atomic read-modify-write.
type Store struct {
	mu       sync.Mutex
	bookings map[string]domain.Booking
	releases map[string]domain.EscrowRelease
	events   map[string]time.Time
}

func NewStore() *Store {
	return &Store{
		bookings: map[string]domain.Booking{},
		releases: map[string]domain.EscrowRelease{},
		events:   map[string]time.Time{},
	}
}

func (s *Store) Create(_ context.Context, row domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[row.BookingID]; ok {
		return domain.ErrConflict
	}
	s.bookings[row.BookingID] = row
	return nil
}

func (s *Store) GetByID(_ context.Context, bookingID string) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.bookings[strings.TrimSpace(bookingID)]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return row, nil
}

func (s *Store) HoldWithSchedule(_ context.Context, eventID, _ string, bookingID string, platformFee int64, releases []domain.EscrowRelease, dedupUntil, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expires, ok := s.events[eventID]; ok && at.Before(expires) {
		return domain.ErrDuplicateEvent
	}
	booking, ok := s.bookings[bookingID]
	if !ok {
		return domain.ErrNotFound
	}
	if booking.EscrowStatus != domain.EscrowStatusNone {
		return domain.ErrConflict
	}
	booking.EscrowStatus = domain.EscrowStatusHolding
	booking.PlatformFee = platformFee
	booking.UpdatedAt = at
	s.bookings[bookingID] = booking
	for _, rel := range releases {
		s.releases[rel.ReleaseID] = rel
	}
	s.events[eventID] = dedupUntil
	return nil
}

func (s *Store) ClaimDue(_ context.Context, limit int, claimToken string, now time.Time) ([]domain.EscrowRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]domain.EscrowRelease, 0)
	for _, rel := range s.releases {
		if rel.Status == domain.ReleaseStatusPending && !rel.ScheduledFor.After(now) {
			due = append(due, rel)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]domain.EscrowRelease, 0, len(due))
	for _, rel := range due {
		processingAt := now
		rel.Status = domain.ReleaseStatusProcessing
		rel.ClaimToken = claimToken
		rel.ProcessingAt = &processingAt
		rel.UpdatedAt = now
		s.releases[rel.ReleaseID] = rel
		out = append(out, rel)
	}
	return out, nil
}

func (s *Store) ReclaimStuck(_ context.Context, stuckBefore time.Time, limit int, claimToken string, now time.Time) ([]domain.EscrowRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EscrowRelease, 0)
	for _, rel := range s.releases {
		if limit > 0 && len(out) >= limit {
			break
		}
		if rel.Status != domain.ReleaseStatusProcessing || rel.ProcessingAt == nil || !rel.ProcessingAt.Before(stuckBefore) {
			continue
		}
		processingAt := now
		rel.ClaimToken = claimToken
		rel.ProcessingAt = &processingAt
		rel.UpdatedAt = now
		s.releases[rel.ReleaseID] = rel
		out = append(out, rel)
	}
	return out, nil
}

func (s *Store) CompleteRelease(_ context.Context, releaseID, claimToken, transferID string, at time.Time) (domain.Booking, domain.EscrowRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.releases[releaseID]
	if !ok {
		return domain.Booking{}, domain.EscrowRelease{}, domain.ErrNotFound
	}
	if rel.Status != domain.ReleaseStatusProcessing || rel.ClaimToken != claimToken {
		return domain.Booking{}, domain.EscrowRelease{}, domain.ErrConflict
	}
	return s.completeLocked(rel, transferID, "", at)
}

func (s *Store) completeLocked(rel domain.EscrowRelease, transferID, note string, at time.Time) (domain.Booking, domain.EscrowRelease, error) {
	booking, ok := s.bookings[rel.BookingID]
	if !ok {
		return domain.Booking{}, domain.EscrowRelease{}, domain.ErrNotFound
	}
	if booking.ReleasedAmount+rel.Amount > booking.NetAmount() {
		return domain.Booking{}, domain.EscrowRelease{}, domain.ErrConflict
	}

	releasedAt := at
	rel.Status = domain.ReleaseStatusCompleted
	rel.ReleasedAt = &releasedAt
	rel.ExternalTransferID = transferID
	rel.FailureReason = note
	rel.ClaimToken = ""
	rel.ProcessingAt = nil
	rel.UpdatedAt = at
	s.releases[rel.ReleaseID] = rel

	booking.ReleasedAmount += rel.Amount
	booking.UpdatedAt = at
	if s.allCompletedLocked(booking.BookingID) && booking.ReleasedAmount == booking.NetAmount() {
		booking.EscrowStatus = domain.EscrowStatusReleased
	} else if booking.EscrowStatus == domain.EscrowStatusFailed && !s.anyFailedLocked(booking.BookingID) {
		booking.EscrowStatus = domain.EscrowStatusHolding
	}
	s.bookings[booking.BookingID] = booking
	return booking, rel, nil
}

func (s *Store) RescheduleRelease(_ context.Context, releaseID, claimToken, reason string, nextAttempt, at time.Time) (domain.EscrowRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.releases[releaseID]
	if !ok {
		return domain.EscrowRelease{}, domain.ErrNotFound
	}
	if rel.Status != domain.ReleaseStatusProcessing || rel.ClaimToken != claimToken {
		return domain.EscrowRelease{}, domain.ErrConflict
	}
	rel.Status = domain.ReleaseStatusPending
	rel.AttemptCount++
	rel.ScheduledFor = nextAttempt
	rel.FailureReason = reason
	rel.ClaimToken = ""
	rel.ProcessingAt = nil
	rel.UpdatedAt = at
	s.releases[releaseID] = rel
	return rel, nil
}

func (s *Store) FailRelease(_ context.Context, releaseID, claimToken, reason string, at time.Time) (domain.Booking, domain.EscrowRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.releases[releaseID]
	if !ok {
		return domain.Booking{}, domain.EscrowRelease{}, domain.ErrNotFound
	}
	if rel.Status != domain.ReleaseStatusProcessing || rel.ClaimToken != claimToken {
		return domain.Booking{}, domain.EscrowRelease{}, domain.ErrConflict
	}
	rel.Status = domain.ReleaseStatusFailed
	rel.AttemptCount++
	rel.FailureReason = reason
	rel.ClaimToken = ""
	rel.ProcessingAt = nil
	rel.UpdatedAt = at
	s.releases[releaseID] = rel

	booking, ok := s.bookings[rel.BookingID]
	if !ok {
		return domain.Booking{}, domain.EscrowRelease{}, domain.ErrNotFound
	}
	booking.EscrowStatus = domain.EscrowStatusFailed
	booking.UpdatedAt = at
	s.bookings[booking.BookingID] = booking
	return booking, rel, nil
}

func (s *Store) RetryFailedRelease(_ context.Context, releaseID string, scheduledFor, at time.Time) (domain.EscrowRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.releases[releaseID]
	if !ok {
		return domain.EscrowRelease{}, domain.ErrNotFound
	}
	if rel.Status != domain.ReleaseStatusFailed {
		return domain.EscrowRelease{}, domain.ErrConflict
	}
	rel.Status = domain.ReleaseStatusPending
	rel.AttemptCount = 0
	rel.ScheduledFor = scheduledFor
	rel.FailureReason = ""
	rel.UpdatedAt = at
	s.releases[releaseID] = rel

	if booking, ok := s.bookings[rel.BookingID]; ok && booking.EscrowStatus == domain.EscrowStatusFailed && !s.anyFailedLocked(booking.BookingID) {
		booking.EscrowStatus = domain.EscrowStatusHolding
		booking.UpdatedAt = at
		s.bookings[booking.BookingID] = booking
	}
	return rel, nil
}

func (s *Store) ResolveFailedRelease(_ context.Context, releaseID, transferID, note string, at time.Time) (domain.Booking, domain.EscrowRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.releases[releaseID]
	if !ok {
		return domain.Booking{}, domain.EscrowRelease{}, domain.ErrNotFound
	}
	if rel.Status != domain.ReleaseStatusFailed {
		return domain.Booking{}, domain.EscrowRelease{}, domain.ErrConflict
	}
	return s.completeLocked(rel, transferID, note, at)
}

func (s *Store) GetRelease(_ context.Context, releaseID string) (domain.EscrowRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.releases[strings.TrimSpace(releaseID)]
	if !ok {
		return domain.EscrowRelease{}, domain.ErrNotFound
	}
	return rel, nil
}

func (s *Store) ListByPayee(_ context.Context, payeeID string) ([]domain.EscrowRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EscrowRelease, 0)
	for _, rel := range s.releases {
		booking, ok := s.bookings[rel.BookingID]
		if !ok || booking.PayeeID != payeeID {
			continue
		}
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (s *Store) BalanceByPayee(_ context.Context, payeeID string, at time.Time) (domain.PayeeBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance := domain.PayeeBalance{PayeeID: payeeID, CalculatedAt: at}
	for _, booking := range s.bookings {
		if booking.PayeeID != payeeID {
			continue
		}
		if booking.EscrowStatus != domain.EscrowStatusHolding && booking.EscrowStatus != domain.EscrowStatusReleased {
			continue
		}
		if balance.Currency == "" {
			balance.Currency = booking.Currency
		}
		for _, rel := range s.releases {
			if rel.BookingID != booking.BookingID {
				continue
			}
			switch rel.Status {
			case domain.ReleaseStatusPending, domain.ReleaseStatusProcessing:
				balance.PendingAmount += rel.Amount
			case domain.ReleaseStatusCompleted:
				balance.AvailableAmount += rel.Amount
			}
		}
	}
	balance.TotalHeld = balance.PendingAmount + balance.AvailableAmount
	return balance, nil
}

func (s *Store) allCompletedLocked(bookingID string) bool {
	for _, rel := range s.releases {
		if rel.BookingID == bookingID && rel.Status != domain.ReleaseStatusCompleted {
			return false
		}
	}
	return true
}

func (s *Store) anyFailedLocked(bookingID string) bool {
	for _, rel := range s.releases {
		if rel.BookingID == bookingID && rel.Status == domain.ReleaseStatusFailed {
			return true
		}
	}
	return false
}

var _ ports.BookingRepository = (*Store)(nil)
var _ ports.EscrowLedger = (*Store)(nil)
