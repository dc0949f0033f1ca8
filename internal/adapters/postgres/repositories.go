package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gearmarket/escrow-service/internal/domain"
	"github.com/gearmarket/escrow-service/internal/ports"
)

// Ledger is the production EscrowLedger. Every mutating method runs inside a
// single transaction; terminal transitions are filtered on the claim token so
// a reclaimed release cannot be finished twice.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Create(ctx context.Context, row domain.Booking) error {
	err := l.db.WithContext(ctx).Create(toBookingModel(row)).Error
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (l *Ledger) GetByID(ctx context.Context, bookingID string) (domain.Booking, error) {
	var model bookingModel
	err := l.db.WithContext(ctx).First(&model, "booking_id = ?", bookingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	return fromBookingModel(model), nil
}

func (l *Ledger) HoldWithSchedule(ctx context.Context, eventID, eventType, bookingID string, platformFee int64, releases []domain.EscrowRelease, dedupUntil, at time.Time) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event := processedEventModel{
			EventID:     eventID,
			EventType:   eventType,
			ProcessedAt: at,
			ExpiresAt:   dedupUntil,
		}
		if err := tx.Create(&event).Error; err != nil {
			if !isUniqueViolation(err) {
				return err
			}
			var existing processedEventModel
			if err := tx.First(&existing, "event_id = ?", eventID).Error; err != nil {
				return err
			}
			if at.Before(existing.ExpiresAt) {
				return domain.ErrDuplicateEvent
			}
			// The retention window lapsed; reuse the row for this delivery.
			if err := tx.Model(&processedEventModel{}).
				Where("event_id = ?", eventID).
				Updates(map[string]any{"processed_at": at, "expires_at": dedupUntil}).Error; err != nil {
				return err
			}
		}

		res := tx.Model(&bookingModel{}).
			Where("booking_id = ? AND escrow_status = ?", bookingID, string(domain.EscrowStatusNone)).
			Updates(map[string]any{
				"escrow_status": string(domain.EscrowStatusHolding),
				"platform_fee":  platformFee,
				"updated_at":    at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&bookingModel{}).Where("booking_id = ?", bookingID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrNotFound
			}
			return domain.ErrConflict
		}

		if len(releases) == 0 {
			return nil
		}
		models := make([]releaseModel, 0, len(releases))
		for _, rel := range releases {
			models = append(models, toReleaseModel(rel))
		}
		return tx.Create(&models).Error
	})
}

func (l *Ledger) ClaimDue(ctx context.Context, limit int, claimToken string, now time.Time) ([]domain.EscrowRelease, error) {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&releaseModel{}).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Select("release_id").
			Where("status = ? AND scheduled_for <= ?", string(domain.ReleaseStatusPending), now).
			Order("scheduled_for asc").
			Limit(limit)
		return tx.Model(&releaseModel{}).
			Where("release_id IN (?)", sub).
			Updates(map[string]any{
				"status":        string(domain.ReleaseStatusProcessing),
				"claim_token":   claimToken,
				"processing_at": now,
				"updated_at":    now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return l.claimedReleases(ctx, claimToken)
}

func (l *Ledger) ReclaimStuck(ctx context.Context, stuckBefore time.Time, limit int, claimToken string, now time.Time) ([]domain.EscrowRelease, error) {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&releaseModel{}).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Select("release_id").
			Where("status = ? AND processing_at < ?", string(domain.ReleaseStatusProcessing), stuckBefore).
			Order("processing_at asc").
			Limit(limit)
		return tx.Model(&releaseModel{}).
			Where("release_id IN (?)", sub).
			Updates(map[string]any{
				"claim_token":   claimToken,
				"processing_at": now,
				"updated_at":    now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return l.claimedReleases(ctx, claimToken)
}

func (l *Ledger) claimedReleases(ctx context.Context, claimToken string) ([]domain.EscrowRelease, error) {
	var models []releaseModel
	err := l.db.WithContext(ctx).
		Where("claim_token = ? AND status = ?", claimToken, string(domain.ReleaseStatusProcessing)).
		Order("scheduled_for asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.EscrowRelease, 0, len(models))
	for _, m := range models {
		out = append(out, fromReleaseModel(m))
	}
	return out, nil
}

func (l *Ledger) CompleteRelease(ctx context.Context, releaseID, claimToken, transferID string, at time.Time) (domain.Booking, domain.EscrowRelease, error) {
	var booking domain.Booking
	var release domain.EscrowRelease
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rel, err := lockRelease(tx, releaseID)
		if err != nil {
			return err
		}
		if rel.Status != domain.ReleaseStatusProcessing || rel.ClaimToken != claimToken {
			return domain.ErrConflict
		}
		booking, release, err = completeTx(tx, rel, transferID, "", at)
		return err
	})
	if err != nil {
		return domain.Booking{}, domain.EscrowRelease{}, err
	}
	return booking, release, nil
}

func (l *Ledger) RescheduleRelease(ctx context.Context, releaseID, claimToken, reason string, nextAttempt, at time.Time) (domain.EscrowRelease, error) {
	var release domain.EscrowRelease
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rel, err := lockRelease(tx, releaseID)
		if err != nil {
			return err
		}
		if rel.Status != domain.ReleaseStatusProcessing || rel.ClaimToken != claimToken {
			return domain.ErrConflict
		}
		rel.Status = domain.ReleaseStatusPending
		rel.AttemptCount++
		rel.ScheduledFor = nextAttempt
		rel.FailureReason = reason
		rel.ClaimToken = ""
		rel.ProcessingAt = nil
		rel.UpdatedAt = at
		release = rel
		return saveRelease(tx, rel)
	})
	if err != nil {
		return domain.EscrowRelease{}, err
	}
	return release, nil
}

func (l *Ledger) FailRelease(ctx context.Context, releaseID, claimToken, reason string, at time.Time) (domain.Booking, domain.EscrowRelease, error) {
	var booking domain.Booking
	var release domain.EscrowRelease
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rel, err := lockRelease(tx, releaseID)
		if err != nil {
			return err
		}
		if rel.Status != domain.ReleaseStatusProcessing || rel.ClaimToken != claimToken {
			return domain.ErrConflict
		}
		rel.Status = domain.ReleaseStatusFailed
		rel.AttemptCount++
		rel.FailureReason = reason
		rel.ClaimToken = ""
		rel.ProcessingAt = nil
		rel.UpdatedAt = at
		if err := saveRelease(tx, rel); err != nil {
			return err
		}
		release = rel

		res := tx.Model(&bookingModel{}).
			Where("booking_id = ?", rel.BookingID).
			Updates(map[string]any{
				"escrow_status": string(domain.EscrowStatusFailed),
				"updated_at":    at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		booking, err = loadBooking(tx, rel.BookingID)
		return err
	})
	if err != nil {
		return domain.Booking{}, domain.EscrowRelease{}, err
	}
	return booking, release, nil
}

func (l *Ledger) RetryFailedRelease(ctx context.Context, releaseID string, scheduledFor, at time.Time) (domain.EscrowRelease, error) {
	var release domain.EscrowRelease
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rel, err := lockRelease(tx, releaseID)
		if err != nil {
			return err
		}
		if rel.Status != domain.ReleaseStatusFailed {
			return domain.ErrConflict
		}
		rel.Status = domain.ReleaseStatusPending
		rel.AttemptCount = 0
		rel.ScheduledFor = scheduledFor
		rel.FailureReason = ""
		rel.UpdatedAt = at
		if err := saveRelease(tx, rel); err != nil {
			return err
		}
		release = rel

		failed, err := countFailed(tx, rel.BookingID)
		if err != nil {
			return err
		}
		if failed == 0 {
			return tx.Model(&bookingModel{}).
				Where("booking_id = ? AND escrow_status = ?", rel.BookingID, string(domain.EscrowStatusFailed)).
				Updates(map[string]any{
					"escrow_status": string(domain.EscrowStatusHolding),
					"updated_at":    at,
				}).Error
		}
		return nil
	})
	if err != nil {
		return domain.EscrowRelease{}, err
	}
	return release, nil
}

func (l *Ledger) ResolveFailedRelease(ctx context.Context, releaseID, transferID, note string, at time.Time) (domain.Booking, domain.EscrowRelease, error) {
	var booking domain.Booking
	var release domain.EscrowRelease
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rel, err := lockRelease(tx, releaseID)
		if err != nil {
			return err
		}
		if rel.Status != domain.ReleaseStatusFailed {
			return domain.ErrConflict
		}
		booking, release, err = completeTx(tx, rel, transferID, note, at)
		return err
	})
	if err != nil {
		return domain.Booking{}, domain.EscrowRelease{}, err
	}
	return booking, release, nil
}

func (l *Ledger) GetRelease(ctx context.Context, releaseID string) (domain.EscrowRelease, error) {
	var model releaseModel
	err := l.db.WithContext(ctx).First(&model, "release_id = ?", releaseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.EscrowRelease{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.EscrowRelease{}, err
	}
	return fromReleaseModel(model), nil
}

func (l *Ledger) ListByPayee(ctx context.Context, payeeID string) ([]domain.EscrowRelease, error) {
	var models []releaseModel
	err := l.db.WithContext(ctx).Model(&releaseModel{}).
		Joins("JOIN bookings ON bookings.booking_id = escrow_releases.booking_id").
		Where("bookings.payee_id = ?", payeeID).
		Order("escrow_releases.scheduled_for asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.EscrowRelease, 0, len(models))
	for _, m := range models {
		out = append(out, fromReleaseModel(m))
	}
	return out, nil
}

func (l *Ledger) BalanceByPayee(ctx context.Context, payeeID string, at time.Time) (domain.PayeeBalance, error) {
	balance := domain.PayeeBalance{PayeeID: payeeID, CalculatedAt: at}

	var rows []struct {
		Status string
		Total  int64
	}
	err := l.db.WithContext(ctx).Model(&releaseModel{}).
		Select("escrow_releases.status AS status, COALESCE(SUM(escrow_releases.amount), 0) AS total").
		Joins("JOIN bookings ON bookings.booking_id = escrow_releases.booking_id").
		Where("bookings.payee_id = ? AND bookings.escrow_status IN ?", payeeID,
			[]string{string(domain.EscrowStatusHolding), string(domain.EscrowStatusReleased)}).
		Group("escrow_releases.status").
		Find(&rows).Error
	if err != nil {
		return domain.PayeeBalance{}, err
	}
	for _, row := range rows {
		switch domain.ReleaseStatus(row.Status) {
		case domain.ReleaseStatusPending, domain.ReleaseStatusProcessing:
			balance.PendingAmount += row.Total
		case domain.ReleaseStatusCompleted:
			balance.AvailableAmount += row.Total
		}
	}
	balance.TotalHeld = balance.PendingAmount + balance.AvailableAmount

	var currency string
	err = l.db.WithContext(ctx).Model(&bookingModel{}).
		Select("currency").
		Where("payee_id = ? AND escrow_status IN ?", payeeID,
			[]string{string(domain.EscrowStatusHolding), string(domain.EscrowStatusReleased)}).
		Order("created_at asc").
		Limit(1).
		Scan(&currency).Error
	if err != nil {
		return domain.PayeeBalance{}, err
	}
	balance.Currency = currency
	return balance, nil
}

// completeTx applies the completion transition shared by the worker path and
// the operator resolve path. The caller has already locked and verified the
// release row.
func completeTx(tx *gorm.DB, rel domain.EscrowRelease, transferID, note string, at time.Time) (domain.Booking, domain.EscrowRelease, error) {
	booking, err := lockBooking(tx, rel.BookingID)
	if err != nil {
		return domain.Booking{}, domain.EscrowRelease{}, err
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
	if err := saveRelease(tx, rel); err != nil {
		return domain.Booking{}, domain.EscrowRelease{}, err
	}

	booking.ReleasedAmount += rel.Amount
	booking.UpdatedAt = at

	var remaining int64
	if err := tx.Model(&releaseModel{}).
		Where("booking_id = ? AND status <> ?", booking.BookingID, string(domain.ReleaseStatusCompleted)).
		Count(&remaining).Error; err != nil {
		return domain.Booking{}, domain.EscrowRelease{}, err
	}
	if remaining == 0 && booking.ReleasedAmount == booking.NetAmount() {
		booking.EscrowStatus = domain.EscrowStatusReleased
	} else if booking.EscrowStatus == domain.EscrowStatusFailed {
		failed, err := countFailed(tx, booking.BookingID)
		if err != nil {
			return domain.Booking{}, domain.EscrowRelease{}, err
		}
		if failed == 0 {
			booking.EscrowStatus = domain.EscrowStatusHolding
		}
	}
	if err := tx.Model(&bookingModel{}).
		Where("booking_id = ?", booking.BookingID).
		Updates(map[string]any{
			"released_amount": booking.ReleasedAmount,
			"escrow_status":   string(booking.EscrowStatus),
			"updated_at":      at,
		}).Error; err != nil {
		return domain.Booking{}, domain.EscrowRelease{}, err
	}
	return booking, rel, nil
}

func lockRelease(tx *gorm.DB, releaseID string) (domain.EscrowRelease, error) {
	var model releaseModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "release_id = ?", releaseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.EscrowRelease{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.EscrowRelease{}, err
	}
	return fromReleaseModel(model), nil
}

func lockBooking(tx *gorm.DB, bookingID string) (domain.Booking, error) {
	var model bookingModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "booking_id = ?", bookingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	return fromBookingModel(model), nil
}

func loadBooking(tx *gorm.DB, bookingID string) (domain.Booking, error) {
	var model bookingModel
	err := tx.First(&model, "booking_id = ?", bookingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	return fromBookingModel(model), nil
}

func saveRelease(tx *gorm.DB, rel domain.EscrowRelease) error {
	model := toReleaseModel(rel)
	return tx.Model(&releaseModel{}).
		Where("release_id = ?", rel.ReleaseID).
		Select("*").Omit("release_id", "created_at").
		Updates(&model).Error
}

func countFailed(tx *gorm.DB, bookingID string) (int64, error) {
	var failed int64
	err := tx.Model(&releaseModel{}).
		Where("booking_id = ? AND status = ?", bookingID, string(domain.ReleaseStatusFailed)).
		Count(&failed).Error
	return failed, err
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func toBookingModel(b domain.Booking) bookingModel {
	return bookingModel{
		BookingID:      b.BookingID,
		PayerID:        b.PayerID,
		PayeeID:        b.PayeeID,
		EquipmentID:    b.EquipmentID,
		StartDate:      b.StartDate,
		EndDate:        b.EndDate,
		Currency:       b.Currency,
		TotalAmount:    b.TotalAmount,
		PlatformFee:    b.PlatformFee,
		EscrowStatus:   string(b.EscrowStatus),
		ReleasedAmount: b.ReleasedAmount,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func fromBookingModel(m bookingModel) domain.Booking {
	return domain.Booking{
		BookingID:      m.BookingID,
		PayerID:        m.PayerID,
		PayeeID:        m.PayeeID,
		EquipmentID:    m.EquipmentID,
		StartDate:      m.StartDate,
		EndDate:        m.EndDate,
		Currency:       m.Currency,
		TotalAmount:    m.TotalAmount,
		PlatformFee:    m.PlatformFee,
		EscrowStatus:   domain.EscrowStatus(m.EscrowStatus),
		ReleasedAmount: m.ReleasedAmount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toReleaseModel(r domain.EscrowRelease) releaseModel {
	model := releaseModel{
		ReleaseID:    r.ReleaseID,
		BookingID:    r.BookingID,
		Amount:       r.Amount,
		ReleaseType:  string(r.ReleaseType),
		ScheduledFor: r.ScheduledFor,
		Status:       string(r.Status),
		AttemptCount: r.AttemptCount,
		ProcessingAt: r.ProcessingAt,
		ReleasedAt:   r.ReleasedAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.ClaimToken != "" {
		model.ClaimToken = &r.ClaimToken
	}
	if r.ExternalTransferID != "" {
		model.ExternalTransferID = &r.ExternalTransferID
	}
	if r.FailureReason != "" {
		model.FailureReason = &r.FailureReason
	}
	return model
}

func fromReleaseModel(m releaseModel) domain.EscrowRelease {
	rel := domain.EscrowRelease{
		ReleaseID:    m.ReleaseID,
		BookingID:    m.BookingID,
		Amount:       m.Amount,
		ReleaseType:  domain.ReleaseType(m.ReleaseType),
		ScheduledFor: m.ScheduledFor,
		Status:       domain.ReleaseStatus(m.Status),
		AttemptCount: m.AttemptCount,
		ProcessingAt: m.ProcessingAt,
		ReleasedAt:   m.ReleasedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.ClaimToken != nil {
		rel.ClaimToken = *m.ClaimToken
	}
	if m.ExternalTransferID != nil {
		rel.ExternalTransferID = *m.ExternalTransferID
	}
	if m.FailureReason != nil {
		rel.FailureReason = *m.FailureReason
	}
	return rel
}

var _ ports.BookingRepository = (*Ledger)(nil)
var _ ports.EscrowLedger = (*Ledger)(nil)
