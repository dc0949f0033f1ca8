package postgres

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/gearmarket/escrow-service/internal/contracts"
	"github.com/gearmarket/escrow-service/internal/domain"
	"github.com/gearmarket/escrow-service/internal/ports"
)

// Outbox stores event envelopes in the same database as the ledger so they
// can be enqueued alongside state changes and flushed by the worker.
type Outbox struct {
	db *gorm.DB
}

func NewOutbox(db *gorm.DB) *Outbox {
	return &Outbox{db: db}
}

func (o *Outbox) Enqueue(ctx context.Context, record ports.OutboxRecord) error {
	payload, err := json.Marshal(record.Envelope)
	if err != nil {
		return err
	}
	model := outboxModel{
		RecordID:   record.RecordID,
		EventClass: record.EventClass,
		Envelope:   string(payload),
		CreatedAt:  record.CreatedAt,
		SentAt:     record.SentAt,
	}
	err = o.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (o *Outbox) ListPending(ctx context.Context, limit int) ([]ports.OutboxRecord, error) {
	var models []outboxModel
	err := o.db.WithContext(ctx).
		Where("sent_at IS NULL").
		Order("created_at asc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]ports.OutboxRecord, 0, len(models))
	for _, m := range models {
		var envelope contracts.EventEnvelope
		if err := json.Unmarshal([]byte(m.Envelope), &envelope); err != nil {
			return nil, err
		}
		out = append(out, ports.OutboxRecord{
			RecordID:   m.RecordID,
			EventClass: m.EventClass,
			Envelope:   envelope,
			CreatedAt:  m.CreatedAt,
			SentAt:     m.SentAt,
		})
	}
	return out, nil
}

func (o *Outbox) MarkSent(ctx context.Context, recordID string, at time.Time) error {
	res := o.db.WithContext(ctx).Model(&outboxModel{}).
		Where("record_id = ? AND sent_at IS NULL", recordID).
		Update("sent_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ ports.OutboxRepository = (*Outbox)(nil)
