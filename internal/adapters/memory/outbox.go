package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gearmarket/escrow-service/internal/domain"
	"github.com/gearmarket/escrow-service/internal/ports"
)

type Outbox struct {
	mu    sync.Mutex
	rows  map[string]ports.OutboxRecord
	order []string
}

func NewOutbox() *Outbox {
	return &Outbox{rows: map[string]ports.OutboxRecord{}, order: []string{}}
}

func (o *Outbox) Enqueue(_ context.Context, record ports.OutboxRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.rows[record.RecordID]; ok {
		return domain.ErrConflict
	}
	o.rows[record.RecordID] = record
	o.order = append(o.order, record.RecordID)
	return nil
}

func (o *Outbox) ListPending(_ context.Context, limit int) ([]ports.OutboxRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ports.OutboxRecord, 0)
	for _, id := range o.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec := o.rows[id]
		if rec.SentAt == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (o *Outbox) MarkSent(_ context.Context, recordID string, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.rows[recordID]
	if !ok {
		return domain.ErrNotFound
	}
	rec.SentAt = &at
	o.rows[recordID] = rec
	return nil
}

var _ ports.OutboxRepository = (*Outbox)(nil)

// DedupCache is the in-process stand-in for the redis fast path.
type DedupCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewDedupCache() *DedupCache {
	return &DedupCache{seen: map[string]time.Time{}}
}

func (c *DedupCache) Seen(_ context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires, ok := c.seen[eventID]
	if !ok {
		return false, nil
	}
	if time.Now().After(expires) {
		delete(c.seen, eventID)
		return false, nil
	}
	return true, nil
}

func (c *DedupCache) Mark(_ context.Context, eventID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[eventID] = time.Now().Add(ttl)
	return nil
}

var _ ports.DedupCache = (*DedupCache)(nil)

// Directory is a static booking/equipment lookup for tests and local runs.
type Directory struct {
	mu       sync.Mutex
	accounts map[string]string
	titles   map[string]string
}

func NewDirectory() *Directory {
	return &Directory{accounts: map[string]string{}, titles: map[string]string{}}
}

func (d *Directory) SetPayeeAccount(payeeID, connectAccountID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[payeeID] = connectAccountID
}

func (d *Directory) SetEquipmentTitle(equipmentID, title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.titles[equipmentID] = title
}

func (d *Directory) PayeeConnectAccount(_ context.Context, payeeID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[payeeID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return acct, nil
}

func (d *Directory) EquipmentTitle(_ context.Context, equipmentID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	title, ok := d.titles[equipmentID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return title, nil
}

var _ ports.DirectoryReader = (*Directory)(nil)
