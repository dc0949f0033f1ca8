package postgres

import "time"

type bookingModel struct {
	BookingID      string    `gorm:"column:booking_id;primaryKey"`
	PayerID        string    `gorm:"column:payer_id"`
	PayeeID        string    `gorm:"column:payee_id;index"`
	EquipmentID    string    `gorm:"column:equipment_id"`
	StartDate      time.Time `gorm:"column:start_date"`
	EndDate        time.Time `gorm:"column:end_date"`
	Currency       string    `gorm:"column:currency"`
	TotalAmount    int64     `gorm:"column:total_amount"`
	PlatformFee    int64     `gorm:"column:platform_fee"`
	EscrowStatus   string    `gorm:"column:escrow_status"`
	ReleasedAmount int64     `gorm:"column:released_amount"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (bookingModel) TableName() string { return "bookings" }

type releaseModel struct {
	ReleaseID          string     `gorm:"column:release_id;primaryKey"`
	BookingID          string     `gorm:"column:booking_id;index"`
	Amount             int64      `gorm:"column:amount"`
	ReleaseType        string     `gorm:"column:release_type"`
	ScheduledFor       time.Time  `gorm:"column:scheduled_for;index"`
	Status             string     `gorm:"column:status;index"`
	AttemptCount       int        `gorm:"column:attempt_count"`
	ClaimToken         *string    `gorm:"column:claim_token"`
	ProcessingAt       *time.Time `gorm:"column:processing_at"`
	ReleasedAt         *time.Time `gorm:"column:released_at"`
	ExternalTransferID *string    `gorm:"column:external_transfer_id"`
	FailureReason      *string    `gorm:"column:failure_reason"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at"`
}

func (releaseModel) TableName() string { return "escrow_releases" }

type processedEventModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at;index"`
}

func (processedEventModel) TableName() string { return "processed_events" }

type outboxModel struct {
	RecordID   string     `gorm:"column:record_id;primaryKey"`
	EventClass string     `gorm:"column:event_class"`
	Envelope   string     `gorm:"column:envelope;type:jsonb"`
	CreatedAt  time.Time  `gorm:"column:created_at;index"`
	SentAt     *time.Time `gorm:"column:sent_at"`
}

func (outboxModel) TableName() string { return "escrow_outbox" }
