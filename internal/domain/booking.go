package domain

import "time"

type EscrowStatus string

const (
	EscrowStatusNone     EscrowStatus = "none"
	EscrowStatusHolding  EscrowStatus = "holding"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusFailed   EscrowStatus = "failed"
)

// Booking is the rental agreement whose captured payment this service holds
// in escrow. Amounts are integer minor currency units.
type Booking struct {
	BookingID      string       `json:"booking_id"`
	PayerID        string       `json:"payer_id"`
	PayeeID        string       `json:"payee_id"`
	EquipmentID    string       `json:"equipment_id"`
	StartDate      time.Time    `json:"start_date"`
	EndDate        time.Time    `json:"end_date"`
	Currency       string       `json:"currency"`
	TotalAmount    int64        `json:"total_amount"`
	PlatformFee    int64        `json:"platform_fee"`
	EscrowStatus   EscrowStatus `json:"escrow_status"`
	ReleasedAmount int64        `json:"released_amount"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NetAmount is the payee's share after the platform fee. Every release
// schedule for the booking must sum to exactly this value.
func (b Booking) NetAmount() int64 {
	return b.TotalAmount - b.PlatformFee
}

// PlatformFeeFor computes the marketplace fee from a rate in basis points,
// rounded down. 500 bps = 5%.
func PlatformFeeFor(totalAmount, feeBps int64) int64 {
	return totalAmount * feeBps / 10000
}

type PayeeBalance struct {
	PayeeID         string    `json:"payee_id"`
	Currency        string    `json:"currency"`
	TotalHeld       int64     `json:"total_held"`
	PendingAmount   int64     `json:"pending_amount"`
	AvailableAmount int64     `json:"available_amount"`
	CalculatedAt    time.Time `json:"calculated_at"`
}
