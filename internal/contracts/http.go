package contracts

import "time"

// PaymentCapturedRequest is the inbound webhook body from the checkout
// collaborator. Delivery is at-least-once.
type PaymentCapturedRequest struct {
	EventID   string    `json:"event_id"`
	BookingID string    `json:"booking_id"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

type RetryReleaseRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ResolveReleaseRequest struct {
	ExternalTransferID string `json:"external_transfer_id"`
	Note               string `json:"note,omitempty"`
}

type SuccessResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type ErrorResponse struct {
	Status string       `json:"status"`
	Error  ErrorPayload `json:"error"`
}

type ErrorPayload struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}
