package domain

import "errors"

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("conflict")
	ErrInvalidBooking   = errors.New("invalid booking schedule input")
	ErrAmountMismatch   = errors.New("captured amount does not match booking total")
	ErrDuplicateEvent   = errors.New("event already processed")
	ErrUnsupportedEvent = errors.New("unsupported event type")
	ErrUnsupportedClass = errors.New("unsupported event class")
)
