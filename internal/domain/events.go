package domain

const (
	CanonicalEventClassDomain        = "domain"
	CanonicalEventClassAnalyticsOnly = "analytics_only"
)

const (
	EventEscrowHoldCreated           = "escrow.hold_created"
	EventEscrowReleaseCompleted      = "escrow.release_completed"
	EventEscrowReleaseRetryScheduled = "escrow.release_retry_scheduled"
	EventEscrowReleaseFailed         = "escrow.release_failed"
	EventEscrowBookingReleased       = "escrow.booking_released"
)

func IsCanonicalEmittedEvent(eventType string) bool {
	switch eventType {
	case EventEscrowHoldCreated, EventEscrowReleaseCompleted, EventEscrowReleaseRetryScheduled,
		EventEscrowReleaseFailed, EventEscrowBookingReleased:
		return true
	default:
		return false
	}
}

func CanonicalEventClass(eventType string) string {
	switch eventType {
	case EventEscrowReleaseCompleted, EventEscrowReleaseFailed, EventEscrowBookingReleased:
		return CanonicalEventClassDomain
	case EventEscrowHoldCreated, EventEscrowReleaseRetryScheduled:
		return CanonicalEventClassAnalyticsOnly
	default:
		return ""
	}
}

func CanonicalPartitionKeyPath(eventType string) string {
	if IsCanonicalEmittedEvent(eventType) {
		return "data.booking_id"
	}
	return ""
}
