package domain

import "time"

// ScheduleOptions tunes the tiering policy. Zero values fall back to the
// platform defaults.
type ScheduleOptions struct {
	// MinInstallmentAmount merges weekly installments until each equal share
	// is at least this many minor units, so long rentals of cheap equipment
	// do not produce near-zero transfers.
	MinInstallmentAmount int64
}

const defaultMinInstallment = 100

// DurationDays counts rental days inclusively: a rental starting and ending
// on the same calendar date is 1 day.
func DurationDays(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours()/24) + 1
}

// GenerateSchedule splits a booking's net amount into an ordered list of
// releases. Pure function: no ids, no clock, no store access.
//
// Tiering by inclusive rental duration:
//   - 1-3 days: one immediate release at end of rental.
//   - 4-14 days: 50% at start, remainder at end.
//   - 15+ days: ceil(days/7) weekly installments, last one at end of rental.
//
// The last release always absorbs the integer-division remainder, so the
// amounts sum to exactly totalAmount - fee for every input.
func GenerateSchedule(totalAmount, feeBps int64, start, end time.Time, opts ScheduleOptions) ([]EscrowRelease, error) {
	if totalAmount <= 0 {
		return nil, ErrInvalidBooking
	}
	if feeBps < 0 || feeBps >= 10000 {
		return nil, ErrInvalidBooking
	}
	days := DurationDays(start, end)
	if days < 1 {
		return nil, ErrInvalidBooking
	}
	minInstallment := opts.MinInstallmentAmount
	if minInstallment <= 0 {
		minInstallment = defaultMinInstallment
	}

	net := totalAmount - PlatformFeeFor(totalAmount, feeBps)

	switch {
	case days <= 3:
		return []EscrowRelease{{
			Amount:       net,
			ReleaseType:  ReleaseTypeImmediate,
			ScheduledFor: end,
			Status:       ReleaseStatusPending,
		}}, nil

	case days <= 14:
		first := net / 2
		if first == 0 {
			// Net too small to split; release everything at end of rental.
			return []EscrowRelease{{
				Amount:       net,
				ReleaseType:  ReleaseTypePartial,
				ScheduledFor: end,
				Status:       ReleaseStatusPending,
			}}, nil
		}
		return []EscrowRelease{
			{
				Amount:       first,
				ReleaseType:  ReleaseTypePartial,
				ScheduledFor: start,
				Status:       ReleaseStatusPending,
			},
			{
				Amount:       net - first,
				ReleaseType:  ReleaseTypePartial,
				ScheduledFor: end,
				Status:       ReleaseStatusPending,
			},
		}, nil

	default:
		n := (days + 6) / 7
		for n > 1 && net/int64(n) < minInstallment {
			n--
		}
		share := net / int64(n)
		out := make([]EscrowRelease, 0, n)
		for i := 0; i < n-1; i++ {
			out = append(out, EscrowRelease{
				Amount:       share,
				ReleaseType:  ReleaseTypeInstallment,
				ScheduledFor: start.AddDate(0, 0, 7*i),
				Status:       ReleaseStatusPending,
			})
		}
		out = append(out, EscrowRelease{
			Amount:       net - share*int64(n-1),
			ReleaseType:  ReleaseTypeInstallment,
			ScheduledFor: end,
			Status:       ReleaseStatusPending,
		})
		return out, nil
	}
}
