package domain

import (
	"testing"
	"time"
)

func day(d int) time.Time {
	return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
}

func TestDurationDaysInclusive(t *testing.T) {
	cases := []struct {
		start, end time.Time
		want       int
	}{
		{day(1), day(1), 1},
		{day(1), day(2), 2},
		{day(1), day(3), 3},
		{day(1), day(14), 14},
		{time.Date(2026, time.March, 1, 23, 0, 0, 0, time.UTC), time.Date(2026, time.March, 2, 1, 0, 0, 0, time.UTC), 2},
	}
	for _, c := range cases {
		if got := DurationDays(c.start, c.end); got != c.want {
			t.Fatalf("DurationDays(%v, %v) = %d, want %d", c.start, c.end, got, c.want)
		}
	}
}

func TestScheduleShortRental(t *testing.T) {
	out, err := GenerateSchedule(10000, 500, day(1), day(2), ScheduleOptions{})
	if err != nil {
		t.Fatalf("GenerateSchedule: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 release, got %d", len(out))
	}
	if out[0].Amount != 9500 {
		t.Fatalf("expected 9500, got %d", out[0].Amount)
	}
	if out[0].ReleaseType != ReleaseTypeImmediate {
		t.Fatalf("expected immediate, got %s", out[0].ReleaseType)
	}
	if !out[0].ScheduledFor.Equal(day(2)) {
		t.Fatalf("expected release at end of rental, got %v", out[0].ScheduledFor)
	}
}

func TestScheduleMediumRental(t *testing.T) {
	out, err := GenerateSchedule(20000, 500, day(1), day(7), ScheduleOptions{})
	if err != nil {
		t.Fatalf("GenerateSchedule: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 releases, got %d", len(out))
	}
	if out[0].Amount != 9500 || out[1].Amount != 9500 {
		t.Fatalf("expected 9500/9500, got %d/%d", out[0].Amount, out[1].Amount)
	}
	if !out[0].ScheduledFor.Equal(day(1)) || !out[1].ScheduledFor.Equal(day(7)) {
		t.Fatalf("expected start/end scheduling, got %v/%v", out[0].ScheduledFor, out[1].ScheduledFor)
	}
	for _, rel := range out {
		if rel.ReleaseType != ReleaseTypePartial {
			t.Fatalf("expected partial, got %s", rel.ReleaseType)
		}
	}
}

func TestScheduleLongRental(t *testing.T) {
	out, err := GenerateSchedule(30000, 500, day(1), day(20), ScheduleOptions{})
	if err != nil {
		t.Fatalf("GenerateSchedule: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(out))
	}
	var sum int64
	for _, rel := range out {
		if rel.ReleaseType != ReleaseTypeInstallment {
			t.Fatalf("expected installment, got %s", rel.ReleaseType)
		}
		if rel.Amount <= 0 {
			t.Fatalf("non-positive installment: %d", rel.Amount)
		}
		sum += rel.Amount
	}
	if sum != 28500 {
		t.Fatalf("installments sum to %d, want 28500", sum)
	}
	if !out[0].ScheduledFor.Equal(day(1)) || !out[1].ScheduledFor.Equal(day(8)) {
		t.Fatalf("expected weekly cadence, got %v/%v", out[0].ScheduledFor, out[1].ScheduledFor)
	}
	if !out[2].ScheduledFor.Equal(day(20)) {
		t.Fatalf("last installment must land at end of rental, got %v", out[2].ScheduledFor)
	}
}

func TestScheduleMergesTinyInstallments(t *testing.T) {
	// 22 days would be 4 weekly installments, but 300/4 = 75 is below the
	// floor, so shares merge until each is at least 100.
	out, err := GenerateSchedule(300, 0, day(1), day(22), ScheduleOptions{MinInstallmentAmount: 100})
	if err != nil {
		t.Fatalf("GenerateSchedule: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 merged installments, got %d", len(out))
	}
	var sum int64
	for _, rel := range out {
		if rel.Amount < 100 {
			t.Fatalf("installment %d below floor", rel.Amount)
		}
		sum += rel.Amount
	}
	if sum != 300 {
		t.Fatalf("installments sum to %d, want 300", sum)
	}
}

func TestScheduleTinyNetCollapsesToSingleRelease(t *testing.T) {
	out, err := GenerateSchedule(1, 0, day(1), day(7), ScheduleOptions{})
	if err != nil {
		t.Fatalf("GenerateSchedule: %v", err)
	}
	if len(out) != 1 || out[0].Amount != 1 {
		t.Fatalf("expected single release of 1, got %+v", out)
	}
	if !out[0].ScheduledFor.Equal(day(7)) {
		t.Fatalf("expected release at end, got %v", out[0].ScheduledFor)
	}
}

func TestScheduleSumInvariant(t *testing.T) {
	amounts := []int64{1, 99, 1000, 4999, 10000, 33333, 250000}
	durations := []int{1, 3, 4, 7, 14, 15, 17, 30, 60}
	for _, amount := range amounts {
		for _, days := range durations {
			out, err := GenerateSchedule(amount, 500, day(1), day(days), ScheduleOptions{})
			if err != nil {
				t.Fatalf("GenerateSchedule(%d, %d days): %v", amount, days, err)
			}
			net := amount - PlatformFeeFor(amount, 500)
			var sum int64
			for _, rel := range out {
				if rel.Amount <= 0 {
					t.Fatalf("amount=%d days=%d produced non-positive release %d", amount, days, rel.Amount)
				}
				sum += rel.Amount
			}
			if sum != net {
				t.Fatalf("amount=%d days=%d: releases sum to %d, want %d", amount, days, sum, net)
			}
			last := out[len(out)-1]
			if !last.ScheduledFor.Equal(day(days)) {
				t.Fatalf("amount=%d days=%d: last release at %v, want end of rental", amount, days, last.ScheduledFor)
			}
		}
	}
}

func TestScheduleRejectsInvalidInput(t *testing.T) {
	if _, err := GenerateSchedule(0, 500, day(1), day(2), ScheduleOptions{}); err == nil {
		t.Fatal("expected error for zero amount")
	}
	if _, err := GenerateSchedule(1000, 10000, day(1), day(2), ScheduleOptions{}); err == nil {
		t.Fatal("expected error for 100% fee")
	}
	if _, err := GenerateSchedule(1000, -1, day(1), day(2), ScheduleOptions{}); err == nil {
		t.Fatal("expected error for negative fee")
	}
	if _, err := GenerateSchedule(1000, 500, day(10), day(2), ScheduleOptions{}); err == nil {
		t.Fatal("expected error for inverted dates")
	}
}

func TestPlatformFeeFor(t *testing.T) {
	if fee := PlatformFeeFor(10000, 500); fee != 500 {
		t.Fatalf("expected 500, got %d", fee)
	}
	if fee := PlatformFeeFor(999, 500); fee != 49 {
		t.Fatalf("expected floor to 49, got %d", fee)
	}
	if fee := PlatformFeeFor(1, 500); fee != 0 {
		t.Fatalf("expected 0, got %d", fee)
	}
}

func TestRetryBackoff(t *testing.T) {
	base := 5 * time.Minute
	cap := 6 * time.Hour
	if d := RetryBackoff(base, cap, 0); d != base {
		t.Fatalf("attempt 0: got %v", d)
	}
	if d := RetryBackoff(base, cap, 1); d != 10*time.Minute {
		t.Fatalf("attempt 1: got %v", d)
	}
	if d := RetryBackoff(base, cap, 3); d != 40*time.Minute {
		t.Fatalf("attempt 3: got %v", d)
	}
	if d := RetryBackoff(base, cap, 12); d != cap {
		t.Fatalf("attempt 12 should cap: got %v", d)
	}
}
