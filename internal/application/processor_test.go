package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gearmarket/escrow-service/internal/contracts"
	"github.com/gearmarket/escrow-service/internal/domain"
)

func (e *testEnv) soleRelease(t *testing.T, payeeID string) domain.EscrowRelease {
	t.Helper()
	releases, err := e.store.ListByPayee(context.Background(), payeeID)
	if err != nil {
		t.Fatalf("ListByPayee: %v", err)
	}
	if len(releases) != 1 {
		t.Fatalf("expected exactly 1 release, got %d", len(releases))
	}
	return releases[0]
}

func TestProcessDueReleasesCompletes(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seedBooking(t, "bk_p1", "payee_p1", 10000, 1, 2)
	if err := env.svc.HandlePaymentCaptured(context.Background(), captured("bk_p1", 10000)); err != nil {
		t.Fatalf("HandlePaymentCaptured: %v", err)
	}

	stats, err := env.svc.ProcessDueReleases(context.Background())
	if err != nil {
		t.Fatalf("ProcessDueReleases: %v", err)
	}
	if stats.Claimed != 1 || stats.Completed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	release := env.soleRelease(t, "payee_p1")
	if release.Status != domain.ReleaseStatusCompleted {
		t.Fatalf("expected completed, got %s", release.Status)
	}
	if release.ExternalTransferID == "" {
		t.Fatal("completed release must carry the provider transfer id")
	}

	booking, _ := env.store.GetByID(context.Background(), "bk_p1")
	if booking.EscrowStatus != domain.EscrowStatusReleased {
		t.Fatalf("expected released, got %s", booking.EscrowStatus)
	}
	if booking.ReleasedAmount != booking.NetAmount() {
		t.Fatalf("released %d, want %d", booking.ReleasedAmount, booking.NetAmount())
	}

	pending, _ := env.outbox.ListPending(context.Background(), 10)
	var types []string
	for _, rec := range pending {
		types = append(types, rec.Envelope.EventType)
	}
	want := map[string]bool{
		domain.EventEscrowHoldCreated:      false,
		domain.EventEscrowReleaseCompleted: false,
		domain.EventEscrowBookingReleased:  false,
	}
	for _, tp := range types {
		if _, ok := want[tp]; ok {
			want[tp] = true
		}
	}
	for tp, seen := range want {
		if !seen {
			t.Fatalf("missing event %s in outbox, got %v", tp, types)
		}
	}
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seedBooking(t, "bk_p2", "payee_p2", 10000, 1, 2)
	if err := env.svc.HandlePaymentCaptured(context.Background(), captured("bk_p2", 10000)); err != nil {
		t.Fatalf("HandlePaymentCaptured: %v", err)
	}
	release := env.soleRelease(t, "payee_p2")
	env.transfers.FailNext(release.ReleaseID, 1)

	stats, err := env.svc.ProcessDueReleases(context.Background())
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if stats.Retried != 1 {
		t.Fatalf("expected 1 retried, got %+v", stats)
	}
	release = env.soleRelease(t, "payee_p2")
	if release.Status != domain.ReleaseStatusPending || release.AttemptCount != 1 {
		t.Fatalf("expected pending attempt 1, got %s attempt %d", release.Status, release.AttemptCount)
	}
	if !release.ScheduledFor.After(env.now) {
		t.Fatal("rescheduled release must be due in the future")
	}

	// Not yet due: an immediate pass claims nothing.
	stats, _ = env.svc.ProcessDueReleases(context.Background())
	if stats.Claimed != 0 {
		t.Fatalf("claimed a release before its backoff elapsed: %+v", stats)
	}

	env.advance(12 * time.Hour)
	stats, err = env.svc.ProcessDueReleases(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Completed != 1 {
		t.Fatalf("expected completion after backoff, got %+v", stats)
	}
	booking, _ := env.store.GetByID(context.Background(), "bk_p2")
	if booking.EscrowStatus != domain.EscrowStatusReleased {
		t.Fatalf("expected released, got %s", booking.EscrowStatus)
	}
}

func TestProcessPermanentFailureAlertsOnce(t *testing.T) {
	env := newTestEnv(t, Config{MaxAttempts: 2})
	env.seedBooking(t, "bk_p3", "payee_p3", 10000, 1, 2)
	if err := env.svc.HandlePaymentCaptured(context.Background(), captured("bk_p3", 10000)); err != nil {
		t.Fatalf("HandlePaymentCaptured: %v", err)
	}
	release := env.soleRelease(t, "payee_p3")
	env.transfers.FailNext(release.ReleaseID, 10)

	if stats, _ := env.svc.ProcessDueReleases(context.Background()); stats.Retried != 1 {
		t.Fatalf("expected first failure to retry, got %+v", stats)
	}
	env.advance(12 * time.Hour)
	stats, err := env.svc.ProcessDueReleases(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected permanent failure, got %+v", stats)
	}

	release = env.soleRelease(t, "payee_p3")
	if release.Status != domain.ReleaseStatusFailed || release.AttemptCount != 2 {
		t.Fatalf("expected failed after 2 attempts, got %s attempt %d", release.Status, release.AttemptCount)
	}
	booking, _ := env.store.GetByID(context.Background(), "bk_p3")
	if booking.EscrowStatus != domain.EscrowStatusFailed {
		t.Fatalf("expected booking failed, got %s", booking.EscrowStatus)
	}

	pending, _ := env.outbox.ListPending(context.Background(), 20)
	alerts := 0
	for _, rec := range pending {
		if rec.Envelope.EventType == domain.EventEscrowReleaseFailed {
			alerts++
		}
	}
	if alerts != 1 {
		t.Fatalf("expected exactly one failure alert, got %d", alerts)
	}

	// Further passes find nothing claimable; failed is terminal for the worker.
	env.advance(24 * time.Hour)
	if stats, _ := env.svc.ProcessDueReleases(context.Background()); stats.Claimed != 0 {
		t.Fatalf("failed release must not be reclaimed, got %+v", stats)
	}
}

func TestOperatorRetryAfterPermanentFailure(t *testing.T) {
	env := newTestEnv(t, Config{MaxAttempts: 1})
	env.seedBooking(t, "bk_p4", "payee_p4", 10000, 1, 2)
	if err := env.svc.HandlePaymentCaptured(context.Background(), captured("bk_p4", 10000)); err != nil {
		t.Fatalf("HandlePaymentCaptured: %v", err)
	}
	release := env.soleRelease(t, "payee_p4")
	env.transfers.FailNext(release.ReleaseID, 1)

	if stats, _ := env.svc.ProcessDueReleases(context.Background()); stats.Failed != 1 {
		t.Fatalf("expected immediate permanent failure, got %+v", stats)
	}

	operator := Actor{SubjectID: "ops_1", Role: "operator"}
	requeued, err := env.svc.RetryRelease(context.Background(), operator, release.ReleaseID)
	if err != nil {
		t.Fatalf("RetryRelease: %v", err)
	}
	if requeued.Status != domain.ReleaseStatusPending || requeued.AttemptCount != 0 {
		t.Fatalf("expected fresh pending release, got %s attempt %d", requeued.Status, requeued.AttemptCount)
	}
	booking, _ := env.store.GetByID(context.Background(), "bk_p4")
	if booking.EscrowStatus != domain.EscrowStatusHolding {
		t.Fatalf("expected booking back to holding, got %s", booking.EscrowStatus)
	}

	if stats, _ := env.svc.ProcessDueReleases(context.Background()); stats.Completed != 1 {
		t.Fatalf("expected completion after operator retry, got %+v", stats)
	}
}

func TestOperatorResolveOutOfBandTransfer(t *testing.T) {
	env := newTestEnv(t, Config{MaxAttempts: 1})
	env.seedBooking(t, "bk_p5", "payee_p5", 10000, 1, 2)
	if err := env.svc.HandlePaymentCaptured(context.Background(), captured("bk_p5", 10000)); err != nil {
		t.Fatalf("HandlePaymentCaptured: %v", err)
	}
	release := env.soleRelease(t, "payee_p5")
	env.transfers.FailNext(release.ReleaseID, 1)
	if stats, _ := env.svc.ProcessDueReleases(context.Background()); stats.Failed != 1 {
		t.Fatalf("expected permanent failure, got %+v", stats)
	}

	operator := Actor{SubjectID: "ops_1", Role: "admin"}
	resolved, err := env.svc.ResolveRelease(context.Background(), operator, ResolveReleaseInput{
		ReleaseID:          release.ReleaseID,
		ExternalTransferID: "tr_manual_1",
		Note:               "wired manually after provider incident",
	})
	if err != nil {
		t.Fatalf("ResolveRelease: %v", err)
	}
	if resolved.Status != domain.ReleaseStatusCompleted || resolved.ExternalTransferID != "tr_manual_1" {
		t.Fatalf("unexpected resolved release %+v", resolved)
	}
	booking, _ := env.store.GetByID(context.Background(), "bk_p5")
	if booking.EscrowStatus != domain.EscrowStatusReleased {
		t.Fatalf("expected released, got %s", booking.EscrowStatus)
	}
}

func TestReconcileStuckReleases(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seedBooking(t, "bk_s1", "payee_s1", 10000, 1, 2)
	env.seedBooking(t, "bk_s2", "payee_s2", 10000, 1, 2)
	if err := env.svc.HandlePaymentCaptured(context.Background(), captured("bk_s1", 10000)); err != nil {
		t.Fatalf("HandlePaymentCaptured: %v", err)
	}
	if err := env.svc.HandlePaymentCaptured(context.Background(), captured("bk_s2", 10000)); err != nil {
		t.Fatalf("HandlePaymentCaptured: %v", err)
	}
	settled := env.soleRelease(t, "payee_s1")
	unsettled := env.soleRelease(t, "payee_s2")

	// Simulate a worker that claimed both and crashed mid-transfer: the first
	// transfer reached the provider, the second never left.
	if _, err := env.store.ClaimDue(context.Background(), 10, "crashed-worker", env.now); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	env.transfers.Settle(settled.ReleaseID, "tr_recovered")

	env.advance(11 * time.Minute)
	callsBefore := env.transfers.Calls()
	stats, err := env.svc.ReconcileStuck(context.Background())
	if err != nil {
		t.Fatalf("ReconcileStuck: %v", err)
	}
	if stats.Reclaimed != 2 || stats.Completed != 1 || stats.Reset != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if env.transfers.Calls() != callsBefore {
		t.Fatal("reconciliation must never issue transfers")
	}

	got, _ := env.store.GetRelease(context.Background(), settled.ReleaseID)
	if got.Status != domain.ReleaseStatusCompleted || got.ExternalTransferID != "tr_recovered" {
		t.Fatalf("expected recovered completion, got %+v", got)
	}
	got, _ = env.store.GetRelease(context.Background(), unsettled.ReleaseID)
	if got.Status != domain.ReleaseStatusPending {
		t.Fatalf("expected unsettled release reset to pending, got %s", got.Status)
	}
}

func TestReconcileIgnoresFreshClaims(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seedBooking(t, "bk_s3", "payee_s3", 10000, 1, 2)
	if err := env.svc.HandlePaymentCaptured(context.Background(), captured("bk_s3", 10000)); err != nil {
		t.Fatalf("HandlePaymentCaptured: %v", err)
	}
	if _, err := env.store.ClaimDue(context.Background(), 10, "active-worker", env.now); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}

	env.advance(time.Minute)
	stats, err := env.svc.ReconcileStuck(context.Background())
	if err != nil {
		t.Fatalf("ReconcileStuck: %v", err)
	}
	if stats.Reclaimed != 0 {
		t.Fatalf("reconciliation stole a fresh claim: %+v", stats)
	}
}

func TestFlushOutboxRoutesByClass(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seedBooking(t, "bk_f1", "payee_f1", 10000, 1, 2)
	if err := env.svc.HandlePaymentCaptured(context.Background(), captured("bk_f1", 10000)); err != nil {
		t.Fatalf("HandlePaymentCaptured: %v", err)
	}
	if stats, _ := env.svc.ProcessDueReleases(context.Background()); stats.Completed != 1 {
		t.Fatalf("expected completion, got %+v", stats)
	}

	if err := env.svc.FlushOutbox(context.Background()); err != nil {
		t.Fatalf("FlushOutbox: %v", err)
	}
	if n := len(env.domainPub.Events()); n != 2 {
		t.Fatalf("expected 2 domain events (release_completed, booking_released), got %d", n)
	}
	if n := len(env.analytics.Events()); n != 1 {
		t.Fatalf("expected 1 analytics event (hold_created), got %d", n)
	}
	pending, _ := env.outbox.ListPending(context.Background(), 10)
	if len(pending) != 0 {
		t.Fatalf("flushed outbox still has %d pending records", len(pending))
	}
}

type failingDomainPublisher struct{}

func (failingDomainPublisher) PublishDomain(context.Context, contracts.EventEnvelope) error {
	return errors.New("broker unavailable")
}

type capturingDLQ struct {
	records []contracts.DLQRecord
}

func (c *capturingDLQ) PublishDLQ(_ context.Context, rec contracts.DLQRecord) error {
	c.records = append(c.records, rec)
	return nil
}

func TestFlushOutboxDomainFailureGoesToDLQ(t *testing.T) {
	env := newTestEnv(t, Config{})
	dlq := &capturingDLQ{}
	env.svc.domainEvents = failingDomainPublisher{}
	env.svc.dlq = dlq

	env.seedBooking(t, "bk_f2", "payee_f2", 10000, 1, 2)
	if err := env.svc.HandlePaymentCaptured(context.Background(), captured("bk_f2", 10000)); err != nil {
		t.Fatalf("HandlePaymentCaptured: %v", err)
	}
	if stats, _ := env.svc.ProcessDueReleases(context.Background()); stats.Completed != 1 {
		t.Fatalf("expected completion, got %+v", stats)
	}

	err := env.svc.FlushOutbox(context.Background())
	if err == nil {
		t.Fatal("expected flush error when domain publish fails")
	}
	if len(dlq.records) != 1 {
		t.Fatalf("expected 1 DLQ record, got %d", len(dlq.records))
	}
	if dlq.records[0].ErrorSummary != "broker unavailable" {
		t.Fatalf("unexpected DLQ record %+v", dlq.records[0])
	}

	// The failed record stays pending for the next flush.
	pending, _ := env.outbox.ListPending(context.Background(), 10)
	if len(pending) == 0 {
		t.Fatal("failed domain record must remain pending")
	}
}
