package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	eventadapter "github.com/gearmarket/escrow-service/internal/adapters/events"
	"github.com/gearmarket/escrow-service/internal/adapters/memory"
	"github.com/gearmarket/escrow-service/internal/adapters/security"
	transferadapter "github.com/gearmarket/escrow-service/internal/adapters/transfer"
	"github.com/gearmarket/escrow-service/internal/application"
	"github.com/gearmarket/escrow-service/internal/domain"
)

const (
	testWebhookSecret  = "whsec_test"
	testOperatorSecret = "opsec_test"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	directory := memory.NewDirectory()
	directory.SetPayeeAccount("payee_1", "acct_1")
	svc := application.NewService(application.Dependencies{
		Bookings:     store,
		Ledger:       store,
		DedupCache:   memory.NewDedupCache(),
		Outbox:       memory.NewOutbox(),
		Transfers:    transferadapter.NewFakeClient(),
		Directory:    directory,
		DomainEvents: eventadapter.NewMemoryDomainPublisher(),
		Analytics:    eventadapter.NewMemoryAnalyticsPublisher(),
		DLQ:          eventadapter.NewLoggingDLQPublisher(),
	})

	webhooks, err := security.NewWebhookVerifier(testWebhookSecret)
	if err != nil {
		t.Fatalf("webhook verifier: %v", err)
	}
	operators, err := security.NewTokenVerifier(testOperatorSecret)
	if err != nil {
		t.Fatalf("token verifier: %v", err)
	}

	server := httptest.NewServer(NewRouter(NewHandler(svc), webhooks, operators))
	t.Cleanup(server.Close)
	return server, store
}

func seedBooking(t *testing.T, store *memory.Store, bookingID string, total int64) {
	t.Helper()
	err := store.Create(context.Background(), domain.Booking{
		BookingID:    bookingID,
		PayerID:      "payer_1",
		PayeeID:      "payee_1",
		EquipmentID:  "eq_1",
		StartDate:    time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		Currency:     "USD",
		TotalAmount:  total,
		EscrowStatus: domain.EscrowStatusNone,
	})
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func operatorToken(t *testing.T, subject, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testOperatorSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func postWebhook(t *testing.T, server *httptest.Server, body []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/webhooks/payment-captured", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestWebhookAcceptsSignedDelivery(t *testing.T) {
	server, store := newTestServer(t)
	seedBooking(t, store, "bk_w1", 10000)

	body := []byte(`{"event_id":"evt_1","booking_id":"bk_w1","amount":10000}`)
	resp := postWebhook(t, server, body, signBody(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	booking, _ := store.GetByID(context.Background(), "bk_w1")
	if booking.EscrowStatus != domain.EscrowStatusHolding {
		t.Fatalf("expected holding, got %s", booking.EscrowStatus)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	server, store := newTestServer(t)
	seedBooking(t, store, "bk_w2", 10000)

	body := []byte(`{"event_id":"evt_2","booking_id":"bk_w2","amount":10000}`)
	resp := postWebhook(t, server, body, "sha256=deadbeef")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	booking, _ := store.GetByID(context.Background(), "bk_w2")
	if booking.EscrowStatus != domain.EscrowStatusNone {
		t.Fatalf("unsigned delivery must not create a hold, got %s", booking.EscrowStatus)
	}
}

func TestWebhookDuplicateDeliveryReturns200(t *testing.T) {
	server, store := newTestServer(t)
	seedBooking(t, store, "bk_w3", 10000)

	body := []byte(`{"event_id":"evt_3","booking_id":"bk_w3","amount":10000}`)
	first := postWebhook(t, server, body, signBody(body))
	first.Body.Close()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first delivery: expected 202, got %d", first.StatusCode)
	}
	second := postWebhook(t, server, body, signBody(body))
	defer second.Body.Close()
	if second.StatusCode != http.StatusOK {
		t.Fatalf("duplicate delivery: expected 200, got %d", second.StatusCode)
	}
}

func TestWebhookAmountMismatchReturns422(t *testing.T) {
	server, store := newTestServer(t)
	seedBooking(t, store, "bk_w4", 10000)

	body := []byte(`{"event_id":"evt_4","booking_id":"bk_w4","amount":1}`)
	resp := postWebhook(t, server, body, signBody(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestGetBalanceEnvelope(t *testing.T) {
	server, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/v1/balances/payee_1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Status string `json:"status"`
		Data   struct {
			PayeeID  string `json:"payee_id"`
			Currency string `json:"currency"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "success" || payload.Data.PayeeID != "payee_1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestAdminEndpointsRequireOperatorToken(t *testing.T) {
	server, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/admin/releases/rel_1/retry", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, server.URL+"/v1/admin/releases/rel_1/retry", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, server.URL+"/v1/admin/releases/rel_1/retry", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken(t, "user_1", "user"))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-operator role: expected 403, got %d", resp.StatusCode)
	}

	// Operator with a missing release gets a domain 404, not an auth error.
	req, _ = http.NewRequest(http.MethodPost, server.URL+"/v1/admin/releases/rel_1/retry", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken(t, "ops_1", "operator"))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("operator on missing release: expected 404, got %d", resp.StatusCode)
	}
}

func TestAdminResolveFailedRelease(t *testing.T) {
	server, store := newTestServer(t)
	seedBooking(t, store, "bk_a1", 10000)
	ctx := context.Background()

	releases := []domain.EscrowRelease{{
		ReleaseID:    "rel_a1",
		BookingID:    "bk_a1",
		Amount:       9500,
		ReleaseType:  domain.ReleaseTypeImmediate,
		ScheduledFor: time.Now().Add(-time.Hour),
		Status:       domain.ReleaseStatusPending,
	}}
	if err := store.HoldWithSchedule(ctx, "evt_a1", "payment.captured", "bk_a1", 500, releases, time.Now().Add(time.Hour), time.Now()); err != nil {
		t.Fatalf("HoldWithSchedule: %v", err)
	}
	if _, err := store.ClaimDue(ctx, 1, "tok", time.Now()); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if _, _, err := store.FailRelease(ctx, "rel_a1", "tok", "provider rejected account", time.Now()); err != nil {
		t.Fatalf("FailRelease: %v", err)
	}

	body := []byte(fmt.Sprintf(`{"external_transfer_id":%q,"note":"manual wire"}`, "tr_manual"))
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/admin/releases/rel_a1/resolve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+operatorToken(t, "ops_1", "admin"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	release, _ := store.GetRelease(ctx, "rel_a1")
	if release.Status != domain.ReleaseStatusCompleted || release.ExternalTransferID != "tr_manual" {
		t.Fatalf("unexpected release %+v", release)
	}
}
