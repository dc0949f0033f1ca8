package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gearmarket/escrow-service/internal/application"
	"github.com/gearmarket/escrow-service/internal/contracts"
	"github.com/gearmarket/escrow-service/internal/domain"
)

type Handler struct {
	service *application.Service
}

func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

// paymentCaptured ingests the checkout collaborator's webhook. Redeliveries
// of an already-processed event return 200 so the sender stops retrying.
func (h *Handler) paymentCaptured(w http.ResponseWriter, r *http.Request) {
	var req contracts.PaymentCapturedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), requestIDFromContext(r.Context()))
		return
	}
	err := h.service.HandlePaymentCaptured(r.Context(), application.PaymentCapturedInput{
		EventID:   strings.TrimSpace(req.EventID),
		BookingID: strings.TrimSpace(req.BookingID),
		Amount:    req.Amount,
		Timestamp: req.Timestamp,
	})
	if errors.Is(err, domain.ErrDuplicateEvent) {
		writeSuccess(w, http.StatusOK, "event already processed", nil)
		return
	}
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusAccepted, "escrow hold created", nil)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetBalance(r.Context(), chi.URLParam(r, "payeeId"))
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", balance)
}

func (h *Handler) listPayeeReleases(w http.ResponseWriter, r *http.Request) {
	releases, err := h.service.ListReleases(r.Context(), chi.URLParam(r, "payeeId"))
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]interface{}{"items": releases})
}

func (h *Handler) getRelease(w http.ResponseWriter, r *http.Request) {
	release, err := h.service.GetRelease(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", release)
}

func (h *Handler) retryRelease(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	release, err := h.service.RetryRelease(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "release requeued", release)
}

func (h *Handler) resolveRelease(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	var req contracts.ResolveReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), requestIDFromContext(r.Context()))
		return
	}
	release, err := h.service.ResolveRelease(r.Context(), actor, application.ResolveReleaseInput{
		ReleaseID:          chi.URLParam(r, "id"),
		ExternalTransferID: strings.TrimSpace(req.ExternalTransferID),
		Note:               strings.TrimSpace(req.Note),
	})
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "release resolved", release)
}

// processNow runs one processor pass on demand, for operators draining a
// backlog without waiting for the worker tick.
func (h *Handler) processNow(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.ProcessDueReleases(r.Context())
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]interface{}{
		"claimed":   stats.Claimed,
		"completed": stats.Completed,
		"retried":   stats.Retried,
		"failed":    stats.Failed,
	})
}
