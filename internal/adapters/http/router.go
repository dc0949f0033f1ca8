package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gearmarket/escrow-service/internal/adapters/security"
)

func NewRouter(handler *Handler, webhooks *security.WebhookVerifier, operators *security.TokenVerifier) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ok", nil) })
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ready", nil) })

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(webhookSignatureMiddleware(webhooks))
			r.Post("/webhooks/payment-captured", handler.paymentCaptured)
		})

		r.Get("/balances/{payeeId}", handler.getBalance)
		r.Get("/payees/{payeeId}/releases", handler.listPayeeReleases)
		r.Get("/releases/{id}", handler.getRelease)

		r.Route("/admin", func(r chi.Router) {
			r.Use(operatorAuthMiddleware(operators))
			r.Post("/releases/{id}/retry", handler.retryRelease)
			r.Post("/releases/{id}/resolve", handler.resolveRelease)
			r.Post("/process", handler.processNow)
		})
	})
	return r
}
