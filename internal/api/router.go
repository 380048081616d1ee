package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/webhook", h.VerifyWebhook)
	r.Post("/webhook", h.ReceiveWebhook)
	r.Post("/send_message", h.SendMessage)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/messages", h.ListMessages)
		r.Get("/messages/{messageId}", h.GetMessage)

		if h.replay != nil {
			r.Get("/replay/status", h.ReplayStatus)
			r.Post("/replay/start", h.ReplayStart)
			r.Post("/replay/stop", h.ReplayStop)
			r.Post("/replay/run", h.ReplayRun)
		}
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("wa-ledger"))
	})

	return r
}
