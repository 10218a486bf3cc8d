package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/koi-auction/bidding-engine/internal/hub"
	"github.com/koi-auction/bidding-engine/internal/ws"
)

func SetupRoutes(h *hub.Hub, log *zap.Logger, reg *prometheus.Registry, submitTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Post("/lots/{lotID}/activate", ActivateLot(h, log))
	r.Post("/lots/{lotID}/bids", SubmitBid(h, log, submitTimeout))
	r.Get("/lots/{lotID}", GetLot(h))
	r.Get("/ws", ws.Handler(h, log, submitTimeout))
	r.Get("/healthz", Healthz)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}
