package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/parishops/mailqueue/internal/api/handler"
	apimw "github.com/parishops/mailqueue/internal/api/middleware"
	"github.com/parishops/mailqueue/internal/domain"
	"github.com/parishops/mailqueue/internal/service"
	"github.com/parishops/mailqueue/internal/worker"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.MailService,
	batchWorker *worker.BatchWorker,
	onTrackingEvent func(domain.EventType),
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	mh := handler.NewMessageHandler(svc, logger)
	qh := handler.NewQueueHandler(batchWorker, svc, logger)
	th := handler.NewTrackingHandler(svc, onTrackingEvent, logger)
	hh := handler.NewHealthHandler()

	// --- routes ---
	r.Get("/health", hh.Health)

	// Tracking callback lives at the root: the URL is embedded in emails
	// and must stay short and stable.
	r.Get("/track", th.Track)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/messages", mh.Enqueue)
		r.Get("/messages", mh.List)
		r.Get("/messages/{id}", mh.GetByID)
		r.Get("/messages/{id}/events", mh.ListEvents)

		r.Post("/queue/process", qh.Process)
		r.Get("/queue/stats", qh.Stats)
	})

	return r
}
