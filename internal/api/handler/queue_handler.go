package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/parishops/mailqueue/internal/service"
	"github.com/parishops/mailqueue/internal/worker"
)

// QueueHandler exposes the batch trigger and queue stats endpoints.
type QueueHandler struct {
	worker *worker.BatchWorker
	svc    *service.MailService
	logger *zap.Logger
}

func NewQueueHandler(w *worker.BatchWorker, svc *service.MailService, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{worker: w, svc: svc, logger: logger}
}

// Process handles POST /api/v1/queue/process — the externally-invoked batch
// trigger. One call claims and resolves one batch; the response carries the
// outcome counts for observability.
func (h *QueueHandler) Process(w http.ResponseWriter, r *http.Request) {
	result := h.worker.RunOnce(r.Context())
	respondJSON(w, http.StatusOK, result)
}

// Stats handles GET /api/v1/queue/stats
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to compute queue stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
