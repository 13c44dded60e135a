package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/parishops/mailqueue/internal/domain"
	"github.com/parishops/mailqueue/internal/service"
)

// trackingPixel is a 1x1 transparent GIF.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackingHandler records open/click events from recipient mail clients.
// This endpoint must never error back to the recipient's browser: tracking
// write failures are swallowed inside the service, and the response is
// always the pixel or the redirect once the query parameters are sane.
type TrackingHandler struct {
	svc     *service.MailService
	onEvent func(domain.EventType)
	logger  *zap.Logger
}

// NewTrackingHandler constructs the handler. onEvent is an optional metrics
// callback (nil = no-op).
func NewTrackingHandler(svc *service.MailService, onEvent func(domain.EventType), logger *zap.Logger) *TrackingHandler {
	if onEvent == nil {
		onEvent = func(domain.EventType) {}
	}
	return &TrackingHandler{svc: svc, onEvent: onEvent, logger: logger}
}

// Track handles GET /track?id=<messageId>&event=open|click[&url=<target>]
func (h *TrackingHandler) Track(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("id")
	event := domain.EventType(q.Get("event"))
	target := q.Get("url")

	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	if !event.IsValid() {
		respondError(w, http.StatusBadRequest, "event must be open or click")
		return
	}
	if event == domain.EventClick && target == "" {
		respondError(w, http.StatusBadRequest, "url is required for click events")
		return
	}

	h.svc.RecordTracking(r.Context(), id, event, target, r.UserAgent(), r.RemoteAddr)
	h.onEvent(event)

	if event == domain.EventClick {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	h.servePixel(w)
}

func (h *TrackingHandler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(trackingPixel)
}
