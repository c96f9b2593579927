package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/safeguard/internal/intake"
	"github.com/wolfman30/safeguard/internal/pipeline"
	"github.com/wolfman30/safeguard/pkg/logging"
)

// Enqueuer is satisfied by *intake.Publisher.
type Enqueuer interface {
	Enqueue(ctx context.Context, env intake.Envelope) (string, error)
}

// AnalyzeHandler serves the synchronous analysis endpoints and, when a
// queue is configured, the asynchronous event intake.
type AnalyzeHandler struct {
	analyzer intake.Analyzer
	queue    Enqueuer
	logger   *logging.Logger
}

func NewAnalyzeHandler(analyzer intake.Analyzer, queue Enqueuer, logger *logging.Logger) *AnalyzeHandler {
	if analyzer == nil {
		panic("handlers: analyzer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AnalyzeHandler{analyzer: analyzer, queue: queue, logger: logger.Component("analyze")}
}

// Text handles POST /v1/analyze/text.
func (h *AnalyzeHandler) Text(w http.ResponseWriter, r *http.Request) {
	var ev pipeline.TextEvent
	if err := decodeJSON(w, r, maxTextBody, &ev); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(ev.Text) == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.analyzer.AnalyzeText(r.Context(), ev))
}

// Image handles POST /v1/analyze/image with a base64 (or data URL) body.
func (h *AnalyzeHandler) Image(w http.ResponseWriter, r *http.Request) {
	var payload intake.ImagePayload
	if err := decodeJSON(w, r, maxImageBody, &payload); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ev, err := payload.Event()
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.analyzer.AnalyzeImage(r.Context(), ev))
}

// Page handles POST /v1/analyze/page.
func (h *AnalyzeHandler) Page(w http.ResponseWriter, r *http.Request) {
	var ev pipeline.PageEvent
	if err := decodeJSON(w, r, maxTextBody, &ev); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(ev.URL) == "" {
		jsonError(w, "url is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.analyzer.AnalyzePage(r.Context(), ev))
}

// Enqueue handles POST /v1/events: the event is accepted for background
// analysis and its ID returned.
func (h *AnalyzeHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		jsonError(w, "event intake is not configured", http.StatusServiceUnavailable)
		return
	}
	var env intake.Envelope
	if err := decodeJSON(w, r, maxImageBody, &env); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.queue.Enqueue(r.Context(), env)
	if err != nil {
		if errors.Is(err, intake.ErrInvalidEnvelope) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to enqueue event", "error", err, "kind", env.Kind)
		jsonError(w, "failed to enqueue event", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "queued"})
}
