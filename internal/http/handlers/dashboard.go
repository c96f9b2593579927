package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/safeguard/internal/coordinator"
	"github.com/wolfman30/safeguard/internal/incidents"
	"github.com/wolfman30/safeguard/internal/notify"
	"github.com/wolfman30/safeguard/internal/pipeline"
	"github.com/wolfman30/safeguard/internal/settings"
	"github.com/wolfman30/safeguard/pkg/logging"
)

const defaultIncidentPage = 50

// Monitor is the dashboard view of the pipeline.
type Monitor interface {
	Stats(ctx context.Context) (pipeline.DashboardStats, error)
	Incidents(ctx context.Context, limit int) ([]incidents.Incident, error)
	Export(ctx context.Context) (incidents.Export, error)
	Clear(ctx context.Context) error
	TestNotification(ctx context.Context, verdict *coordinator.FinalVerdict) (notify.Outcome, error)
	Capability(ctx context.Context) pipeline.CapabilityStatus
}

// SettingsStore is satisfied by *settings.Store.
type SettingsStore interface {
	Get(ctx context.Context) (settings.Settings, error)
	Update(ctx context.Context, p settings.Patch) (settings.Settings, error)
}

// DashboardHandler serves the guardian dashboard API.
type DashboardHandler struct {
	monitor  Monitor
	settings SettingsStore
	logger   *logging.Logger
	now      func() time.Time
}

func NewDashboardHandler(monitor Monitor, store SettingsStore, logger *logging.Logger) *DashboardHandler {
	if monitor == nil || store == nil {
		panic("handlers: dashboard requires a monitor and a settings store")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DashboardHandler{monitor: monitor, settings: store, logger: logger.Component("dashboard"), now: time.Now}
}

// Stats handles GET /v1/dashboard/stats.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.monitor.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to load stats", "error", err)
		jsonError(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Incidents handles GET /v1/dashboard/incidents?limit=N, newest first.
func (h *DashboardHandler) Incidents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultIncidentPage)
	list, err := h.monitor.Incidents(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list incidents", "error", err)
		jsonError(w, "failed to list incidents", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []incidents.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": list, "count": len(list)})
}

// Export handles GET /v1/dashboard/export as a JSON download.
func (h *DashboardHandler) Export(w http.ResponseWriter, r *http.Request) {
	export, err := h.monitor.Export(r.Context())
	if err != nil {
		h.logger.Error("failed to export incidents", "error", err)
		jsonError(w, "failed to export incidents", http.StatusInternalServerError)
		return
	}
	filename := fmt.Sprintf("safeguard-export-%s.json", h.now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	writeJSON(w, http.StatusOK, export)
}

// Clear handles DELETE /v1/dashboard/data.
func (h *DashboardHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.Clear(r.Context()); err != nil {
		h.logger.Error("failed to clear data", "error", err)
		jsonError(w, "failed to clear data", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// TestNotification handles POST /v1/dashboard/test-notification. The body
// may carry a verdict to render; an empty body sends the sample alert.
func (h *DashboardHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTextBody))
	if err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var verdict *coordinator.FinalVerdict
	if len(bytes.TrimSpace(body)) > 0 {
		var v coordinator.FinalVerdict
		if err := json.Unmarshal(body, &v); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		verdict = &v
	}

	outcome, err := h.monitor.TestNotification(r.Context(), verdict)
	switch {
	case errors.Is(err, notify.ErrNoRecipients):
		jsonError(w, "no guardian email or phone configured", http.StatusConflict)
		return
	case errors.Is(err, pipeline.ErrNoNotifier):
		jsonError(w, "notifications are not configured", http.StatusServiceUnavailable)
		return
	case err != nil:
		h.logger.Error("test notification failed", "error", err)
		jsonError(w, "test notification failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// Capability handles GET /v1/dashboard/capability.
func (h *DashboardHandler) Capability(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Capability(r.Context()))
}

// GetSettings handles GET /v1/dashboard/settings. Secrets are masked.
func (h *DashboardHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		h.logger.Error("failed to load settings", "error", err)
		jsonError(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.Redacted())
}

// UpdateSettings handles PUT /v1/dashboard/settings with a partial body.
func (h *DashboardHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch settings.Patch
	if err := decodeJSON(w, r, maxTextBody, &patch); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s, err := h.settings.Update(r.Context(), patch)
	if err != nil {
		if errors.Is(err, settings.ErrInvalid) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to update settings", "error", err)
		jsonError(w, "failed to update settings", http.StatusInternalServerError)
		return
	}
	h.logger.Info("settings updated", "mode", s.Mode, "enabled", s.Enabled)
	writeJSON(w, http.StatusOK, s.Redacted())
}
