package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/safeguard/internal/coordinator"
	"github.com/wolfman30/safeguard/internal/detection"
	"github.com/wolfman30/safeguard/internal/escalation"
	"github.com/wolfman30/safeguard/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/safeguard/internal/http/middleware"
	"github.com/wolfman30/safeguard/internal/incidents"
	"github.com/wolfman30/safeguard/internal/inference"
	"github.com/wolfman30/safeguard/internal/memory"
	"github.com/wolfman30/safeguard/internal/notify"
	"github.com/wolfman30/safeguard/internal/observability/metrics"
	"github.com/wolfman30/safeguard/internal/pipeline"
	"github.com/wolfman30/safeguard/internal/settings"
	"github.com/wolfman30/safeguard/internal/sitecheck"
	"github.com/wolfman30/safeguard/pkg/logging"
)

const secret = "router-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := logging.Default()
	reg := prometheus.NewRegistry()
	m := metrics.NewPipelineMetrics(reg)
	gate := inference.NewGate(inference.Unavailable("no credentials"), logger)
	settingsStore := settings.NewStore(incidents.NewMemoryKV(), settings.Settings{
		Mode:        escalation.ModeActive,
		Enabled:     true,
		ParentEmail: "parent@example.com",
	}, logger)
	feed := handlers.NewAlertFeed(logger)
	dispatcher := notify.NewDispatcher(nil, nil, logger, notify.WithObserver(func(channel string, r notify.Result) {
		m.ObserveNotification(channel, r.Success, r.Simulated)
	}))

	p := pipeline.New(pipeline.Deps{
		Memory:      memory.New(memory.DefaultCapacity),
		Text:        detection.NewTextReporter(gate, logger),
		Describer:   detection.NewImageDescriber(gate, logger),
		Assessor:    detection.NewImageAssessor(gate, logger),
		Coordinator: coordinator.New(gate, logger),
		Incidents:   incidents.NewStore(incidents.NewMemoryKV(), logger, incidents.WithObserver(m)),
		Notifier:    dispatcher,
		Settings:    settingsStore,
		Policy:      escalation.DefaultPolicy(),
		Pages:       sitecheck.NewChecker(),
		Gate:        gate,
		Publisher:   feed,
		Metrics:     m,
	}, logger)

	return New(&Config{
		Logger:          logger,
		Version:         "test",
		Analyze:         handlers.NewAnalyzeHandler(p, nil, logger),
		Dashboard:       handlers.NewDashboardHandler(p, settingsStore, logger),
		AlertFeed:       feed,
		AdminAuthSecret: secret,
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
}

func adminRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	token, err := httpmiddleware.SignAdminToken(secret, "guardian", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestRouterPageHitReachesDashboard(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze/page", strings.NewReader(`{"url":"https://www.pornhub.com/","platform":"Chrome"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.False(t, res.Safe)
	assert.Equal(t, 10, res.Level)
	assert.True(t, res.ShowWarning)
	assert.True(t, res.Notified)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(t, http.MethodGet, "/v1/dashboard/stats"))
	require.Equal(t, http.StatusOK, rr.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 1.0, stats["threatsDetected"])
	assert.Equal(t, 1.0, stats["criticalThreats"])

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `safeguard_pipeline_events_total{kind="page",outcome="threat"} 1`)
	assert.Contains(t, rr.Body.String(), `safeguard_notify_deliveries_total{channel="email",status="simulated"} 1`)
}

func TestRouterTextWithoutEngineIsSafe(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze/text", strings.NewReader(`{"text":"see you at practice","direction":"sent"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"safe":true`)
}

func TestRouterDashboardRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/v1/dashboard/stats", "/v1/dashboard/settings", "/v1/dashboard/live"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(t, http.MethodGet, "/v1/dashboard/capability"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"available":false`)
}

func TestRouterEventsWithoutQueue(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(`{"kind":"text","text":{"text":"hi"}}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
