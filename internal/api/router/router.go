package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/safeguard/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/safeguard/internal/http/middleware"
	"github.com/wolfman30/safeguard/pkg/logging"
)

const analyzeTimeout = 90 * time.Second

// Config holds router configuration.
type Config struct {
	Logger    *logging.Logger
	Version   string
	Analyze   *handlers.AnalyzeHandler
	Dashboard *handlers.DashboardHandler
	AlertFeed *handlers.AlertFeed

	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// AnalyzeRateLimit is requests/sec per client on /v1/analyze; zero
	// disables limiting.
	AnalyzeRateLimit float64
	AnalyzeBurst     int
}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", handlers.Health(cfg.Version))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		if cfg.Analyze != nil {
			v1.Group(func(analyze chi.Router) {
				analyze.Use(middleware.Timeout(analyzeTimeout))
				if cfg.AnalyzeRateLimit > 0 {
					analyze.Use(httpmiddleware.RateLimit(httpmiddleware.NewRateLimiter(cfg.AnalyzeRateLimit, cfg.AnalyzeBurst)))
				}
				analyze.Post("/analyze/text", cfg.Analyze.Text)
				analyze.Post("/analyze/image", cfg.Analyze.Image)
				analyze.Post("/analyze/page", cfg.Analyze.Page)
				analyze.Post("/events", cfg.Analyze.Enqueue)
			})
		}

		v1.Route("/dashboard", func(dash chi.Router) {
			dash.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.AlertFeed != nil {
				dash.Get("/live", cfg.AlertFeed.ServeHTTP)
			}
			if cfg.Dashboard == nil {
				return
			}
			dash.Group(func(api chi.Router) {
				api.Use(middleware.Compress(5, "application/json"))
				api.Get("/stats", cfg.Dashboard.Stats)
				api.Get("/incidents", cfg.Dashboard.Incidents)
				api.Get("/export", cfg.Dashboard.Export)
				api.Delete("/data", cfg.Dashboard.Clear)
				api.Post("/test-notification", cfg.Dashboard.TestNotification)
				api.Get("/capability", cfg.Dashboard.Capability)
				api.Get("/settings", cfg.Dashboard.GetSettings)
				api.Put("/settings", cfg.Dashboard.UpdateSettings)
			})
		})
	})

	return r
}
