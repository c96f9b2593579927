package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/safeguard/internal/api/router"
	appconfig "github.com/wolfman30/safeguard/internal/config"
	"github.com/wolfman30/safeguard/internal/coordinator"
	"github.com/wolfman30/safeguard/internal/detection"
	"github.com/wolfman30/safeguard/internal/escalation"
	"github.com/wolfman30/safeguard/internal/http/handlers"
	"github.com/wolfman30/safeguard/internal/incidents"
	"github.com/wolfman30/safeguard/internal/inference"
	"github.com/wolfman30/safeguard/internal/intake"
	"github.com/wolfman30/safeguard/internal/memory"
	"github.com/wolfman30/safeguard/internal/notify"
	"github.com/wolfman30/safeguard/internal/observability/metrics"
	"github.com/wolfman30/safeguard/internal/pipeline"
	"github.com/wolfman30/safeguard/internal/settings"
	"github.com/wolfman30/safeguard/internal/sitecheck"
	"github.com/wolfman30/safeguard/pkg/logging"
)

var version = "dev"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting safeguard",
		"env", cfg.Env,
		"port", cfg.Port,
		"version", version,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.close()

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	if app.worker != nil {
		app.worker.Start(workerCtx)
	}

	// No WriteTimeout: the live feed is long-lived and analysis routes are
	// bounded by the router's Timeout middleware.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancelWorkers()
	if app.worker != nil {
		app.worker.Wait()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// application is everything main needs after wiring.
type application struct {
	handler http.Handler
	worker  *intake.Worker
	closers []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*application, error) {
	app := &application{}

	metricsHandler, m := setupMetrics()

	res, err := newResources(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, res.close)

	capability := buildCapability(ctx, cfg, res, logger)
	gate := inference.NewGate(capability, logger,
		inference.WithTimeout(cfg.InferenceTimeout),
		inference.WithObserver(m.ObserveInference),
	)
	if _, ok := capability.Engine(); !ok {
		logger.Warn("inference unavailable, analysis will degrade to safe verdicts", "reason", capability.Reason())
	}

	incidentKV, err := res.kv("incidents")
	if err != nil {
		app.close()
		return nil, err
	}
	settingsKV, err := res.kv("settings")
	if err != nil {
		app.close()
		return nil, err
	}

	storeOpts := []incidents.Option{
		incidents.WithLimits(incidents.Limits{
			BudgetBytes:    cfg.StorageBudget,
			MaxIncidents:   cfg.IncidentCap,
			EmergencyLevel: cfg.WarningThreshold,
		}),
		incidents.WithObserver(m),
	}
	if archiver := res.archiver(); archiver != nil {
		storeOpts = append(storeOpts, incidents.WithArchiver(archiver))
	}
	incidentStore := incidents.NewStore(incidentKV, logger, storeOpts...)
	settingsStore := settings.NewStore(settingsKV, defaultSettings(cfg), logger)

	dispatcher := notify.NewDispatcher(
		buildEmailTransport(cfg, logger),
		buildSMSTransport(cfg, logger),
		logger,
		notify.WithObserver(func(channel string, r notify.Result) {
			m.ObserveNotification(channel, r.Success, r.Simulated)
		}),
	)

	policy := escalation.Policy{
		WarningThreshold:  cfg.WarningThreshold,
		CriticalThreshold: cfg.CriticalThreshold,
	}
	feed := handlers.NewAlertFeed(logger)
	p := pipeline.New(pipeline.Deps{
		Memory:      memory.New(cfg.MemoryWindow),
		Text:        detection.NewTextReporter(gate, logger),
		Describer:   detection.NewImageDescriber(gate, logger),
		Assessor:    detection.NewImageAssessor(gate, logger),
		Coordinator: coordinator.New(gate, logger),
		Incidents:   incidentStore,
		Notifier:    dispatcher,
		Settings:    settingsStore,
		Policy:      policy,
		Pages:       sitecheck.NewChecker(),
		Gate:        gate,
		Publisher:   feed,
		Metrics:     m,
	}, logger)

	queue, err := res.queue()
	if err != nil {
		app.close()
		return nil, err
	}
	var enqueuer handlers.Enqueuer
	if queue != nil {
		enqueuer = intake.NewPublisher(queue)
		app.worker = intake.NewWorker(p, queue, logger, intake.WithWorkerCount(cfg.IntakeWorkers))
	}

	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set, dashboard routes will reject every request")
	}

	app.handler = router.New(&router.Config{
		Logger:             logger,
		Version:            version,
		Analyze:            handlers.NewAnalyzeHandler(p, enqueuer, logger),
		Dashboard:          handlers.NewDashboardHandler(p, settingsStore, logger),
		AlertFeed:          feed,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		AnalyzeRateLimit:   cfg.RateLimitRPS,
		AnalyzeBurst:       cfg.RateLimitBurst,
	})
	return app, nil
}

func setupMetrics() (http.Handler, *metrics.PipelineMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewPipelineMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

// defaultSettings seeds the settings store on first run.
func defaultSettings(cfg *appconfig.Config) settings.Settings {
	s := settings.Settings{
		Mode:        escalation.ParseMode(cfg.MonitorMode),
		Enabled:     cfg.MonitorEnabled,
		ParentEmail: cfg.ParentEmail,
		ParentPhone: cfg.ParentPhone,
		Email: notify.EmailCredentials{
			From:     cfg.EmailFrom,
			FromName: cfg.EmailFromName,
		},
		SMS: notify.SMSCredentials{
			APIKey:    cfg.SMSAPIKey,
			APISecret: cfg.SMSAPISecret,
			From:      cfg.SMSFrom,
		},
	}
	switch cfg.EmailProvider {
	case "ses":
		s.Email.APIKey = cfg.SESAccessKeyID
		s.Email.Secret = cfg.SESSecretKey
	default:
		s.Email.APIKey = cfg.SendGridAPIKey
	}
	return s
}

func buildEmailTransport(cfg *appconfig.Config, logger *logging.Logger) notify.EmailTransport {
	switch cfg.EmailProvider {
	case "ses":
		return notify.NewSESTransport(cfg.AWSRegion, logger)
	case "none", "":
		return nil
	default:
		return notify.NewSendGridTransport("", logger)
	}
}

func buildSMSTransport(cfg *appconfig.Config, logger *logging.Logger) notify.SMSTransport {
	switch cfg.SMSProvider {
	case "twilio":
		return notify.NewTwilioTransport(cfg.SMSEndpoint, nil, logger)
	case "none", "":
		return nil
	default:
		return notify.NewVonageTransport(cfg.SMSEndpoint, nil, logger)
	}
}
