package pipeline

import (
	"context"
	"time"

	"github.com/wolfman30/safeguard/internal/coordinator"
	"github.com/wolfman30/safeguard/internal/detection"
	"github.com/wolfman30/safeguard/internal/incidents"
	"github.com/wolfman30/safeguard/internal/inference"
	"github.com/wolfman30/safeguard/internal/notify"
	"github.com/wolfman30/safeguard/internal/settings"
	"github.com/wolfman30/safeguard/internal/sitecheck"
)

// TextEvent is one observed chat message.
type TextEvent struct {
	Text      string                 `json:"text"`
	Direction detection.Direction    `json:"direction"`
	Platform  string                 `json:"platform"`
	Timestamp time.Time              `json:"timestamp"`
	Local     *detection.LocalSignal `json:"localSignal,omitempty"`
}

// ImageEvent is one observed image. Bytes are not retained after analysis.
type ImageEvent struct {
	Image     inference.Image     `json:"-"`
	Direction detection.Direction `json:"direction"`
	Platform  string              `json:"platform"`
	Timestamp time.Time           `json:"timestamp"`
}

// PageEvent is one page visit.
type PageEvent struct {
	URL       string    `json:"url"`
	Platform  string    `json:"platform"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is what the caller (extension or worker) acts on.
type Result struct {
	Safe        bool                        `json:"safe"`
	Level       int                         `json:"level"`
	Threat      *coordinator.FinalVerdict   `json:"threat,omitempty"`
	ShowWarning bool                        `json:"showWarning"`
	Notified    bool                        `json:"notified"`
	IncidentID  string                      `json:"incidentId,omitempty"`
	StoreError  string                      `json:"storeError,omitempty"`
	Reporters   coordinator.ReporterResults `json:"reporters"`
	Skipped     string                      `json:"skipped,omitempty"`
}

// LiveAlert is pushed to dashboard subscribers for every recorded threat.
type LiveAlert struct {
	IncidentID    string             `json:"incidentId,omitempty"`
	Kind          incidents.Kind     `json:"type"`
	Level         int                `json:"level"`
	Severity      detection.Severity `json:"severity"`
	PrimaryThreat string             `json:"primaryThreat"`
	Platform      string             `json:"platform"`
	Notified      bool               `json:"notified"`
	Timestamp     time.Time          `json:"timestamp"`
}

// DashboardStats backs the dashboard header.
type DashboardStats struct {
	TotalAnalyzed int `json:"totalAnalyzed"`
	incidents.Stats
}

// CapabilityStatus reports whether the inference engine can be used.
type CapabilityStatus struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// TextAnalyzer is satisfied by *detection.TextReporter.
type TextAnalyzer interface {
	Analyze(ctx context.Context, text string, dir detection.Direction, local *detection.LocalSignal) detection.Verdict
}

// Describer is satisfied by *detection.ImageDescriber.
type Describer interface {
	Describe(ctx context.Context, image inference.Image, dir detection.Direction) detection.Description
}

// Assessor is satisfied by *detection.ImageAssessor.
type Assessor interface {
	Assess(ctx context.Context, desc detection.Description) detection.Verdict
}

// Coordinator is satisfied by *coordinator.Coordinator.
type Coordinator interface {
	Coordinate(ctx context.Context, results coordinator.ReporterResults, mem coordinator.MemoryReader) coordinator.FinalVerdict
}

// IncidentStore is satisfied by *incidents.Store.
type IncidentStore interface {
	Store(ctx context.Context, inc incidents.Incident) incidents.StoreResult
	AttachNotification(ctx context.Context, id string, outcome notify.Outcome) error
	List(ctx context.Context, limit int) ([]incidents.Incident, error)
	Stats(ctx context.Context) (incidents.Stats, error)
	Export(ctx context.Context) (incidents.Export, error)
	Clear(ctx context.Context) error
}

// Notifier is satisfied by *notify.Dispatcher.
type Notifier interface {
	NotifyGuardian(ctx context.Context, contacts notify.Contacts, alert notify.Alert) (notify.Outcome, error)
}

// SettingsSource is satisfied by *settings.Store.
type SettingsSource interface {
	Get(ctx context.Context) (settings.Settings, error)
}

// PageChecker is satisfied by *sitecheck.Checker.
type PageChecker interface {
	Check(rawURL string) sitecheck.Result
}

// Publisher receives live alerts. Publish must not block.
type Publisher interface {
	Publish(alert LiveAlert)
}

// Recorder is satisfied by *metrics.PipelineMetrics.
type Recorder interface {
	ObserveEvent(kind, outcome string)
	ObserveReporterFlag(reporter string)
	ObserveCoordinator(fallback bool)
}
