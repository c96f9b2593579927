// Package pipeline wires the reporters, coordinator, incident store,
// escalation policy and notification dispatcher into one analysis flow.
//
// The Pipeline is an explicitly constructed context object. It owns the
// conversation memory and holds no package-level state, so tests build a
// fresh one per case.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/safeguard/internal/coordinator"
	"github.com/wolfman30/safeguard/internal/detection"
	"github.com/wolfman30/safeguard/internal/escalation"
	"github.com/wolfman30/safeguard/internal/incidents"
	"github.com/wolfman30/safeguard/internal/inference"
	"github.com/wolfman30/safeguard/internal/memory"
	"github.com/wolfman30/safeguard/internal/notify"
	"github.com/wolfman30/safeguard/internal/settings"
	"github.com/wolfman30/safeguard/pkg/logging"
)

var pipelineTracer = otel.Tracer("safeguard.internal.pipeline")

const imageContentPreview = 200

// Deps are the collaborators of a Pipeline. Text, Describer, Assessor,
// Coordinator, Incidents and Settings are required.
type Deps struct {
	Memory      *memory.ConversationMemory
	Text        TextAnalyzer
	Describer   Describer
	Assessor    Assessor
	Coordinator Coordinator
	Incidents   IncidentStore
	Notifier    Notifier
	Settings    SettingsSource
	Policy      escalation.Policy
	Pages       PageChecker
	Gate        *inference.Gate
	Publisher   Publisher
	Metrics     Recorder
}

// Pipeline runs each event through one independent call chain. Only the
// memory and the incident store are shared between events.
type Pipeline struct {
	deps   Deps
	logger *logging.Logger
	now    func() time.Time
}

func New(deps Deps, logger *logging.Logger) *Pipeline {
	switch {
	case deps.Text == nil:
		panic("pipeline: text analyzer cannot be nil")
	case deps.Describer == nil || deps.Assessor == nil:
		panic("pipeline: image reporters cannot be nil")
	case deps.Coordinator == nil:
		panic("pipeline: coordinator cannot be nil")
	case deps.Incidents == nil:
		panic("pipeline: incident store cannot be nil")
	case deps.Settings == nil:
		panic("pipeline: settings cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if deps.Memory == nil {
		deps.Memory = memory.New(memory.DefaultCapacity)
	}
	if deps.Metrics == nil {
		deps.Metrics = noopRecorder{}
	}
	return &Pipeline{deps: deps, logger: logger.Component("pipeline"), now: time.Now}
}

// Memory exposes the conversation memory (read-only use).
func (p *Pipeline) Memory() *memory.ConversationMemory {
	return p.deps.Memory
}

// currentSettings never fails; a read error falls back to active monitoring.
func (p *Pipeline) currentSettings(ctx context.Context) settings.Settings {
	s, err := p.deps.Settings.Get(ctx)
	if err != nil {
		p.logger.Warn("failed to read settings, using active defaults", "error", err)
		return settings.Settings{Mode: escalation.ModeActive, Enabled: true}
	}
	return s
}

// AnalyzeText records the message in memory, runs the text reporter and,
// only when it flags, the coordinator and the escalation path.
func (p *Pipeline) AnalyzeText(ctx context.Context, ev TextEvent) Result {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.analyze_text")
	defer span.End()

	cfg := p.currentSettings(ctx)
	if !cfg.Enabled {
		p.deps.Metrics.ObserveEvent(string(incidents.KindMessage), "skipped")
		return Result{Safe: true, Skipped: "monitoring disabled"}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now()
	}
	dir := detection.ParseDirection(string(ev.Direction))

	p.deps.Memory.Append(detection.Message{
		Text:      ev.Text,
		Direction: dir,
		Platform:  ev.Platform,
		Timestamp: ev.Timestamp,
	})

	verdict := p.deps.Text.Analyze(ctx, ev.Text, dir, ev.Local)
	results := coordinator.ReporterResults{Text: &verdict}
	span.SetAttributes(attribute.Bool("flagged", verdict.IsFlagged), attribute.Int("level", verdict.Level))

	if !results.AnyFlagged() {
		p.deps.Metrics.ObserveEvent(string(incidents.KindMessage), "safe")
		return Result{Safe: true, Level: verdict.Level, Reporters: results}
	}
	p.deps.Metrics.ObserveReporterFlag("text")

	final := p.coordinate(ctx, results)
	return p.escalate(ctx, cfg, threat{
		kind:      incidents.KindMessage,
		content:   ev.Text,
		platform:  ev.Platform,
		direction: dir,
		timestamp: ev.Timestamp,
		results:   results,
		final:     final,
	})
}

// AnalyzeImage describes the image, assesses the description and escalates
// when the assessment flags. The image is not added to memory.
func (p *Pipeline) AnalyzeImage(ctx context.Context, ev ImageEvent) Result {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.analyze_image")
	defer span.End()

	cfg := p.currentSettings(ctx)
	if !cfg.Enabled {
		p.deps.Metrics.ObserveEvent(string(incidents.KindImage), "skipped")
		return Result{Safe: true, Skipped: "monitoring disabled"}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now()
	}
	dir := detection.ParseDirection(string(ev.Direction))

	desc := p.deps.Describer.Describe(ctx, ev.Image, dir)
	verdict := p.deps.Assessor.Assess(ctx, desc)
	results := coordinator.ReporterResults{Description: &desc, Image: &verdict}
	span.SetAttributes(attribute.Bool("flagged", verdict.IsFlagged), attribute.Int("level", verdict.Level))

	if !results.AnyFlagged() {
		p.deps.Metrics.ObserveEvent(string(incidents.KindImage), "safe")
		return Result{Safe: true, Level: verdict.Level, Reporters: results}
	}
	p.deps.Metrics.ObserveReporterFlag("image")

	final := p.coordinate(ctx, results)
	return p.escalate(ctx, cfg, threat{
		kind:      incidents.KindImage,
		content:   fmt.Sprintf("Image (%s): %s", dir, preview(desc.Text, imageContentPreview)),
		platform:  ev.Platform,
		direction: dir,
		timestamp: ev.Timestamp,
		results:   results,
		final:     final,
	})
}

// AnalyzePage flags visits to blocklisted domains without consulting the
// engine. A hit is recorded and escalated like any other threat.
func (p *Pipeline) AnalyzePage(ctx context.Context, ev PageEvent) Result {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.analyze_page")
	defer span.End()

	cfg := p.currentSettings(ctx)
	if !cfg.Enabled {
		p.deps.Metrics.ObserveEvent(string(incidents.KindPage), "skipped")
		return Result{Safe: true, Skipped: "monitoring disabled"}
	}
	if p.deps.Pages == nil {
		return Result{Safe: true, Skipped: "page checks not configured"}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now()
	}

	check := p.deps.Pages.Check(ev.URL)
	if check.Safe {
		p.deps.Metrics.ObserveEvent(string(incidents.KindPage), "safe")
		return Result{Safe: true}
	}
	p.deps.Metrics.ObserveReporterFlag("page")
	span.SetAttributes(attribute.String("domain", check.Domain))

	final := coordinator.FromVerdict(check.Verdict, coordinator.ActionWarnChild)
	return p.escalate(ctx, cfg, threat{
		kind:      incidents.KindPage,
		content:   fmt.Sprintf("Page: %s", check.Domain),
		platform:  ev.Platform,
		timestamp: ev.Timestamp,
		final:     final,
	})
}

func (p *Pipeline) coordinate(ctx context.Context, results coordinator.ReporterResults) coordinator.FinalVerdict {
	final := p.deps.Coordinator.Coordinate(ctx, results, p.deps.Memory)
	p.deps.Metrics.ObserveCoordinator(final.Fallback)
	return final
}

type threat struct {
	kind      incidents.Kind
	content   string
	platform  string
	direction detection.Direction
	timestamp time.Time
	results   coordinator.ReporterResults
	final     coordinator.FinalVerdict
}

// escalate stores the incident, applies the policy and dispatches. A store
// failure is reported but never stops the warning or the notification.
func (p *Pipeline) escalate(ctx context.Context, cfg settings.Settings, t threat) Result {
	stored := p.deps.Incidents.Store(ctx, incidents.Incident{
		Timestamp:     t.timestamp,
		Kind:          t.kind,
		Severity:      t.final.Severity,
		Level:         t.final.FinalLevel,
		Platform:      t.platform,
		Direction:     t.direction,
		Content:       t.content,
		PrimaryThreat: t.final.PrimaryThreat,
		Reporters:     t.results,
		ActionTaken:   t.final.ActionRequired,
	})
	if !stored.Success {
		p.logger.Error("incident not stored", "error", stored.Error, "level", t.final.FinalLevel)
	}

	decision := p.deps.Policy.Decide(cfg.Mode, t.final)
	res := Result{
		Level:       t.final.FinalLevel,
		Threat:      &t.final,
		ShowWarning: decision.ShowChildWarning,
		IncidentID:  stored.IncidentID,
		StoreError:  stored.Error,
		Reporters:   t.results,
	}

	if decision.NotifyGuardian {
		res.Notified = p.notifyGuardian(ctx, cfg, t, stored)
	}

	p.logger.Info("threat handled",
		"kind", t.kind,
		"level", t.final.FinalLevel,
		"severity", t.final.Severity,
		"primary_threat", t.final.PrimaryThreat,
		"action", t.final.ActionRequired,
		"show_warning", res.ShowWarning,
		"notified", res.Notified,
		"reasons", decision.Reasons,
		"incident_id", stored.IncidentID,
	)
	p.deps.Metrics.ObserveEvent(string(t.kind), "threat")

	if p.deps.Publisher != nil {
		p.deps.Publisher.Publish(LiveAlert{
			IncidentID:    stored.IncidentID,
			Kind:          t.kind,
			Level:         t.final.FinalLevel,
			Severity:      t.final.Severity,
			PrimaryThreat: t.final.PrimaryThreat,
			Platform:      t.platform,
			Notified:      res.Notified,
			Timestamp:     t.timestamp,
		})
	}
	return res
}

func (p *Pipeline) notifyGuardian(ctx context.Context, cfg settings.Settings, t threat, stored incidents.StoreResult) bool {
	if p.deps.Notifier == nil {
		p.logger.Warn("guardian notification required but no notifier configured")
		return false
	}
	explanation := ""
	if t.results.Text != nil {
		explanation = t.results.Text.Explanation
	} else if t.results.Image != nil {
		explanation = t.results.Image.Explanation
	}

	outcome, err := p.deps.Notifier.NotifyGuardian(ctx, cfg.Contacts(), notify.Alert{
		Severity:       string(t.final.Severity),
		Level:          t.final.FinalLevel,
		Platform:       t.platform,
		PrimaryThreat:  t.final.PrimaryThreat,
		ParentGuidance: t.final.ParentGuidance,
		Content:        t.content,
		Explanation:    explanation,
		Timestamp:      t.timestamp,
	})
	if err != nil {
		p.logger.Warn("guardian notification not sent", "error", err)
		return false
	}
	if stored.Success {
		if err := p.deps.Incidents.AttachNotification(ctx, stored.IncidentID, outcome); err != nil {
			p.logger.Warn("failed to attach notification outcome", "error", err, "incident_id", stored.IncidentID)
		}
	}
	return true
}

// Stats combines memory and incident counters.
func (p *Pipeline) Stats(ctx context.Context) (DashboardStats, error) {
	stats, err := p.deps.Incidents.Stats(ctx)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("pipeline: stats: %w", err)
	}
	return DashboardStats{TotalAnalyzed: p.deps.Memory.Len(), Stats: stats}, nil
}

func (p *Pipeline) Incidents(ctx context.Context, limit int) ([]incidents.Incident, error) {
	return p.deps.Incidents.List(ctx, limit)
}

func (p *Pipeline) Export(ctx context.Context) (incidents.Export, error) {
	return p.deps.Incidents.Export(ctx)
}

// Clear wipes memory and every stored incident.
func (p *Pipeline) Clear(ctx context.Context) error {
	p.deps.Memory.Clear()
	if err := p.deps.Incidents.Clear(ctx); err != nil {
		return fmt.Errorf("pipeline: clear: %w", err)
	}
	p.logger.Info("all monitoring data cleared")
	return nil
}

// ErrNoNotifier is returned by TestNotification when no dispatcher is wired.
var ErrNoNotifier = errors.New("pipeline: notifier not configured")

// TestNotification sends a sample alert to the configured guardian contacts.
// A nil verdict uses a sample critical verdict.
func (p *Pipeline) TestNotification(ctx context.Context, verdict *coordinator.FinalVerdict) (notify.Outcome, error) {
	if p.deps.Notifier == nil {
		return notify.Outcome{}, ErrNoNotifier
	}
	v := coordinator.FromVerdict(detection.Verdict{
		IsFlagged: true,
		Level:     9,
		Category:  "test_alert",
		Source:    "dashboard test",
	}, coordinator.ActionNotifyParent)
	if verdict != nil {
		v = *verdict
	}
	cfg := p.currentSettings(ctx)
	return p.deps.Notifier.NotifyGuardian(ctx, cfg.Contacts(), notify.Alert{
		Severity:       string(v.Severity),
		Level:          v.FinalLevel,
		Platform:       "SafeGuard test",
		PrimaryThreat:  v.PrimaryThreat,
		ParentGuidance: v.ParentGuidance,
		Content:        "This is a test notification. No action is needed.",
		Explanation:    "Sent from the dashboard to verify delivery settings.",
		Timestamp:      p.now(),
	})
}

// Capability reports inference availability without running a prompt.
func (p *Pipeline) Capability(ctx context.Context) CapabilityStatus {
	if err := p.deps.Gate.Check(ctx); err != nil {
		return CapabilityStatus{Reason: err.Error()}
	}
	return CapabilityStatus{Available: true}
}

// preview cuts s to at most n runes.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

type noopRecorder struct{}

func (noopRecorder) ObserveEvent(string, string)  {}
func (noopRecorder) ObserveReporterFlag(string)   {}
func (noopRecorder) ObserveCoordinator(bool)      {}
