package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/safeguard/internal/coordinator"
	"github.com/wolfman30/safeguard/internal/detection"
	"github.com/wolfman30/safeguard/internal/escalation"
	"github.com/wolfman30/safeguard/internal/incidents"
	"github.com/wolfman30/safeguard/internal/inference"
	"github.com/wolfman30/safeguard/internal/inference/inferencetest"
	"github.com/wolfman30/safeguard/internal/memory"
	"github.com/wolfman30/safeguard/internal/notify"
	"github.com/wolfman30/safeguard/internal/settings"
	"github.com/wolfman30/safeguard/internal/sitecheck"
)

type stubText struct {
	verdict detection.Verdict
	calls   int
}

func (s *stubText) Analyze(context.Context, string, detection.Direction, *detection.LocalSignal) detection.Verdict {
	s.calls++
	return s.verdict
}

type stubDescriber struct{ desc detection.Description }

func (s stubDescriber) Describe(_ context.Context, _ inference.Image, dir detection.Direction) detection.Description {
	d := s.desc
	d.Direction = dir
	return d
}

type stubAssessor struct{ verdict detection.Verdict }

func (s stubAssessor) Assess(context.Context, detection.Description) detection.Verdict {
	return s.verdict
}

type stubCoordinator struct {
	calls int
}

func (s *stubCoordinator) Coordinate(_ context.Context, results coordinator.ReporterResults, _ coordinator.MemoryReader) coordinator.FinalVerdict {
	s.calls++
	return coordinator.Fallback(results)
}

type recordingTransport struct {
	mu     sync.Mutex
	emails []string
}

func (r *recordingTransport) Send(_ context.Context, _ notify.EmailCredentials, to string, msg notify.EmailMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emails = append(r.emails, to+"|"+msg.Subject)
	return "email-1", nil
}

type recordingSMS struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingSMS) Send(_ context.Context, _ notify.SMSCredentials, to, _, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, to+"|"+text)
	return "sms-1", nil
}

type collectingPublisher struct{ alerts []LiveAlert }

func (c *collectingPublisher) Publish(a LiveAlert) { c.alerts = append(c.alerts, a) }

type harness struct {
	pipeline  *Pipeline
	text      *stubText
	coord     *stubCoordinator
	store     *incidents.Store
	settings  *settings.Store
	email     *recordingTransport
	sms       *recordingSMS
	published *collectingPublisher
}

var guardian = settings.Settings{
	Mode:        escalation.ModeActive,
	Enabled:     true,
	ParentEmail: "parent@example.com",
	ParentPhone: "+15551234567",
	Email:       notify.EmailCredentials{APIKey: "SG.key", From: "alerts@example.com"},
	SMS:         notify.SMSCredentials{APIKey: "key", APISecret: "secret", From: "+15550001111"},
}

func newHarness(t *testing.T, text detection.Verdict, image detection.Verdict, defaults settings.Settings) *harness {
	t.Helper()
	h := &harness{
		text:      &stubText{verdict: text},
		coord:     &stubCoordinator{},
		store:     incidents.NewStore(incidents.NewMemoryKV(), nil),
		settings:  settings.NewStore(incidents.NewMemoryKV(), defaults, nil),
		email:     &recordingTransport{},
		sms:       &recordingSMS{},
		published: &collectingPublisher{},
	}
	h.pipeline = New(Deps{
		Memory:      memory.New(20),
		Text:        h.text,
		Describer:   stubDescriber{desc: detection.Description{Text: "A person wearing a skeleton costume at a party"}},
		Assessor:    stubAssessor{verdict: image},
		Coordinator: h.coord,
		Incidents:   h.store,
		Notifier:    notify.NewDispatcher(h.email, h.sms, nil),
		Settings:    h.settings,
		Policy:      escalation.DefaultPolicy(),
		Pages:       sitecheck.NewChecker(),
		Gate:        inference.NewGate(inference.Available(inferencetest.New()), nil),
		Publisher:   h.published,
	}, nil)
	return h
}

func safeVerdict() detection.Verdict {
	return detection.Neutral("stub", "looks fine")
}

func TestAnalyzeText_BenignMessageIsNotEscalated(t *testing.T) {
	h := newHarness(t, detection.Verdict{Level: 1, Category: detection.CategorySafe, Source: "stub"}, safeVerdict(), guardian)
	ctx := context.Background()

	res := h.pipeline.AnalyzeText(ctx, TextEvent{Text: "see you at practice", Direction: detection.DirectionSent, Platform: "Discord"})

	assert.True(t, res.Safe)
	assert.Equal(t, 1, res.Level)
	assert.Nil(t, res.Threat)
	assert.Zero(t, h.coord.calls)
	assert.Equal(t, 1, h.pipeline.Memory().Len())

	list, err := h.store.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, h.published.alerts)
}

func TestAnalyzeText_GroomingNotifiesGuardian(t *testing.T) {
	grooming := detection.Verdict{
		IsFlagged:   true,
		Level:       9,
		Category:    "grooming",
		Explanation: "secrecy and a meeting request",
		RedFlags:    []string{"secrecy", "meeting"},
		Source:      "stub",
	}
	h := newHarness(t, grooming, safeVerdict(), guardian)
	ctx := context.Background()
	long := "don't tell your parents, this is our secret. " + strings.Repeat("x", 600)

	res := h.pipeline.AnalyzeText(ctx, TextEvent{Text: long, Direction: detection.DirectionReceived, Platform: "Instagram"})

	require.NotNil(t, res.Threat)
	assert.False(t, res.Safe)
	assert.Equal(t, 9, res.Level)
	assert.Equal(t, detection.SeverityCritical, res.Threat.Severity)
	assert.Equal(t, coordinator.ActionNotifyParent, res.Threat.ActionRequired)
	assert.True(t, res.ShowWarning)
	assert.True(t, res.Notified)
	assert.NotEmpty(t, res.IncidentID)
	assert.Equal(t, 1, h.coord.calls)

	assert.Len(t, h.email.emails, 1)
	assert.Contains(t, h.email.emails[0], "parent@example.com")
	require.Len(t, h.sms.texts, 1)
	assert.Contains(t, h.sms.texts[0], "Instagram")

	inc, err := h.store.Get(ctx, res.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, incidents.KindMessage, inc.Kind)
	assert.LessOrEqual(t, len([]rune(inc.Content)), 500)
	require.Len(t, inc.Notifications, 1)
	assert.True(t, inc.Notifications[0].Delivered())

	require.Len(t, h.published.alerts, 1)
	assert.Equal(t, res.IncidentID, h.published.alerts[0].IncidentID)
	assert.True(t, h.published.alerts[0].Notified)
}

func TestAnalyzeText_PassiveModeModerateThreatOnlyRecords(t *testing.T) {
	passive := guardian
	passive.Mode = escalation.ModePassive
	h := newHarness(t, detection.Verdict{IsFlagged: true, Level: 5, Category: "manipulation", Source: "stub"}, safeVerdict(), passive)

	res := h.pipeline.AnalyzeText(context.Background(), TextEvent{Text: "you owe me", Platform: "Snapchat"})

	require.NotNil(t, res.Threat)
	assert.False(t, res.ShowWarning)
	assert.False(t, res.Notified)
	assert.NotEmpty(t, res.IncidentID)
	assert.Empty(t, h.email.emails)
	assert.Empty(t, h.sms.texts)
}

func TestAnalyzeText_DisabledMonitoringSkips(t *testing.T) {
	off := guardian
	off.Enabled = false
	h := newHarness(t, detection.Verdict{IsFlagged: true, Level: 9, Category: "grooming"}, safeVerdict(), off)

	res := h.pipeline.AnalyzeText(context.Background(), TextEvent{Text: "anything"})

	assert.True(t, res.Safe)
	assert.Equal(t, "monitoring disabled", res.Skipped)
	assert.Zero(t, h.text.calls)
	assert.Zero(t, h.pipeline.Memory().Len())
}

func TestAnalyzeImage_CostumeIsSafe(t *testing.T) {
	h := newHarness(t, safeVerdict(), detection.Verdict{Level: 0, Category: detection.CategorySafe, Source: "stub"}, guardian)

	res := h.pipeline.AnalyzeImage(context.Background(), ImageEvent{Image: inference.Image{MIMEType: "image/png", Data: []byte{1}}, Platform: "Discord"})

	assert.True(t, res.Safe)
	require.NotNil(t, res.Reporters.Description)
	assert.Contains(t, res.Reporters.Description.Text, "costume")
	assert.Zero(t, h.coord.calls)
	assert.Zero(t, h.pipeline.Memory().Len())
}

func TestAnalyzeImage_FlaggedImageIsRecorded(t *testing.T) {
	explicit := detection.Verdict{IsFlagged: true, Level: 8, Category: "explicit_content", Explanation: "nudity", Source: "stub"}
	h := newHarness(t, safeVerdict(), explicit, guardian)
	ctx := context.Background()

	res := h.pipeline.AnalyzeImage(ctx, ImageEvent{Image: inference.Image{MIMEType: "image/jpeg", Data: []byte{1}}, Direction: detection.DirectionReceived, Platform: "Telegram"})

	require.NotNil(t, res.Threat)
	assert.True(t, res.ShowWarning)
	inc, err := h.store.Get(ctx, res.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, incidents.KindImage, inc.Kind)
	assert.True(t, strings.HasPrefix(inc.Content, "Image (received): "))
}

func TestAnalyzePage_BlocklistedDomain(t *testing.T) {
	h := newHarness(t, safeVerdict(), safeVerdict(), guardian)
	ctx := context.Background()

	res := h.pipeline.AnalyzePage(ctx, PageEvent{URL: "https://www.pornhub.com/", Platform: "Chrome"})

	require.NotNil(t, res.Threat)
	assert.Equal(t, 10, res.Level)
	assert.Equal(t, sitecheck.Category, res.Threat.PrimaryThreat)
	assert.True(t, res.ShowWarning)
	assert.True(t, res.Notified)

	inc, err := h.store.Get(ctx, res.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, incidents.KindPage, inc.Kind)
	assert.Equal(t, "Page: pornhub.com", inc.Content)

	safe := h.pipeline.AnalyzePage(ctx, PageEvent{URL: "https://en.wikipedia.org/"})
	assert.True(t, safe.Safe)
}

func TestStatsAndClear(t *testing.T) {
	h := newHarness(t, detection.Verdict{IsFlagged: true, Level: 9, Category: "grooming", Source: "stub"}, safeVerdict(), guardian)
	ctx := context.Background()

	h.pipeline.AnalyzeText(ctx, TextEvent{Text: "one", Timestamp: time.Now()})
	h.pipeline.AnalyzeText(ctx, TextEvent{Text: "two"})

	stats, err := h.pipeline.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAnalyzed)
	assert.Equal(t, 2, stats.IncidentCount)
	assert.Equal(t, 2, stats.CriticalThreats)

	require.NoError(t, h.pipeline.Clear(ctx))
	stats, err = h.pipeline.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalAnalyzed)
	assert.Zero(t, stats.IncidentCount)
}

func TestTestNotificationUsesStoredContacts(t *testing.T) {
	h := newHarness(t, safeVerdict(), safeVerdict(), guardian)

	out, err := h.pipeline.TestNotification(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, out.Delivered())
	assert.Len(t, h.email.emails, 1)
	assert.Len(t, h.sms.texts, 1)
}

func TestCapability(t *testing.T) {
	h := newHarness(t, safeVerdict(), safeVerdict(), guardian)
	assert.True(t, h.pipeline.Capability(context.Background()).Available)

	h.pipeline.deps.Gate = inference.NewGate(inference.Unavailable("no credentials"), nil)
	status := h.pipeline.Capability(context.Background())
	assert.False(t, status.Available)
	assert.Contains(t, status.Reason, "no credentials")
}
