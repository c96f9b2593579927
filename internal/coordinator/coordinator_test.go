package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/safeguard/internal/detection"
	"github.com/wolfman30/safeguard/internal/inference"
	"github.com/wolfman30/safeguard/internal/inference/inferencetest"
	"github.com/wolfman30/safeguard/internal/memory"
)

const prompt = "final assessment"

func textResults(level int, category string) ReporterResults {
	return ReporterResults{Text: &detection.Verdict{IsFlagged: true, Level: level, Category: category, RedFlags: []string{"x"}}}
}

func newCoordinator(engine inference.Engine) *Coordinator {
	return New(inference.NewGate(inference.Available(engine), nil), nil)
}

func TestAssessThreatLevel(t *testing.T) {
	tests := []struct {
		text, image, patterns int
		want                  int
		severity              detection.Severity
	}{
		{5, 0, 0, 5, detection.SeverityMedium},
		{5, 6, 2, 7, detection.SeverityHigh},
		{7, 0, 3, 9, detection.SeverityCritical},
		{9, 0, 5, 10, detection.SeverityCritical},
		{2, 1, 1, 2, detection.SeverityLow},
	}
	for _, tt := range tests {
		got := AssessThreatLevel(tt.text, tt.image, tt.patterns)
		assert.Equal(t, tt.want, got.FinalLevel)
		assert.Equal(t, tt.severity, got.Severity)
	}
}

func TestGuidanceAndWarningTables(t *testing.T) {
	g := ParentGuidance("grooming", detection.SeverityCritical)
	assert.Contains(t, g.Guidance, "NCMEC")
	assert.Equal(t, "Consider professional help and reporting to authorities", g.NextSteps)

	g = ParentGuidance("manipulation", detection.SeverityCritical)
	assert.Equal(t, "Review this CRITICAL severity incident involving manipulation. Talk to your child about online safety.", g.Guidance)

	g = ParentGuidance("grooming", detection.SeverityLow)
	assert.Equal(t, "Continue monitoring and maintain open communication", g.NextSteps)

	w := ChildWarning("meeting_request", detection.SeverityHigh)
	assert.Contains(t, w.Warning, "Never agree to meet")
	assert.True(t, w.ShowHelpButton)

	w = ChildWarning("unknown", detection.SeverityMedium)
	assert.Equal(t, defaultChildWarning, w.Warning)
	assert.False(t, w.ShowHelpButton)
}

func TestCoordinateParsesEngineVerdict(t *testing.T) {
	engine := inferencetest.New().Reply(prompt,
		`{"finalLevel": 9, "severity": "CRITICAL", "primaryThreat": "grooming", "actionRequired": "immediate_parent_notification", "parentGuidance": "call police", "childWarning": "tell a parent"}`)
	v := newCoordinator(engine).Coordinate(context.Background(), textResults(9, "grooming"), memory.New(20))

	assert.Equal(t, 9, v.FinalLevel)
	assert.Equal(t, detection.SeverityCritical, v.Severity)
	assert.True(t, v.Critical)
	assert.Equal(t, "grooming", v.PrimaryThreat)
	assert.Equal(t, ActionNotifyParent, v.ActionRequired)
	assert.Equal(t, "call police", v.ParentGuidance)
	assert.True(t, v.ShowHelpButton)
	assert.False(t, v.Fallback)
}

func TestCoordinatePostProcessing(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		level    int
		severity detection.Severity
		action   Action
	}{
		{"level clamped and action forced", `{"finalLevel": 14, "severity": "LOW", "actionRequired": "monitor"}`, 10, detection.SeverityCritical, ActionNotifyParent},
		{"high level raises weak action", `{"finalLevel": 8, "severity": "MEDIUM", "actionRequired": "log_only", "primaryThreat": "manipulation"}`, 8, detection.SeverityHigh, ActionWarnChild},
		{"high level keeps stronger action", `{"finalLevel": 7, "actionRequired": "immediate_parent_notification"}`, 7, detection.SeverityHigh, ActionNotifyParent},
		{"low level untouched", `{"finalLevel": 3, "severity": "HIGH", "actionRequired": "monitor"}`, 3, detection.SeverityLow, ActionMonitor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := inferencetest.New().Reply(prompt, tt.reply)
			v := newCoordinator(engine).Coordinate(context.Background(), textResults(6, "manipulation"), nil)
			assert.Equal(t, tt.level, v.FinalLevel)
			assert.Equal(t, tt.severity, v.Severity)
			assert.Equal(t, tt.action, v.ActionRequired)
			assert.NotEmpty(t, v.ParentGuidance)
			assert.NotEmpty(t, v.ChildWarning)
			assert.NotEmpty(t, v.PrimaryThreat)
		})
	}
}

func TestCoordinateFallbackIsNeverSafe(t *testing.T) {
	tests := []struct {
		name    string
		results ReporterResults
		threat  string
		action  Action
	}{
		{"text category", textResults(8, "meeting_request"), "meeting_request", ActionNotifyParent},
		{"safe text category", textResults(4, detection.CategorySafe), "unknown", ActionMonitor},
		{"image only", ReporterResults{Image: &detection.Verdict{IsFlagged: true, Level: 9, Category: detection.CategorySafe}}, "inappropriate_image", ActionNotifyParent},
		{"image category", ReporterResults{Image: &detection.Verdict{IsFlagged: true, Level: 5, Category: "drugs"}}, "drugs", ActionMonitor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := inferencetest.New().Fail(prompt, errors.New("timeout"))
			v := newCoordinator(engine).Coordinate(context.Background(), tt.results, nil)
			assert.True(t, v.Fallback)
			assert.Equal(t, tt.threat, v.PrimaryThreat)
			assert.Equal(t, tt.action, v.ActionRequired)
			assert.Equal(t, tt.results.MaxLevel(), v.FinalLevel)
			assert.Equal(t, fallbackGuidance, v.ParentGuidance)
			assert.Equal(t, fallbackWarning, v.ChildWarning)
		})
	}
}

func TestCoordinateUnparseableFallsBack(t *testing.T) {
	engine := inferencetest.New().Reply(prompt, "I think this is bad")
	v := newCoordinator(engine).Coordinate(context.Background(), textResults(9, "grooming"), nil)
	assert.True(t, v.Fallback)
	assert.Equal(t, 9, v.FinalLevel)
	assert.Equal(t, detection.SeverityCritical, v.Severity)
	assert.Equal(t, ActionNotifyParent, v.ActionRequired)
}

func TestCoordinateInjectsHelpersWithoutTools(t *testing.T) {
	mem := memory.New(20)
	for _, text := range []string{"this is our secret", "you let me down", "send pic", "hi"} {
		mem.Append(detection.Message{Text: text, Direction: detection.DirectionReceived})
	}
	engine := inferencetest.New().Reply(prompt, `{"finalLevel": 9}`)
	newCoordinator(engine).Coordinate(context.Background(), textResults(7, "grooming"), mem)

	calls := engine.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "Pre-computed helper results")
	assert.Contains(t, calls[0].Prompt, `"finalLevel":9`)
	assert.Contains(t, calls[0].Prompt, "[received] this is our secret")
}

func TestCoordinateRegistersToolsWhenSupported(t *testing.T) {
	engine := inferencetest.New()
	engine.Tools = true
	var assessed string
	engine.On(prompt, func(ctx context.Context, _ inference.PromptSpec, tools []inference.Tool) (string, error) {
		require.Len(t, tools, 3)
		out, err := tools[0].Execute(ctx, map[string]any{"textLevel": 7.0, "conversationPatternCount": "2"})
		require.NoError(t, err)
		assessed = out
		return `{"finalLevel": 8, "primaryThreat": "grooming", "actionRequired": "immediate_parent_notification"}`, nil
	})
	v := newCoordinator(engine).Coordinate(context.Background(), textResults(7, "grooming"), nil)
	assert.Contains(t, assessed, `"finalLevel":8`)
	assert.Equal(t, 8, v.FinalLevel)
	assert.NotContains(t, engine.Calls()[0].Prompt, "Pre-computed helper results")
}

func TestParseAction(t *testing.T) {
	assert.Equal(t, ActionNotifyParent, ParseAction(" Immediate_Parent_Notification "))
	assert.Equal(t, ActionLogOnly, ParseAction("shrug"))
	assert.True(t, ActionNotifyParent.Includes(ActionWarnChild))
	assert.False(t, ActionMonitor.Includes(ActionWarnChild))
}

func TestFromVerdict(t *testing.T) {
	v := FromVerdict(detection.Verdict{
		IsFlagged: true,
		Level:     10,
		Category:  "pornographic_website",
		Source:    "sitecheck",
	}, ActionWarnChild)

	assert.Equal(t, 10, v.FinalLevel)
	assert.Equal(t, detection.SeverityCritical, v.Severity)
	assert.True(t, v.Critical)
	assert.Equal(t, ActionNotifyParent, v.ActionRequired)
	assert.Equal(t, "pornographic_website", v.PrimaryThreat)
	assert.Contains(t, v.ParentGuidance, "pornographic website")
	assert.Contains(t, v.ChildWarning, "website is not appropriate")
	assert.True(t, v.ShowHelpButton)
	assert.Equal(t, "sitecheck", v.Source)
}
