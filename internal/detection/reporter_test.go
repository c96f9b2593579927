package detection

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/safeguard/internal/inference"
	"github.com/wolfman30/safeguard/internal/inference/inferencetest"
)

func gateFor(engine inference.Engine) *inference.Gate {
	return inference.NewGate(inference.Available(engine), nil)
}

func TestTextReporterParsesEngineVerdict(t *testing.T) {
	engine := inferencetest.New().Reply("RECEIVING",
		"```json\n{\"isInappropriate\": true, \"level\": 9, \"category\": \"grooming\", \"explanation\": \"secrecy and meeting\", \"redFlags\": [\"secrecy\"]}\n```")
	reporter := NewTextReporter(gateFor(engine), nil)

	v := reporter.Analyze(context.Background(), "this is our secret", DirectionReceived, nil)
	assert.True(t, v.IsFlagged)
	assert.Equal(t, 9, v.Level)
	assert.Equal(t, "grooming", v.Category)
	assert.Equal(t, []string{"secrecy"}, v.RedFlags)
	assert.Equal(t, "text-reporter", v.Source)
}

func TestTextReporterInjectsMatchersWithoutTools(t *testing.T) {
	engine := inferencetest.New().Reply("SENDING", `{"isInappropriate": false, "level": 1, "category": "safe"}`)
	reporter := NewTextReporter(gateFor(engine), nil)

	v := reporter.Analyze(context.Background(), "trust me", DirectionSent, nil)
	assert.False(t, v.IsFlagged)

	calls := engine.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "Pre-computed checks")
	assert.Contains(t, calls[0].Prompt, `"stages":["trustBuilding"]`)
}

func TestTextReporterRegistersToolsWhenSupported(t *testing.T) {
	engine := inferencetest.New()
	engine.Tools = true
	var toolNames []string
	var groomingOut string
	engine.On("RECEIVING", func(ctx context.Context, _ inference.PromptSpec, tools []inference.Tool) (string, error) {
		for _, tool := range tools {
			toolNames = append(toolNames, tool.Name)
			if tool.Name == "checkGroomingPattern" {
				out, err := tool.Execute(ctx, map[string]any{"message": "meet up, our little secret"})
				if err != nil {
					return "", err
				}
				groomingOut = out
			}
		}
		return `{"isInappropriate": true, "level": 8, "category": "meeting_request"}`, nil
	})
	reporter := NewTextReporter(gateFor(engine), nil)

	v := reporter.Analyze(context.Background(), "meet up, our little secret", DirectionReceived, nil)
	assert.Equal(t, 8, v.Level)
	assert.Equal(t, []string{"checkGroomingPattern", "extractPersonalInfo", "analyzeSentiment"}, toolNames)
	assert.Contains(t, groomingOut, `"severity":"high"`)
	assert.NotContains(t, engine.Calls()[0].Prompt, "Pre-computed checks")
}

func TestTextReporterFailuresAreNeutral(t *testing.T) {
	tests := []struct {
		name   string
		engine inference.Engine
		gate   *inference.Gate
	}{
		{"engine error", inferencetest.New().Fail("CHILD", errors.New("boom")), nil},
		{"garbage", inferencetest.New().Reply("CHILD", "I cannot help with that"), nil},
		{"unavailable", nil, inference.NewGate(inference.Unavailable("no provider"), nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := tt.gate
			if gate == nil {
				gate = gateFor(tt.engine)
			}
			v := NewTextReporter(gate, nil).Analyze(context.Background(), "hello", DirectionReceived, nil)
			assert.False(t, v.IsFlagged)
			assert.Equal(t, 0, v.Level)
			assert.Equal(t, CategorySafe, v.Category)
			assert.True(t, strings.HasSuffix(v.Source, "(fallback)"))
		})
	}
}

func TestTextReporterCombinesLocalSignal(t *testing.T) {
	gate := inference.NewGate(inference.Unavailable("offline"), nil)
	local := SignalFromLabels([]string{"sexual_explicit"}, "toxicity")

	v := NewTextReporter(gate, nil).Analyze(context.Background(), "explicit text", DirectionReceived, &local)
	assert.True(t, v.IsFlagged)
	assert.Equal(t, 9, v.Level)
	assert.Equal(t, "sexual_explicit", v.Category)
	assert.Contains(t, v.Source, "toxicity")
}

func TestImageDescriberFallback(t *testing.T) {
	engine := inferencetest.New().Fail("Describe", errors.New("vision offline"))
	d := NewImageDescriber(gateFor(engine), nil)

	desc := d.Describe(context.Background(), inference.Image{Data: []byte{1}}, DirectionReceived)
	assert.Equal(t, DescriptionUnavailable, desc.Text)
	assert.True(t, desc.Unavailable)

	engine = inferencetest.New().Reply("Describe", "  A dog on a beach  ")
	desc = NewImageDescriber(gateFor(engine), nil).Describe(context.Background(), inference.Image{Data: []byte{1}}, DirectionSent)
	assert.Equal(t, "A dog on a beach", desc.Text)
	assert.Equal(t, DirectionSent, desc.Direction)
	assert.False(t, desc.Unavailable)
}

func TestImageAssessorCostumeOverride(t *testing.T) {
	engine := inferencetest.New().Reply("DESCRIPTION",
		`{"isInappropriate": true, "level": 8, "category": "real_violence", "explanation": "blood and fangs", "concerningElements": ["blood"]}`)
	a := NewImageAssessor(gateFor(engine), nil)

	v := a.Assess(context.Background(), Description{Text: "A person in a Vampire costume with fake fangs and blood makeup", Direction: DirectionReceived})
	assert.False(t, v.IsFlagged)
	assert.Equal(t, 0, v.Level)
	assert.Equal(t, CategorySafe, v.Category)
	assert.Empty(t, v.RedFlags)
}

func TestImageAssessorRepairs(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		level   int
		flagged bool
	}{
		{"safe category high level", `{"isInappropriate": true, "level": 8, "category": "safe"}`, 0, false},
		{"low level flagged", `{"isInappropriate": true, "level": 2, "category": "sexual_content"}`, 2, false},
		{"unflagged high level", `{"isInappropriate": false, "level": 6, "category": "drugs"}`, 2, false},
		{"consistent flag", `{"isInappropriate": true, "level": 8, "category": "sexual_content"}`, 8, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := inferencetest.New().Reply("DESCRIPTION", tt.reply)
			v := NewImageAssessor(gateFor(engine), nil).Assess(context.Background(), Description{Text: "a photo", Direction: DirectionReceived})
			assert.Equal(t, tt.level, v.Level)
			assert.Equal(t, tt.flagged, v.IsFlagged)
		})
	}
}

func TestImageAssessorSkipsUnavailableDescription(t *testing.T) {
	engine := inferencetest.New()
	v := NewImageAssessor(gateFor(engine), nil).Assess(context.Background(), Description{Text: DescriptionUnavailable, Unavailable: true})
	assert.False(t, v.IsFlagged)
	assert.Empty(t, engine.Calls())
}

func TestRepairOrder(t *testing.T) {
	names := make([]string, 0, len(AssessmentRepairs))
	for _, r := range AssessmentRepairs {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"zeroSafeCategoryLevel", "clearLowLevelFlag", "clampUnflaggedLevel"}, names)
}
