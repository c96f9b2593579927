package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckGroomingPattern(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		stages   []string
		severity string
	}{
		{"benign", "want to play minecraft later?", []string{}, "none"},
		{"single stage", "trust me, it's fine", []string{"trustBuilding"}, "medium"},
		{
			"grooming scenario",
			"Don't tell your parents, this is our secret, I'll pick you up after school",
			[]string{"trustBuilding", "isolation", "sexualization"},
			"high",
		},
		{"curly apostrophe", "they won’t understand, send pic", []string{"isolation", "sexualization"}, "high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckGroomingPattern(tt.text)
			assert.Equal(t, tt.stages, got.Stages)
			assert.Equal(t, tt.severity, got.Severity)
			assert.Equal(t, len(tt.stages) > 0, got.Detected)
		})
	}
}

func TestExtractPersonalInfo(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		types []string
		risk  string
	}{
		{"empty", "   ", []string{}, "low"},
		{"nothing", "see you at practice", []string{}, "none"},
		{"phone only", "call me 555-123-4567", []string{"phone"}, "high"},
		{"email and age", "i'm 12, mail me kid@example.com", []string{"email", "age"}, "critical"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractPersonalInfo(tt.text)
			assert.Equal(t, tt.types, got.Types)
			assert.Equal(t, tt.risk, got.Risk)
		})
	}
}

func TestAnalyzeSentiment(t *testing.T) {
	got := AnalyzeSentiment("I thought you cared about me. Come on send it")
	assert.True(t, got.Detected)
	assert.Equal(t, []string{"guilt", "pressure"}, got.Tactics)
	assert.Equal(t, "high", got.Severity)

	got = AnalyzeSentiment("good game!")
	assert.False(t, got.Detected)
	assert.Equal(t, "none", got.Severity)
}

func TestCountConcerning(t *testing.T) {
	now := time.Now()
	msgs := []Message{
		{Text: "hey", Timestamp: now},
		{Text: "this is our secret", Timestamp: now},
		{Text: "you let me down", Timestamp: now},
		{Text: "lol ok", Timestamp: now},
	}
	assert.Equal(t, 2, CountConcerning(msgs))
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		level int
		want  Severity
	}{
		{10, SeverityCritical},
		{9, SeverityCritical},
		{8, SeverityHigh},
		{7, SeverityHigh},
		{6, SeverityMedium},
		{5, SeverityMedium},
		{4, SeverityLow},
		{2, SeverityLow},
		{0, SeverityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFor(tt.level), "level %d", tt.level)
		assert.Equal(t, SeverityFor(tt.level), SeverityFor(tt.level))
	}
	for level := 1; level <= 10; level++ {
		assert.GreaterOrEqual(t, SeverityFor(level).Rank(), SeverityFor(level-1).Rank())
	}
	assert.Equal(t, SeverityHigh, ParseSeverity(" high "))
	assert.Equal(t, SeverityLow, ParseSeverity("weird"))
}

func TestParseDirection(t *testing.T) {
	assert.Equal(t, DirectionSent, ParseDirection("SENT"))
	assert.Equal(t, DirectionReceived, ParseDirection("received"))
	assert.Equal(t, DirectionReceived, ParseDirection(""))
}
