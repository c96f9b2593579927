// Package detection holds the reporter stage: per-message text analysis,
// image description and image assessment, plus the deterministic matchers
// and the reducer that merges classifier outputs.
package detection

import (
	"strings"
	"time"
)

// Direction says whether the monitored user sent or received the content.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// ParseDirection defaults to received, the riskier reading.
func ParseDirection(raw string) Direction {
	if strings.EqualFold(strings.TrimSpace(raw), string(DirectionSent)) {
		return DirectionSent
	}
	return DirectionReceived
}

// Message is one observed chat message.
type Message struct {
	Text      string    `json:"text"`
	Direction Direction `json:"direction"`
	Platform  string    `json:"platform"`
	Timestamp time.Time `json:"timestamp"`
}

// CategorySafe is the category of every neutral verdict.
const CategorySafe = "safe"

// Verdict is the output of a single reporter.
type Verdict struct {
	IsFlagged   bool     `json:"isFlagged"`
	Level       int      `json:"level"`
	Category    string   `json:"category"`
	Explanation string   `json:"explanation"`
	RedFlags    []string `json:"redFlags"`
	Source      string   `json:"source"`
}

// Neutral is the safe verdict returned whenever analysis cannot complete.
func Neutral(source, explanation string) Verdict {
	return Verdict{
		Category:    CategorySafe,
		Explanation: explanation,
		RedFlags:    []string{},
		Source:      source,
	}
}

// Severity buckets a 0-10 level.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityFor is monotonic in level: >=9 critical, >=7 high, >=5 medium.
func SeverityFor(level int) Severity {
	switch {
	case level >= 9:
		return SeverityCritical
	case level >= 7:
		return SeverityHigh
	case level >= 5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ParseSeverity accepts any casing; unknown values map to LOW.
func ParseSeverity(raw string) Severity {
	switch Severity(strings.ToUpper(strings.TrimSpace(raw))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Rank orders severities for comparisons.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}
