package coordinator

import (
	"strings"

	"github.com/wolfman30/safeguard/internal/detection"
)

// Action is what the system should do about a verdict.
type Action string

const (
	ActionLogOnly      Action = "log_only"
	ActionMonitor      Action = "monitor"
	ActionWarnChild    Action = "warn_child"
	ActionNotifyParent Action = "immediate_parent_notification"
)

// ParseAction maps engine output onto a known action; unknown text is log_only.
func ParseAction(raw string) Action {
	switch a := Action(strings.ToLower(strings.TrimSpace(raw))); a {
	case ActionMonitor, ActionWarnChild, ActionNotifyParent:
		return a
	default:
		return ActionLogOnly
	}
}

// Rank orders actions from weakest to strongest.
func (a Action) Rank() int {
	switch a {
	case ActionNotifyParent:
		return 3
	case ActionWarnChild:
		return 2
	case ActionMonitor:
		return 1
	default:
		return 0
	}
}

// Includes reports whether a is at least as strong as other.
func (a Action) Includes(other Action) bool {
	return a.Rank() >= other.Rank()
}

// ReporterResults carries whichever reporter outputs exist for an event.
type ReporterResults struct {
	Text        *detection.Verdict     `json:"text,omitempty"`
	Description *detection.Description `json:"description,omitempty"`
	Image       *detection.Verdict     `json:"image,omitempty"`
}

func (r ReporterResults) TextLevel() int {
	if r.Text == nil {
		return 0
	}
	return r.Text.Level
}

func (r ReporterResults) ImageLevel() int {
	if r.Image == nil {
		return 0
	}
	return r.Image.Level
}

func (r ReporterResults) MaxLevel() int {
	return max(r.TextLevel(), r.ImageLevel())
}

// AnyFlagged gates whether the coordinator runs at all.
func (r ReporterResults) AnyFlagged() bool {
	return (r.Text != nil && r.Text.IsFlagged) || (r.Image != nil && r.Image.IsFlagged)
}

// FinalVerdict is the coordinator's synthesized decision.
type FinalVerdict struct {
	FinalLevel     int                `json:"finalLevel"`
	Severity       detection.Severity `json:"severity"`
	PrimaryThreat  string             `json:"primaryThreat"`
	ActionRequired Action             `json:"actionRequired"`
	ParentGuidance string             `json:"parentGuidance"`
	ChildWarning   string             `json:"childWarning"`
	ShowHelpButton bool               `json:"showHelpButton"`
	Critical       bool               `json:"critical"`
	Source         string             `json:"source"`
	Fallback       bool               `json:"fallback,omitempty"`
}
