// Package escalation decides, per monitoring mode, whether a verdict warns
// the child and whether it notifies the guardian.
package escalation

import (
	"fmt"
	"strings"

	"github.com/wolfman30/safeguard/internal/coordinator"
)

// Mode is the guardian-selected monitoring mode.
type Mode string

const (
	// ModeActive warns the child in the moment.
	ModeActive Mode = "active"
	// ModePassive only notifies the guardian.
	ModePassive Mode = "passive"
	ModeBoth    Mode = "both"
)

// ParseMode accepts the known modes case-insensitively. Anything else is active.
func ParseMode(raw string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModePassive, ModeBoth:
		return m
	default:
		return ModeActive
	}
}

// Valid reports whether raw names a known mode exactly.
func Valid(raw string) bool {
	switch Mode(raw) {
	case ModeActive, ModePassive, ModeBoth:
		return true
	}
	return false
}

// Decision is the outcome of applying the policy to a verdict.
type Decision struct {
	ShowChildWarning bool     `json:"showChildWarning"`
	NotifyGuardian   bool     `json:"notifyGuardian"`
	Reasons          []string `json:"reasons,omitempty"`
}

// Policy holds the level thresholds.
type Policy struct {
	WarningThreshold  int
	CriticalThreshold int
}

// DefaultPolicy warns at 7 and notifies at 9.
func DefaultPolicy() Policy {
	return Policy{WarningThreshold: 7, CriticalThreshold: 9}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.WarningThreshold <= 0 {
		p.WarningThreshold = d.WarningThreshold
	}
	if p.CriticalThreshold <= 0 {
		p.CriticalThreshold = d.CriticalThreshold
	}
	return p
}

// Decide maps a verdict to warning and notification decisions.
//
// An immediate_parent_notification action always notifies, in every mode.
// Active mode warns on any action above log_only. Passive mode never warns
// and notifies on critical verdicts. Both mode is the union of the two, and
// additionally warns and notifies for levels between the two thresholds.
func (p Policy) Decide(mode Mode, v coordinator.FinalVerdict) Decision {
	p = p.normalized()
	var d Decision
	warn := func(reason string) {
		d.ShowChildWarning = true
		d.Reasons = append(d.Reasons, reason)
	}
	notify := func(reason string) {
		d.NotifyGuardian = true
		d.Reasons = append(d.Reasons, reason)
	}

	if v.ActionRequired.Includes(coordinator.ActionNotifyParent) {
		notify("action requires immediate parent notification")
	}

	critical := v.Critical || v.FinalLevel >= p.CriticalThreshold

	if mode == ModeActive || mode == ModeBoth {
		if v.ActionRequired.Rank() > coordinator.ActionLogOnly.Rank() {
			warn(fmt.Sprintf("%s mode: action %s", mode, v.ActionRequired))
		}
	}
	if (mode == ModePassive || mode == ModeBoth) && critical && !d.NotifyGuardian {
		notify(fmt.Sprintf("%s mode: critical level %d", mode, v.FinalLevel))
	}
	if mode == ModeBoth && v.FinalLevel >= p.WarningThreshold && v.FinalLevel < p.CriticalThreshold {
		if !d.ShowChildWarning {
			warn(fmt.Sprintf("both mode: high level %d", v.FinalLevel))
		}
		if !d.NotifyGuardian {
			notify(fmt.Sprintf("both mode: high level %d", v.FinalLevel))
		}
	}
	return d
}
