// Package coordinator synthesizes reporter verdicts and recent conversation
// context into one final verdict.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/safeguard/internal/detection"
	"github.com/wolfman30/safeguard/internal/inference"
	"github.com/wolfman30/safeguard/pkg/logging"
)

var coordinatorTracer = otel.Tracer("safeguard.internal.coordinator")

const (
	contextWindow = 10
	source        = "coordinator"

	fallbackGuidance = "Review the incident in the dashboard"
	fallbackWarning  = "This conversation may not be safe. Please talk to a parent."
)

const systemPrompt = "You are the final coordinator for a child safety system. Specialized reporters have analyzed a situation and at least one flagged it as concerning. Make the final assessment by synthesizing all the information and the helper results."

// MemoryReader is the read side of the conversation memory.
type MemoryReader interface {
	Last(n int) []detection.Message
}

// Coordinator produces final verdicts. It is only invoked for flagged events.
type Coordinator struct {
	gate   *inference.Gate
	logger *logging.Logger
}

func New(gate *inference.Gate, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{gate: gate, logger: logger.Component("coordinator")}
}

type coordinatorReport struct {
	FinalLevel     inference.Level `json:"finalLevel"`
	Severity       string          `json:"severity"`
	PrimaryThreat  string          `json:"primaryThreat"`
	ActionRequired string          `json:"actionRequired"`
	ParentGuidance string          `json:"parentGuidance"`
	ChildWarning   string          `json:"childWarning"`
}

// Coordinate never fails. Engine or parse failures produce a deterministic
// verdict built from the reporter levels, which is never "safe".
func (c *Coordinator) Coordinate(ctx context.Context, results ReporterResults, mem MemoryReader) FinalVerdict {
	ctx, span := coordinatorTracer.Start(ctx, "coordinator.coordinate")
	defer span.End()

	var recent []detection.Message
	if mem != nil {
		recent = mem.Last(contextWindow)
	}

	req := inference.PromptSpec{
		System:      []string{systemPrompt},
		MaxTokens:   768,
		Temperature: 0,
	}
	var tools []inference.Tool
	if c.gate.SupportsTools() {
		tools = HelperTools()
		req.Prompt = coordinatorPrompt(buildContext(results, recent), "")
	} else {
		req.Prompt = coordinatorPrompt(buildContext(results, recent), injectedHelpers(results, recent))
	}

	verdict, ok := c.infer(ctx, req, tools)
	if !ok {
		verdict = Fallback(results)
	}
	verdict = finalize(verdict, results)

	span.SetAttributes(
		attribute.Int("final_level", verdict.FinalLevel),
		attribute.String("action", string(verdict.ActionRequired)),
		attribute.Bool("fallback", verdict.Fallback),
	)
	c.logger.Info("final verdict",
		"final_level", verdict.FinalLevel,
		"severity", verdict.Severity,
		"primary_threat", verdict.PrimaryThreat,
		"action", verdict.ActionRequired,
		"fallback", verdict.Fallback,
	)
	return verdict
}

func (c *Coordinator) infer(ctx context.Context, req inference.PromptSpec, tools []inference.Tool) (FinalVerdict, bool) {
	raw, err := c.gate.Infer(ctx, "coordinate", req, tools)
	if err != nil {
		c.logger.Warn("coordinator call failed, using fallback", "error", err)
		return FinalVerdict{}, false
	}
	var parsed coordinatorReport
	if err := inference.ExtractObject(raw, &parsed); err != nil {
		c.logger.Warn("coordinator response unparseable, using fallback", "error", err)
		return FinalVerdict{}, false
	}
	return FinalVerdict{
		FinalLevel:     int(parsed.FinalLevel),
		Severity:       detection.ParseSeverity(parsed.Severity),
		PrimaryThreat:  strings.TrimSpace(parsed.PrimaryThreat),
		ActionRequired: ParseAction(parsed.ActionRequired),
		ParentGuidance: strings.TrimSpace(parsed.ParentGuidance),
		ChildWarning:   strings.TrimSpace(parsed.ChildWarning),
		Source:         source,
	}, true
}

// Fallback is the deterministic verdict used when the engine cannot help.
func Fallback(results ReporterResults) FinalVerdict {
	level := results.MaxLevel()
	action := ActionMonitor
	if level >= 7 {
		action = ActionNotifyParent
	}
	return FinalVerdict{
		FinalLevel:     level,
		Severity:       detection.SeverityFor(level),
		PrimaryThreat:  fallbackThreat(results),
		ActionRequired: action,
		ParentGuidance: fallbackGuidance,
		ChildWarning:   fallbackWarning,
		Source:         source + " (fallback)",
		Fallback:       true,
	}
}

func fallbackThreat(results ReporterResults) string {
	if results.Text != nil && results.Text.Category != "" && results.Text.Category != detection.CategorySafe {
		return results.Text.Category
	}
	if results.Image != nil {
		if results.Image.Category != "" && results.Image.Category != detection.CategorySafe {
			return results.Image.Category
		}
		return "inappropriate_image"
	}
	return "unknown"
}

// FromVerdict builds a final verdict straight from a deterministic check,
// without consulting the engine.
func FromVerdict(v detection.Verdict, action Action) FinalVerdict {
	return finalize(FinalVerdict{
		FinalLevel:     v.Level,
		PrimaryThreat:  v.Category,
		ActionRequired: action,
		Source:         v.Source,
	}, ReporterResults{})
}

// finalize clamps the level, recomputes severity from it and makes the
// action consistent with the level.
func finalize(v FinalVerdict, results ReporterResults) FinalVerdict {
	v.FinalLevel = inference.ClampLevel(v.FinalLevel)
	v.Severity = detection.SeverityFor(v.FinalLevel)
	v.Critical = v.Severity == detection.SeverityCritical

	switch {
	case v.FinalLevel >= 9:
		v.ActionRequired = ActionNotifyParent
	case v.FinalLevel >= 7 && !v.ActionRequired.Includes(ActionWarnChild):
		v.ActionRequired = ActionWarnChild
	}
	if v.Fallback && !v.ActionRequired.Includes(ActionMonitor) {
		v.ActionRequired = ActionMonitor
	}

	if v.PrimaryThreat == "" {
		v.PrimaryThreat = fallbackThreat(results)
	}
	if v.ParentGuidance == "" {
		v.ParentGuidance = ParentGuidance(v.PrimaryThreat, v.Severity).Guidance
	}
	warning := ChildWarning(v.PrimaryThreat, v.Severity)
	if v.ChildWarning == "" {
		v.ChildWarning = warning.Warning
	}
	v.ShowHelpButton = warning.ShowHelpButton
	return v
}

// HelperTools exposes the scoring and lookup helpers to the engine.
func HelperTools() []inference.Tool {
	typeParams := []inference.ToolParam{
		{Name: "threatType", Type: inference.ParamString, Description: "sexual_content, grooming, personal_info, meeting_request, manipulation or inappropriate_image", Required: true},
		{Name: "severity", Type: inference.ParamString, Description: "LOW, MEDIUM, HIGH or CRITICAL", Required: true},
	}
	return []inference.Tool{
		{
			Name:        "assessThreatLevel",
			Description: "Calculates the final 0-10 threat level from reporter levels and the number of concerning messages in recent conversation.",
			Params: []inference.ToolParam{
				{Name: "textLevel", Type: inference.ParamNumber, Description: "Threat level from the text reporter (0-10)", Required: true},
				{Name: "imageLevel", Type: inference.ParamNumber, Description: "Threat level from the image assessor (0-10), if any"},
				{Name: "conversationPatternCount", Type: inference.ParamNumber, Description: "Number of concerning messages in recent conversation"},
			},
			Execute: func(_ context.Context, args map[string]any) (string, error) {
				return encode(AssessThreatLevel(
					int(inference.NumberArg(args, "textLevel")),
					int(inference.NumberArg(args, "imageLevel")),
					int(inference.NumberArg(args, "conversationPatternCount")),
				))
			},
		},
		{
			Name:        "generateParentGuidance",
			Description: "Returns specific, actionable guidance for the parent for a threat type and severity.",
			Params:      typeParams,
			Execute: func(_ context.Context, args map[string]any) (string, error) {
				return encode(ParentGuidance(inference.StringArg(args, "threatType"), detection.ParseSeverity(inference.StringArg(args, "severity"))))
			},
		},
		{
			Name:        "createChildWarning",
			Description: "Returns an age-appropriate warning for the child for a threat type and severity.",
			Params:      typeParams,
			Execute: func(_ context.Context, args map[string]any) (string, error) {
				return encode(ChildWarning(inference.StringArg(args, "threatType"), detection.ParseSeverity(inference.StringArg(args, "severity"))))
			},
		},
	}
}

func encode(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("coordinator: encode helper result: %w", err)
	}
	return string(payload), nil
}

func injectedHelpers(results ReporterResults, recent []detection.Message) string {
	threat := AssessThreatLevel(results.TextLevel(), results.ImageLevel(), detection.CountConcerning(recent))
	primary := fallbackThreat(results)
	assessment, _ := encode(threat)
	guidance, _ := encode(ParentGuidance(primary, threat.Severity))
	warning, _ := encode(ChildWarning(primary, threat.Severity))
	return fmt.Sprintf("Pre-computed helper results:\n- assessThreatLevel: %s\n- generateParentGuidance(%s): %s\n- createChildWarning(%s): %s",
		assessment, primary, guidance, primary, warning)
}

func buildContext(results ReporterResults, recent []detection.Message) string {
	var b strings.Builder
	if v := results.Text; v != nil {
		fmt.Fprintf(&b, "TEXT REPORTER:\n- Inappropriate: %t\n- Level: %d/10\n- Category: %s\n- Explanation: %s\n- Red Flags: %s\n\n",
			v.IsFlagged, v.Level, v.Category, v.Explanation, strings.Join(v.RedFlags, ", "))
	}
	if len(recent) > 0 {
		fmt.Fprintf(&b, "CONVERSATION CONTEXT (last %d messages):\n", len(recent))
		for _, m := range recent {
			fmt.Fprintf(&b, "[%s] %s\n", m.Direction, m.Text)
		}
		b.WriteString("\n")
	}
	if results.Description != nil {
		fmt.Fprintf(&b, "IMAGE DESCRIPTION:\n%s\n\n", results.Description.Text)
	}
	if v := results.Image; v != nil {
		fmt.Fprintf(&b, "IMAGE ASSESSOR:\n- Inappropriate: %t\n- Level: %d/10\n- Category: %s\n- Explanation: %s\n- Concerning Elements: %s\n\n",
			v.IsFlagged, v.Level, v.Category, v.Explanation, strings.Join(v.RedFlags, ", "))
	}
	return b.String()
}

func coordinatorPrompt(contextBlock, injected string) string {
	var b strings.Builder
	b.WriteString("Multiple reporters detected concerning activity. Make the final assessment.\n\n")
	b.WriteString(contextBlock)
	if injected == "" {
		b.WriteString("Use assessThreatLevel to calculate the final score, generateParentGuidance for parent guidance and createChildWarning for the child warning.\n\n")
	} else {
		b.WriteString(injected + "\n\n")
	}
	b.WriteString(`actionRequired rules:
- "immediate_parent_notification" when finalLevel >= 7
- "warn_child" when finalLevel is 5-6
- "monitor" when finalLevel is 3-4
- "log_only" when finalLevel is 0-2

Respond with JSON only:
{"finalLevel": 0-10, "severity": "LOW|MEDIUM|HIGH|CRITICAL", "primaryThreat": "sexual_content|grooming|personal_info|meeting_request|manipulation|inappropriate_image|safe", "actionRequired": "immediate_parent_notification|warn_child|monitor|log_only", "parentGuidance": "...", "childWarning": "..."}`)
	return b.String()
}
