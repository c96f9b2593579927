package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/safeguard/internal/inference"
	"github.com/wolfman30/safeguard/pkg/logging"
)

var detectionTracer = otel.Tracer("safeguard.internal.detection")

const textReporterSource = "text-reporter"

const textSystemPrompt = `You are a child safety analyst. Analyze messages for actual predatory behavior, grooming and inappropriate content.

Rules:
1. Always flag messages with several strong grooming indicators (isolation, secrecy, meeting requests).
2. Friendly phrases on their own ("long time no see", "how are you") are safe.
3. Friendly phrases combined with secrecy, isolation, meeting requests or sexual content must be flagged.

Critical examples:
- "you're so mature" + "our secret" + "don't tell your parents" + "meet up" is grooming.
- "I understand you better than your parents" + "they won't understand" is isolation.
- Any meeting request from a non-family member is high risk.`

// TextReporter analyzes one text message through the inference engine.
type TextReporter struct {
	gate   *inference.Gate
	logger *logging.Logger
}

func NewTextReporter(gate *inference.Gate, logger *logging.Logger) *TextReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return &TextReporter{gate: gate, logger: logger.Component("text_reporter")}
}

type textReport struct {
	IsInappropriate inference.Flag    `json:"isInappropriate"`
	Level           inference.Level   `json:"level"`
	Category        string            `json:"category"`
	Explanation     string            `json:"explanation"`
	RedFlags        inference.Strings `json:"redFlags"`
}

// Analyze never fails: engine or parse problems yield a neutral verdict,
// which is then OR-combined with the local signal when one is supplied.
func (r *TextReporter) Analyze(ctx context.Context, text string, dir Direction, local *LocalSignal) Verdict {
	ctx, span := detectionTracer.Start(ctx, "detection.text_reporter.analyze")
	defer span.End()
	span.SetAttributes(attribute.String("direction", string(dir)))

	verdict := r.infer(ctx, text, dir)
	if local != nil {
		verdict = Combine(verdict, local.Verdict())
	}
	span.SetAttributes(
		attribute.Bool("flagged", verdict.IsFlagged),
		attribute.Int("level", verdict.Level),
	)
	return verdict
}

func (r *TextReporter) infer(ctx context.Context, text string, dir Direction) Verdict {
	req := inference.PromptSpec{
		System:      []string{textSystemPrompt},
		MaxTokens:   512,
		Temperature: 0,
	}
	var tools []inference.Tool
	if r.gate.SupportsTools() {
		tools = MatcherTools()
		req.Prompt = textPrompt(text, dir, "")
	} else {
		req.Prompt = textPrompt(text, dir, injectedMatcherResults(text))
	}

	raw, err := r.gate.Infer(ctx, "text_report", req, tools)
	if err != nil {
		r.logger.Warn("text analysis unavailable, using neutral verdict", "error", err)
		return Neutral(textReporterSource+" (fallback)", "Analysis unavailable")
	}

	var parsed textReport
	if err := inference.ExtractObject(raw, &parsed); err != nil {
		r.logger.Warn("text analysis response unparseable", "error", err)
		return Neutral(textReporterSource+" (fallback)", "Analysis unavailable")
	}

	v := Verdict{
		IsFlagged:   bool(parsed.IsInappropriate),
		Level:       int(parsed.Level),
		Category:    strings.TrimSpace(parsed.Category),
		Explanation: parsed.Explanation,
		RedFlags:    []string(parsed.RedFlags),
		Source:      textReporterSource,
	}
	if v.Category == "" {
		v.Category = CategorySafe
	}
	if v.RedFlags == nil {
		v.RedFlags = []string{}
	}
	return v
}

// MatcherTools exposes the deterministic matchers as engine-callable tools.
func MatcherTools() []inference.Tool {
	messageParam := []inference.ToolParam{{
		Name:        "message",
		Type:        inference.ParamString,
		Description: "The message to inspect",
		Required:    true,
	}}
	return []inference.Tool{
		{
			Name:        "checkGroomingPattern",
			Description: "Identifies grooming stages (trust building, desensitization, isolation, sexualization) in a message. Only strong indicators count.",
			Params:      messageParam,
			Execute: func(_ context.Context, args map[string]any) (string, error) {
				return marshalTool(CheckGroomingPattern(inference.StringArg(args, "message")))
			},
		},
		{
			Name:        "extractPersonalInfo",
			Description: "Finds personal information (phone, email, address, school, age) that could put a child at risk.",
			Params:      messageParam,
			Execute: func(_ context.Context, args map[string]any) (string, error) {
				return marshalTool(ExtractPersonalInfo(inference.StringArg(args, "message")))
			},
		},
		{
			Name:        "analyzeSentiment",
			Description: "Detects strong emotional manipulation tactics (guilt, pressure, sexual flattery, isolation).",
			Params:      messageParam,
			Execute: func(_ context.Context, args map[string]any) (string, error) {
				return marshalTool(AnalyzeSentiment(inference.StringArg(args, "message")))
			},
		},
	}
}

func marshalTool(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("detection: encode tool result: %w", err)
	}
	return string(payload), nil
}

func injectedMatcherResults(text string) string {
	grooming, _ := marshalTool(CheckGroomingPattern(text))
	pii, _ := marshalTool(ExtractPersonalInfo(text))
	sentiment, _ := marshalTool(AnalyzeSentiment(text))
	return fmt.Sprintf("Pre-computed checks:\n- checkGroomingPattern: %s\n- extractPersonalInfo: %s\n- analyzeSentiment: %s", grooming, pii, sentiment)
}

func textPrompt(text string, dir Direction, injected string) string {
	var b strings.Builder
	if dir == DirectionSent {
		fmt.Fprintf(&b, "Analyze this message that a CHILD is SENDING:\n\n%q\n\n", text)
		if injected == "" {
			b.WriteString("Use checkGroomingPattern to see if the child is responding to grooming, extractPersonalInfo to check whether they are sharing dangerous information, and analyzeSentiment to see if they are being manipulated.\n\n")
		} else {
			b.WriteString(injected + "\n\n")
		}
		b.WriteString(`Is the child sharing sexual content, being pressured into sending something, sharing personal information, or agreeing to meet someone in person?

Respond with JSON only:
{"isInappropriate": true/false, "level": 0-10, "category": "sexual_content|personal_info|meeting_request|manipulation|safe", "explanation": "brief explanation", "redFlags": ["flag"]}`)
		return b.String()
	}

	fmt.Fprintf(&b, "Analyze this message that a CHILD is RECEIVING from someone:\n\n%q\n\n", text)
	if injected == "" {
		b.WriteString("Use checkGroomingPattern to identify grooming tactics, extractPersonalInfo to see if personal information is requested, and analyzeSentiment to detect manipulation.\n\n")
	} else {
		b.WriteString(injected + "\n\n")
	}
	b.WriteString(`Simple greetings on their own are safe. Flag when two or more of isolation, secrecy, meeting request or manipulation appear.
Levels:
- grooming with secrecy and isolation: 9-10
- isolation plus a meeting request: 9-10
- explicit sexual content or solicitation: 9-10
- requests for address, phone or school: 7-8
- meeting requests from non-family: 7-8
- coercion or threats: 9-10

Respond with JSON only:
{"isInappropriate": true/false, "level": 0-10, "category": "sexual_content|grooming|personal_info_request|meeting_request|manipulation|safe", "explanation": "brief explanation", "redFlags": ["flag"]}`)
	return b.String()
}
