package detection

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/safeguard/internal/inference"
	"github.com/wolfman30/safeguard/pkg/logging"
)

// DescriptionUnavailable is the placeholder used when no description could
// be produced.
const DescriptionUnavailable = "Image description unavailable"

const imageAssessorSource = "image-assessor"

// Description is the judgement-free text rendering of an image.
type Description struct {
	Text        string    `json:"description"`
	Direction   Direction `json:"direction"`
	Unavailable bool      `json:"unavailable,omitempty"`
}

// ImageDescriber turns image bytes into text. Bytes are dropped after the call.
type ImageDescriber struct {
	gate   *inference.Gate
	logger *logging.Logger
}

func NewImageDescriber(gate *inference.Gate, logger *logging.Logger) *ImageDescriber {
	if logger == nil {
		logger = logging.Default()
	}
	return &ImageDescriber{gate: gate, logger: logger.Component("image_describer")}
}

func (d *ImageDescriber) Describe(ctx context.Context, image inference.Image, dir Direction) Description {
	ctx, span := detectionTracer.Start(ctx, "detection.image_describer.describe")
	defer span.End()

	req := inference.PromptSpec{
		Prompt:      "Describe in detail what you see in this image.",
		MaxTokens:   512,
		Temperature: 0,
	}
	raw, err := d.gate.DescribeImage(ctx, "image_describe", req, image)
	text := strings.TrimSpace(raw)
	if err != nil || text == "" {
		if err != nil {
			span.RecordError(err)
		}
		d.logger.Warn("image description unavailable", "error", err)
		return Description{Text: DescriptionUnavailable, Direction: dir, Unavailable: true}
	}
	return Description{Text: text, Direction: dir}
}

// BenignContextTerms force a safe verdict when present in a description.
var BenignContextTerms = []string{
	"vampire", "fangs", "makeup", "costume", "cosplay",
	"edited", "manipulated", "fantasy", "halloween", "monster",
}

// Repair is one named consistency fix applied to a parsed assessment. It
// reports whether it changed the verdict.
type Repair struct {
	Name  string
	Apply func(v *Verdict) bool
}

// AssessmentRepairs run in order after parsing.
var AssessmentRepairs = []Repair{
	{Name: "zeroSafeCategoryLevel", Apply: zeroSafeCategoryLevel},
	{Name: "clearLowLevelFlag", Apply: clearLowLevelFlag},
	{Name: "clampUnflaggedLevel", Apply: clampUnflaggedLevel},
}

// A "safe" category outranks a high level.
func zeroSafeCategoryLevel(v *Verdict) bool {
	if v.Category != CategorySafe || v.Level < 7 {
		return false
	}
	v.Level = 0
	v.IsFlagged = false
	v.Explanation = "Corrected inconsistent assessment - marked as safe"
	return true
}

func clearLowLevelFlag(v *Verdict) bool {
	if v.Level > 2 || !v.IsFlagged {
		return false
	}
	v.IsFlagged = false
	return true
}

func clampUnflaggedLevel(v *Verdict) bool {
	if v.IsFlagged || v.Level <= 2 {
		return false
	}
	v.Level = 2
	return true
}

// ImageAssessor judges a description against a fixed rubric.
type ImageAssessor struct {
	gate   *inference.Gate
	logger *logging.Logger
}

func NewImageAssessor(gate *inference.Gate, logger *logging.Logger) *ImageAssessor {
	if logger == nil {
		logger = logging.Default()
	}
	return &ImageAssessor{gate: gate, logger: logger.Component("image_assessor")}
}

type imageReport struct {
	IsInappropriate    inference.Flag    `json:"isInappropriate"`
	Level              inference.Level   `json:"level"`
	Category           string            `json:"category"`
	Explanation        string            `json:"explanation"`
	ConcerningElements inference.Strings `json:"concerningElements"`
}

func (a *ImageAssessor) Assess(ctx context.Context, desc Description) Verdict {
	ctx, span := detectionTracer.Start(ctx, "detection.image_assessor.assess")
	defer span.End()

	if desc.Unavailable {
		return Neutral(imageAssessorSource+" (fallback)", "Assessment unavailable")
	}

	req := inference.PromptSpec{Prompt: assessPrompt(desc), MaxTokens: 512, Temperature: 0}
	raw, err := a.gate.Infer(ctx, "image_assess", req, nil)
	if err != nil {
		a.logger.Warn("image assessment unavailable, using neutral verdict", "error", err)
		return Neutral(imageAssessorSource+" (fallback)", "Assessment unavailable")
	}
	var parsed imageReport
	if err := inference.ExtractObject(raw, &parsed); err != nil {
		a.logger.Warn("image assessment response unparseable", "error", err)
		return Neutral(imageAssessorSource+" (fallback)", "Assessment unavailable")
	}

	v := Verdict{
		IsFlagged:   bool(parsed.IsInappropriate),
		Level:       int(parsed.Level),
		Category:    strings.ToLower(strings.TrimSpace(parsed.Category)),
		Explanation: parsed.Explanation,
		RedFlags:    []string(parsed.ConcerningElements),
		Source:      imageAssessorSource,
	}
	if v.Category == "" {
		v.Category = CategorySafe
	}
	if v.RedFlags == nil {
		v.RedFlags = []string{}
	}

	for _, r := range AssessmentRepairs {
		if r.Apply(&v) {
			a.logger.Info("image assessment repaired", "repair", r.Name, "level", v.Level, "flagged", v.IsFlagged)
		}
	}

	if term, ok := benignContext(desc.Text); ok && v.Level > 2 {
		a.logger.Info("image assessment overridden by benign context", "term", term, "level", v.Level)
		v = Verdict{
			Category:    CategorySafe,
			Explanation: "Costume, makeup, or fantasy content - safe for children",
			RedFlags:    []string{},
			Source:      imageAssessorSource,
		}
	}

	span.SetAttributes(attribute.Int("level", v.Level), attribute.Bool("flagged", v.IsFlagged))
	return v
}

func benignContext(description string) (string, bool) {
	lower := strings.ToLower(description)
	for _, term := range BenignContextTerms {
		if strings.Contains(lower, term) {
			return term, true
		}
	}
	return "", false
}

func assessPrompt(desc Description) string {
	if desc.Direction == DirectionSent {
		return fmt.Sprintf(`Based on this image description, assess whether a CHILD sending this image is concerning.

DESCRIPTION: %q

Check for nudity or sexual content, revealing or suggestive poses, identifying information (documents, addresses, school uniforms), self-harm, drugs or illegal activity.

Respond with JSON only:
{"isInappropriate": true/false, "level": 0-10, "category": "sexual_content|personal_info|self_harm|illegal_activity|safe", "explanation": "brief explanation", "concerningElements": ["element"]}`, desc.Text)
	}
	return fmt.Sprintf(`Assess this image description for a CHILD receiving it. Use strict criteria; most images are safe.

DESCRIPTION: %q

Levels:
- 0-1 safe: costumes, makeup, halloween, cosplay, art, memes, video games, normal photos
- 2-3 slightly concerning: mildly inappropriate jokes or language
- 4-6 moderate: suggestive but not explicit
- 7-8 high: clear nudity, sexual content, graphic violence, real injuries
- 9-10 critical: extreme sexual content, severe violence, child endangerment

Vampire, zombie or monster makeup, halloween costumes, horror characters and dark art are level 0.
Only flag actual nudity or sexual acts, real graphic violence, drug use or self-harm.

Respond with JSON only:
{"isInappropriate": true/false, "level": 0-10, "category": "sexual_content|real_violence|drugs|self_harm|safe", "explanation": "brief explanation", "concerningElements": ["element"]}`, desc.Text)
}
