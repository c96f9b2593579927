package detection

import (
	"sort"
	"strings"
)

// ToxicityLevels maps local classifier labels to threat levels.
var ToxicityLevels = map[string]int{
	"sexual_explicit": 9,
	"severe_toxicity": 8,
	"threat":          7,
	"obscene":         6,
	"identity_attack": 6,
	"insult":          5,
	"toxicity":        5,
}

// LocalSignal is a deterministic classifier output supplied alongside a
// message, usually by the per-platform extractor.
type LocalSignal struct {
	Flagged bool     `json:"flagged"`
	Level   int      `json:"level"`
	Labels  []string `json:"labels"`
	Source  string   `json:"source"`
}

// SignalFromLabels derives a signal from toxicity labels. Unknown labels are
// ignored.
func SignalFromLabels(labels []string, source string) LocalSignal {
	if source == "" {
		source = "local-classifier"
	}
	sig := LocalSignal{Source: source, Labels: []string{}}
	for _, raw := range labels {
		label := strings.ToLower(strings.TrimSpace(raw))
		level, ok := ToxicityLevels[label]
		if !ok {
			continue
		}
		sig.Labels = append(sig.Labels, label)
		if level > sig.Level {
			sig.Level = level
		}
	}
	sig.Flagged = len(sig.Labels) > 0
	return sig
}

// Verdict converts the signal for use with Combine.
func (s LocalSignal) Verdict() Verdict {
	v := Verdict{
		IsFlagged: s.Flagged,
		Level:     s.Level,
		Category:  CategorySafe,
		RedFlags:  append([]string{}, s.Labels...),
		Source:    s.Source,
	}
	if s.Flagged {
		v.Category = strongestLabel(s.Labels)
		v.Explanation = "local classifier labels: " + strings.Join(s.Labels, ", ")
	}
	return v
}

func strongestLabel(labels []string) string {
	if len(labels) == 0 {
		return "toxicity"
	}
	sorted := append([]string(nil), labels...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ToxicityLevels[sorted[i]] > ToxicityLevels[sorted[j]]
	})
	return sorted[0]
}

// Combine merges classifier outputs with OR semantics: flagged if any input
// is flagged, level is the maximum, red flags are concatenated. Category and
// explanation come from the highest-level flagged input.
func Combine(verdicts ...Verdict) Verdict {
	if len(verdicts) == 0 {
		return Neutral("", "")
	}
	out := Verdict{Category: CategorySafe, RedFlags: []string{}}
	sources := make([]string, 0, len(verdicts))
	lead := -1
	for i, v := range verdicts {
		out.IsFlagged = out.IsFlagged || v.IsFlagged
		if v.Level > out.Level {
			out.Level = v.Level
		}
		out.RedFlags = append(out.RedFlags, v.RedFlags...)
		if v.Source != "" {
			sources = append(sources, v.Source)
		}
		if v.IsFlagged && (lead < 0 || v.Level > verdicts[lead].Level) {
			lead = i
		}
	}
	if lead < 0 {
		lead = 0
	}
	out.Category = verdicts[lead].Category
	if out.Category == "" {
		out.Category = CategorySafe
	}
	out.Explanation = verdicts[lead].Explanation
	out.Source = strings.Join(sources, " + ")
	return out
}
