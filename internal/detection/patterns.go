package detection

import (
	"regexp"
	"strings"
)

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

func matchAll(patterns []namedPattern, text string) []string {
	found := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p.re.MatchString(text) {
			found = append(found, p.name)
		}
	}
	return found
}

var groomingStages = []namedPattern{
	{"trustBuilding", regexp.MustCompile(`(?i)\b(trust me|our secret|don['’]t tell|between us|special friend|this is our secret)\b`)},
	{"desensitization", regexp.MustCompile(`(?i)\b(it['’]s normal|everyone does|nothing wrong with it|just pictures|don['’]t worry about it)\b`)},
	{"isolation", regexp.MustCompile(`(?i)\b(parents don['’]t understand|don['’]t tell (anyone|your parents|them|mom|dad)|they won['’]t (understand|get it)|keep this between us|our little secret|won['’]t understand our)\b`)},
	{"sexualization", regexp.MustCompile(`(?i)\b(send pic|send photo|show me|nudes?|naked|meet up|come over|alone together|i['’]ll pick you up)\b`)},
}

var piiPatterns = []namedPattern{
	{"phone", regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"address", regexp.MustCompile(`(?i)\b\d+\s+[a-z\s]+(?:street|st|avenue|ave|road|rd|drive|dr|lane|ln|court|ct)\b`)},
	{"school", regexp.MustCompile(`(?i)\b(?:school|high school|middle school|elementary|college|university)\s+(?:named|called)?\s*[a-z][a-z\s]+`)},
	{"age", regexp.MustCompile(`(?i)\b(?:i['’]m|i am|age)\s*(\d{1,2})\b`)},
}

var manipulationTactics = []namedPattern{
	{"guilt", regexp.MustCompile(`(?i)\b(thought you cared about me|thought we were special friends|so disappointed in you|you let me down)\b`)},
	{"pressure", regexp.MustCompile(`(?i)\b(do it right now|send it now|hurry up and send|don['’]t be a baby|come on send it)\b`)},
	{"flattery_sexual", regexp.MustCompile(`(?i)\b(so sexy|so hot|send me sexy pics|show me your body|you['’]re so attractive send)\b`)},
	{"isolation", regexp.MustCompile(`(?i)\b(parents don['’]t understand us|our secret relationship|they won['’]t get it like i do|just between us two)\b`)},
}

// GroomingResult is the output of the grooming-stage matcher.
type GroomingResult struct {
	Detected bool     `json:"groomingDetected"`
	Stages   []string `json:"stages"`
	Severity string   `json:"severity"`
}

// CheckGroomingPattern reports which grooming stages a message shows.
func CheckGroomingPattern(text string) GroomingResult {
	stages := matchAll(groomingStages, text)
	return GroomingResult{
		Detected: len(stages) > 0,
		Stages:   stages,
		Severity: countSeverity(len(stages)),
	}
}

// PIIResult is the output of the personal-information extractor.
type PIIResult struct {
	Found bool     `json:"piiFound"`
	Types []string `json:"types"`
	Risk  string   `json:"riskLevel"`
}

// ExtractPersonalInfo reports which kinds of personal information appear.
// An empty message scans as "low" rather than "none".
func ExtractPersonalInfo(text string) PIIResult {
	if strings.TrimSpace(text) == "" {
		return PIIResult{Types: []string{}, Risk: "low"}
	}
	types := matchAll(piiPatterns, text)
	risk := "none"
	switch {
	case len(types) >= 2:
		risk = "critical"
	case len(types) == 1:
		risk = "high"
	}
	return PIIResult{Found: len(types) > 0, Types: types, Risk: risk}
}

// ManipulationResult is the output of the manipulation matcher.
type ManipulationResult struct {
	Detected bool     `json:"manipulationDetected"`
	Tactics  []string `json:"tactics"`
	Severity string   `json:"severity"`
}

// AnalyzeSentiment reports strong emotional-manipulation tactics.
func AnalyzeSentiment(text string) ManipulationResult {
	tactics := matchAll(manipulationTactics, text)
	return ManipulationResult{
		Detected: len(tactics) > 0,
		Tactics:  tactics,
		Severity: countSeverity(len(tactics)),
	}
}

func countSeverity(n int) string {
	switch {
	case n >= 2:
		return "high"
	case n == 1:
		return "medium"
	default:
		return "none"
	}
}

// IsConcerning is true when any deterministic matcher fires on text.
func IsConcerning(text string) bool {
	return CheckGroomingPattern(text).Detected ||
		AnalyzeSentiment(text).Detected ||
		ExtractPersonalInfo(text).Found
}

// CountConcerning counts concerning messages.
func CountConcerning(messages []Message) int {
	n := 0
	for _, m := range messages {
		if IsConcerning(m.Text) {
			n++
		}
	}
	return n
}
