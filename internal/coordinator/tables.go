package coordinator

import (
	"fmt"

	"github.com/wolfman30/safeguard/internal/detection"
)

// ThreatAssessment is the output of the scoring helper.
type ThreatAssessment struct {
	FinalLevel int                `json:"finalLevel"`
	Severity   detection.Severity `json:"severity"`
	Reasoning  string             `json:"reasoning"`
}

// AssessThreatLevel takes the highest reporter level and escalates it when the
// recent conversation already looked concerning: +2 for three or more
// concerning messages, +1 for two. The result is capped at 10.
func AssessThreatLevel(textLevel, imageLevel, patternCount int) ThreatAssessment {
	level := max(textLevel, imageLevel)
	switch {
	case patternCount >= 3:
		level += 2
	case patternCount >= 2:
		level++
	}
	level = min(max(level, 0), 10)
	return ThreatAssessment{
		FinalLevel: level,
		Severity:   detection.SeverityFor(level),
		Reasoning: fmt.Sprintf("Based on reporter levels (text:%d, image:%d) and %d concerning messages in recent conversation",
			textLevel, imageLevel, patternCount),
	}
}

var parentGuidance = map[string]map[detection.Severity]string{
	"sexual_content": {
		detection.SeverityCritical: "IMMEDIATE ACTION: This appears to be sexual exploitation. Contact local police and NCMEC (1-800-843-5678). Do not confront the other party. Preserve all evidence.",
		detection.SeverityHigh:     "Talk to your child immediately in a calm, supportive manner. Ask about the person they're chatting with. Consider reporting to the platform and local authorities.",
		detection.SeverityMedium:   "Have a conversation about online safety and appropriate content. Review who they're chatting with.",
		detection.SeverityLow:      "Monitor the conversation. Consider discussing appropriate online behavior.",
	},
	"grooming": {
		detection.SeverityCritical: "IMMEDIATE ACTION: This shows advanced grooming tactics. Contact police and NCMEC (1-800-843-5678). Do not alert the other party. Document everything.",
		detection.SeverityHigh:     "This person may be grooming your child. Talk to your child calmly about the relationship. Report to police and the platform.",
		detection.SeverityMedium:   "Watch for grooming signs. Talk to your child about this relationship. Consider limiting contact.",
		detection.SeverityLow:      "Monitor the relationship. Educate your child about grooming tactics.",
	},
	"personal_info": {
		detection.SeverityCritical: "Your child has shared critical personal information. Talk to them immediately. Review what was shared and consider safety implications.",
		detection.SeverityHigh:     "Dangerous information was shared. Talk to your child about online safety. Change passwords and review privacy settings.",
		detection.SeverityMedium:   "Remind your child not to share personal information online. Review privacy settings together.",
		detection.SeverityLow:      "Educate about protecting personal information online.",
	},
	"meeting_request": {
		detection.SeverityCritical: "URGENT: Meeting plans detected. Talk to your child immediately. If a meeting occurred, contact police. If planned, prevent it and report.",
		detection.SeverityHigh:     "Someone is trying to meet your child in person. This is dangerous. Talk to your child and report to authorities.",
		detection.SeverityMedium:   "Monitor for meeting attempts. Discuss the dangers of meeting online contacts.",
		detection.SeverityLow:      "Educate about the risks of meeting people from online.",
	},
	"manipulation": {
		detection.SeverityHigh:   "Your child is being emotionally manipulated. Talk to them about healthy relationships and manipulation tactics.",
		detection.SeverityMedium: "Signs of manipulation detected. Discuss healthy boundaries and manipulation tactics with your child.",
		detection.SeverityLow:    "Monitor for manipulation. Educate about emotional manipulation.",
	},
	"pornographic_website": {
		detection.SeverityCritical: "Your child opened a known pornographic website. Talk to them calmly without blame, review browser history together and enable DNS or router level filtering.",
	},
}

var childWarnings = map[string]string{
	"sexual_content":       "⚠️ This conversation contains inappropriate content. Please talk to a trusted adult immediately.",
	"grooming":             "⚠️ This person may not have good intentions. Please show this conversation to a parent or trusted adult right away.",
	"personal_info":        "⚠️ Be careful about sharing personal information online. Talk to a parent about what's safe to share.",
	"meeting_request":      "⚠️ Never agree to meet someone from online in person. Tell a parent about this right away.",
	"manipulation":         "⚠️ This person may be trying to manipulate you. Please talk to a trusted adult about this conversation.",
	"inappropriate_image":  "⚠️ This image may not be appropriate. Please show this to a parent or trusted adult.",
	"pornographic_website": "⚠️ This website is not appropriate for you. Please close it and talk to a parent or trusted adult.",
}

const defaultChildWarning = "⚠️ This conversation may not be safe. Please talk to a parent or trusted adult."

// Guidance is the output of the parent guidance helper.
type Guidance struct {
	Guidance  string `json:"guidance"`
	NextSteps string `json:"nextSteps"`
}

// ParentGuidance looks up guidance for a threat type and severity.
func ParentGuidance(threatType string, severity detection.Severity) Guidance {
	text, ok := parentGuidance[threatType][severity]
	if !ok {
		text = fmt.Sprintf("Review this %s severity incident involving %s. Talk to your child about online safety.", severity, threatType)
	}
	next := "Continue monitoring and maintain open communication"
	if severity == detection.SeverityCritical || severity == detection.SeverityHigh {
		next = "Consider professional help and reporting to authorities"
	}
	return Guidance{Guidance: text, NextSteps: next}
}

// Warning is the output of the child warning helper.
type Warning struct {
	Warning        string `json:"warning"`
	ShowHelpButton bool   `json:"showHelpButton"`
}

// ChildWarning looks up an age-appropriate warning. The help button is shown
// for HIGH and CRITICAL.
func ChildWarning(threatType string, severity detection.Severity) Warning {
	text, ok := childWarnings[threatType]
	if !ok {
		text = defaultChildWarning
	}
	return Warning{
		Warning:        text,
		ShowHelpButton: severity == detection.SeverityCritical || severity == detection.SeverityHigh,
	}
}
