package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSMS(t *testing.T) {
	ts := time.Date(2026, 1, 9, 20, 5, 0, 0, time.UTC)
	got := RenderSMS(Alert{Severity: "HIGH", Level: 8, Platform: "instagram", Timestamp: ts})
	assert.Equal(t, "🚨 SafeGuard Alert: HIGH threat detected on instagram. Threat level: 8/10. Check extension dashboard for details. - Jan 9, 2026 8:05 PM", got)
}

func TestRenderSMS_UnknownPlatform(t *testing.T) {
	got := RenderSMS(Alert{Severity: "LOW", Level: 2, Timestamp: time.Now()})
	assert.Contains(t, got, "detected on Unknown.")
}

func TestRenderEmail(t *testing.T) {
	msg, err := RenderEmail(Alert{
		Severity:       "CRITICAL",
		Level:          10,
		Platform:       "discord",
		PrimaryThreat:  "grooming",
		ParentGuidance: "Talk to your child calmly.",
		Content:        `<script>alert("x")</script> don't tell your parents`,
		Timestamp:      time.Date(2026, 1, 9, 20, 5, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "🚨 SafeGuard Alert: CRITICAL Threat Detected", msg.Subject)
	assert.Contains(t, msg.HTML, "CRITICAL (10/10)")
	assert.Contains(t, msg.HTML, "Talk to your child calmly.")
	assert.Contains(t, msg.HTML, "See dashboard for details")
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "&lt;script&gt;")
	assert.Contains(t, msg.Text, "Platform: discord")
}
