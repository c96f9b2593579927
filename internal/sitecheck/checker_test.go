package sitecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/safeguard/internal/detection"
)

func TestChecker_Check(t *testing.T) {
	c := NewChecker("example-adult.net")

	tests := []struct {
		name   string
		url    string
		safe   bool
		domain string
	}{
		{"bare domain", "https://pornhub.com/view", false, "pornhub.com"},
		{"www prefix", "https://www.xvideos.com/", false, "xvideos.com"},
		{"uppercase host", "HTTPS://WWW.REDTUBE.COM/x", false, "redtube.com"},
		{"trailing dot", "http://beeg.com./", false, "beeg.com"},
		{"extra entry", "https://cdn.example-adult.net/a.mp4", false, "example-adult.net"},
		{"keyword in path is fine", "https://en.wikipedia.org/wiki/Sex_education", true, "wikipedia.org"},
		{"lookalike domain", "https://pornhub.com.evil.io/", true, "evil.io"},
		{"similar name", "https://essex.com/", true, "essex.com"},
		{"invalid url", "::not a url", true, ""},
		{"non-http scheme", "chrome://extensions", true, ""},
		{"empty", "", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Check(tt.url)
			assert.Equal(t, tt.safe, got.Safe)
			assert.Equal(t, tt.domain, got.Domain)
			if tt.safe {
				assert.False(t, got.Verdict.IsFlagged)
				assert.Equal(t, detection.CategorySafe, got.Verdict.Category)
				return
			}
			assert.True(t, got.Verdict.IsFlagged)
			assert.Equal(t, 10, got.Verdict.Level)
			assert.Equal(t, Category, got.Verdict.Category)
			assert.Equal(t, detection.SeverityCritical, detection.SeverityFor(got.Verdict.Level))
		})
	}
}
