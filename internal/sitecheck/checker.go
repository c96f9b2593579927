// Package sitecheck flags page visits to known pornographic domains.
//
// Only the registrable domain of the URL is compared against a fixed list;
// page content is never inspected, which keeps false positives on ordinary
// sites at zero.
package sitecheck

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/wolfman30/safeguard/internal/detection"
)

// Category is the verdict category of a blocked domain.
const Category = "pornographic_website"

const source = "sitecheck"

var defaultBlocklist = []string{
	"pornhub.com", "xvideos.com", "xnxx.com", "xhamster.com", "redtube.com",
	"youporn.com", "tube8.com", "spankbang.com", "eporner.com", "beeg.com",
	"youjizz.com", "tnaflix.com", "drtuber.com", "nuvid.com", "keezmovies.com",
	"slutload.com", "extremetube.com", "porn.com", "sex.com", "brazzers.com",
	"realitykings.com",
}

// Result is the outcome of checking one URL.
type Result struct {
	Safe    bool              `json:"safe"`
	Domain  string            `json:"domain,omitempty"`
	Verdict detection.Verdict `json:"verdict"`
}

// Checker matches URLs against a domain blocklist.
type Checker struct {
	blocked map[string]struct{}
}

// NewChecker uses the built-in list plus any extra registrable domains.
func NewChecker(extra ...string) *Checker {
	c := &Checker{blocked: make(map[string]struct{}, len(defaultBlocklist)+len(extra))}
	for _, d := range append(append([]string{}, defaultBlocklist...), extra...) {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			c.blocked[d] = struct{}{}
		}
	}
	return c
}

// Check never fails: a URL that cannot be parsed is treated as safe.
func (c *Checker) Check(rawURL string) Result {
	safe := Result{Safe: true, Verdict: detection.Neutral(source, "domain not on blocklist")}

	domain, ok := registrableDomain(rawURL)
	if !ok {
		safe.Verdict.Explanation = "url could not be parsed"
		return safe
	}
	safe.Domain = domain
	if _, blocked := c.blocked[domain]; !blocked {
		return safe
	}

	return Result{
		Domain: domain,
		Verdict: detection.Verdict{
			IsFlagged:   true,
			Level:       10,
			Category:    Category,
			Explanation: fmt.Sprintf("Pornographic website detected: %s", domain),
			RedFlags:    []string{domain},
			Source:      source,
		},
	}
}

func registrableDomain(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", false
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", false
	}
	return domain, true
}
