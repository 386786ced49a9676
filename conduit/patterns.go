// Package conduit finds pass-through donations in the contribution ledger and removes their
// double-counted amounts.
package conduit

import (
	"regexp"
	"strings"
)

// Matcher does case-insensitive substring matching against the conduit allow-list.
type Matcher struct {
	orgs []string
}

func NewMatcher(orgs []string) *Matcher {
	m := &Matcher{}
	seen := map[string]struct{}{}
	for _, o := range orgs {
		o = strings.ToUpper(strings.TrimSpace(o))
		if o == "" {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		m.orgs = append(m.orgs, o)
	}
	return m
}

func (m *Matcher) Orgs() []string {
	return append([]string(nil), m.orgs...)
}

func (m *Matcher) IsConduitDonor(donorName string) bool {
	name := strings.ToUpper(donorName)
	for _, o := range m.orgs {
		if strings.Contains(name, o) {
			return true
		}
	}
	return false
}

// likePatterns returns the allow-list as escaped SQL LIKE patterns (escape char '!').
func (m *Matcher) likePatterns() []string {
	out := make([]string, 0, len(m.orgs))
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	for _, o := range m.orgs {
		out = append(out, "%"+r.Replace(o)+"%")
	}
	return out
}

// Memo texts that mark a receipt as forwarded to a different recipient. "EARMARKED THROUGH
// <conduit>" describes how money arrived here and is deliberately not matched.
var earmarkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bEARMARK(ED)?\s+(FOR|TO)\b`),
	regexp.MustCompile(`(?i)\bPASS[\s-]?THROUGH\b`),
	regexp.MustCompile(`(?i)\bFORWARDED\s+TO\b`),
	regexp.MustCompile(`(?i)\bON\s+BEHALF\s+OF\b.*\bCOMMITTEE\b`),
}

// IsEarmarked reports a contribution passed through to another recipient.
func IsEarmarked(memoText string) bool {
	text := strings.TrimSpace(memoText)
	if text == "" {
		return false
	}
	for _, re := range earmarkPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
