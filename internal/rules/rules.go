// Package rules provides memorized payee-matching rules. A rule records how
// a raw statement description was mapped to a ledger payee at import time;
// the scorer consults rules to recognize descriptions it has seen before.
package rules

import (
	"regexp"
	"strings"
)

// MatchMode determines how a rule's match value is applied to a description.
type MatchMode string

const (
	ModeExact    MatchMode = "EXACT"
	ModeContains MatchMode = "CONTAINS"
	ModeRegex    MatchMode = "REGEX"
)

// IsValid reports whether the mode is one of the known modes.
func (m MatchMode) IsValid() bool {
	return m == ModeExact || m == ModeContains || m == ModeRegex
}

// PayeeRule maps a description pattern to the payee it produces.
type PayeeRule struct {
	Mode         MatchMode `json:"mode"`
	MatchValue   string    `json:"match_value"`
	DefaultPayee string    `json:"default_payee"`
}

// Matches reports whether the rule would fire for the given raw description.
// EXACT and CONTAINS comparisons are case-insensitive; REGEX patterns are
// applied as written and a pattern that fails to compile never matches.
func (r PayeeRule) Matches(description string) bool {
	desc := strings.TrimSpace(description)
	switch r.Mode {
	case ModeExact:
		return strings.EqualFold(desc, strings.TrimSpace(r.MatchValue))
	case ModeContains:
		return strings.Contains(strings.ToLower(desc), strings.ToLower(strings.TrimSpace(r.MatchValue)))
	case ModeRegex:
		re, err := regexp.Compile(r.MatchValue)
		if err != nil {
			return false
		}
		return re.MatchString(desc)
	default:
		return false
	}
}

// Lookup supplies the memorized rules. Implemented by the ledger store and
// by StaticLookup for tests.
type Lookup interface {
	GetAllRules() ([]PayeeRule, error)
}

// StaticLookup is a fixed in-memory rule set.
type StaticLookup []PayeeRule

// GetAllRules returns the static set.
func (s StaticLookup) GetAllRules() ([]PayeeRule, error) {
	return s, nil
}

// ProducingPayee filters rules down to those whose output payee equals the
// given ledger payee (case-insensitive).
func ProducingPayee(all []PayeeRule, payee string) []PayeeRule {
	var out []PayeeRule
	for _, r := range all {
		if strings.EqualFold(strings.TrimSpace(r.DefaultPayee), strings.TrimSpace(payee)) {
			out = append(out, r)
		}
	}
	return out
}
