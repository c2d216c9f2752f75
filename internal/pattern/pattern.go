// Package pattern scores how strongly an address's local part looks like a
// person's name, per spec §4.6.
package pattern

import (
	"regexp"
	"strings"
)

// Hints is the optional name/company context a caller may supply alongside
// an address.
type Hints struct {
	FirstName   string
	LastName    string
	CompanyHint string
}

// Score is a confidence in [0,1] with the human-readable reasons behind it.
type Score struct {
	Confidence float64
	Reasons    []string
}

var trailingDigits = regexp.MustCompile(`^[a-z]+[0-9]+$`)

// ScoreLocalPart scores local against the deterministic pattern table of
// spec §4.6, optionally adjusted by name hints.
func ScoreLocalPart(local string, hints Hints) Score {
	local = strings.ToLower(local)

	base, reason := baseScore(local)
	s := Score{Confidence: base, Reasons: []string{reason}}

	if hints.FirstName == "" && hints.LastName == "" {
		return s
	}

	first := strings.ToLower(hints.FirstName)
	last := strings.ToLower(hints.LastName)

	switch matchKind(local, first, last) {
	case matchExact:
		if s.Confidence < 0.95 {
			s.Confidence = 0.95
		}
		s.Reasons = append(s.Reasons, "exact_name_match")
	case matchPartial:
		if s.Confidence < 0.80 {
			s.Confidence = 0.80
		}
		s.Reasons = append(s.Reasons, "partial_name_match")
	case matchContradiction:
		if s.Confidence > 0.20 {
			s.Confidence = 0.20
		}
		s.Reasons = append(s.Reasons, "name_contradiction")
	}

	return s
}

// baseScore implements the deterministic local-part pattern table:
// first.last 0.90, firstlast 0.85, f.last 0.80, first 0.75,
// first<digits> 0.50, otherwise a random-string heuristic 0.10.
func baseScore(local string) (float64, string) {
	cleanedSep := strings.NewReplacer("_", ".", "-", ".").Replace(local)
	parts := strings.Split(cleanedSep, ".")

	switch {
	case len(parts) == 2 && len(parts[0]) > 1 && len(parts[1]) > 1:
		return 0.90, "first.last"
	case len(parts) == 2 && len(parts[0]) == 1:
		return 0.80, "f.last"
	case trailingDigits.MatchString(local):
		return 0.50, "first_with_digits"
	case looksLikeSingleWord(local) && len(local) >= 6:
		return 0.85, "firstlast"
	case looksLikeSingleWord(local) && len(local) >= 2 && len(local) <= 10:
		return 0.75, "first_only"
	default:
		return 0.10, "random_string"
	}
}

func looksLikeSingleWord(s string) bool {
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

type matchResult int

const (
	matchNone matchResult = iota
	matchExact
	matchPartial
	matchContradiction
)

func matchKind(local, first, last string) matchResult {
	if first == "" && last == "" {
		return matchNone
	}

	normalized := strings.NewReplacer(".", "", "_", "", "-", "").Replace(local)

	exactCandidates := []string{}
	if first != "" && last != "" {
		exactCandidates = append(exactCandidates, first+last, last+first)
		if len(first) > 0 {
			exactCandidates = append(exactCandidates, string(first[0])+last)
		}
	}
	for _, c := range exactCandidates {
		if normalized == c {
			return matchExact
		}
	}

	if first != "" && strings.Contains(normalized, first) {
		return matchPartial
	}
	if last != "" && strings.Contains(normalized, last) {
		return matchPartial
	}

	// A name hint was supplied but shares no substring with the local
	// part at all: treat as contradicting evidence.
	if (first != "" || last != "") && !strings.Contains(normalized, first) && !strings.Contains(normalized, last) {
		return matchContradiction
	}

	return matchNone
}
