package pattern

import "testing"

func TestScoreLocalPartBasePatterns(t *testing.T) {
	cases := []struct {
		local      string
		wantReason string
	}{
		{"john.doe", "first.last"},
		{"j.doe", "f.last"},
		{"johndoe", "firstlast"},
		{"jo99", "first_with_digits"},
		{"john", "first_only"},
		{"x7!y9", "random_string"},
	}
	for _, tc := range cases {
		score := ScoreLocalPart(tc.local, Hints{})
		if score.Reasons[0] != tc.wantReason {
			t.Errorf("ScoreLocalPart(%q) reason = %q, want %q", tc.local, score.Reasons[0], tc.wantReason)
		}
	}
}

func TestScoreLocalPartMonotonicRanking(t *testing.T) {
	firstLast := ScoreLocalPart("john.doe", Hints{})
	firstOnly := ScoreLocalPart("john", Hints{})
	random := ScoreLocalPart("x7!y9", Hints{})

	if !(firstLast.Confidence > firstOnly.Confidence && firstOnly.Confidence > random.Confidence) {
		t.Errorf("expected first.last > first_only > random confidence, got %v, %v, %v",
			firstLast.Confidence, firstOnly.Confidence, random.Confidence)
	}
}

func TestScoreLocalPartExactNameMatchBoostsConfidence(t *testing.T) {
	base := ScoreLocalPart("jdoe123", Hints{})
	withHints := ScoreLocalPart("jdoe123", Hints{FirstName: "John", LastName: "Doe"})

	// jdoe matches the f+last exact-candidate shape once digits are ignored
	// is not literal here (digits aren't stripped), so assert on the
	// documented exact-match local part instead.
	exact := ScoreLocalPart("jdoe", Hints{FirstName: "John", LastName: "Doe"})
	if exact.Confidence < 0.95 {
		t.Errorf("expected exact name match to yield >= 0.95 confidence, got %v", exact.Confidence)
	}
	hasReason := false
	for _, r := range exact.Reasons {
		if r == "exact_name_match" {
			hasReason = true
		}
	}
	if !hasReason {
		t.Errorf("expected exact_name_match reason, got %v", exact.Reasons)
	}
	_ = base
	_ = withHints
}

func TestScoreLocalPartPartialNameMatch(t *testing.T) {
	score := ScoreLocalPart("johnny123", Hints{FirstName: "John", LastName: "Smith"})
	hasReason := false
	for _, r := range score.Reasons {
		if r == "partial_name_match" {
			hasReason = true
		}
	}
	if !hasReason {
		t.Errorf("expected partial_name_match reason for a local part containing the first name, got %v", score.Reasons)
	}
	if score.Confidence < 0.80 {
		t.Errorf("expected partial match floor of 0.80, got %v", score.Confidence)
	}
}

func TestScoreLocalPartContradictionLowersConfidence(t *testing.T) {
	score := ScoreLocalPart("john.doe", Hints{FirstName: "Mary", LastName: "Jones"})
	hasReason := false
	for _, r := range score.Reasons {
		if r == "name_contradiction" {
			hasReason = true
		}
	}
	if !hasReason {
		t.Errorf("expected name_contradiction reason for a completely unrelated hint, got %v", score.Reasons)
	}
	if score.Confidence > 0.20 {
		t.Errorf("expected contradiction to cap confidence at 0.20, got %v", score.Confidence)
	}
}

func TestScoreLocalPartNoHintsLeavesBaseScoreUntouched(t *testing.T) {
	withoutHints := ScoreLocalPart("john.doe", Hints{})
	if len(withoutHints.Reasons) != 1 {
		t.Errorf("expected exactly one reason with no hints, got %v", withoutHints.Reasons)
	}
}
