package enrichment

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	candidate Candidate
	found     bool
	err       error
	cost      Tier
	calls     int
}

func (s *stubProvider) Search(ctx context.Context, address string) (Candidate, bool, error) {
	s.calls++
	return s.candidate, s.found, s.err
}

func (s *stubProvider) Cost() Tier { return s.cost }

func TestLookupReturnsCheapHitWithoutTryingExpensive(t *testing.T) {
	cheap := &stubProvider{candidate: Candidate{Name: "Jane Doe"}, found: true, cost: Cheap}
	expensive := &stubProvider{found: true, cost: Expensive}
	w := &Waterfall{Cheap: cheap, Expensive: expensive}

	outcome := w.Lookup(context.Background(), "jane@example.com", false, 0.80)
	if !outcome.Found || outcome.Provider != "cheap" {
		t.Fatalf("outcome = %+v, want a cheap hit", outcome)
	}
	if expensive.calls != 0 {
		t.Errorf("expensive provider was called %d times, want 0", expensive.calls)
	}
}

func TestLookupFallsBackToExpensiveOnPlausiblePerson(t *testing.T) {
	cheap := &stubProvider{found: false, cost: Cheap}
	expensive := &stubProvider{candidate: Candidate{Name: "Jane Doe"}, found: true, cost: Expensive}
	w := &Waterfall{Cheap: cheap, Expensive: expensive}

	outcome := w.Lookup(context.Background(), "jane@example.com", false, 0.80)
	if !outcome.Found || outcome.Provider != "expensive" {
		t.Fatalf("outcome = %+v, want an expensive hit", outcome)
	}
}

func TestLookupSkipsExpensiveForRoleAccount(t *testing.T) {
	cheap := &stubProvider{found: false, cost: Cheap}
	expensive := &stubProvider{candidate: Candidate{Name: "Jane Doe"}, found: true, cost: Expensive}
	w := &Waterfall{Cheap: cheap, Expensive: expensive}

	outcome := w.Lookup(context.Background(), "support@example.com", true, 0.80)
	if outcome.Found {
		t.Errorf("expected no candidate for a role account, got %+v", outcome)
	}
	if expensive.calls != 0 {
		t.Errorf("expensive provider should not be tried for a role account")
	}
}

func TestLookupSkipsExpensiveOutsideConfidenceBand(t *testing.T) {
	cheap := &stubProvider{found: false, cost: Cheap}
	expensive := &stubProvider{candidate: Candidate{Name: "Jane Doe"}, found: true, cost: Expensive}
	w := &Waterfall{Cheap: cheap, Expensive: expensive}

	outcome := w.Lookup(context.Background(), "jane@example.com", false, 0.95)
	if outcome.Found {
		t.Errorf("expected no candidate outside the [0.70, 0.88] pattern band, got %+v", outcome)
	}
	if expensive.calls != 0 {
		t.Errorf("expensive provider should not be tried outside the confidence band")
	}
}

func TestLookupCheapOutageFallsThroughToExpensive(t *testing.T) {
	cheap := &stubProvider{err: errors.New("cheap provider is down"), cost: Cheap}
	expensive := &stubProvider{candidate: Candidate{Name: "Jane Doe"}, found: true, cost: Expensive}
	w := &Waterfall{Cheap: cheap, Expensive: expensive}

	outcome := w.Lookup(context.Background(), "jane@example.com", false, 0.80)
	if !outcome.Found || outcome.Provider != "expensive" {
		t.Fatalf("a cheap-provider outage should fall through to expensive, got %+v", outcome)
	}
}

func TestLookupNoProvidersConfigured(t *testing.T) {
	w := &Waterfall{}
	outcome := w.Lookup(context.Background(), "jane@example.com", false, 0.80)
	if outcome.Found {
		t.Errorf("expected no candidate with no providers configured, got %+v", outcome)
	}
}
