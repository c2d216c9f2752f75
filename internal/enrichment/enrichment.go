// Package enrichment mediates optional external person-lookup providers,
// per spec §4.6. The core treats each provider as a black box with a cost
// tag; an outage must not convert success into failure (spec §4.9).
package enrichment

import "context"

// Candidate is what an external provider returns when it believes it has
// identified the person behind an address.
type Candidate struct {
	Name  string
	Title string
}

// Provider is the capability interface a concrete lookup integration
// implements. Search returns (candidate, found, error); a non-nil error is
// treated as a provider outage, not a definitive "no match".
type Provider interface {
	Search(ctx context.Context, address string) (Candidate, bool, error)
	Cost() Tier
}

// Tier tags a provider's relative expense for the waterfall policy.
type Tier int

const (
	Cheap Tier = iota
	Expensive
)

// Waterfall tries a cheap provider first, and only falls back to an
// expensive provider when the cheap one returned no candidate and the
// address is a plausible person pattern (spec §4.6 policy).
type Waterfall struct {
	Cheap     Provider
	Expensive Provider
}

// Outcome carries the waterfall's result plus which provider (if any)
// produced it, for debugging (spec §6 "reason" debug field).
type Outcome struct {
	Candidate Candidate
	Found     bool
	Provider  string
}

// Lookup runs the waterfall for address. isRole and patternConfidence gate
// whether the expensive provider is tried at all (spec §4.6: "only fall
// back to expensive provider if the cheap one returned none and the
// address is a plausible person pattern (not a role account, pattern
// confidence in [0.70, 0.88])").
func (w *Waterfall) Lookup(ctx context.Context, address string, isRole bool, patternConfidence float64) Outcome {
	if w.Cheap != nil {
		cand, found, err := w.Cheap.Search(ctx, address)
		if err == nil && found {
			return Outcome{Candidate: cand, Found: true, Provider: "cheap"}
		}
		// err != nil is a provider outage: fall through exactly as if the
		// cheap provider had returned "none".
	}

	plausiblePerson := !isRole && patternConfidence >= 0.70 && patternConfidence <= 0.88
	if w.Expensive != nil && plausiblePerson {
		cand, found, err := w.Expensive.Search(ctx, address)
		if err == nil && found {
			return Outcome{Candidate: cand, Found: true, Provider: "expensive"}
		}
	}

	return Outcome{Found: false}
}
