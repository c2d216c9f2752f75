package verdictstore

import (
	"context"
	"sync"
	"time"
)

// Layered combines a durable verdict backend with an ephemeral domain-facts
// cache and degrades gracefully when either is unreachable (spec §4.9
// "Verdict store unavailable"): reads fall through as misses, writes are
// buffered in memory, and Ready reports the degraded state.
type Layered struct {
	durable Store
	facts   *RedisFacts

	mu       sync.Mutex
	degraded bool
	buffer   *MemoryStore
}

// NewLayered composes durable (verdicts) with facts (ephemeral domain
// facts, may be nil to keep facts entirely in the durable backend).
func NewLayered(durable Store, facts *RedisFacts) *Layered {
	return &Layered{
		durable: durable,
		facts:   facts,
		buffer:  NewMemoryStore(),
	}
}

func (l *Layered) Get(ctx context.Context, normalized string) (Record, time.Duration, bool) {
	if rec, age, ok := l.durable.Get(ctx, normalized); ok {
		return rec, age, true
	}
	// Durable store miss or unreachable: check the degraded write buffer
	// before reporting a cache miss (spec §4.9: "reads fall through,
	// treat as miss" only applies when there is truly nothing buffered).
	return l.buffer.Get(ctx, normalized)
}

func (l *Layered) Put(ctx context.Context, rec Record) error {
	if err := l.durable.Put(ctx, rec); err != nil {
		l.mu.Lock()
		l.degraded = true
		l.mu.Unlock()
		// Buffer the write in memory rather than losing it (spec §4.9).
		return l.buffer.Put(ctx, rec)
	}
	l.mu.Lock()
	l.degraded = false
	l.mu.Unlock()
	return nil
}

func (l *Layered) Stats(ctx context.Context) (Stats, error) {
	st, err := l.durable.Stats(ctx)
	l.mu.Lock()
	st.Degraded = l.degraded
	l.mu.Unlock()
	return st, err
}

func (l *Layered) Scan(ctx context.Context, filter Filter) ([]Record, error) {
	return l.durable.Scan(ctx, filter)
}

func (l *Layered) GetDomainFacts(ctx context.Context, domain string) (DomainFacts, bool) {
	if l.facts != nil {
		if f, ok := l.facts.Get(ctx, domain); ok {
			return f, true
		}
		if !l.facts.Ready(ctx) {
			return l.buffer.GetDomainFacts(ctx, domain)
		}
		return DomainFacts{}, false
	}
	return l.durable.GetDomainFacts(ctx, domain)
}

func (l *Layered) PutDomainFacts(ctx context.Context, facts DomainFacts) error {
	if l.facts != nil {
		if err := l.facts.Put(ctx, facts); err != nil {
			return l.buffer.PutDomainFacts(ctx, facts)
		}
		return nil
	}
	return l.durable.PutDomainFacts(ctx, facts)
}

func (l *Layered) Ready(ctx context.Context) bool {
	if !l.durable.Ready(ctx) {
		return false
	}
	if l.facts != nil && !l.facts.Ready(ctx) {
		return false
	}
	return true
}
