package verdictstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStorePutGet(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	rec := Record{Normalized: "a@example.com", Reachability: Safe, VerifiedAt: time.Now()}
	if err := m.Put(ctx, rec); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	got, age, ok := m.Get(ctx, "a@example.com")
	if !ok {
		t.Fatalf("expected a hit after Put")
	}
	if got.Reachability != Safe {
		t.Errorf("Reachability = %v, want Safe", got.Reachability)
	}
	if age < 0 || age > time.Second {
		t.Errorf("age = %v, want a small positive duration", age)
	}
}

func TestMemoryStoreGetMiss(t *testing.T) {
	m := NewMemoryStore()
	_, _, ok := m.Get(context.Background(), "nobody@example.com")
	if ok {
		t.Errorf("expected a miss for a never-written address")
	}
}

func TestMemoryStoreLastWriterWinsByVerifiedAt(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	newer := Record{Normalized: "a@example.com", Reachability: Invalid, VerifiedAt: time.Now()}
	older := Record{Normalized: "a@example.com", Reachability: Safe, VerifiedAt: time.Now().Add(-time.Hour)}

	if err := m.Put(ctx, newer); err != nil {
		t.Fatalf("Put(newer) error: %v", err)
	}
	if err := m.Put(ctx, older); err != nil {
		t.Fatalf("Put(older) error: %v", err)
	}

	got, _, _ := m.Get(ctx, "a@example.com")
	if got.Reachability != Invalid {
		t.Errorf("Reachability = %v, want Invalid (older write must not overwrite newer)", got.Reachability)
	}
}

func TestMemoryStoreScanFiltersByReachabilityDomainAndLimit(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	records := []Record{
		{Normalized: "a@example.com", Reachability: Safe, VerifiedAt: now},
		{Normalized: "b@example.com", Reachability: Invalid, VerifiedAt: now},
		{Normalized: "c@other.com", Reachability: Safe, VerifiedAt: now},
	}
	for _, r := range records {
		if err := m.Put(ctx, r); err != nil {
			t.Fatalf("Put error: %v", err)
		}
	}

	safeOnly, err := m.Scan(ctx, Filter{Reachability: Safe})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(safeOnly) != 2 {
		t.Errorf("Scan(Reachability=Safe) returned %d records, want 2", len(safeOnly))
	}

	exampleOnly, err := m.Scan(ctx, Filter{Domain: "example.com"})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(exampleOnly) != 2 {
		t.Errorf("Scan(Domain=example.com) returned %d records, want 2", len(exampleOnly))
	}

	limited, err := m.Scan(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Scan(Limit=1) returned %d records, want 1", len(limited))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	m.Put(ctx, Record{Normalized: "a@example.com", Reachability: Safe, VerifiedAt: now})
	m.Put(ctx, Record{Normalized: "b@example.com", Reachability: Invalid, VerifiedAt: now, CatchAll: true})

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.ByReachability[Safe] != 1 || stats.ByReachability[Invalid] != 1 {
		t.Errorf("ByReachability = %+v, want one Safe and one Invalid", stats.ByReachability)
	}
	if stats.CatchAllCount != 1 {
		t.Errorf("CatchAllCount = %d, want 1", stats.CatchAllCount)
	}
}

func TestMemoryStoreDomainFacts(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	facts := DomainFacts{Domain: "example.com", Provider: "google", CatchAll: CatchAllNo}
	if err := m.PutDomainFacts(ctx, facts); err != nil {
		t.Fatalf("PutDomainFacts error: %v", err)
	}

	got, ok := m.GetDomainFacts(ctx, "example.com")
	if !ok {
		t.Fatalf("expected a hit after PutDomainFacts")
	}
	if got.Provider != "google" {
		t.Errorf("Provider = %q, want google", got.Provider)
	}
}

func TestMemoryStoreReady(t *testing.T) {
	m := NewMemoryStore()
	if !m.Ready(context.Background()) {
		t.Errorf("MemoryStore.Ready() should always report true")
	}
}
