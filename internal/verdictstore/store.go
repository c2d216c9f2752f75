// Package verdictstore implements the persistent verdict cache and
// ephemeral domain-facts cache of spec §4.7. Two logically distinct stores
// sit behind one interface: durable verdicts (Postgres, grounded on the
// teacher's lib/pq usage) and ephemeral domain facts (Redis, grounded on
// the teacher's go-redis usage).
package verdictstore

import (
	"context"
	"time"
)

// Reachability is the coarse outcome reported to callers (spec §3).
type Reachability string

const (
	Safe    Reachability = "safe"
	Risky   Reachability = "risky"
	Invalid Reachability = "invalid"
	Unknown Reachability = "unknown"
)

// CatchAllState mirrors catchall.State without importing that package,
// keeping verdictstore's dependency graph a leaf in the DAG described by
// spec §9 ("Model as a layered DAG").
type CatchAllState string

const (
	CatchAllUnknown     CatchAllState = "unknown"
	CatchAllYes         CatchAllState = "yes"
	CatchAllNo          CatchAllState = "no"
	CatchAllUnreachable CatchAllState = "unreachable"
)

// Record is one verdict per normalized address (spec §3).
type Record struct {
	Normalized  string
	Reachability Reachability
	Deliverable *bool // nil == unknown
	CatchAll    bool
	Disposable  bool
	Role        bool
	Free        bool
	MXHost      string
	SMTPCode    int
	SMTPMessage string
	Provider    string
	VerifiedAt  time.Time
	Error       string
	Tier        string
}

// MXHostFact is one ordered MX entry as stored in domain facts.
type MXHostFact struct {
	Host       string
	Preference uint16
}

// DomainFacts is one record per DNS domain (spec §3), lifetime = TTL.
type DomainFacts struct {
	Domain         string
	MXHosts        []MXHostFact
	Provider       string
	ProviderPrior  float64
	CatchAll       CatchAllState
	MXCheckedAt    time.Time
	CatchAllCheckedAt time.Time
}

// Filter restricts a Scan call (spec §4.7, consumed by operator surfaces).
type Filter struct {
	Reachability Reachability // empty means "any"
	Domain       string       // empty means "any"
	Since        time.Time    // zero means "any"
	Limit        int          // 0 means "no cap"
}

// Stats is the §4.7 `stats()` result.
type Stats struct {
	Total          int
	ByReachability map[Reachability]int
	CatchAllCount  int
	Degraded       bool
}

// Store is the single interface every backend implements (spec §4.7/§9:
// "Multiple back-ends ... implement one interface").
type Store interface {
	// Get returns a verdict and its age; it never blocks behind a pending
	// refresh (spec §4.7).
	Get(ctx context.Context, normalized string) (rec Record, age time.Duration, found bool)
	// Put upserts by Normalized; on update, VerifiedAt is refreshed.
	// Last-writer-wins by VerifiedAt (spec §4.7).
	Put(ctx context.Context, rec Record) error
	Stats(ctx context.Context) (Stats, error)
	Scan(ctx context.Context, filter Filter) ([]Record, error)

	GetDomainFacts(ctx context.Context, domain string) (DomainFacts, bool)
	PutDomainFacts(ctx context.Context, facts DomainFacts) error

	// Ready reports whether the backing store is reachable (spec §6
	// "/health"). A degraded store still answers Get/Put (see §4.9) but
	// reports false here.
	Ready(ctx context.Context) bool
}
