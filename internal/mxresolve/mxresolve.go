// Package mxresolve resolves a domain's mail-exchange hosts with a bounded,
// TTL-capped, single-flighted cache, per spec §4.2.
package mxresolve

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FailureKind distinguishes the two DNS failure modes spec §4.2 requires
// the dispatcher to treat differently.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureNXDomain
	FailureTransient
)

// Host is one ordered MX entry (or a synthetic A/AAAA fallback entry with
// Preference 0 when no MX record exists).
type Host struct {
	Host       string
	Preference uint16
}

// Result is the memoized outcome of resolving one domain.
type Result struct {
	Hosts       []Host
	Failure     FailureKind
	RetryAfter  time.Duration // only meaningful when Failure == FailureTransient
	ResolvedAt  time.Time
}

// Rejects reports the MX-list-is-"." case: the domain explicitly declines
// all mail (spec §4.8 edge case).
func (r Result) Rejects() bool {
	for _, h := range r.Hosts {
		if h.Host == "." || strings.TrimSpace(h.Host) == "" {
			return true
		}
	}
	return len(r.Hosts) == 0 && r.Failure == FailureNone
}

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// Resolver is a domain-keyed, single-flighted MX resolver.
type Resolver struct {
	maxTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry

	group singleflight.Group

	// lookupMX/lookupHost are overridable for tests.
	lookupMX   func(domain string) ([]*net.MX, error)
	lookupHost func(domain string) ([]string, error)
}

// New builds a Resolver whose cache entries never outlive maxTTL, even if
// the upstream DNS TTL would permit it (spec §4.2: "capped at an
// operator-configured maximum").
func New(maxTTL time.Duration) *Resolver {
	return &Resolver{
		maxTTL:     maxTTL,
		cache:      make(map[string]cacheEntry),
		lookupMX:   net.LookupMX,
		lookupHost: net.LookupHost,
	}
}

// NewWithLookups builds a Resolver backed by custom MX/A-record lookup
// functions, letting callers outside this package (dispatcher tests, in
// particular) exercise the full resolve-and-cache path without a live
// resolver.
func NewWithLookups(maxTTL time.Duration, lookupMX func(string) ([]*net.MX, error), lookupHost func(string) ([]string, error)) *Resolver {
	r := New(maxTTL)
	r.lookupMX = lookupMX
	r.lookupHost = lookupHost
	return r
}

// Resolve returns the ordered, de-duplicated MX list for domain, serving
// from cache when fresh and coalescing concurrent misses onto one lookup.
func (r *Resolver) Resolve(ctx context.Context, domain string) (Result, error) {
	domain = strings.ToLower(domain)

	if res, ok := r.fromCache(domain); ok {
		return res, nil
	}

	v, err, _ := r.group.Do(domain, func() (interface{}, error) {
		// Re-check cache: another goroutine may have just populated it
		// while we were waiting to enter Do for this key.
		if res, ok := r.fromCache(domain); ok {
			return res, nil
		}
		res := r.resolveUncached(domain)
		r.store(domain, res)
		return res, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (r *Resolver) fromCache(domain string) (Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[domain]
	if !ok || time.Now().After(entry.expiresAt) {
		return Result{}, false
	}
	return entry.result, true
}

func (r *Resolver) store(domain string, res Result) {
	ttl := r.maxTTL
	if res.Failure == FailureTransient {
		// Don't cache transient failures for long; a short negative cache
		// still protects against hammering a flapping resolver.
		ttl = 30 * time.Second
	}
	r.mu.Lock()
	r.cache[domain] = cacheEntry{result: res, expiresAt: time.Now().Add(ttl)}
	r.mu.Unlock()
}

func (r *Resolver) resolveUncached(domain string) Result {
	now := time.Now()
	mxRecords, err := r.lookupMX(domain)
	if err == nil && len(mxRecords) > 0 {
		hosts := make([]Host, 0, len(mxRecords))
		seen := make(map[string]bool, len(mxRecords))
		for _, mx := range mxRecords {
			h := strings.ToLower(strings.TrimSuffix(mx.Host, "."))
			if h == "" || seen[h] {
				continue
			}
			seen[h] = true
			hosts = append(hosts, Host{Host: h, Preference: mx.Pref})
		}
		sortByPreference(hosts)
		return Result{Hosts: hosts, Failure: FailureNone, ResolvedAt: now}
	}

	if err != nil {
		if isNXDomain(err) {
			return Result{Failure: FailureNXDomain, ResolvedAt: now}
		}
		// SERVFAIL/timeout: fall through to A/AAAA fallback before giving up.
	}

	// A/AAAA fallback (spec §4.2): synthesize a single MX-equivalent host.
	if addrs, herr := r.lookupHost(domain); herr == nil && len(addrs) > 0 {
		return Result{Hosts: []Host{{Host: domain, Preference: 0}}, Failure: FailureNone, ResolvedAt: now}
	} else if herr != nil && isNXDomain(herr) {
		return Result{Failure: FailureNXDomain, ResolvedAt: now}
	}

	return Result{Failure: FailureTransient, RetryAfter: 5 * time.Minute, ResolvedAt: now}
}

func isNXDomain(err error) bool {
	var dnsErr *net.DNSError
	if e, ok := err.(*net.DNSError); ok {
		dnsErr = e
	}
	if dnsErr == nil {
		return false
	}
	return dnsErr.IsNotFound
}

func sortByPreference(hosts []Host) {
	for i := 1; i < len(hosts); i++ {
		for j := i; j > 0 && hosts[j].Preference < hosts[j-1].Preference; j-- {
			hosts[j], hosts[j-1] = hosts[j-1], hosts[j]
		}
	}
}
