package mxresolve

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func newTestResolver() *Resolver {
	return &Resolver{
		maxTTL: time.Hour,
		cache:  make(map[string]cacheEntry),
	}
}

func TestResolveOrdersByPreference(t *testing.T) {
	r := newTestResolver()
	r.lookupMX = func(domain string) ([]*net.MX, error) {
		return []*net.MX{
			{Host: "mx2.example.com.", Pref: 20},
			{Host: "mx1.example.com.", Pref: 10},
		}, nil
	}
	r.lookupHost = func(domain string) ([]string, error) { return nil, errors.New("unused") }

	res, err := r.Resolve(context.Background(), "Example.COM")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(res.Hosts) != 2 || res.Hosts[0].Host != "mx1.example.com" || res.Hosts[1].Host != "mx2.example.com" {
		t.Fatalf("unexpected host order: %+v", res.Hosts)
	}
}

func TestResolveDedupesHosts(t *testing.T) {
	r := newTestResolver()
	r.lookupMX = func(domain string) ([]*net.MX, error) {
		return []*net.MX{
			{Host: "mx.example.com.", Pref: 10},
			{Host: "mx.example.com.", Pref: 10},
		}, nil
	}

	res, err := r.Resolve(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(res.Hosts) != 1 {
		t.Fatalf("expected dedup to one host, got %+v", res.Hosts)
	}
}

func TestResolveFallsBackToARecord(t *testing.T) {
	r := newTestResolver()
	r.lookupMX = func(domain string) ([]*net.MX, error) { return nil, errors.New("no mx records") }
	r.lookupHost = func(domain string) ([]string, error) { return []string{"1.2.3.4"}, nil }

	res, err := r.Resolve(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Failure != FailureNone || len(res.Hosts) != 1 || res.Hosts[0].Host != "example.com" {
		t.Fatalf("expected A-record fallback to a single synthetic host, got %+v", res)
	}
}

func TestResolveNXDomain(t *testing.T) {
	r := newTestResolver()
	nxErr := &net.DNSError{Err: "no such host", IsNotFound: true}
	r.lookupMX = func(domain string) ([]*net.MX, error) { return nil, nxErr }
	r.lookupHost = func(domain string) ([]string, error) { return nil, nxErr }

	res, err := r.Resolve(context.Background(), "nonexistent.invalid")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Failure != FailureNXDomain {
		t.Fatalf("expected FailureNXDomain, got %v", res.Failure)
	}
}

func TestResolveTransientFailureNotCachedLong(t *testing.T) {
	r := newTestResolver()
	r.lookupMX = func(domain string) ([]*net.MX, error) { return nil, errors.New("servfail") }
	r.lookupHost = func(domain string) ([]string, error) { return nil, errors.New("servfail") }

	res, err := r.Resolve(context.Background(), "flaky.example.com")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Failure != FailureTransient {
		t.Fatalf("expected FailureTransient, got %v", res.Failure)
	}

	r.mu.RLock()
	entry := r.cache["flaky.example.com"]
	r.mu.RUnlock()
	if time.Until(entry.expiresAt) > 31*time.Second {
		t.Errorf("transient failures should use a short negative-cache TTL, got %v remaining", time.Until(entry.expiresAt))
	}
}

func TestResolveCachesResult(t *testing.T) {
	r := newTestResolver()
	var calls int32
	r.lookupMX = func(domain string) ([]*net.MX, error) {
		atomic.AddInt32(&calls, 1)
		return []*net.MX{{Host: "mx.example.com.", Pref: 10}}, nil
	}

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), "example.com"); err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly one underlying lookup, got %d", got)
	}
}

func TestRejectsMXDot(t *testing.T) {
	res := Result{Hosts: []Host{{Host: "."}}}
	if !res.Rejects() {
		t.Errorf("expected a \".\" MX host to be treated as mail rejection")
	}
}
