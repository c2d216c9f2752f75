package dispatcher

import (
	"context"
	"strings"
	"sync"
)

// hostSemaphoreManager bounds concurrent SMTP conversations per destination
// MX host (spec §5 "per-destination-host concurrency cap"), keyed lazily on
// demand the same way domainLimiterManager keys its per-domain rate
// limiters: one bounded channel per host, sized to the configured cap,
// created the first time that host is seen.
type hostSemaphoreManager struct {
	mu  sync.Mutex
	cap int
	sem map[string]chan struct{}
}

func newHostSemaphoreManager(capPerHost int) *hostSemaphoreManager {
	if capPerHost <= 0 {
		capPerHost = 4
	}
	return &hostSemaphoreManager{cap: capPerHost, sem: make(map[string]chan struct{})}
}

// acquire blocks until host has a free slot and returns a release func, or
// returns an error if ctx is done first.
func (m *hostSemaphoreManager) acquire(ctx context.Context, host string) (func(), error) {
	host = strings.ToLower(host)

	m.mu.Lock()
	sem, ok := m.sem[host]
	if !ok {
		sem = make(chan struct{}, m.cap)
		m.sem[host] = sem
	}
	m.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
