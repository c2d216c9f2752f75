package dispatcher

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// domainLimiterManager throttles SMTP probes per destination domain, on top
// of the dispatcher's global and per-host caps (spec §5 "per-destination-
// host concurrency cap ... to avoid tripping provider rate limits").
// Adapted from the teacher's RateLimiterManager: the same fixed table of
// stricter limits for the large consumer mailbox providers, plus an
// on-demand default for everyone else.
type domainLimiterManager struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

func newDomainLimiterManager() *domainLimiterManager {
	limiters := map[string]*rate.Limiter{
		"gmail.com":      rate.NewLimiter(2, 2),
		"googlemail.com": rate.NewLimiter(2, 2),
		"outlook.com":    rate.NewLimiter(1, 1),
		"hotmail.com":    rate.NewLimiter(1, 1),
		"live.com":       rate.NewLimiter(1, 1),
		"yahoo.com":      rate.NewLimiter(1, 1),
	}
	return &domainLimiterManager{limiters: limiters}
}

// wait blocks until domain's rate limiter admits one more SMTP attempt.
func (m *domainLimiterManager) wait(ctx context.Context, domain string) error {
	domain = strings.ToLower(domain)

	m.mu.RLock()
	limiter, ok := m.limiters[domain]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if limiter, ok = m.limiters[domain]; !ok {
			limiter = rate.NewLimiter(5, 5)
			m.limiters[domain] = limiter
		}
		m.mu.Unlock()
	}

	return limiter.Wait(ctx)
}
