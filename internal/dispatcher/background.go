package dispatcher

import (
	"context"
	"time"

	"github.com/devyanshu/verihost/internal/mxresolve"
	"github.com/devyanshu/verihost/internal/normalizer"
	"github.com/devyanshu/verihost/internal/pattern"
	"github.com/devyanshu/verihost/internal/verdictstore"
)

// reverify is tier 6 (spec §4.8 step 6): repeat the SMTP tier exactly once
// against the enriched address. Only a 250 yields safe and a permanent
// reject stays invalid; any other outcome is recorded as the distinct
// "risky-enriched" sub-state (spec §9 open question, resolved toward
// risky-enriched) rather than plain unknown.
func (d *Dispatcher) reverify(ctx context.Context, addr normalizer.Address, flags normalizer.Flags, mxRes mxresolve.Result, providerTag string) (Response, error) {
	resp, err := d.smtpTier(ctx, addr, flags, mxRes, providerTag)
	if err != nil {
		return Response{}, err
	}
	resp.Record.Tier = "re-verify"

	switch resp.Record.Reachability {
	case verdictstore.Safe:
		resp.DebugTier = "re-verify"
		d.writeThrough(resp.Record)
		return resp, nil
	case verdictstore.Invalid:
		resp.DebugTier = "re-verify"
		d.writeThrough(resp.Record)
		return resp, nil
	default:
		resp.Record.Reachability = verdictstore.Risky
		resp.Record.Error = "risky-enriched"
		resp.DebugTier = "re-verify"
		resp.DebugReason = "risky-enriched"
		d.writeThrough(resp.Record)
		return resp, nil
	}
}

// backgroundRefresh re-runs verification for a stale cache hit without
// blocking the foreground request that triggered it (spec §4.8 step 1).
func (d *Dispatcher) backgroundRefresh(addr normalizer.Address, flags normalizer.Flags, hints pattern.Hints) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestBudgetFull)
	defer cancel()
	if _, err := d.runTiers(ctx, addr, flags, hints); err != nil {
		d.log.WithError(err).WithField("address", addr.Normalized).Warn("background refresh failed")
	}
}

// backgroundSMTPConfirm confirms a fast-tier "safe" verdict with a real
// SMTP probe in the background (spec §4.8 step 2). It does not change the
// verdict already returned to the caller; it only updates the stored
// record for future reads.
func (d *Dispatcher) backgroundSMTPConfirm(addr normalizer.Address, flags normalizer.Flags, mxRes mxresolve.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestBudget)
	defer cancel()
	if _, err := d.smtpTier(ctx, addr, flags, mxRes, ""); err != nil {
		d.log.WithError(err).WithField("address", addr.Normalized).Warn("background SMTP confirmation failed")
	}
}

// scheduleDNSRetry waits out a transient DNS failure's retry-after window
// and forces a fresh MX resolution, priming the cache for the next request
// (spec §4.9: "dispatcher does not retry within the request but schedules
// a later retry").
func (d *Dispatcher) scheduleDNSRetry(addr normalizer.Address, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = 5 * time.Minute
	}
	timer := time.NewTimer(retryAfter)
	defer timer.Stop()
	<-timer.C

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := d.resolver.Resolve(ctx, addr.Domain); err != nil {
		d.log.WithError(err).WithField("domain", addr.Domain).Warn("scheduled DNS retry failed")
	}
}
