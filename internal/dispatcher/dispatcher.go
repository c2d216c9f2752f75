// Package dispatcher implements the tiered verification cascade of spec
// §4.8: cache → fast (syntax+DNS+provider) → SMTP → pattern → enrichment →
// re-verification, with shared domain-level state, concurrency control, and
// write-back to the verdict store.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/devyanshu/verihost/internal/catchall"
	"github.com/devyanshu/verihost/internal/config"
	"github.com/devyanshu/verihost/internal/enrichment"
	"github.com/devyanshu/verihost/internal/mxresolve"
	"github.com/devyanshu/verihost/internal/normalizer"
	"github.com/devyanshu/verihost/internal/pattern"
	"github.com/devyanshu/verihost/internal/provider"
	"github.com/devyanshu/verihost/internal/smtpprobe"
	"github.com/devyanshu/verihost/internal/verdictstore"
)

// Request is a single verification request (spec §6).
type Request struct {
	Address string
	Hints   pattern.Hints
}

// Response is a verdict plus the two debug fields spec §6 requires.
type Response struct {
	verdictstore.Record
	DebugTier   string
	DebugReason string
}

// Dispatcher is the orchestrator. It owns no domain state directly — that
// lives in the verdict store — but it owns the concurrency and rate limits
// that bound the SMTP and enrichment suspension points (spec §5).
type Dispatcher struct {
	cfg   *config.Config
	store verdictstore.Store

	resolver  *mxresolve.Resolver
	prober    *smtpprobe.Prober
	catchaller *catchall.Prober
	waterfall *enrichment.Waterfall

	log *logrus.Logger

	globalLimiter *rate.Limiter
	domainLimiter *domainLimiterManager
	hostSem       *hostSemaphoreManager // per-destination-host concurrency cap (spec §5)
	enrichSem     chan struct{}

	catchallGroup singleflight.Group
}

// New wires a Dispatcher from its dependencies (spec §9 "verdict store as
// an explicit capability"; no module-level singletons).
func New(cfg *config.Config, store verdictstore.Store, resolver *mxresolve.Resolver, prober *smtpprobe.Prober, waterfall *enrichment.Waterfall, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		cfg:           cfg,
		store:         store,
		resolver:      resolver,
		prober:        prober,
		catchaller:    catchall.New(prober),
		waterfall:     waterfall,
		log:           log,
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.Concurrency), cfg.Concurrency),
		domainLimiter: newDomainLimiterManager(),
		hostSem:       newHostSemaphoreManager(cfg.PerHostConcurrency),
		enrichSem:     make(chan struct{}, cfg.EnrichmentConcurrency),
	}
}

// Verify runs the full tiered cascade for one address (spec §4.8).
func (d *Dispatcher) Verify(ctx context.Context, req Request) (Response, error) {
	budget := d.cfg.RequestBudgetFull
	if budget <= 0 {
		budget = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	addr, flags := normalizer.Normalize(req.Address)
	if !flags.SyntacticOK {
		return Response{}, fmt.Errorf("dispatcher: invalid address syntax: %q", req.Address)
	}

	// Tier 1: cache.
	if rec, age, ok := d.store.Get(ctx, addr.Normalized); ok {
		if age <= freshnessWindow(d.cfg) {
			return Response{Record: rec, DebugTier: "cache", DebugReason: "fresh"}, nil
		}
		d.log.WithField("address", addr.Normalized).Info("stale verdict served, scheduling background refresh")
		go d.backgroundRefresh(addr, flags, req.Hints)
		return Response{Record: rec, DebugTier: "cache", DebugReason: "stale"}, nil
	}

	if !d.cfg.TieredEnabled {
		return d.smtpOnly(ctx, addr, flags)
	}

	return d.runTiers(ctx, addr, flags, req.Hints)
}

func freshnessWindow(cfg *config.Config) time.Duration {
	days := cfg.FreshnessDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// smtpOnly implements the tiered_enabled=false configuration knob (spec
// §6): skip tiers 2 and 4-6, always run tier 3 (SMTP).
func (d *Dispatcher) smtpOnly(ctx context.Context, addr normalizer.Address, flags normalizer.Flags) (Response, error) {
	if flags.Disposable {
		rec := d.terminal(addr, flags, verdictstore.Invalid, "smtp", "disposable_domain", 0, "", "")
		return Response{Record: rec, DebugTier: "smtp", DebugReason: "disposable_domain"}, nil
	}

	mxRes, err := d.resolver.Resolve(ctx, addr.Domain)
	if err != nil || mxRes.Failure == mxresolve.FailureNXDomain || mxRes.Rejects() {
		rec := d.terminal(addr, flags, verdictstore.Invalid, "smtp", "no_mx", 0, "", "")
		return Response{Record: rec, DebugTier: "smtp", DebugReason: "no_mx"}, nil
	}
	if mxRes.Failure == mxresolve.FailureTransient {
		rec := d.terminal(addr, flags, verdictstore.Unknown, "smtp", "dns_timeout", 0, "", "")
		return Response{Record: rec, DebugTier: "smtp", DebugReason: "dns_timeout"}, nil
	}

	return d.smtpTier(ctx, addr, flags, mxRes, "")
}

// runTiers executes tiers 2 through 6 in strict order (spec §5 "within a
// single request, tiers execute strictly in order").
func (d *Dispatcher) runTiers(ctx context.Context, addr normalizer.Address, flags normalizer.Flags, hints pattern.Hints) (Response, error) {
	// Disposable domains never reach SMTP (spec §4.8 edge case).
	if flags.Disposable {
		rec := d.terminal(addr, flags, verdictstore.Invalid, "fast", "disposable_domain", 0, "", "")
		return Response{Record: rec, DebugTier: "fast", DebugReason: "disposable_domain"}, nil
	}

	// Tier 2: fast (normalize+MX+provider already partly done).
	mxRes, err := d.resolver.Resolve(ctx, addr.Domain)
	if err != nil {
		rec := d.terminal(addr, flags, verdictstore.Unknown, "fast", "resolver_error", 0, "", "")
		return Response{Record: rec, DebugTier: "fast", DebugReason: "resolver_error"}, nil
	}
	if mxRes.Failure == mxresolve.FailureNXDomain || mxRes.Rejects() {
		rec := d.terminal(addr, flags, verdictstore.Invalid, "fast", "no_mx", 0, "", "")
		return Response{Record: rec, DebugTier: "fast", DebugReason: "no_mx"}, nil
	}
	if mxRes.Failure == mxresolve.FailureTransient {
		rec := d.terminal(addr, flags, verdictstore.Unknown, "fast", "dns_timeout", 0, "", "")
		go d.scheduleDNSRetry(addr, mxRes.RetryAfter)
		return Response{Record: rec, DebugTier: "fast", DebugReason: "dns_timeout"}, nil
	}

	hostnames := make([]string, len(mxRes.Hosts))
	for i, h := range mxRes.Hosts {
		hostnames[i] = h.Host
	}
	tag, prior := provider.Classify(hostnames)

	fastConfidence := prior
	switch tag {
	case provider.Google:
		fastConfidence += 0.30
	case provider.Microsoft:
		fastConfidence += 0.20
	default:
		if flags.Free {
			fastConfidence += 0.10
		}
	}
	if !flags.Role && !flags.Disposable {
		fastConfidence += 0.10
	}
	if flags.Disposable {
		fastConfidence -= 0.20
	}
	if tag == provider.Generic {
		fastConfidence -= 0.10
	}

	if fastConfidence >= d.cfg.FastConfidenceThreshold && !flags.Role {
		rec := d.terminal(addr, flags, verdictstore.Safe, "fast", "", 0, "", string(tag))
		go d.backgroundSMTPConfirm(addr, flags, mxRes)
		return Response{Record: rec, DebugTier: "fast", DebugReason: "fast_confidence"}, nil
	}

	// Tier 3: SMTP (possibly preceded by catch-all probing).
	resp, err := d.smtpTier(ctx, addr, flags, mxRes, string(tag))
	if err != nil {
		return Response{}, err
	}
	if resp.Reachability != verdictstore.Unknown {
		return resp, nil
	}

	// Tier 4: pattern.
	score := pattern.ScoreLocalPart(addr.Local, hints)
	if flags.Role {
		rec := d.terminal(addr, flags, verdictstore.Risky, "pattern", "", 0, "", string(tag))
		return Response{Record: rec, DebugTier: "pattern", DebugReason: "role_account"}, nil
	}
	if score.Confidence >= d.cfg.PatternStrongThreshold && !flags.Free {
		rec := d.terminal(addr, flags, verdictstore.Safe, "pattern", "", 0, "", string(tag))
		return Response{Record: rec, DebugTier: "pattern", DebugReason: "strong_pattern"}, nil
	}
	if score.Confidence < d.cfg.PatternMediumLow || score.Confidence > d.cfg.PatternMediumHigh {
		rec := d.terminal(addr, flags, verdictstore.Unknown, "pattern", "", 0, "", string(tag))
		return Response{Record: rec, DebugTier: "pattern", DebugReason: "inconclusive_pattern"}, nil
	}

	// Tier 5: enrichment (only for mid-confidence, non-role addresses).
	if !d.cfg.EnrichmentEnabled || d.waterfall == nil {
		rec := d.terminal(addr, flags, verdictstore.Unknown, "enrichment", "", 0, "", string(tag))
		return Response{Record: rec, DebugTier: "enrichment", DebugReason: "enrichment_disabled"}, nil
	}

	select {
	case d.enrichSem <- struct{}{}:
		defer func() { <-d.enrichSem }()
	case <-ctx.Done():
		rec := d.terminal(addr, flags, verdictstore.Unknown, "enrichment", "", 0, "", string(tag))
		return Response{Record: rec, DebugTier: "enrichment", DebugReason: "cause=overloaded"}, nil
	}

	outcome := d.waterfall.Lookup(ctx, addr.Normalized, flags.Role, score.Confidence)
	if !outcome.Found {
		rec := d.terminal(addr, flags, verdictstore.Unknown, "enrichment", "", 0, "", string(tag))
		return Response{Record: rec, DebugTier: "enrichment", DebugReason: "no_candidate"}, nil
	}

	// Tier 6: re-verification. Only a 250 yields safe.
	return d.reverify(ctx, addr, flags, mxRes, string(tag))
}

// terminal builds a Record and writes it through to the store.
func (d *Dispatcher) terminal(addr normalizer.Address, flags normalizer.Flags, reachability verdictstore.Reachability, tier, errCode string, smtpCode int, smtpMsg, providerTag string) verdictstore.Record {
	rec := verdictstore.Record{
		Normalized:  addr.Normalized,
		Reachability: reachability,
		CatchAll:    false,
		Disposable:  flags.Disposable,
		Role:        flags.Role,
		Free:        flags.Free,
		SMTPCode:    smtpCode,
		SMTPMessage: smtpMsg,
		Provider:    providerTag,
		VerifiedAt:  now(),
		Error:       errCode,
		Tier:        tier,
	}
	deliverable := reachability == verdictstore.Safe
	rec.Deliverable = &deliverable
	d.writeThrough(rec)
	return rec
}

// writeThrough persists rec, except that it refuses to let an unknown
// (ambiguous/transient) result clobber an existing, still-fresh safe
// verdict (spec §8: "no earlier tier's safe is downgraded except via the
// catch-all rule"). This guards backgroundSMTPConfirm in particular: a
// greylist reply there must not downgrade the safe verdict the fast tier
// already returned to the caller. A definitive invalid (permanent reject)
// or a catch-all-driven risky still overwrites normally.
func (d *Dispatcher) writeThrough(rec verdictstore.Record) {
	ctx := context.Background()
	if rec.Reachability == verdictstore.Unknown {
		if existing, _, ok := d.store.Get(ctx, rec.Normalized); ok &&
			existing.Reachability == verdictstore.Safe &&
			time.Since(existing.VerifiedAt) <= freshnessWindow(d.cfg) {
			d.log.WithField("address", rec.Normalized).Debug("suppressing write that would downgrade a fresh safe verdict to unknown")
			return
		}
	}
	if err := d.store.Put(ctx, rec); err != nil {
		d.log.WithError(err).Warn("verdict write-through failed")
	}
}

// now is a seam so tests can stub time without touching Date.now()-style
// nondeterminism in production code paths.
var now = time.Now
