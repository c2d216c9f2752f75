package dispatcher

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/devyanshu/verihost/internal/mxresolve"
	"github.com/devyanshu/verihost/internal/normalizer"
	"github.com/devyanshu/verihost/internal/pattern"
	"github.com/devyanshu/verihost/internal/provider"
	"github.com/devyanshu/verihost/internal/verdictstore"
)

// MaxBatchSize is the spec §6 cap on a single batch request.
const MaxBatchSize = 1000

type indexed struct {
	idx   int
	addr  normalizer.Address
	flags normalizer.Flags
	hints pattern.Hints
}

// VerifyBatch groups requests by domain, resolves MX once per domain, and
// shares one SMTP conversation per domain for the recipients that reach the
// SMTP tier (spec §4.8 "For batch requests"). Response order matches
// request order.
func (d *Dispatcher) VerifyBatch(ctx context.Context, reqs []Request) ([]Response, error) {
	if len(reqs) > MaxBatchSize {
		reqs = reqs[:MaxBatchSize]
	}

	responses := make([]Response, len(reqs))
	byDomain := make(map[string][]indexed)
	order := []string{}

	for i, req := range reqs {
		addr, flags := normalizer.Normalize(req.Address)
		if !flags.SyntacticOK {
			responses[i] = Response{DebugTier: "input", DebugReason: "invalid_syntax"}
			continue
		}
		if _, ok := byDomain[addr.Domain]; !ok {
			order = append(order, addr.Domain)
		}
		byDomain[addr.Domain] = append(byDomain[addr.Domain], indexed{i, addr, flags, req.Hints})
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(d.cfg.Concurrency)
	for _, domain := range order {
		items := byDomain[domain]
		group.Go(func() error {
			d.verifyDomainGroup(gctx, domain, items, responses)
			return nil
		})
	}
	_ = group.Wait() // per-domain groups never return an error; Verify degrades to Unknown instead

	return responses, nil
}

// verifyDomainGroup handles every request for one domain: cache lookups,
// one shared MX resolution, the fast tier per address, and batched SMTP
// conversations of at most cfg.BatchSize recipients each for whoever is
// still undecided.
func (d *Dispatcher) verifyDomainGroup(ctx context.Context, domain string, items []indexed, responses []Response) {
	var pending []indexed

	for _, it := range items {
		if rec, age, ok := d.store.Get(ctx, it.addr.Normalized); ok && age <= freshnessWindow(d.cfg) {
			responses[it.idx] = Response{Record: rec, DebugTier: "cache", DebugReason: "fresh"}
			continue
		}
		if it.flags.Disposable {
			rec := d.terminal(it.addr, it.flags, verdictstore.Invalid, "fast", "disposable_domain", 0, "", "")
			responses[it.idx] = Response{Record: rec, DebugTier: "fast", DebugReason: "disposable_domain"}
			continue
		}
		pending = append(pending, it)
	}
	if len(pending) == 0 {
		return
	}

	mxRes, err := d.resolver.Resolve(ctx, domain)
	if err != nil || mxRes.Failure == mxresolve.FailureNXDomain || mxRes.Rejects() {
		for _, it := range pending {
			rec := d.terminal(it.addr, it.flags, verdictstore.Invalid, "fast", "no_mx", 0, "", "")
			responses[it.idx] = Response{Record: rec, DebugTier: "fast", DebugReason: "no_mx"}
		}
		return
	}
	if mxRes.Failure == mxresolve.FailureTransient {
		for _, it := range pending {
			rec := d.terminal(it.addr, it.flags, verdictstore.Unknown, "fast", "dns_timeout", 0, "", "")
			responses[it.idx] = Response{Record: rec, DebugTier: "fast", DebugReason: "dns_timeout"}
		}
		return
	}

	hostnames := make([]string, len(mxRes.Hosts))
	for i, h := range mxRes.Hosts {
		hostnames[i] = h.Host
	}
	tag, prior := provider.Classify(hostnames)

	var needSMTP []indexed
	for _, it := range pending {
		fastConfidence := prior
		switch tag {
		case provider.Google:
			fastConfidence += 0.30
		case provider.Microsoft:
			fastConfidence += 0.20
		default:
			if it.flags.Free {
				fastConfidence += 0.10
			}
		}
		if !it.flags.Role {
			fastConfidence += 0.10
		}
		if tag == provider.Generic {
			fastConfidence -= 0.10
		}

		if fastConfidence >= d.cfg.FastConfidenceThreshold && !it.flags.Role {
			rec := d.terminal(it.addr, it.flags, verdictstore.Safe, "fast", "", 0, "", string(tag))
			responses[it.idx] = Response{Record: rec, DebugTier: "fast", DebugReason: "fast_confidence"}
			go d.backgroundSMTPConfirm(it.addr, it.flags, mxRes)
			continue
		}
		needSMTP = append(needSMTP, it)
	}
	if len(needSMTP) == 0 {
		return
	}

	catchAllState := d.resolveCatchAll(ctx, domain, mxRes)

	batchSize := d.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 750
	}
	for start := 0; start < len(needSMTP); start += batchSize {
		end := start + batchSize
		if end > len(needSMTP) {
			end = len(needSMTP)
		}
		chunk := needSMTP[start:end]

		if err := d.globalLimiter.WaitN(ctx, len(chunk)); err != nil {
			for _, it := range chunk {
				rec := d.terminal(it.addr, it.flags, verdictstore.Unknown, "smtp", "cause=timeout", 0, "", string(tag))
				responses[it.idx] = Response{Record: rec, DebugTier: "smtp", DebugReason: "cause=timeout"}
			}
			continue
		}
		if err := d.domainLimiter.wait(ctx, domain); err != nil {
			for _, it := range chunk {
				rec := d.terminal(it.addr, it.flags, verdictstore.Unknown, "smtp", "cause=timeout", 0, "", string(tag))
				responses[it.idx] = Response{Record: rec, DebugTier: "smtp", DebugReason: "cause=timeout"}
			}
			continue
		}

		recipients := make([]string, len(chunk))
		for i, it := range chunk {
			recipients[i] = it.addr.Normalized
		}
		release, err := d.hostSem.acquire(ctx, mxRes.Hosts[0].Host)
		if err != nil {
			for _, it := range chunk {
				rec := d.terminal(it.addr, it.flags, verdictstore.Unknown, "smtp", "cause=overloaded", 0, "", string(tag))
				responses[it.idx] = Response{Record: rec, DebugTier: "smtp", DebugReason: "cause=overloaded"}
			}
			continue
		}
		replies := d.prober.Batch(ctx, mxRes.Hosts[0].Host, recipients)
		release()

		for i, it := range chunk {
			resp := d.classifySMTPReply(it.addr, it.flags, replies[i], catchAllState, string(tag), "smtp")
			if resp.Record.Reachability != verdictstore.Unknown {
				responses[it.idx] = resp
				continue
			}

			// Remaining tiers (pattern/enrichment/re-verify) run per
			// address: they are not part of the shared conversation.
			score := pattern.ScoreLocalPart(it.addr.Local, it.hints)
			responses[it.idx] = d.patternOnward(ctx, it.addr, it.flags, score, mxRes, string(tag))
		}
	}
}

// patternOnward runs tiers 4-6 for one address once the batched SMTP tier
// left it Unknown.
func (d *Dispatcher) patternOnward(ctx context.Context, addr normalizer.Address, flags normalizer.Flags, score pattern.Score, mxRes mxresolve.Result, providerTag string) Response {
	if flags.Role {
		rec := d.terminal(addr, flags, verdictstore.Risky, "pattern", "", 0, "", providerTag)
		return Response{Record: rec, DebugTier: "pattern", DebugReason: "role_account"}
	}
	if score.Confidence >= d.cfg.PatternStrongThreshold && !flags.Free {
		rec := d.terminal(addr, flags, verdictstore.Safe, "pattern", "", 0, "", providerTag)
		return Response{Record: rec, DebugTier: "pattern", DebugReason: "strong_pattern"}
	}
	if score.Confidence < d.cfg.PatternMediumLow || score.Confidence > d.cfg.PatternMediumHigh {
		rec := d.terminal(addr, flags, verdictstore.Unknown, "pattern", "", 0, "", providerTag)
		return Response{Record: rec, DebugTier: "pattern", DebugReason: "inconclusive_pattern"}
	}
	if !d.cfg.EnrichmentEnabled || d.waterfall == nil {
		rec := d.terminal(addr, flags, verdictstore.Unknown, "enrichment", "", 0, "", providerTag)
		return Response{Record: rec, DebugTier: "enrichment", DebugReason: "enrichment_disabled"}
	}

	select {
	case d.enrichSem <- struct{}{}:
		defer func() { <-d.enrichSem }()
	case <-ctx.Done():
		rec := d.terminal(addr, flags, verdictstore.Unknown, "enrichment", "", 0, "", providerTag)
		return Response{Record: rec, DebugTier: "enrichment", DebugReason: "cause=overloaded"}
	}

	outcome := d.waterfall.Lookup(ctx, addr.Normalized, flags.Role, score.Confidence)
	if !outcome.Found {
		rec := d.terminal(addr, flags, verdictstore.Unknown, "enrichment", "", 0, "", providerTag)
		return Response{Record: rec, DebugTier: "enrichment", DebugReason: "no_candidate"}
	}

	resp, err := d.reverify(ctx, addr, flags, mxRes, providerTag)
	if err != nil {
		rec := d.terminal(addr, flags, verdictstore.Unknown, "re-verify", "cause=error", 0, "", providerTag)
		return Response{Record: rec, DebugTier: "re-verify", DebugReason: "error"}
	}
	return resp
}
