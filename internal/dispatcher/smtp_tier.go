package dispatcher

import (
	"context"

	"github.com/devyanshu/verihost/internal/catchall"
	"github.com/devyanshu/verihost/internal/mxresolve"
	"github.com/devyanshu/verihost/internal/normalizer"
	"github.com/devyanshu/verihost/internal/smtpprobe"
	"github.com/devyanshu/verihost/internal/verdictstore"
)

// smtpTier runs the SMTP probe tier (spec §4.8 step 3): check/establish
// catch-all state, then probe the target address across MX hosts in
// preference order until a definitive answer or exhaustion.
func (d *Dispatcher) smtpTier(ctx context.Context, addr normalizer.Address, flags normalizer.Flags, mxRes mxresolve.Result, providerTag string) (Response, error) {
	catchAllState := d.resolveCatchAll(ctx, addr.Domain, mxRes)

	if err := d.globalLimiter.Wait(ctx); err != nil {
		rec := d.terminal(addr, flags, verdictstore.Unknown, "smtp", "cause=timeout", 0, "", providerTag)
		return Response{Record: rec, DebugTier: "smtp", DebugReason: "cause=timeout"}, nil
	}
	if err := d.domainLimiter.wait(ctx, addr.Domain); err != nil {
		rec := d.terminal(addr, flags, verdictstore.Unknown, "smtp", "cause=timeout", 0, "", providerTag)
		return Response{Record: rec, DebugTier: "smtp", DebugReason: "cause=timeout"}, nil
	}

	var reply smtpprobe.Reply
	got := false
	for _, host := range mxRes.Hosts {
		release, err := d.hostSem.acquire(ctx, host.Host)
		if err != nil {
			rec := d.terminal(addr, flags, verdictstore.Unknown, "smtp", "cause=overloaded", 0, "", providerTag)
			return Response{Record: rec, DebugTier: "smtp", DebugReason: "cause=overloaded"}, nil
		}
		reply = d.prober.Probe(ctx, host.Host, addr.Normalized)
		release()

		if reply.Outcome == smtpprobe.OutcomeAccept || reply.Outcome == smtpprobe.OutcomePermanentReject {
			got = true
			break
		}
		// CONNECT/network failures try the next MX host (spec §4.4 state
		// table); ambiguous/transient on a reached host is not retried
		// against another host within the same request.
		if reply.Greeted {
			got = true
			break
		}
	}

	if !got {
		rec := d.terminal(addr, flags, verdictstore.Unknown, "smtp", "cause=all_mx_unreachable", 0, "", providerTag)
		return Response{Record: rec, DebugTier: "smtp", DebugReason: "all_mx_unreachable"}, nil
	}

	return d.classifySMTPReply(addr, flags, reply, catchAllState, providerTag, "smtp"), nil
}

// classifySMTPReply maps one smtpprobe.Reply plus the domain's catch-all
// state into a terminal or unknown Response.
func (d *Dispatcher) classifySMTPReply(addr normalizer.Address, flags normalizer.Flags, reply smtpprobe.Reply, catchAllState catchall.State, providerTag, tier string) Response {
	switch reply.Outcome {
	case smtpprobe.OutcomeAccept:
		reachability := verdictstore.Safe
		errCode := ""
		if catchAllState == catchall.StateYes {
			// spec §4.8 edge case: "Catch-all yes + target 250 → risky
			// unless enrichment-confirmed."
			reachability = verdictstore.Risky
			errCode = "catch_all_accept"
		}
		rec := d.terminalCatchAll(addr, flags, reachability, tier, errCode, reply.Code, reply.Message, providerTag, catchAllState == catchall.StateYes)
		return Response{Record: rec, DebugTier: tier, DebugReason: errCode}
	case smtpprobe.OutcomePermanentReject:
		reason := string(reply.Reason)
		if reason == "" || reason == string(smtpprobe.ReasonUnclassified) {
			reason = "mailbox_unknown"
		}
		rec := d.terminal(addr, flags, verdictstore.Invalid, tier, reason, reply.Code, reply.Message, providerTag)
		return Response{Record: rec, DebugTier: tier, DebugReason: reason}
	case smtpprobe.OutcomeTransient:
		reason := "cause=smtp_transient"
		if reply.Reason == smtpprobe.ReasonGreylist {
			reason = "cause=greylist_no_retry"
		}
		rec := d.terminal(addr, flags, verdictstore.Unknown, tier, reason, reply.Code, reply.Message, providerTag)
		return Response{Record: rec, DebugTier: tier, DebugReason: reason}
	default: // ambiguous
		rec := d.terminal(addr, flags, verdictstore.Unknown, tier, "ambiguous_reject", reply.Code, reply.Message, providerTag)
		return Response{Record: rec, DebugTier: tier, DebugReason: "ambiguous_reject"}
	}
}

// resolveCatchAll reads cached domain facts and, if the catch-all state is
// still unknown, runs a single-flighted probe before returning (spec §4.8
// step 3: "so a 250 on the real address can be interpreted correctly").
func (d *Dispatcher) resolveCatchAll(ctx context.Context, domain string, mxRes mxresolve.Result) catchall.State {
	facts, ok := d.store.GetDomainFacts(ctx, domain)
	if ok && facts.CatchAll != "" && facts.CatchAll != verdictstore.CatchAllUnknown {
		return catchall.State(facts.CatchAll)
	}
	if len(mxRes.Hosts) == 0 {
		return catchall.StateUnreachable
	}

	v, _, _ := d.catchallGroup.Do(domain, func() (interface{}, error) {
		host := mxRes.Hosts[0].Host

		// The catch-all probe is a full SMTP conversation like any other
		// (spec §5): it must count against the same global/per-domain/
		// per-host caps as a real RCPT probe, not bypass them just because
		// singleflight already limits it to one in flight per domain.
		if err := d.globalLimiter.Wait(ctx); err != nil {
			return catchall.StateUnreachable, nil
		}
		if err := d.domainLimiter.wait(ctx, domain); err != nil {
			return catchall.StateUnreachable, nil
		}
		release, err := d.hostSem.acquire(ctx, host)
		if err != nil {
			return catchall.StateUnreachable, nil
		}
		state := d.catchaller.Probe(ctx, host, domain)
		release()

		newFacts := verdictstore.DomainFacts{
			Domain:            domain,
			CatchAll:          verdictstore.CatchAllState(state),
			CatchAllCheckedAt: now(),
		}
		if existing, ok2 := d.store.GetDomainFacts(ctx, domain); ok2 {
			newFacts.MXHosts = existing.MXHosts
			newFacts.Provider = existing.Provider
			newFacts.ProviderPrior = existing.ProviderPrior
		}
		_ = d.store.PutDomainFacts(ctx, newFacts)
		return state, nil
	})
	return v.(catchall.State)
}

// terminalCatchAll builds a Record with the catch-all bit set and writes it
// through to the store exactly once.
func (d *Dispatcher) terminalCatchAll(addr normalizer.Address, flags normalizer.Flags, reachability verdictstore.Reachability, tier, errCode string, smtpCode int, smtpMsg, providerTag string, isCatchAll bool) verdictstore.Record {
	rec := verdictstore.Record{
		Normalized:   addr.Normalized,
		Reachability: reachability,
		CatchAll:     isCatchAll,
		Disposable:   flags.Disposable,
		Role:         flags.Role,
		Free:         flags.Free,
		SMTPCode:     smtpCode,
		SMTPMessage:  smtpMsg,
		Provider:     providerTag,
		VerifiedAt:   now(),
		Error:        errCode,
		Tier:         tier,
	}
	deliverable := reachability == verdictstore.Safe
	rec.Deliverable = &deliverable
	d.writeThrough(rec)
	return rec
}
