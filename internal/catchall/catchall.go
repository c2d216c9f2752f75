// Package catchall detects whether a domain accepts arbitrary recipients,
// per spec §4.5. It reuses smtpprobe for the wire conversation; the domain-
// keyed memoization itself lives in the verdict store's domain facts
// (spec §4.9 "Catch-all state lives in domain facts, not in SMTP").
package catchall

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/devyanshu/verihost/internal/smtpprobe"
)

const randomLocalPartLength = 20 // >= 16 unpredictable characters, spec §4.5

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Prober issues a single random-local-part RCPT per domain.
type Prober struct {
	smtp *smtpprobe.Prober
}

// New wraps an smtpprobe.Prober for catch-all detection.
func New(smtp *smtpprobe.Prober) *Prober {
	return &Prober{smtp: smtp}
}

// State is the domain-level catch-all verdict (spec §3 domain facts).
type State string

const (
	StateUnknown     State = "unknown"
	StateYes         State = "yes"
	StateNo          State = "no"
	StateUnreachable State = "unreachable"
)

// Probe runs one random-local-part RCPT TO against host for domain and
// returns the resulting State. A successful round-trip (accept or
// permanent-reject) is required to set State to anything but Unreachable,
// per spec §3's invariant.
func (p *Prober) Probe(ctx context.Context, host, domain string) State {
	probeAddr := fmt.Sprintf("%s@%s", randomLocalPart(), domain)
	reply := p.smtp.Probe(ctx, host, probeAddr)

	switch reply.Outcome {
	case smtpprobe.OutcomeAccept:
		return StateYes
	case smtpprobe.OutcomePermanentReject:
		return StateNo
	default:
		return StateUnreachable
	}
}

func randomLocalPart() string {
	b := make([]byte, randomLocalPartLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			// crypto/rand failure is effectively unreachable; fall back to
			// a fixed low-entropy character rather than panicking a probe.
			b[i] = charset[0]
			continue
		}
		b[i] = charset[n.Int64()]
	}
	return string(b)
}
