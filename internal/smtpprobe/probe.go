// Package smtpprobe implements the per-MX SMTP conversation engine of spec
// §4.4: connect → EHLO → optional STARTTLS → MAIL FROM → RCPT TO. It never
// issues DATA.
package smtpprobe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// Outcome is the coarse disposition of one RCPT TO attempt.
type Outcome string

const (
	OutcomeAccept          Outcome = "accept"
	OutcomePermanentReject Outcome = "permanent_reject"
	OutcomeTransient       Outcome = "transient"
	OutcomeAmbiguous       Outcome = "ambiguous"
)

// Reply is the structured result of probing a single recipient.
type Reply struct {
	Outcome    Outcome
	Code       int    // SMTP reply code; 0 if never reached
	Message    string // raw reply text (may be empty)
	Reason     ReasonClass
	MXHost     string
	Greeted    bool // got past CONNECT/EHLO
	NetworkErr bool
}

// ProxyConfig mirrors the teacher's SOCKS5 configuration, kept fail-safe:
// if configured, a dial failure through the proxy is never silently
// retried in the clear.
type ProxyConfig struct {
	Address  string
	Username string
	Password string
}

// Config carries the SMTP identity and timeouts of spec §4.4.
type Config struct {
	HeloDomain     string
	FromAddress    string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	OverallBudget  time.Duration
	Proxy          *ProxyConfig

	// Port overrides the default SMTP port 25, matching the teacher CLI's
	// custom-port flag. Empty means 25.
	Port string
}

// DefaultConfig returns the spec's documented timeouts.
func DefaultConfig() Config {
	return Config{
		HeloDomain:     "verihost.local",
		FromAddress:    "probe@verihost.local",
		ConnectTimeout: 5 * time.Second,
		CommandTimeout: 5 * time.Second,
		OverallBudget:  20 * time.Second,
	}
}

// Prober runs SMTP conversations against a single MX host per call. It owns
// no persistent state; every call dials a fresh connection (spec §3
// "Ownership": the SMTP probe owns its transient connection, nothing else
// observes it).
type Prober struct {
	cfg Config
}

// New builds a Prober with the given configuration.
func New(cfg Config) *Prober {
	return &Prober{cfg: cfg}
}

// Probe runs a single-recipient conversation against host and returns its
// classified Reply. It never sends DATA.
func (p *Prober) Probe(ctx context.Context, host string, recipient string) Reply {
	replies := p.Batch(ctx, host, []string{recipient})
	if len(replies) == 0 {
		return Reply{Outcome: OutcomeAmbiguous, MXHost: host}
	}
	return replies[0]
}

// Batch shares one conversation (CONNECT→EHLO→MAIL FROM once) across all
// recipients, issuing one RCPT TO per recipient and recording each reply
// independently (spec §4.4 "Batching"). The first non-250 does not
// terminate the batch. QUIT is sent after the last RCPT or on first
// network failure.
func (p *Prober) Batch(ctx context.Context, host string, recipients []string) []Reply {
	port := p.cfg.Port
	if port == "" {
		port = "25"
	}
	return p.batch(ctx, host, port, recipients)
}

func (p *Prober) batch(ctx context.Context, host, port string, recipients []string) []Reply {
	budget := p.cfg.OverallBudget
	if budget <= 0 {
		budget = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	results := make([]Reply, len(recipients))
	for i := range results {
		results[i] = Reply{MXHost: host}
	}

	conn, err := p.dial(ctx, host, port)
	if err != nil {
		for i := range results {
			results[i].Outcome = OutcomeAmbiguous
			results[i].NetworkErr = true
			results[i].Message = err.Error()
		}
		return results
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		for i := range results {
			results[i].Outcome = OutcomeAmbiguous
			results[i].NetworkErr = true
			results[i].Message = err.Error()
		}
		return results
	}
	defer client.Close()

	helo := p.cfg.HeloDomain
	if helo == "" {
		helo = "verihost.local"
	}
	if err := client.Hello(helo); err != nil {
		for i := range results {
			results[i].Outcome = OutcomeAmbiguous
			results[i].NetworkErr = true
			results[i].Message = err.Error()
		}
		return results
	}
	for i := range results {
		results[i].Greeted = true
	}

	// Optional STARTTLS: continue in plaintext on any failure (spec §4.4
	// state table: "continue plaintext").
	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{ServerName: host, InsecureSkipVerify: true}
		_ = client.StartTLS(tlsConfig)
	}

	from := p.cfg.FromAddress
	if from == "" {
		from = "probe@verihost.local"
	}
	if err := client.Mail(from); err != nil {
		class, code := classifySMTPError(err)
		for i := range results {
			results[i].Outcome = class
			results[i].Code = code
			results[i].Message = err.Error()
		}
		client.Quit()
		return results
	}

	for i, rcpt := range recipients {
		err := client.Rcpt(rcpt)
		results[i].Greeted = true
		if err == nil {
			results[i].Outcome = OutcomeAccept
			results[i].Code = 250
			continue
		}
		class, code := classifySMTPError(err)
		results[i].Outcome = class
		results[i].Code = code
		results[i].Message = err.Error()
		results[i].Reason = ClassifyReason(err.Error())
		// Downgrade a 5xx classified as unknown-mailbox to permanent reject,
		// else keep the conservative classification from classifySMTPError.
		if code >= 550 && code <= 559 && results[i].Reason == ReasonUnknownMailbox {
			results[i].Outcome = OutcomePermanentReject
		}
		if code == 0 {
			// Network failure: no further RCPT is issued on this connection.
			results[i].NetworkErr = true
			for j := i + 1; j < len(recipients); j++ {
				results[j].Outcome = OutcomeAmbiguous
				results[j].NetworkErr = true
				results[j].Message = err.Error()
			}
			break
		}
	}

	// QUIT after the last RCPT or the first network failure (never DATA).
	client.Quit()
	return results
}

// classifySMTPError maps a net/smtp textproto error into an Outcome and its
// numeric code, per the state table in spec §4.4.
func classifySMTPError(err error) (Outcome, int) {
	msg := err.Error()
	code := extractCode(msg)

	switch {
	case code == 0:
		return OutcomeAmbiguous, 0
	case code >= 200 && code < 300:
		return OutcomeAccept, code
	case code == 450 || code == 451 || code == 421:
		return OutcomeTransient, code
	case code >= 400 && code < 500:
		return OutcomeTransient, code
	case code == 550 || code == 551 || code == 553:
		if ClassifyReason(msg) == ReasonUnknownMailbox {
			return OutcomePermanentReject, code
		}
		return OutcomeAmbiguous, code
	case code >= 500 && code < 600:
		return OutcomeAmbiguous, code
	default:
		return OutcomeAmbiguous, code
	}
}

// extractCode parses a leading 3-digit SMTP code out of a textproto error
// message of the form "450 4.2.0 greylisted, try again later".
func extractCode(msg string) int {
	if len(msg) < 3 {
		return 0
	}
	n, err := strconv.Atoi(msg[:3])
	if err != nil {
		return 0
	}
	return n
}

// dial establishes the TCP connection, through a SOCKS5 proxy when
// configured. Fail-safe: a configured proxy that cannot be reached is never
// silently bypassed with a direct connection.
func (p *Prober) dial(ctx context.Context, host, port string) (net.Conn, error) {
	addr := net.JoinHostPort(host, port)
	connectTimeout := p.cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	if p.cfg.Proxy == nil || p.cfg.Proxy.Address == "" {
		d := net.Dialer{Timeout: connectTimeout}
		return d.DialContext(ctx, "tcp", addr)
	}

	var auth *proxy.Auth
	if p.cfg.Proxy.Username != "" {
		auth = &proxy.Auth{User: p.cfg.Proxy.Username, Password: p.cfg.Proxy.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", p.cfg.Proxy.Address, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("smtpprobe: socks5 dialer: %w", err)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		conn, err := dialer.Dial("tcp", addr)
		resCh <- result{conn, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("smtpprobe: socks5 dial: %w", res.err)
		}
		return res.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		return nil, fmt.Errorf("smtpprobe: socks5 dial timeout")
	}
}
