package catchall

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/devyanshu/verihost/internal/smtpprobe"
)

// fakeServer responds to every RCPT TO with a fixed reply, so tests can
// drive Probe toward Yes/No/Unreachable deterministically.
func startFakeServer(t *testing.T, rcptReply string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		fmt.Fprintf(conn, "220 fake.test ESMTP\r\n")
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			upper := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
				fmt.Fprintf(conn, "250 fake.test\r\n")
			case strings.HasPrefix(upper, "MAIL FROM"):
				fmt.Fprintf(conn, "250 OK\r\n")
			case strings.HasPrefix(upper, "RCPT TO"):
				fmt.Fprintf(conn, "%s\r\n", rcptReply)
			case strings.HasPrefix(upper, "QUIT"):
				fmt.Fprintf(conn, "221 bye\r\n")
				return
			default:
				fmt.Fprintf(conn, "500 unrecognized\r\n")
			}
		}
	}()
	return ln.Addr().String()
}

func newProberFor(addr string) *Prober {
	_, port, _ := net.SplitHostPort(addr)
	smtpProber := smtpprobe.New(smtpprobe.Config{
		HeloDomain:     "verihost.local",
		FromAddress:    "probe@verihost.local",
		ConnectTimeout: 2 * time.Second,
		CommandTimeout: 2 * time.Second,
		OverallBudget:  5 * time.Second,
		Port:           port,
	})
	return New(smtpProber)
}

func TestProbeYesOnAccept(t *testing.T) {
	addr := startFakeServer(t, "250 OK")
	p := newProberFor(addr)
	host, _, _ := net.SplitHostPort(addr)

	state := p.Probe(context.Background(), host, "example.com")
	if state != StateYes {
		t.Errorf("state = %v, want Yes", state)
	}
}

func TestProbeNoOnPermanentReject(t *testing.T) {
	addr := startFakeServer(t, "550 5.1.1 user unknown")
	p := newProberFor(addr)
	host, _, _ := net.SplitHostPort(addr)

	state := p.Probe(context.Background(), host, "example.com")
	if state != StateNo {
		t.Errorf("state = %v, want No", state)
	}
}

func TestProbeUnreachableOnTransient(t *testing.T) {
	addr := startFakeServer(t, "450 4.2.1 try again later")
	p := newProberFor(addr)
	host, _, _ := net.SplitHostPort(addr)

	state := p.Probe(context.Background(), host, "example.com")
	if state != StateUnreachable {
		t.Errorf("state = %v, want Unreachable", state)
	}
}

func TestRandomLocalPartLengthAndCharset(t *testing.T) {
	local := randomLocalPart()
	if len(local) != randomLocalPartLength {
		t.Errorf("len(randomLocalPart()) = %d, want %d", len(local), randomLocalPartLength)
	}
	for _, r := range local {
		if !strings.ContainsRune(charset, r) {
			t.Errorf("randomLocalPart() contains out-of-charset rune %q", r)
		}
	}
}

func TestRandomLocalPartVaries(t *testing.T) {
	a := randomLocalPart()
	b := randomLocalPart()
	if a == b {
		t.Errorf("expected two random local parts to differ (got identical values twice, which is astronomically unlikely)")
	}
}
