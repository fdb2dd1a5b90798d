package lookup

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mailgauge/internal/models"
)

// fakeExchanger runs a minimal SMTP server on a loopback port. The respond
// func decides the full reply line for each RCPT TO address.
func fakeExchanger(t *testing.T, respond func(rcpt string) string) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSMTP(conn, respond)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func serveSMTP(conn net.Conn, respond func(rcpt string) string) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	fmt.Fprintf(conn, "220 mx.fake.test ESMTP ready\r\n")
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		upper := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(upper, "HELO"), strings.HasPrefix(upper, "EHLO"):
			fmt.Fprintf(conn, "250 mx.fake.test\r\n")
		case strings.HasPrefix(upper, "MAIL FROM"):
			fmt.Fprintf(conn, "250 OK\r\n")
		case strings.HasPrefix(upper, "RCPT TO"):
			rcpt := strings.TrimSpace(line)
			if i := strings.Index(rcpt, "<"); i >= 0 {
				if j := strings.Index(rcpt, ">"); j > i {
					rcpt = rcpt[i+1 : j]
				}
			}
			fmt.Fprintf(conn, "%s\r\n", respond(rcpt))
		case strings.HasPrefix(upper, "QUIT"):
			fmt.Fprintf(conn, "221 bye\r\n")
			return
		default:
			fmt.Fprintf(conn, "250 OK\r\n")
		}
	}
}

// silentServer accepts connections and never speaks.
func silentServer(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				time.Sleep(5 * time.Second)
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

// closedPort reserves a loopback port and releases it so dials get refused.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func testProber(port int) *Prober {
	return NewProber(ProberConfig{
		HeloHost:       "probe.test.invalid",
		ConnectTimeout: 2 * time.Second,
		MaxAttempts:    3,
		Concurrency:    4,
		Port:           port,
	}, zerolog.Nop())
}

func loopbackFacts(hosts ...string) models.DomainFacts {
	facts := models.DomainFacts{Domain: "example.com", HasARecord: true, HasMXRecord: len(hosts) > 0}
	for i, h := range hosts {
		facts.MXRecords = append(facts.MXRecords, models.MXRecord{Exchange: h, Priority: uint16((i + 1) * 10)})
	}
	return facts
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func TestProbeRealMailbox(t *testing.T) {
	port := fakeExchanger(t, func(rcpt string) string {
		if rcpt == "user@example.com" {
			return "250 2.1.5 OK"
		}
		return "550 5.1.1 User unknown"
	})

	p := testProber(port)
	out := p.Probe(context.Background(), "user@example.com", loopbackFacts("127.0.0.1"))

	if out.Classification != models.ProbeValid {
		t.Fatalf("classification = %s, want %s (flags %v)", out.Classification, models.ProbeValid, out.Flags)
	}
	if !out.Connected {
		t.Error("Connected should be true after a successful dialogue")
	}
	if out.Confidence != confMailboxAccepted {
		t.Errorf("confidence = %d, want %d", out.Confidence, confMailboxAccepted)
	}
	if hasFlag(out.Flags, models.FlagCatchAllDomain) {
		t.Error("a rejected ghost address must not mark the domain catch-all")
	}
}

func TestProbeCatchAllDomain(t *testing.T) {
	port := fakeExchanger(t, func(rcpt string) string {
		return "250 2.1.5 OK"
	})

	p := testProber(port)
	out := p.Probe(context.Background(), "anyone@example.com", loopbackFacts("127.0.0.1"))

	if out.Classification != models.ProbeCatchAll {
		t.Fatalf("classification = %s, want %s", out.Classification, models.ProbeCatchAll)
	}
	if !hasFlag(out.Flags, models.FlagCatchAllDomain) {
		t.Errorf("flags = %v, want %s present", out.Flags, models.FlagCatchAllDomain)
	}
	if out.Confidence != confCatchAll {
		t.Errorf("confidence = %d, want %d", out.Confidence, confCatchAll)
	}
}

func TestProbeUserUnknown(t *testing.T) {
	port := fakeExchanger(t, func(rcpt string) string {
		return "550 5.1.1 User unknown"
	})

	p := testProber(port)
	out := p.Probe(context.Background(), "ghost@example.com", loopbackFacts("127.0.0.1"))

	if out.Classification != models.ProbeInvalid {
		t.Fatalf("classification = %s, want %s", out.Classification, models.ProbeInvalid)
	}
	if !hasFlag(out.Flags, models.FlagUserUnknown) {
		t.Errorf("flags = %v, want %s present", out.Flags, models.FlagUserUnknown)
	}
	if out.Confidence != confUserUnknown {
		t.Errorf("confidence = %d, want %d", out.Confidence, confUserUnknown)
	}
	if !out.Connected {
		t.Error("a 550 reply still means the server was reachable")
	}
}

func TestProbePolicyBlockIsNotInvalid(t *testing.T) {
	port := fakeExchanger(t, func(rcpt string) string {
		return "550 5.7.1 Service unavailable, client host blocked using Spamhaus"
	})

	p := testProber(port)
	out := p.Probe(context.Background(), "user@example.com", loopbackFacts("127.0.0.1"))

	if out.Classification == models.ProbeInvalid {
		t.Fatal("a policy block must never classify the mailbox as invalid")
	}
	if out.Classification != models.ProbeRisky {
		t.Fatalf("classification = %s, want %s", out.Classification, models.ProbeRisky)
	}
	if !hasFlag(out.Flags, models.FlagIPBlocked) {
		t.Errorf("flags = %v, want %s present", out.Flags, models.FlagIPBlocked)
	}
	if hasFlag(out.Flags, models.FlagUserUnknown) {
		t.Errorf("flags = %v, must not contain %s", out.Flags, models.FlagUserUnknown)
	}
}

func TestProbeTemporaryFailure(t *testing.T) {
	port := fakeExchanger(t, func(rcpt string) string {
		return "451 4.7.1 Greylisted, try again later"
	})

	p := testProber(port)
	out := p.Probe(context.Background(), "user@example.com", loopbackFacts("127.0.0.1"))

	if out.Classification != models.ProbeUnknown {
		t.Fatalf("classification = %s, want %s", out.Classification, models.ProbeUnknown)
	}
	if !hasFlag(out.Flags, models.FlagTemporaryFailure) {
		t.Errorf("flags = %v, want %s present", out.Flags, models.FlagTemporaryFailure)
	}
	if hasFlag(out.Flags, models.FlagAllMXFailed) {
		t.Error("a host that replied must suppress the all_mx_failed flag")
	}
}

func TestProbeAllExchangersDown(t *testing.T) {
	p := testProber(closedPort(t))
	out := p.Probe(context.Background(), "user@example.com", loopbackFacts("127.0.0.1", "127.0.0.1"))

	if out.Classification != models.ProbeUnknown {
		t.Fatalf("classification = %s, want %s", out.Classification, models.ProbeUnknown)
	}
	if out.Connected {
		t.Error("Connected must be false when every dial was refused")
	}
	if !hasFlag(out.Flags, models.FlagAllMXFailed) {
		t.Errorf("flags = %v, want %s present", out.Flags, models.FlagAllMXFailed)
	}
	if !hasFlag(out.Flags, models.FlagConnectionFailed) {
		t.Errorf("flags = %v, want %s present", out.Flags, models.FlagConnectionFailed)
	}
}

func TestProbeDeadlineMidConversation(t *testing.T) {
	port := silentServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	p := testProber(port)
	out := p.Probe(ctx, "user@example.com", loopbackFacts("127.0.0.1"))

	if out.Classification != models.ProbeUnknown {
		t.Fatalf("classification = %s, want %s", out.Classification, models.ProbeUnknown)
	}
	if !hasFlag(out.Flags, models.FlagSMTPTimeout) {
		t.Errorf("flags = %v, want %s present", out.Flags, models.FlagSMTPTimeout)
	}
	if !hasFlag(out.Flags, models.FlagAllMXFailed) {
		t.Errorf("flags = %v, want %s when the final host never replied", out.Flags, models.FlagAllMXFailed)
	}
}

func TestProbeStopsAtFirstDefinitiveHost(t *testing.T) {
	// All three MX entries point at the same exchanger. A definitive answer
	// from the first walk step must end the loop, so the server should see
	// exactly one RCPT.
	var rcpts int32
	port := fakeExchanger(t, func(rcpt string) string {
		atomic.AddInt32(&rcpts, 1)
		return "550 5.1.1 User unknown"
	})

	p := testProber(port)
	out := p.Probe(context.Background(), "user@example.com", loopbackFacts("127.0.0.1", "127.0.0.1", "127.0.0.1"))

	if out.Classification != models.ProbeInvalid {
		t.Fatalf("classification = %s, want %s", out.Classification, models.ProbeInvalid)
	}
	if n := atomic.LoadInt32(&rcpts); n != 1 {
		t.Errorf("exchanger saw %d RCPT commands, want 1", n)
	}
}

func TestProbeConnect(t *testing.T) {
	port := fakeExchanger(t, func(rcpt string) string {
		return "250 OK"
	})

	p := testProber(port)
	report := p.ProbeConnect(context.Background(), loopbackFacts("127.0.0.1"))

	if !report.Success {
		t.Fatalf("Success = false, error %q", report.Error)
	}
	if report.Host != "127.0.0.1" {
		t.Errorf("host = %q, want 127.0.0.1", report.Host)
	}
}

func TestProbeConnectNoExchangers(t *testing.T) {
	p := testProber(2525)
	report := p.ProbeConnect(context.Background(), models.DomainFacts{Domain: "dead.example"})

	if report.Success {
		t.Fatal("Success = true for a domain with no exchangers")
	}
	if report.ErrorCode != "NO_MX_RECORDS" {
		t.Errorf("errorCode = %q, want NO_MX_RECORDS", report.ErrorCode)
	}
}

func TestProbeConnectRefused(t *testing.T) {
	p := testProber(closedPort(t))
	report := p.ProbeConnect(context.Background(), loopbackFacts("127.0.0.1"))

	if report.Success {
		t.Fatal("Success = true against a closed port")
	}
	if report.ErrorCode != "CONNECTION_FAILED" {
		t.Errorf("errorCode = %q, want CONNECTION_FAILED", report.ErrorCode)
	}
}

func TestIsNoSuchUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "enhanced code 5.1.1",
			err:  &textproto.Error{Code: 550, Msg: "5.1.1 The email account does not exist"},
			want: true,
		},
		{
			name: "explicit user unknown wording",
			err:  &textproto.Error{Code: 550, Msg: "No such user here"},
			want: true,
		},
		{
			name: "bare 550 without block wording",
			err:  &textproto.Error{Code: 550, Msg: "No thanks"},
			want: true,
		},
		{
			name: "recipient rejected wording",
			err:  &textproto.Error{Code: 550, Msg: "Recipient rejected"},
			want: true,
		},
		{
			name: "spamhaus block on a 550",
			err:  &textproto.Error{Code: 550, Msg: "Client host blocked using Spamhaus"},
			want: false,
		},
		{
			name: "sender reputation rejection",
			err:  &textproto.Error{Code: 550, Msg: "Sender address has poor reputation"},
			want: false,
		},
		{
			name: "greylisting deferral",
			err:  &textproto.Error{Code: 451, Msg: "Greylisted, try again in 300 seconds"},
			want: false,
		},
		{
			name: "connection refused",
			err:  fmt.Errorf("connect 127.0.0.1:25: connection refused"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNoSuchUserError(tt.err); got != tt.want {
				t.Errorf("IsNoSuchUserError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"450 mailbox busy", &textproto.Error{Code: 450, Msg: "Mailbox busy"}, true},
		{"451 local error", &textproto.Error{Code: 451, Msg: "Local error in processing"}, true},
		{"452 too many recipients", &textproto.Error{Code: 452, Msg: "Too many recipients"}, true},
		{"421 closing channel", &textproto.Error{Code: 421, Msg: "Service not available"}, true},
		{"550 rejection", &textproto.Error{Code: 550, Msg: "User unknown"}, false},
		{"plain rate limit text", fmt.Errorf("rate limit exceeded"), true},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRateLimitError(tt.err); got != tt.want {
				t.Errorf("IsRateLimitError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPolicyFlag(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "spamhaus listing",
			err:  &textproto.Error{Code: 550, Msg: "blocked using Spamhaus DQS"},
			want: models.FlagIPBlocked,
		},
		{
			name: "reputation rejection",
			err:  &textproto.Error{Code: 554, Msg: "sender reputation too low"},
			want: models.FlagAntiSpamPolicy,
		},
		{
			name: "missing reverse dns",
			err:  &textproto.Error{Code: 550, Msg: "no PTR record for connecting host"},
			want: models.FlagAntiSpamPolicy,
		},
		{
			name: "generic refusal",
			err:  &textproto.Error{Code: 550, Msg: "access denied"},
			want: models.FlagValidationBlocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policyFlag(tt.err); got != tt.want {
				t.Errorf("policyFlag(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestProbeHostsCap(t *testing.T) {
	mxs := []models.MXRecord{
		{Exchange: "mx1.example.com", Priority: 5},
		{Exchange: "mx2.example.com", Priority: 10},
		{Exchange: "mx3.example.com", Priority: 20},
		{Exchange: "mx4.example.com", Priority: 30},
	}

	got := probeHosts(mxs, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0] != "mx1.example.com" || got[2] != "mx3.example.com" {
		t.Errorf("hosts = %v, want mx1 through mx3 in priority order", got)
	}

	if got := probeHosts(mxs, 0); len(got) != 1 {
		t.Errorf("a zero cap should still allow one host, got %d", len(got))
	}
}

func TestRandomLocalPartShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 8; i++ {
		lp := randomLocalPart()
		if strings.Count(lp, ".") != 2 {
			t.Fatalf("local part %q should look like first.last.suffix", lp)
		}
		seen[lp] = true
	}
	if len(seen) < 2 {
		t.Error("ghost local parts should vary between calls")
	}
}
