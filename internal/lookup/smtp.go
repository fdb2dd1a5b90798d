package lookup

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mailgauge/internal/models"
)

// Conversation deadlines. Strict enterprise gateways tarpit clients that
// rush the dialogue, so they get a longer leash plus inter-command pauses.
const (
	convDeadline       = 12 * time.Second
	strictConvDeadline = 16 * time.Second
)

// Probe confidence anchors.
const (
	confMailboxAccepted    = 90
	confUserUnknown        = 95
	confCatchAll           = 80
	confAcceptedUnverified = 85
	confTemporary          = 30
	confPolicyBlocked      = 20
	confUnreachable        = 20
)

var strictGateways = []string{
	"mimecast.com",          // Mimecast
	"pphosted.com",          // Proofpoint
	"barracudanetworks.com", // Barracuda
	"messagelabs.com",       // Symantec / Broadcom MessageLabs
	"iphmx.com",             // Cisco IronPort
	"trendmicro.com",        // Trend Micro
	"trendmicro.eu",         // Trend Micro (EU)
	"sophos.com",            // Sophos
	"mailcontrol.com",       // Forcepoint / Websense
	"mxlogic.net",           // McAfee / Trellix
	"fireeye.com",           // FireEye
	"mx.cloudflare.net",     // Cloudflare Area 1
}

// DialFunc opens the transport to an exchanger. Tests and the proxy-backed
// engine both hook in here; nil means a direct IPv4 dial.
type DialFunc func(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error)

// ProberConfig bounds one Prober. Zero values fall back to the defaults
// a production deployment would want.
type ProberConfig struct {
	HeloHost       string
	MailFrom       string
	ConnectTimeout time.Duration
	MaxAttempts    int
	Concurrency    int
	Port           int
	Dial           DialFunc
}

// Prober drives the SMTP conversation against a domain's mail exchangers.
// The dialogue stops at RCPT TO; DATA is never sent.
type Prober struct {
	cfg ProberConfig
	sem chan struct{}
	log zerolog.Logger
}

func NewProber(cfg ProberConfig, log zerolog.Logger) *Prober {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 8 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 15
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	return &Prober{
		cfg: cfg,
		sem: make(chan struct{}, cfg.Concurrency),
		log: log.With().Str("component", "prober").Logger(),
	}
}

// Probe walks the exchangers in ascending priority, capped at MaxAttempts,
// and stops at the first definitive answer. Flags and reasoning from hosts
// tried along the way are carried into the final outcome.
func (p *Prober) Probe(ctx context.Context, email string, facts models.DomainFacts) models.ProbeOutcome {
	hosts := probeHosts(facts.MXRecords, p.cfg.MaxAttempts)
	if len(hosts) == 0 {
		return models.ProbeOutcome{
			Classification: models.ProbeUnknown,
			Flags:          []string{models.FlagNoMXRecord},
			Confidence:     confUnreachable,
			Reasoning:      []string{"No mail exchangers to probe (-20)"},
		}
	}

	p.log.Debug().Str("domain", facts.Domain).
		Str("provider", IdentifyProvider(facts.MXRecords)).
		Int("hosts", len(hosts)).Msg("starting mailbox probe")

	var (
		flags     []string
		reasoning []string
		connected bool
		answered  bool
		last      models.ProbeOutcome
	)
	for _, host := range hosts {
		out := p.probeHost(ctx, host, email, facts.Domain)
		flags = append(flags, out.Flags...)
		reasoning = append(reasoning, out.Reasoning...)
		connected = connected || out.Connected
		answered = answered || hostAnswered(out)
		last = out
		if isDefinitive(out.Classification) || ctx.Err() != nil {
			break
		}
	}

	final := models.ProbeOutcome{
		Host:           last.Host,
		Connected:      connected,
		Classification: last.Classification,
		Flags:          models.DedupFlags(flags),
		Confidence:     last.Confidence,
		Reasoning:      reasoning,
	}
	if !isDefinitive(final.Classification) && !answered {
		final.Flags = models.DedupFlags(append(final.Flags, models.FlagAllMXFailed))
		final.Confidence = confUnreachable
		final.Reasoning = append(final.Reasoning, "No mail exchanger answered (-20)")
	}
	return final
}

// ProbeConnect checks raw reachability of the domain's exchangers. It stops
// after the banner; no addresses are presented to the server.
func (p *Prober) ProbeConnect(ctx context.Context, facts models.DomainFacts) models.ConnectivityReport {
	hosts := probeHosts(facts.MXRecords, p.cfg.MaxAttempts)
	if len(hosts) == 0 {
		return models.ConnectivityReport{
			Message:   "Domain publishes no mail exchangers",
			Error:     "no MX records for " + facts.Domain,
			ErrorCode: "NO_MX_RECORDS",
		}
	}

	var lastErr error
	for _, host := range hosts {
		err := p.dialBanner(ctx, host)
		if err == nil {
			return models.ConnectivityReport{
				Success: true,
				Host:    host,
				Message: fmt.Sprintf("Connected to %s and received the SMTP banner", host),
			}
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	code := "CONNECTION_FAILED"
	if isTimeoutError(lastErr) {
		code = "SMTP_TIMEOUT"
	}
	return models.ConnectivityReport{
		Message:   "No mail exchanger accepted a connection",
		Error:     lastErr.Error(),
		ErrorCode: code,
	}
}

// probeHost classifies one exchanger's answer for the target address.
func (p *Prober) probeHost(ctx context.Context, host, email, domain string) models.ProbeOutcome {
	out := models.ProbeOutcome{Host: host, Classification: models.ProbeUnknown}

	accepted, connected, err := p.converse(ctx, host, email)
	out.Connected = connected

	if accepted {
		return p.resolveCatchAll(ctx, out, host, domain)
	}

	switch {
	case IsNoSuchUserError(err):
		out.Classification = models.ProbeInvalid
		out.Flags = append(out.Flags, models.FlagUserUnknown)
		out.Confidence = confUserUnknown
		out.Reasoning = append(out.Reasoning, "Mailbox does not exist (-95)")
	case isTimeoutError(err):
		out.Flags = append(out.Flags, models.FlagSMTPTimeout)
		out.Confidence = confUnreachable
		out.Reasoning = append(out.Reasoning, fmt.Sprintf("Connection to %s timed out (-20)", host))
	case IsRateLimitError(err):
		out.Flags = append(out.Flags, models.FlagTemporaryFailure)
		out.Confidence = confTemporary
		out.Reasoning = append(out.Reasoning, "Server answered with a temporary failure (-30)")
	case IsPolicyBlockError(err):
		// The server refused to talk to us, which says nothing about the mailbox.
		out.Classification = models.ProbeRisky
		out.Flags = append(out.Flags, policyFlag(err))
		out.Confidence = confPolicyBlocked
		out.Reasoning = append(out.Reasoning, "Probe rejected by server policy, not the mailbox (-20)")
	default:
		out.Flags = append(out.Flags, models.FlagConnectionFailed)
		out.Confidence = confUnreachable
		out.Reasoning = append(out.Reasoning, fmt.Sprintf("Could not reach %s (-20)", host))
	}

	p.log.Debug().Str("host", host).Str("email", email).
		Str("class", string(out.Classification)).Err(err).Msg("rcpt probe finished")
	return out
}

// resolveCatchAll distinguishes a real mailbox from a server that accepts
// anything. A second RCPT for a randomized address on the same host settles
// it: a hard bounce for the ghost proves the first acceptance meant
// something.
func (p *Prober) resolveCatchAll(ctx context.Context, out models.ProbeOutcome, host, domain string) models.ProbeOutcome {
	// Brief pause so the second probe does not look like a burst.
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		out.Classification = models.ProbeValid
		out.Confidence = confAcceptedUnverified
		out.Reasoning = append(out.Reasoning,
			"SMTP server accepted the mailbox (+60)",
			"Catch-all check skipped, deadline reached (+25)")
		return out
	}

	ghost := randomLocalPart() + "@" + domain

	var ghostAccepted bool
	var ghostErr error
	for attempt := 1; attempt <= 2; attempt++ {
		ghostAccepted, _, ghostErr = p.converse(ctx, host, ghost)
		transient := !ghostAccepted && ghostErr != nil && !IsNoSuchUserError(ghostErr)
		if !transient || attempt == 2 {
			break
		}
		p.log.Debug().Str("host", host).Str("ghost", ghost).Err(ghostErr).Msg("transient ghost probe, retrying")
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	switch {
	case ghostAccepted:
		out.Classification = models.ProbeCatchAll
		out.Flags = append(out.Flags, models.FlagCatchAllDomain)
		out.Confidence = confCatchAll
		out.Reasoning = append(out.Reasoning,
			"SMTP server accepted the mailbox (+40)",
			"Server also accepted a random address (+40)")
	case IsNoSuchUserError(ghostErr):
		out.Classification = models.ProbeValid
		out.Confidence = confMailboxAccepted
		out.Reasoning = append(out.Reasoning,
			"SMTP server accepted the mailbox (+60)",
			"Random address was rejected (+30)")
	default:
		// The ghost probe failed transiently; the acceptance stands, unverified.
		out.Classification = models.ProbeValid
		out.Confidence = confAcceptedUnverified
		out.Reasoning = append(out.Reasoning,
			"SMTP server accepted the mailbox (+60)",
			"Catch-all check was inconclusive (+25)")
	}
	return out
}

// converse runs the handshake up to RCPT TO and reports whether the target
// address was accepted. connected is true once the TCP dial succeeded, even
// when the dialogue later failed.
func (p *Prober) converse(ctx context.Context, host, email string) (accepted, connected bool, err error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return false, false, ctx.Err()
	}
	defer func() { <-p.sem }()

	addr := net.JoinHostPort(host, strconv.Itoa(p.cfg.Port))

	dial := p.cfg.Dial
	if dial == nil {
		dial = directDial
	}
	conn, dialErr := dial(ctx, "tcp", addr, p.cfg.ConnectTimeout)
	if dialErr != nil {
		return false, false, fmt.Errorf("connect %s: %w", addr, dialErr)
	}

	strict := isStrictGateway(host)
	deadline := time.Now().Add(convDeadline)
	if strict {
		deadline = time.Now().Add(strictConvDeadline)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	tp := textproto.NewConn(conn)
	defer tp.Close()

	pause := func() error {
		if !strict {
			return nil
		}
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if _, _, err := tp.ReadResponse(220); err != nil {
		return false, true, fmt.Errorf("banner: %w", err)
	}

	if err := pause(); err != nil {
		return false, true, err
	}
	if _, err := tp.Cmd("HELO %s", p.cfg.HeloHost); err != nil {
		return false, true, err
	}
	if _, _, err := tp.ReadResponse(250); err != nil {
		return false, true, fmt.Errorf("helo: %w", err)
	}

	if err := pause(); err != nil {
		return false, true, err
	}
	if _, err := tp.Cmd("MAIL FROM:<%s>", p.cfg.MailFrom); err != nil {
		return false, true, err
	}
	if _, _, err := tp.ReadResponse(250); err != nil {
		return false, true, fmt.Errorf("mail from: %w", err)
	}

	if err := pause(); err != nil {
		return false, true, err
	}
	if _, err := tp.Cmd("RCPT TO:<%s>", email); err != nil {
		return false, true, err
	}

	code, msg, rcptErr := tp.ReadResponse(0)
	tp.Cmd("QUIT")
	if rcptErr != nil {
		return false, true, fmt.Errorf("rcpt: %w", rcptErr)
	}
	if code == 250 || code == 251 {
		return true, true, nil
	}
	// Package the rejection so the classification helpers can read code and
	// text together.
	return false, true, &textproto.Error{Code: code, Msg: msg}
}

// dialBanner opens a connection and waits for the 220 greeting only.
func (p *Prober) dialBanner(ctx context.Context, host string) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	addr := net.JoinHostPort(host, strconv.Itoa(p.cfg.Port))
	dial := p.cfg.Dial
	if dial == nil {
		dial = directDial
	}
	conn, err := dial(ctx, "tcp", addr, p.cfg.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	deadline := time.Now().Add(p.cfg.ConnectTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	tp := textproto.NewConn(conn)
	defer tp.Close()

	if _, _, err := tp.ReadResponse(220); err != nil {
		return fmt.Errorf("banner: %w", err)
	}
	tp.Cmd("QUIT")
	return nil
}

func directDial(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	// Port 25 over IPv6 is blocked almost everywhere; stick to IPv4.
	return d.DialContext(ctx, "tcp4", addr)
}

// probeHosts returns the exchangers to try, ascending priority, capped.
func probeHosts(mxs []models.MXRecord, limit int) []string {
	if limit < 1 {
		limit = 1
	}
	hosts := make([]string, 0, min(len(mxs), limit))
	for _, mx := range mxs {
		if len(hosts) == limit {
			break
		}
		hosts = append(hosts, mx.Exchange)
	}
	return hosts
}

func isDefinitive(c models.ProbeClass) bool {
	return c == models.ProbeValid || c == models.ProbeInvalid || c == models.ProbeCatchAll
}

// hostAnswered reports whether the exchanger gave an SMTP-level reply. A
// refused dial or a silent connection is not an answer; a 4xx or policy
// rejection is.
func hostAnswered(out models.ProbeOutcome) bool {
	for _, f := range out.Flags {
		if f == models.FlagSMTPTimeout || f == models.FlagConnectionFailed {
			return false
		}
	}
	return true
}

func isStrictGateway(host string) bool {
	h := strings.ToLower(host)
	for _, gw := range strictGateways {
		if strings.Contains(h, gw) {
			return true
		}
	}
	return false
}

var ghostFirstNames = []string{"alex", "michael", "sarah", "david", "emma", "chris", "jessica", "matthew", "amanda", "daniel"}
var ghostLastNames = []string{"smith", "jones", "taylor", "brown", "williams", "wilson", "johnson", "davis", "miller", "martin"}

// randomLocalPart builds a plausible-looking address that cannot exist.
// Obvious gibberish trips content filters on some gateways, so the ghost is
// shaped like a real name with a short random tail.
func randomLocalPart() string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "michael.smith.99"
	}
	fIdx := int(b[0]) % len(ghostFirstNames)
	lIdx := int(b[1]) % len(ghostLastNames)
	return ghostFirstNames[fIdx] + "." + ghostLastNames[lIdx] + "." + hex.EncodeToString(b[2:])
}

// --- Response classification ---

// IsNoSuchUserError determines whether an SMTP rejection means the mailbox
// does not exist. Block and policy wording is checked first: a server that
// says "blocked" is refusing us, not denying the user.
func IsNoSuchUserError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	blockKeywords := []string{
		"spam", "block", "banned", "blacklisted", "ip address", "your ip", "policy",
		"relay", "access denied", "rejected by network", "unauthenticated",
		"sender", "reputation", "spf", "dmarc", "dkim", "quota",
		"rate limit", "temporarily", "reverse dns", "ptr", "helo",
		"spamhaus", "barracuda", "sorbs", "client host rejected",
		"not permitted", "connection refused", "timeout", "greylist",
	}
	for _, kw := range blockKeywords {
		if strings.Contains(errStr, kw) {
			return false
		}
	}

	// Enhanced status codes that explicitly mean "bad mailbox".
	if strings.Contains(errStr, "5.1.1") || strings.Contains(errStr, "5.1.0") {
		return true
	}

	keywords := []string{
		"does not exist", "user unknown", "no such user",
		"recipient rejected", "not found", "invalid mailbox",
		"not a valid mailbox", "mailbox unavailable", "unrouteable address",
		"no mailbox here", "unknown user", "bad destination",
		"address rejected",
	}
	for _, kw := range keywords {
		if strings.Contains(errStr, kw) {
			return true
		}
	}

	// A bare 550/551 with none of the block wording above is a rejection of
	// the recipient.
	var textErr *textproto.Error
	if errors.As(err, &textErr) {
		if textErr.Code == 550 || textErr.Code == 551 {
			return true
		}
	}

	return false
}

// IsRateLimitError checks whether the server is asking us to slow down or
// come back later.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var textErr *textproto.Error
	if errors.As(err, &textErr) {
		return textErr.Code >= 400 && textErr.Code < 500
	}

	// No reply code to go on; dial errors embed addresses whose digits would
	// false-match a code substring, so only phrases are checked here.
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "try again later") ||
		strings.Contains(errStr, "greylist") ||
		strings.Contains(errStr, "rate limit")
}

// IsPolicyBlockError reports whether the server refused the probe for
// reasons about us rather than the recipient.
func IsPolicyBlockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	policyKeywords := []string{
		"spam", "block", "banned", "blacklist", "policy", "access denied",
		"rejected by network", "unauthenticated", "reputation", "spf",
		"dmarc", "dkim", "reverse dns", "ptr", "helo", "spamhaus",
		"barracuda", "sorbs", "client host rejected", "not permitted", "relay",
	}
	for _, kw := range policyKeywords {
		if strings.Contains(errStr, kw) {
			return true
		}
	}
	return false
}

// policyFlag narrows a policy rejection to the most specific tag.
func policyFlag(err error) string {
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "spamhaus") || strings.Contains(s, "blacklist") || strings.Contains(s, "banned") ||
		strings.Contains(s, "ip address") || strings.Contains(s, "your ip"):
		return models.FlagIPBlocked
	case strings.Contains(s, "spam") || strings.Contains(s, "reputation") || strings.Contains(s, "policy") ||
		strings.Contains(s, "spf") || strings.Contains(s, "dmarc") || strings.Contains(s, "ptr") ||
		strings.Contains(s, "reverse dns"):
		return models.FlagAntiSpamPolicy
	default:
		return models.FlagValidationBlocked
	}
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
