package lookup

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/likexian/whois"
	"github.com/rs/zerolog"

	"mailgauge/internal/models"
)

// youngDomainWindow marks registrations fresh enough to be throwaway infra.
const youngDomainWindow = 30 * 24 * time.Hour

// highEntropyThreshold is the digit ratio above which a local part stops
// looking like a person.
const highEntropyThreshold = 0.45

// dnsPosture is the slice of the resolver the reputation checks need.
type dnsPosture interface {
	HasSPF(ctx context.Context, domain string) bool
	HasDMARC(ctx context.Context, domain string) bool
	IsBlacklisted(ctx context.Context, domain string) bool
}

// ReputationChecker builds the heuristic risk picture for an address. It
// runs alongside the SMTP probe and never overrides a definitive answer.
type ReputationChecker struct {
	dns   dnsPosture
	whois func(domain string) (string, error)
	log   zerolog.Logger
}

func NewReputationChecker(dns dnsPosture, log zerolog.Logger) *ReputationChecker {
	return &ReputationChecker{
		dns: dns,
		whois: func(domain string) (string, error) {
			return whois.Whois(domain)
		},
		log: log.With().Str("component", "reputation").Logger(),
	}
}

// Assess collects the heuristic signals for one address. Static lookups are
// instant; the network-backed ones fan out concurrently. Aggressive mode
// adds whois age and blocklist checks.
func (c *ReputationChecker) Assess(ctx context.Context, localPart string, facts models.DomainFacts, aggressive bool) models.ReputationFacts {
	var (
		mu      sync.Mutex
		flags   []string
		factors []string
	)
	add := func(flag, factor string) {
		mu.Lock()
		flags = append(flags, flag)
		if factor != "" {
			factors = append(factors, factor)
		}
		mu.Unlock()
	}

	domain := facts.Domain

	if IsRoleAccount(localPart) {
		add(models.FlagRoleAccount, "Role-based address, often unmonitored")
	}
	if IsFreeProvider(domain) {
		add(models.FlagFreeProvider, "")
	}
	if IsDisposableDomain(domain) {
		add(models.FlagDisposableDomain, "Disposable email provider")
	}
	if fix, ok := SuggestTypoFix(domain); ok {
		add(models.FlagPossibleTypo, "Domain looks like a typo of "+fix)
	}
	if CalculateEntropy(localPart) > highEntropyThreshold {
		add(models.FlagHighEntropyLocal, "Local part looks machine-generated")
	}
	for _, mx := range facts.MXRecords {
		if IsParkedMX(mx.Exchange) {
			add(models.FlagParkedMX, "MX points at a domain-parking service")
			break
		}
	}

	var wg sync.WaitGroup
	if facts.HasARecord || facts.HasMXRecord {
		wg.Add(1)
		go func() {
			defer wg.Done()
			spf := c.dns.HasSPF(ctx, domain)
			dmarc := c.dns.HasDMARC(ctx, domain)
			if !spf && !dmarc {
				add(models.FlagNoSPFRecord, "No sender authentication records published")
			}
		}()
	}

	if aggressive {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.dns.IsBlacklisted(ctx, domain) {
				add(models.FlagDomainBlacklisted, "Domain is on the Spamhaus blocklist")
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if age, ok := c.domainAge(ctx, domain); ok && age < youngDomainWindow {
				add(models.FlagYoungDomain, "Domain registered less than 30 days ago")
			}
		}()
	}
	wg.Wait()

	// The fan-out makes arrival order nondeterministic.
	sort.Strings(flags)
	sort.Strings(factors)

	return models.ReputationFacts{
		BounceRisk:      assessBounceRisk(flags),
		ReputationFlags: models.DedupFlags(flags),
		RiskFactors:     factors,
	}
}

// assessBounceRisk maps the observed signals onto the three-level scale.
// Hard evidence of throwaway or parked infrastructure outranks the softer
// identity heuristics.
func assessBounceRisk(flags []string) models.BounceRisk {
	high := []string{models.FlagDisposableDomain, models.FlagDomainBlacklisted, models.FlagParkedMX}
	medium := []string{models.FlagRoleAccount, models.FlagPossibleTypo, models.FlagYoungDomain, models.FlagHighEntropyLocal}

	for _, f := range flags {
		for _, h := range high {
			if f == h {
				return models.RiskHigh
			}
		}
	}
	for _, f := range flags {
		for _, m := range medium {
			if f == m {
				return models.RiskMedium
			}
		}
	}
	return models.RiskLow
}

// domainAge asks whois for the registration age. The lookup has no context
// support of its own, so it runs guarded.
func (c *ReputationChecker) domainAge(ctx context.Context, domain string) (time.Duration, bool) {
	type result struct {
		raw string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := c.whois(domain)
		ch <- result{raw, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return 0, false
		}
		created, ok := parseCreationDate(r.raw)
		if !ok {
			return 0, false
		}
		return time.Since(created), true
	case <-ctx.Done():
		return 0, false
	}
}

var creationLabels = []string{
	"creation date:",
	"created:",
	"created on:",
	"registered on:",
	"registration date:",
	"registration time:",
}

// parseCreationDate digs the registration timestamp out of raw whois text.
// Registrars disagree on both the label and the layout.
func parseCreationDate(raw string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
		"02-Jan-2006",
	}
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		for _, label := range creationLabels {
			if !strings.HasPrefix(lower, label) {
				continue
			}
			v := strings.TrimSpace(trimmed[len(label):])
			for _, layout := range layouts {
				if ts, err := time.Parse(layout, v); err == nil {
					return ts, true
				}
			}
		}
	}
	return time.Time{}, false
}
