package lookup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mailgauge/internal/models"
)

type DNSErrorCode string

const (
	DNSDomainNotFound DNSErrorCode = "DOMAIN_NOT_FOUND"
	DNSNoMXRecords    DNSErrorCode = "NO_MX_RECORDS"
	DNSTimeout        DNSErrorCode = "DNS_TIMEOUT"
	DNSServerFailure  DNSErrorCode = "DNS_SERVER_FAILURE"
	DNSGenericError   DNSErrorCode = "DNS_ERROR"
)

// DNSError classifies a resolution failure so downstream stages can branch
// on Code instead of matching raw error text.
type DNSError struct {
	Code   DNSErrorCode
	Domain string
	Err    error
}

func (e *DNSError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Domain)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Domain, e.Err)
}

func (e *DNSError) Unwrap() error { return e.Err }

// AsDNSError extracts the typed classification from an error chain.
func AsDNSError(err error) (*DNSError, bool) {
	var de *DNSError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Resolver performs domain and MX resolution. A strict dial timeout keeps a
// dead DNS server from stalling the whole validation.
type Resolver struct {
	r   *net.Resolver
	log zerolog.Logger
}

func NewResolver(log zerolog.Logger) *Resolver {
	return &Resolver{
		r: &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{Timeout: 3 * time.Second}
				return d.DialContext(ctx, network, address)
			},
		},
		log: log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve derives the DomainFacts for one request. A non-nil error is always
// a *DNSError; partial facts stay populated so the fallback stage can reuse
// whatever resolution evidence exists.
func (r *Resolver) Resolve(ctx context.Context, domain string) (models.DomainFacts, error) {
	facts := models.DomainFacts{Domain: domain}

	addrs, addrErr := r.r.LookupIPAddr(ctx, domain)
	facts.HasARecord = addrErr == nil && len(addrs) > 0

	mxs, mxErr := r.r.LookupMX(ctx, domain)
	if mxErr == nil {
		facts.MXRecords = normalizeMX(mxs)
		facts.HasMXRecord = len(facts.MXRecords) > 0
		if facts.HasMXRecord {
			return facts, nil
		}
		// The zone answered but published nothing usable: either an empty
		// answer or an RFC 7505 null MX, which means "this domain refuses mail".
		if !facts.HasARecord && !r.hasNS(ctx, domain) {
			return facts, &DNSError{Code: DNSDomainNotFound, Domain: domain}
		}
		return facts, &DNSError{Code: DNSNoMXRecords, Domain: domain}
	}

	domainExists := facts.HasARecord
	if !domainExists && isNotFound(mxErr) {
		// NXDOMAIN and NODATA look identical from LookupMX; NS presence is
		// what separates "no mail service" from "no such domain".
		domainExists = r.hasNS(ctx, domain)
	}

	derr := classifyMXError(domain, mxErr, domainExists)
	r.log.Debug().Str("domain", domain).Str("code", string(derr.Code)).Err(mxErr).Msg("mx resolution failed")
	return facts, derr
}

// LookupTXT exposes TXT resolution for the SPF/DMARC reputation checks.
func (r *Resolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return r.r.LookupTXT(ctx, name)
}

// LookupHost exposes address resolution for the DNSBL reputation check.
func (r *Resolver) LookupHost(ctx context.Context, name string) ([]string, error) {
	return r.r.LookupHost(ctx, name)
}

func (r *Resolver) hasNS(ctx context.Context, domain string) bool {
	ns, err := r.r.LookupNS(ctx, domain)
	return err == nil && len(ns) > 0
}

// classifyMXError maps a failed MX lookup onto the typed taxonomy.
// domainExists tells NO_MX_RECORDS apart from DOMAIN_NOT_FOUND when the
// lookup reported "no such host".
func classifyMXError(domain string, mxErr error, domainExists bool) *DNSError {
	var dnsErr *net.DNSError
	if errors.As(mxErr, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			if domainExists {
				return &DNSError{Code: DNSNoMXRecords, Domain: domain, Err: mxErr}
			}
			return &DNSError{Code: DNSDomainNotFound, Domain: domain, Err: mxErr}
		case dnsErr.IsTimeout:
			return &DNSError{Code: DNSTimeout, Domain: domain, Err: mxErr}
		case dnsErr.IsTemporary:
			return &DNSError{Code: DNSServerFailure, Domain: domain, Err: mxErr}
		}
	}
	if errors.Is(mxErr, context.DeadlineExceeded) || errors.Is(mxErr, context.Canceled) {
		return &DNSError{Code: DNSTimeout, Domain: domain, Err: mxErr}
	}
	return &DNSError{Code: DNSGenericError, Domain: domain, Err: mxErr}
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

// normalizeMX strips trailing dots, drops RFC 7505 null MX entries, and
// sorts ascending by priority (preferred first).
func normalizeMX(mxs []*net.MX) []models.MXRecord {
	out := make([]models.MXRecord, 0, len(mxs))
	for _, mx := range mxs {
		if mx == nil {
			continue
		}
		host := strings.TrimSuffix(mx.Host, ".")
		if host == "" {
			continue
		}
		out = append(out, models.MXRecord{Exchange: host, Priority: mx.Pref})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
