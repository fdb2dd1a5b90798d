package lookup

import (
	"context"
	"strings"

	"mailgauge/internal/models"
)

// HasSPF reports whether the domain publishes an SPF policy.
func (r *Resolver) HasSPF(ctx context.Context, domain string) bool {
	txts, err := r.LookupTXT(ctx, domain)
	if err != nil {
		return false
	}
	for _, txt := range txts {
		if strings.HasPrefix(txt, "v=spf1") {
			return true
		}
	}
	return false
}

// HasDMARC reports whether the domain publishes a DMARC policy.
// Presence of DMARC implies actively managed mail infrastructure.
func (r *Resolver) HasDMARC(ctx context.Context, domain string) bool {
	// DMARC always lives at _dmarc.<domain>
	txts, err := r.LookupTXT(ctx, "_dmarc."+domain)
	if err != nil {
		return false
	}
	for _, txt := range txts {
		if strings.HasPrefix(txt, "v=DMARC1") {
			return true
		}
	}
	return false
}

// IsBlacklisted checks the Spamhaus domain blocklist. Listed domains answer
// inside 127.0.1.0/24; NXDOMAIN and the 127.255.255.x error codes both count
// as not listed.
func (r *Resolver) IsBlacklisted(ctx context.Context, domain string) bool {
	addrs, err := r.LookupHost(ctx, domain+".dbl.spamhaus.org")
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if strings.HasPrefix(addr, "127.0.1.") {
			return true
		}
	}
	return false
}

// IdentifyProvider categorizes the mail infrastructure behind a set of MX
// hosts. Enterprise filters are checked before the big consumer providers
// because a domain fronted by Proofpoint or Mimecast screens harder than
// whatever sits behind it.
func IdentifyProvider(mxRecords []models.MXRecord) string {
	for _, mx := range mxRecords {
		host := strings.ToLower(mx.Exchange)

		switch {
		case strings.Contains(host, "pphosted.com"):
			return "proofpoint"
		case strings.Contains(host, "mimecast.com"):
			return "mimecast"
		case strings.Contains(host, "barracudanetworks.com"):
			return "barracuda"
		case strings.Contains(host, "google.com"), strings.Contains(host, "googlemail.com"):
			return "google"
		case strings.Contains(host, "protection.outlook.com"), strings.Contains(host, "outlook.com"):
			return "office365"
		}
	}

	if len(mxRecords) == 0 {
		return "unknown"
	}
	return "generic"
}
