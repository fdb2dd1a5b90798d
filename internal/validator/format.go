package validator

import (
	"fmt"

	"mailgauge/internal/lookup"
	"mailgauge/internal/models"
)

// finalizeVerdict enforces the cross-field rules every verdict must satisfy
// before it leaves the engine: clamped confidence, the deliverable implies
// isValid upgrade, deduplicated flags, and non-nil slices for stable JSON.
func finalizeVerdict(v models.ValidationVerdict) models.ValidationVerdict {
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 100 {
		v.Confidence = 100
	}
	if v.Deliverable && !v.IsValid {
		v.IsValid = true
		v.Flags = append(v.Flags, models.FlagIsValidInferred)
	}
	v.Flags = models.DedupFlags(v.Flags)
	v.ConfidenceLevel = models.LevelForConfidence(v.Confidence)
	if v.BounceRisk == "" {
		v.BounceRisk = models.RiskLow
	}
	if v.Message == "" {
		v.Message = verdictMessage(v.Result, v.Flags)
	}
	if v.Flags == nil {
		v.Flags = []string{}
	}
	if v.Reasoning == nil {
		v.Reasoning = []string{}
	}
	if v.ReputationFlags == nil {
		v.ReputationFlags = []string{}
	}
	if v.RiskFactors == nil {
		v.RiskFactors = []string{}
	}
	return v
}

func verdictMessage(result models.Result, flags []string) string {
	switch result {
	case models.ResultValid:
		return "Mailbox exists and accepts mail"
	case models.ResultInvalid:
		switch {
		case contains(flags, models.FlagInvalidFormat):
			return "Address is not a valid email"
		case contains(flags, models.FlagDomainNotFound):
			return "Domain does not exist"
		case contains(flags, models.FlagUserUnknown):
			return "Mailbox does not exist"
		case contains(flags, models.FlagNoMXRecord):
			return "Domain cannot receive mail"
		}
		return "Address failed validation"
	case models.ResultCatchAll:
		return "Domain accepts mail for any address"
	case models.ResultDisposable:
		return "Address belongs to a disposable email provider"
	case models.ResultRisky:
		return "Address may be deliverable but carries risk"
	default:
		return "Deliverability could not be determined"
	}
}

func contains(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// invalidFormatVerdict rejects an address on shape alone; the network is
// never consulted for these.
func invalidFormatVerdict(email string, req models.ValidationRequest, reason string) models.ValidationVerdict {
	return finalizeVerdict(models.ValidationVerdict{
		Email:          email,
		Result:         models.ResultInvalid,
		Flags:          []string{models.FlagInvalidFormat},
		Confidence:     95,
		BounceRisk:     models.RiskHigh,
		Reasoning:      []string{fmt.Sprintf("Invalid format: %s (-95)", reason)},
		AggressiveMode: req.AggressiveMode,
	})
}

func domainNotFoundVerdict(email string, req models.ValidationRequest) models.ValidationVerdict {
	return finalizeVerdict(models.ValidationVerdict{
		Email:          email,
		Result:         models.ResultInvalid,
		Flags:          []string{models.FlagDomainNotFound, models.FlagNoDNSRecords},
		Confidence:     95,
		BounceRisk:     models.RiskHigh,
		Reasoning:      []string{"Domain does not exist (-95)"},
		AggressiveMode: req.AggressiveMode,
	})
}

// disposableVerdict marks throwaway providers. The mailbox usually exists,
// so isValid stays true while deliverable stays false.
func disposableVerdict(email string, req models.ValidationRequest) models.ValidationVerdict {
	return finalizeVerdict(models.ValidationVerdict{
		Email:           email,
		IsValid:         true,
		Result:          models.ResultDisposable,
		Flags:           []string{models.FlagDisposableDomain},
		Confidence:      90,
		BounceRisk:      models.RiskHigh,
		ReputationFlags: []string{models.FlagDisposableDomain},
		RiskFactors:     []string{"Disposable email provider"},
		Reasoning:       []string{"Domain is a disposable email provider (-90)"},
		AggressiveMode:  req.AggressiveMode,
	})
}

// unlikelyMailVerdict short-circuits CDN and asset hostnames once MX
// resolution has already come back empty.
func unlikelyMailVerdict(email string, req models.ValidationRequest) models.ValidationVerdict {
	return finalizeVerdict(models.ValidationVerdict{
		Email:          email,
		Result:         models.ResultInvalid,
		Flags:          []string{models.FlagNoMXRecord, models.FlagUnlikelyMailDomain},
		Confidence:     85,
		BounceRisk:     models.RiskHigh,
		Reasoning: []string{
			"Domain publishes no MX records (-60)",
			"Hostname pattern suggests infrastructure, not mail (-25)",
		},
		AggressiveMode: req.AggressiveMode,
	})
}

// fallbackReasoning translates evidence flags into signed reasoning lines.
func fallbackReasoning(fb *models.FallbackOutcome) []string {
	if fb == nil {
		return nil
	}
	var lines []string
	for _, f := range fb.Flags {
		switch f {
		case models.FlagHasDNS:
			lines = append(lines, "Domain resolves in DNS (+25)")
		case models.FlagHasDNSMX:
			lines = append(lines, "Domain publishes MX records (+25)")
		case models.FlagSMTPConnectable:
			lines = append(lines, "Mail server accepts TCP connections (+20)")
		case models.FlagAltPortReachable:
			lines = append(lines, "Submission port is reachable (+10)")
		case models.FlagWebPresence:
			lines = append(lines, "Domain serves a live website (+5)")
		}
	}
	return lines
}

// dnsErrorReasoning describes a resolution failure with its confidence cost.
func dnsErrorReasoning(code lookup.DNSErrorCode) string {
	switch code {
	case lookup.DNSNoMXRecords:
		return "Domain publishes no MX records (-60)"
	case lookup.DNSTimeout:
		return "DNS lookup timed out (-25)"
	case lookup.DNSServerFailure:
		return "DNS server failed to answer (-25)"
	default:
		return "DNS resolution failed (-20)"
	}
}

// dnsErrorFlags maps the resolution taxonomy onto verdict flags.
func dnsErrorFlags(code lookup.DNSErrorCode) []string {
	switch code {
	case lookup.DNSDomainNotFound:
		return []string{models.FlagDomainNotFound, models.FlagNoDNSRecords}
	case lookup.DNSNoMXRecords:
		return []string{models.FlagNoMXRecord}
	case lookup.DNSTimeout:
		return []string{models.FlagDNSTimeout}
	case lookup.DNSServerFailure:
		return []string{models.FlagDNSServerFailure}
	default:
		return []string{models.FlagDNSError}
	}
}
