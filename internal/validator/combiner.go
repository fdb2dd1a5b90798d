package validator

import (
	"strings"

	"mailgauge/internal/lookup"
	"mailgauge/internal/models"
)

// Options are the stable policy toggles. A copy travels through each
// validation so a mid-flight configuration change cannot skew a request
// already underway.
type Options struct {
	TemporaryAsRisky     bool
	PolicyAsRisky        bool
	DeliverableOnConnect bool
	DeliverableDomains   []string
}

// combinerInput carries every stage product into the combiner. Fields are
// read-only once assembled; stages that never ran stay nil.
type combinerInput struct {
	Email      string
	Request    models.ValidationRequest
	Facts      models.DomainFacts
	DNS        *lookup.DNSError
	Probe      *models.ProbeOutcome
	Fallback   *models.FallbackOutcome
	Reputation models.ReputationFacts
	Opts       Options
}

// combine applies the fixed precedence that turns stage outcomes into one
// verdict:
//
//  1. a definitive probe answer stands as-is
//  2. a policy-blocked probe with fallback mail evidence downgrades to risky
//  3. a temporary failure with corroborating evidence downgrades to risky
//     when the toggle allows
//  4. the deliverable-on-connect override upgrades deliverability
//  5. everything else falls through the resolution taxonomy
func combine(in combinerInput) models.ValidationVerdict {
	v := models.ValidationVerdict{
		Email:           in.Email,
		AggressiveMode:  in.Request.AggressiveMode,
		BounceRisk:      in.Reputation.BounceRisk,
		ReputationFlags: in.Reputation.ReputationFlags,
		RiskFactors:     in.Reputation.RiskFactors,
	}

	switch {
	case in.Probe != nil && in.Probe.Classification == models.ProbeValid:
		v.Result = models.ResultValid
		v.IsValid = true
		v.Deliverable = true
		v.Confidence = in.Probe.Confidence
		v.Flags = append(v.Flags, in.Probe.Flags...)
		v.Reasoning = append(v.Reasoning, in.Probe.Reasoning...)

	case in.Probe != nil && in.Probe.Classification == models.ProbeInvalid:
		v.Result = models.ResultInvalid
		v.Confidence = in.Probe.Confidence
		v.Flags = append(v.Flags, in.Probe.Flags...)
		v.Reasoning = append(v.Reasoning, in.Probe.Reasoning...)
		v.BounceRisk = models.RiskHigh

	case in.Probe != nil && in.Probe.Classification == models.ProbeCatchAll:
		v.Result = models.ResultCatchAll
		v.IsValid = true
		v.Deliverable = true
		v.Confidence = in.Probe.Confidence
		v.Flags = append(v.Flags, in.Probe.Flags...)
		v.Reasoning = append(v.Reasoning, in.Probe.Reasoning...)
		// The individual mailbox is unverifiable behind a catch-all.
		if v.BounceRisk == models.RiskLow {
			v.BounceRisk = models.RiskMedium
		}

	case in.Probe != nil && in.Probe.Classification == models.ProbeRisky:
		v = combinePolicyBlocked(in, v)

	case in.Probe != nil && contains(in.Probe.Flags, models.FlagTemporaryFailure):
		v = combineTemporary(in, v)

	default:
		v = combineFallthrough(in, v)
	}

	v = applyDeliverableOnConnect(in, v)
	return finalizeVerdict(v)
}

// combinePolicyBlocked settles a probe the server refused to answer. The
// block says nothing about the mailbox, so fallback evidence decides
// between risky and unknown.
func combinePolicyBlocked(in combinerInput, v models.ValidationVerdict) models.ValidationVerdict {
	v.Flags = append(v.Flags, in.Probe.Flags...)
	v.Reasoning = append(v.Reasoning, in.Probe.Reasoning...)
	v.Confidence = in.Probe.Confidence

	if in.Fallback != nil {
		v.Flags = append(v.Flags, in.Fallback.Flags...)
		v.Reasoning = append(v.Reasoning, fallbackReasoning(in.Fallback)...)
	}

	if in.Fallback == nil || !in.Fallback.CanReceiveEmail {
		v.Result = models.ResultUnknown
		return v
	}

	if in.Fallback.Confidence > v.Confidence {
		v.Confidence = in.Fallback.Confidence
	}
	if !in.Opts.PolicyAsRisky {
		v.Result = models.ResultUnknown
		return v
	}

	v.Result = models.ResultRisky
	v.IsValid = true
	v.Flags = append(v.Flags, models.FlagPolicyAsRisky)
	return v
}

// combineTemporary handles a deferral-only probe. With corroborating
// evidence and the toggle on, a 4xx becomes risky instead of unknown.
func combineTemporary(in combinerInput, v models.ValidationVerdict) models.ValidationVerdict {
	v.Flags = append(v.Flags, in.Probe.Flags...)
	v.Reasoning = append(v.Reasoning, in.Probe.Reasoning...)
	v.Confidence = in.Probe.Confidence

	if in.Fallback != nil {
		v.Flags = append(v.Flags, in.Fallback.Flags...)
		v.Reasoning = append(v.Reasoning, fallbackReasoning(in.Fallback)...)
	}

	corroborated := in.Facts.HasARecord && in.Facts.HasMXRecord &&
		in.Fallback != nil && contains(in.Fallback.Flags, models.FlagSMTPConnectable)

	if in.Opts.TemporaryAsRisky && corroborated && in.Reputation.BounceRisk != models.RiskHigh {
		v.Result = models.ResultRisky
		v.IsValid = true
		v.Confidence = max(in.Fallback.Confidence, 40)
		v.Flags = append(v.Flags, models.FlagTemporaryAsRisky)
		v.Reasoning = append(v.Reasoning, "Temporary failure on a healthy domain, treating as risky (+10)")
		return v
	}

	v.Result = models.ResultUnknown
	return v
}

// combineFallthrough settles requests that never produced a usable SMTP
// answer: resolution failures and inconclusive probes.
func combineFallthrough(in combinerInput, v models.ValidationVerdict) models.ValidationVerdict {
	evidence := in.Fallback != nil && in.Fallback.CanReceiveEmail

	if in.Fallback != nil {
		v.Flags = append(v.Flags, in.Fallback.Flags...)
		v.Reasoning = append(v.Reasoning, fallbackReasoning(in.Fallback)...)
	}

	if in.DNS != nil {
		v.Flags = append(v.Flags, dnsErrorFlags(in.DNS.Code)...)
		v.Reasoning = append(v.Reasoning, dnsErrorReasoning(in.DNS.Code))

		switch in.DNS.Code {
		case lookup.DNSNoMXRecords:
			if evidence {
				// Implicit MX: something on the apex still answers.
				v.Result = models.ResultRisky
				v.IsValid = true
				v.Confidence = max(in.Fallback.Confidence, 50)
				return v
			}
			v.Result = models.ResultInvalid
			v.Confidence = 80
			v.BounceRisk = models.RiskHigh
			return v

		case lookup.DNSTimeout:
			v.Result = models.ResultUnknown
			v.Confidence = 25
			if evidence {
				v.Confidence = 40
			}
			return v

		case lookup.DNSServerFailure:
			v.Result = models.ResultUnknown
			v.Confidence = 25
			if evidence {
				v.Confidence = 35
			}
			return v

		default:
			v.Result = models.ResultUnknown
			v.Confidence = 20
			if evidence {
				v.Confidence = 30
			}
			return v
		}
	}

	// The probe ran but nothing was definitive: unreachable or silent MX.
	if in.Probe != nil {
		v.Flags = append(v.Flags, in.Probe.Flags...)
		v.Reasoning = append(v.Reasoning, in.Probe.Reasoning...)
		v.Confidence = in.Probe.Confidence
	}
	v.Result = models.ResultUnknown
	if evidence {
		v.Confidence = max(v.Confidence, 40)
	}
	return v
}

// applyDeliverableOnConnect upgrades deliverability for allow-listed
// domains when a live SMTP connection was observed. It never overrides a
// hard invalid.
func applyDeliverableOnConnect(in combinerInput, v models.ValidationVerdict) models.ValidationVerdict {
	if !in.Opts.DeliverableOnConnect || v.Deliverable {
		return v
	}
	if v.Result == models.ResultInvalid || v.Result == models.ResultDisposable {
		return v
	}
	if in.Reputation.BounceRisk == models.RiskHigh {
		return v
	}
	connected := (in.Fallback != nil && contains(in.Fallback.Flags, models.FlagSMTPConnectable)) ||
		(in.Probe != nil && in.Probe.Connected)
	if !connected {
		return v
	}
	if !domainAllowed(in.Facts.Domain, in.Opts.DeliverableDomains) {
		return v
	}

	v.Deliverable = true
	v.Flags = append(v.Flags, models.FlagDeliverableOnConnect)
	v.Reasoning = append(v.Reasoning, "Connection evidence upgraded deliverability (+0)")
	return v
}

// domainAllowed checks the allow-list; an empty list allows every domain.
func domainAllowed(domain string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, d := range allowed {
		if strings.EqualFold(domain, d) {
			return true
		}
	}
	return false
}
