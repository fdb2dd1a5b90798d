package models

import "time"

type Result string
type ProbeClass string
type FallbackMethod string
type BounceRisk string
type ConfidenceLevel string

const (
	ResultValid      Result = "valid"
	ResultInvalid    Result = "invalid"
	ResultRisky      Result = "risky"
	ResultCatchAll   Result = "catchall"
	ResultDisposable Result = "disposable"
	ResultUnknown    Result = "unknown"

	ProbeValid    ProbeClass = "valid"
	ProbeInvalid  ProbeClass = "invalid"
	ProbeCatchAll ProbeClass = "catchall"
	ProbeRisky    ProbeClass = "risky"
	ProbeUnknown  ProbeClass = "unknown"

	FallbackBasicDNS   FallbackMethod = "basic-dns"
	FallbackTCPConnect FallbackMethod = "tcp-connect"
	FallbackAdvanced   FallbackMethod = "advanced"

	RiskLow    BounceRisk = "low"
	RiskMedium BounceRisk = "medium"
	RiskHigh   BounceRisk = "high"

	ConfidenceVeryHigh ConfidenceLevel = "very_high"
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceLow      ConfidenceLevel = "low"
)

// Flag tags attached to verdicts and intermediate outcomes.
const (
	FlagInvalidFormat      = "invalid_format"
	FlagDomainNotFound     = "domain_not_found"
	FlagNoDNSRecords       = "no_dns_records"
	FlagDisposableDomain   = "disposable_domain"
	FlagNoMXRecord         = "no_mx_record"
	FlagUnlikelyMailDomain = "unlikely_mail_domain"

	FlagDNSTimeout       = "dns_timeout"
	FlagDNSServerFailure = "dns_server_failure"
	FlagDNSError         = "dns_error"

	FlagIPBlocked         = "ip_blocked"
	FlagAntiSpamPolicy    = "anti_spam_policy"
	FlagValidationBlocked = "validation_blocked"
	FlagSMTPTimeout       = "smtp_timeout"
	FlagConnectionFailed  = "connection_failed"
	FlagUserUnknown       = "user_unknown"
	FlagTemporaryFailure  = "temporary_failure"
	FlagAllMXFailed       = "all_mx_failed"
	FlagCatchAllDomain    = "catch_all_domain"

	FlagHasDNS           = "has_dns"
	FlagHasDNSMX         = "has_dns_mx"
	FlagSMTPConnectable  = "smtp_connectable"
	FlagAltPortReachable = "alt_port_reachable"
	FlagWebPresence      = "web_presence"

	FlagPolicyAsRisky        = "policy_as_risky"
	FlagTemporaryAsRisky     = "temporary_as_risky"
	FlagDeliverableOnConnect = "deliverable_on_connect"
	FlagIsValidInferred      = "is_valid_inferred"

	FlagRoleAccount       = "role_account"
	FlagFreeProvider      = "free_email_provider"
	FlagParkedMX          = "parked_mx"
	FlagPossibleTypo      = "possible_typo"
	FlagYoungDomain       = "young_domain"
	FlagDomainBlacklisted = "domain_blacklisted"
	FlagNoSPFRecord       = "no_spf_record"
	FlagHighEntropyLocal  = "high_entropy_local"
)

// ValidationRequest is the immutable input to a single validation call.
type ValidationRequest struct {
	Email          string `json:"email"`
	AggressiveMode bool   `json:"aggressiveMode"`
	TimeoutMs      int    `json:"timeoutMs,omitempty"`
}

// MXRecord is one mail exchanger entry, lowest Priority preferred.
type MXRecord struct {
	Exchange string
	Priority uint16
}

// DomainFacts is derived once per request by the resolver and never mutated
// afterwards.
type DomainFacts struct {
	Domain      string
	HasARecord  bool
	HasMXRecord bool
	MXRecords   []MXRecord
}

// ProbeOutcome is the typed result of the SMTP probe stage.
// Reasoning entries carry a signed contribution, e.g. "User unknown (-95)".
type ProbeOutcome struct {
	Host           string
	Connected      bool
	Classification ProbeClass
	Flags          []string
	Confidence     int
	Reasoning      []string
}

// FallbackOutcome is the typed result of the fallback validation stage.
type FallbackOutcome struct {
	CanReceiveEmail bool
	Method          FallbackMethod
	Confidence      int
	Flags           []string
}

// ReputationFacts is always computed and feeds the combiner; it never
// overrides a definitive probe classification.
type ReputationFacts struct {
	BounceRisk      BounceRisk
	ReputationFlags []string
	RiskFactors     []string
}

// ValidationVerdict is the externally visible result of one validation.
type ValidationVerdict struct {
	Email           string          `json:"email"`
	IsValid         bool            `json:"isValid"`
	Deliverable     bool            `json:"deliverable"`
	Result          Result          `json:"result"`
	Flags           []string        `json:"flags"`
	Confidence      int             `json:"confidence"`
	ConfidenceLevel ConfidenceLevel `json:"confidenceLevel"`
	BounceRisk      BounceRisk      `json:"bounceRisk"`
	ReputationFlags []string        `json:"reputationFlags"`
	RiskFactors     []string        `json:"riskFactors"`
	Reasoning       []string        `json:"reasoning"`
	ExecutionTimeMs int64           `json:"execution_time"`
	Message         string          `json:"message,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	AggressiveMode  bool            `json:"aggressiveMode"`
}

// ConnectivityRequest is the narrow input of the connectivity-only probe.
type ConnectivityRequest struct {
	Email     string `json:"email"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// ConnectivityReport is the narrow output of the connectivity-only probe.
// It reports raw reachability, never a deliverability classification.
type ConnectivityReport struct {
	Success   bool   `json:"success"`
	Host      string `json:"host,omitempty"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// LevelForConfidence maps a 0-100 confidence to its band.
func LevelForConfidence(confidence int) ConfidenceLevel {
	switch {
	case confidence >= 85:
		return ConfidenceVeryHigh
	case confidence >= 70:
		return ConfidenceHigh
	case confidence >= 50:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// DedupFlags removes duplicates while preserving first-seen order.
func DedupFlags(flags []string) []string {
	if len(flags) == 0 {
		return flags
	}
	seen := make(map[string]struct{}, len(flags))
	out := flags[:0:0]
	for _, f := range flags {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
