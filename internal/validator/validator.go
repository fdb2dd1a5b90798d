package validator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mailgauge/internal/lookup"
	"mailgauge/internal/models"
)

// Stage ports. The engine depends on behavior, not on the concrete lookup
// types, which keeps every stage swappable in tests.
type DomainResolver interface {
	Resolve(ctx context.Context, domain string) (models.DomainFacts, error)
}

type MailboxProber interface {
	Probe(ctx context.Context, email string, facts models.DomainFacts) models.ProbeOutcome
	ProbeConnect(ctx context.Context, facts models.DomainFacts) models.ConnectivityReport
}

type FallbackRunner interface {
	Validate(ctx context.Context, facts models.DomainFacts, aggressive bool) models.FallbackOutcome
}

type ReputationAssessor interface {
	Assess(ctx context.Context, localPart string, facts models.DomainFacts, aggressive bool) models.ReputationFacts
}

// Engine runs the validation pipeline. It holds no per-request state, so a
// single instance serves concurrent callers.
type Engine struct {
	resolver   DomainResolver
	prober     MailboxProber
	fallback   FallbackRunner
	reputation ReputationAssessor
	opts       Options
	log        zerolog.Logger
}

func NewEngine(resolver DomainResolver, prober MailboxProber, fallback FallbackRunner, reputation ReputationAssessor, opts Options, log zerolog.Logger) *Engine {
	return &Engine{
		resolver:   resolver,
		prober:     prober,
		fallback:   fallback,
		reputation: reputation,
		opts:       opts,
		log:        log.With().Str("component", "engine").Logger(),
	}
}

// Validate produces a verdict for one address. The only errors it returns
// are the caller-facing ones: EMAIL_REQUIRED for blank input and
// INTERNAL_ERROR when a stage panics. Everything else folds into the
// verdict itself.
func (e *Engine) Validate(ctx context.Context, req models.ValidationRequest) (verdict models.ValidationVerdict, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("email", req.Email).Msg("validation panicked")
			verdict = models.ValidationVerdict{}
			err = models.ErrInternal(fmt.Sprint(r))
		}
	}()

	email := normalizeEmail(req.Email)
	if email == "" {
		return models.ValidationVerdict{}, models.ErrEmailRequired()
	}

	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	verdict = e.run(ctx, req, email)
	verdict.ExecutionTimeMs = time.Since(start).Milliseconds()
	verdict.Timestamp = time.Now().UTC()

	e.log.Info().Str("email", email).Str("result", string(verdict.Result)).
		Int("confidence", verdict.Confidence).Int64("ms", verdict.ExecutionTimeMs).
		Msg("validation finished")
	return verdict, nil
}

func (e *Engine) run(ctx context.Context, req models.ValidationRequest, email string) models.ValidationVerdict {
	if reason := syntaxError(email); reason != "" {
		return invalidFormatVerdict(email, req, reason)
	}
	local, domain, _ := splitAddress(email)

	facts, resolveErr := e.resolver.Resolve(ctx, domain)

	var dnsErr *lookup.DNSError
	if resolveErr != nil {
		if de, ok := lookup.AsDNSError(resolveErr); ok {
			dnsErr = de
		} else {
			dnsErr = &lookup.DNSError{Code: lookup.DNSGenericError, Domain: domain, Err: resolveErr}
		}
		if dnsErr.Code == lookup.DNSDomainNotFound {
			return domainNotFoundVerdict(email, req)
		}
	}

	// Existence is settled; throwaway providers short-circuit before any
	// SMTP traffic.
	if lookup.IsDisposableDomain(domain) {
		return disposableVerdict(email, req)
	}

	unlikelyDomain := lookup.IsUnlikelyMailDomain(domain)
	if dnsErr != nil && dnsErr.Code == lookup.DNSNoMXRecords && unlikelyDomain {
		return unlikelyMailVerdict(email, req)
	}

	var (
		wg         sync.WaitGroup
		probe      *models.ProbeOutcome
		rep        models.ReputationFacts
		probePanic interface{}
		repPanic   interface{}
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { repPanic = recover() }()
		rep = e.reputation.Assess(ctx, local, facts, req.AggressiveMode)
	}()

	if dnsErr == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { probePanic = recover() }()
			out := e.prober.Probe(ctx, email, facts)
			probe = &out
		}()
	}
	wg.Wait()

	// A recover only works on its own goroutine; surface stage panics
	// here so Validate's handler can turn them into INTERNAL_ERROR.
	if repPanic != nil {
		panic(repPanic)
	}
	if probePanic != nil {
		panic(probePanic)
	}

	var fb *models.FallbackOutcome
	if needsFallback(dnsErr, probe, unlikelyDomain) {
		out := e.fallback.Validate(ctx, facts, req.AggressiveMode)
		fb = &out
	}

	return combine(combinerInput{
		Email:      email,
		Request:    req,
		Facts:      facts,
		DNS:        dnsErr,
		Probe:      probe,
		Fallback:   fb,
		Reputation: rep,
		Opts:       e.opts,
	})
}

// needsFallback decides whether indirect evidence is worth gathering: a
// recoverable resolution failure, a blocked probe, or an inconclusive one.
// Asset-style hostnames whose resolution already failed are never worth
// fallback probes.
func needsFallback(dnsErr *lookup.DNSError, probe *models.ProbeOutcome, unlikelyDomain bool) bool {
	if dnsErr != nil {
		if unlikelyDomain {
			return false
		}
		switch dnsErr.Code {
		case lookup.DNSNoMXRecords, lookup.DNSTimeout, lookup.DNSServerFailure, lookup.DNSGenericError:
			return true
		}
		return false
	}
	if probe == nil {
		return true
	}
	switch probe.Classification {
	case models.ProbeRisky, models.ProbeUnknown:
		return true
	}
	return false
}

// CheckConnectivity answers the lighter question: can any of the domain's
// exchangers be reached at all. It shares the gate and the resolver with
// Validate but stops at the SMTP banner.
func (e *Engine) CheckConnectivity(ctx context.Context, req models.ConnectivityRequest) (report models.ConnectivityReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("email", req.Email).Msg("connectivity check panicked")
			report = models.ConnectivityReport{}
			err = models.ErrInternal(fmt.Sprint(r))
		}
	}()

	email := normalizeEmail(req.Email)
	if email == "" {
		return models.ConnectivityReport{}, models.ErrEmailRequired()
	}
	if reason := syntaxError(email); reason != "" {
		return models.ConnectivityReport{
			Message:   "Address is not a valid email",
			Error:     reason,
			ErrorCode: "INVALID_FORMAT",
		}, nil
	}

	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	_, domain, _ := splitAddress(email)
	facts, resolveErr := e.resolver.Resolve(ctx, domain)
	if resolveErr != nil {
		if de, ok := lookup.AsDNSError(resolveErr); ok && de.Code != lookup.DNSNoMXRecords {
			return models.ConnectivityReport{
				Message:   "Domain resolution failed",
				Error:     de.Error(),
				ErrorCode: string(de.Code),
			}, nil
		}
	}

	return e.prober.ProbeConnect(ctx, facts), nil
}
