package lookup

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"mailgauge/internal/models"
)

// Fallback evidence weights. Indirect signals are discounted roughly 20
// points against their direct SMTP equivalents: a reachable submission port
// says far less than a banner on port 25.
const (
	fbHasDNS      = 25
	fbHasMX       = 25
	fbConnectable = 20
	fbAltPort     = 10
	fbWebPresence = 5

	fbConnectCap   = 70
	fbNoConnectCap = 50
)

// FallbackValidator gathers indirect deliverability evidence when the SMTP
// dialogue could not settle the question.
type FallbackValidator struct {
	ConnectTimeout time.Duration
	Port           int
	AltPorts       []int

	dial DialFunc
	web  func(ctx context.Context, domain string) bool
	log  zerolog.Logger
}

func NewFallbackValidator(connectTimeout time.Duration, dial DialFunc, log zerolog.Logger) *FallbackValidator {
	if connectTimeout <= 0 {
		connectTimeout = 8 * time.Second
	}
	if dial == nil {
		dial = directDial
	}
	client := &http.Client{Timeout: 5 * time.Second}
	return &FallbackValidator{
		ConnectTimeout: connectTimeout,
		Port:           25,
		AltPorts:       []int{587, 465},
		dial:           dial,
		web: func(ctx context.Context, domain string) bool {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, "https://"+domain, nil)
			if err != nil {
				return false
			}
			resp, err := client.Do(req)
			if err != nil {
				return false
			}
			resp.Body.Close()
			return resp.StatusCode < 500
		},
		log: log.With().Str("component", "fallback").Logger(),
	}
}

// Validate scores whatever evidence can be gathered without an SMTP
// dialogue. The confidence never competes with a definitive probe: 70 is
// the ceiling with a live connection, 50 without one.
func (v *FallbackValidator) Validate(ctx context.Context, facts models.DomainFacts, aggressive bool) models.FallbackOutcome {
	out := models.FallbackOutcome{Method: models.FallbackBasicDNS}

	score := 0
	if facts.HasARecord {
		out.Flags = append(out.Flags, models.FlagHasDNS)
		score += fbHasDNS
	}
	if facts.HasMXRecord {
		out.Flags = append(out.Flags, models.FlagHasDNSMX)
		score += fbHasMX
	}

	connectable := false
	for _, host := range connectTargets(facts) {
		if v.canConnect(ctx, host, v.Port) {
			connectable = true
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if connectable {
		out.Method = models.FallbackTCPConnect
		out.Flags = append(out.Flags, models.FlagSMTPConnectable)
		score += fbConnectable
	}

	if aggressive {
		out.Method = models.FallbackAdvanced

		altHost := facts.Domain
		if len(facts.MXRecords) > 0 {
			altHost = facts.MXRecords[0].Exchange
		}
		for _, port := range v.AltPorts {
			if v.canConnect(ctx, altHost, port) {
				out.Flags = append(out.Flags, models.FlagAltPortReachable)
				score += fbAltPort
				break
			}
		}

		if facts.Domain != "" && v.web(ctx, facts.Domain) {
			out.Flags = append(out.Flags, models.FlagWebPresence)
			score += fbWebPresence
		}
	}

	ceiling := fbNoConnectCap
	if connectable {
		ceiling = fbConnectCap
	}
	if score > ceiling {
		score = ceiling
	}

	out.Confidence = score
	out.CanReceiveEmail = facts.HasMXRecord || connectable
	out.Flags = models.DedupFlags(out.Flags)

	v.log.Debug().Str("domain", facts.Domain).Str("method", string(out.Method)).
		Int("confidence", out.Confidence).Bool("canReceive", out.CanReceiveEmail).
		Msg("fallback evidence gathered")
	return out
}

// connectTargets prefers the published exchangers; a domain without MX
// records still receives mail at its apex address record (implicit MX).
func connectTargets(facts models.DomainFacts) []string {
	hosts := probeHosts(facts.MXRecords, 3)
	if len(hosts) == 0 && facts.Domain != "" {
		hosts = []string{facts.Domain}
	}
	return hosts
}

func (v *FallbackValidator) canConnect(ctx context.Context, host string, port int) bool {
	conn, err := v.dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)), v.ConnectTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
