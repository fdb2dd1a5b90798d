package proxy

import (
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Manager rotates outbound SMTP connections across a pool of SOCKS or
// HTTP CONNECT proxies and caps how many proxied dials are in flight.
// A Manager with an empty pool degrades to direct dialing, so callers
// can wire it unconditionally.
type Manager struct {
	proxies []*url.URL
	counter uint64
	sem     chan struct{}
	log     zerolog.Logger
}

// NewManager parses the proxy URLs and sizes the in-flight limit. A
// non-positive limit defaults to one slot per proxy.
func NewManager(proxyList []string, limit int, log zerolog.Logger) (*Manager, error) {
	var parsed []*url.URL
	for _, p := range proxyList {
		if p == "" {
			continue
		}
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", p, err)
		}
		parsed = append(parsed, u)
	}

	if limit <= 0 {
		limit = len(parsed)
		if limit == 0 {
			limit = 10
		}
	}

	return &Manager{
		proxies: parsed,
		sem:     make(chan struct{}, limit),
		log:     log.With().Str("component", "proxy").Logger(),
	}, nil
}

// Enabled reports whether any proxies are configured.
func (m *Manager) Enabled() bool {
	return m != nil && len(m.proxies) > 0
}

// next picks the proxy for the upcoming dial, round-robin.
func (m *Manager) next() *url.URL {
	if len(m.proxies) == 0 {
		return nil
	}
	n := atomic.AddUint64(&m.counter, 1)
	return m.proxies[(n-1)%uint64(len(m.proxies))]
}
