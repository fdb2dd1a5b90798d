package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	netproxy "golang.org/x/net/proxy"
)

// proxyConn wraps net.Conn so the in-flight slot is given back exactly
// once when the SMTP client closes the connection.
type proxyConn struct {
	net.Conn
	release func()
	once    sync.Once
}

func (pc *proxyConn) Close() error {
	pc.once.Do(pc.release)
	return pc.Conn.Close()
}

// DialContext matches the prober's dial hook. With an empty pool it is a
// plain direct dial; otherwise the connection goes through the next proxy
// in rotation, holding a pool slot until the connection closes.
func (m *Manager) DialContext(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
	direct := &net.Dialer{Timeout: timeout}

	target := m.next()
	if target == nil {
		return direct.DialContext(ctx, network, addr)
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for proxy slot: %w", ctx.Err())
	}
	release := func() { <-m.sem }

	// Resolve the exchanger locally. SOCKS proxies from cheap pools
	// routinely fail remote DNS, and we want our resolver's view anyway.
	addr = resolveLocally(addr)

	m.log.Debug().Str("addr", addr).Str("proxy", target.Host).Msg("dialing via proxy")
	start := time.Now()

	pdialer, err := netproxy.FromURL(target, direct)
	if err != nil {
		release()
		return nil, fmt.Errorf("proxy %s: %w", target.Host, err)
	}

	var conn net.Conn
	if cd, ok := pdialer.(netproxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, network, addr)
	} else {
		conn, err = pdialer.Dial(network, addr)
	}
	if err != nil {
		release()
		m.log.Debug().Str("addr", addr).Dur("took", time.Since(start)).Err(err).Msg("proxy dial failed")
		return nil, err
	}

	m.log.Debug().Str("addr", addr).Dur("took", time.Since(start)).Msg("proxy dial connected")
	return &proxyConn{Conn: conn, release: release}, nil
}

// resolveLocally swaps a hostname target for its first IPv4 address.
func resolveLocally(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || net.ParseIP(host) != nil {
		return addr
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return addr
	}
	resolved := ips[0].String()
	for _, ip := range ips {
		if ip.To4() != nil {
			resolved = ip.String()
			break
		}
	}
	return net.JoinHostPort(resolved, port)
}
