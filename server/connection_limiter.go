package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/migadu/milterfrom/logger"
	"github.com/migadu/milterfrom/pkg/metrics"
)

// ConnectionLimiter caps the number of concurrent MTA connections, in total
// and per remote address. Connections over a unix socket share one bucket.
type ConnectionLimiter struct {
	maxConnections   int
	maxPerIP         int
	currentTotal     atomic.Int64
	perIPConnections map[string]*atomic.Int64
	mu               sync.Mutex
	trustedNets      []*net.IPNet // Trusted networks that bypass per-IP limits
}

// NewConnectionLimiter creates a new connection limiter. A limit of 0 disables that check.
func NewConnectionLimiter(maxConnections, maxPerIP int, trustedNetworks []string) (*ConnectionLimiter, error) {
	trustedNets, err := ParseTrustedNetworks(trustedNetworks)
	if err != nil {
		return nil, err
	}

	return &ConnectionLimiter{
		maxConnections:   maxConnections,
		maxPerIP:         maxPerIP,
		perIPConnections: make(map[string]*atomic.Int64),
		trustedNets:      trustedNets,
	}, nil
}

// ParseTrustedNetworks parses CIDRs or plain IP addresses.
func ParseTrustedNetworks(cidrs []string) ([]*net.IPNet, error) {
	var networks []*net.IPNet
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			ip := net.ParseIP(cidr)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted network '%s': not a valid IP address or CIDR", cidr)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			network = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
		}
		networks = append(networks, network)
	}
	return networks, nil
}

// remoteKey returns the per-IP bucket for an address and whether it is trusted.
func (cl *ConnectionLimiter) remoteKey(remoteAddr net.Addr) (string, bool) {
	if remoteAddr == nil || remoteAddr.Network() == "unix" {
		return "unix", false
	}

	host, _, err := net.SplitHostPort(remoteAddr.String())
	if err != nil {
		host = remoteAddr.String()
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range cl.trustedNets {
			if network.Contains(ip) {
				return host, true
			}
		}
	}
	return host, false
}

// Accept registers a new connection and returns a function to release it.
// The release function is safe to call more than once.
func (cl *ConnectionLimiter) Accept(remoteAddr net.Addr) (func(), error) {
	total := cl.currentTotal.Add(1)
	if cl.maxConnections > 0 && total > int64(cl.maxConnections) {
		cl.currentTotal.Add(-1)
		return nil, fmt.Errorf("maximum connections reached (%d/%d)", total-1, cl.maxConnections)
	}

	key, trusted := cl.remoteKey(remoteAddr)

	var ipCounter *atomic.Int64
	if cl.maxPerIP > 0 && !trusted {
		cl.mu.Lock()
		ipCounter = cl.perIPConnections[key]
		if ipCounter == nil {
			ipCounter = &atomic.Int64{}
			cl.perIPConnections[key] = ipCounter
		}
		perIP := ipCounter.Add(1)
		if perIP > int64(cl.maxPerIP) {
			cl.releaseIP(key, ipCounter)
			cl.mu.Unlock()
			cl.currentTotal.Add(-1)
			return nil, fmt.Errorf("maximum connections per IP reached for %s (%d/%d)", key, perIP-1, cl.maxPerIP)
		}
		cl.mu.Unlock()
	}

	logger.Debug("Connection limiter: connection accepted", "remote", key, "total", total, "max_total", cl.maxConnections)

	var once sync.Once
	return func() {
		once.Do(func() {
			cl.currentTotal.Add(-1)
			if ipCounter != nil {
				cl.mu.Lock()
				cl.releaseIP(key, ipCounter)
				cl.mu.Unlock()
			}
		})
	}, nil
}

// releaseIP must be called with cl.mu held.
func (cl *ConnectionLimiter) releaseIP(key string, counter *atomic.Int64) {
	if counter.Add(-1) <= 0 {
		delete(cl.perIPConnections, key)
	}
}

// Stats implements metrics.StatsProvider.
func (cl *ConnectionLimiter) Stats() metrics.LimiterStats {
	return metrics.LimiterStats{
		Current: cl.currentTotal.Load(),
		Max:     int64(cl.maxConnections),
	}
}

// LimitListener wraps a listener so that connections over the limit are
// closed right after accept.
func LimitListener(l net.Listener, limiter *ConnectionLimiter) net.Listener {
	return &connectionLimitingListener{Listener: l, limiter: limiter}
}

type connectionLimitingListener struct {
	net.Listener
	limiter *ConnectionLimiter
}

// Accept accepts connections and checks connection limits before returning them
func (l *connectionLimitingListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		release, limitErr := l.limiter.Accept(conn.RemoteAddr())
		if limitErr != nil {
			logger.Warn("Milter: connection rejected", "error", limitErr)
			metrics.ConnectionsRejected.Inc()
			conn.Close()
			continue
		}

		return &connectionLimitingConn{Conn: conn, release: release}, nil
	}
}

// connectionLimitingConn releases its limiter slot on Close.
type connectionLimitingConn struct {
	net.Conn
	release func()
}

func (c *connectionLimitingConn) Close() error {
	c.release()
	return c.Conn.Close()
}
