// Package upstream dials the backends a relay forwards records to, failing
// over between them with one circuit breaker per backend.
package upstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// DefaultPriority is used for backends without an explicit priority.
const DefaultPriority = 100

// ErrNoBackends is returned by NewDialer when no backend is configured.
var ErrNoBackends = errors.New("upstream: no backends configured")

// Backend is one address records can be forwarded to.
type Backend struct {
	Address string
	// Priority orders failover. Higher values are tried first; backends with
	// equal priority share connections round-robin.
	Priority int
}

// AllUnavailableError is returned when every backend's breaker is open or
// every dial attempt failed.
type AllUnavailableError struct {
	LastError error
}

func (e *AllUnavailableError) Error() string {
	if e.LastError != nil {
		return fmt.Sprintf("all backends unavailable, last error: %v", e.LastError)
	}
	return "all backends unavailable"
}

func (e *AllUnavailableError) Unwrap() error {
	return e.LastError
}

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Dialer connects to the highest-priority backend whose breaker is closed.
type Dialer struct {
	mu sync.Mutex

	// sorted by priority, highest first
	backends []Backend
	breakers []*gobreaker.CircuitBreaker[net.Conn]

	// backend indices grouped by priority
	tiers [][]int
	// round-robin position per priority
	cursor map[int]int

	dial        DialFunc
	dialTimeout time.Duration
	tls         *tls.Config
	log         *slog.Logger
}

// NewDialer builds a Dialer for backends. Backends keep their configured order
// within a priority tier.
func NewDialer(backends []Backend, opts ...Option) (*Dialer, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	sorted := make([]Backend, len(backends))
	for i, b := range backends {
		if b.Priority == 0 {
			b.Priority = DefaultPriority
		}
		sorted[i] = b
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	d := &Dialer{
		backends:    sorted,
		breakers:    make([]*gobreaker.CircuitBreaker[net.Conn], len(sorted)),
		tiers:       tiersOf(sorted),
		cursor:      make(map[int]int),
		dial:        cfg.dial,
		dialTimeout: cfg.dialTimeout,
		tls:         cfg.tls,
		log:         cfg.logger,
	}
	for i, b := range sorted {
		d.breakers[i] = gobreaker.NewCircuitBreaker[net.Conn](d.settings(b.Address, cfg))
	}
	return d, nil
}

func (d *Dialer) settings(address string, cfg *config) gobreaker.Settings {
	failures := cfg.failures
	return gobreaker.Settings{
		Name:    address,
		Timeout: cfg.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// The caller giving up is not the backend's fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.log.Warn("backend breaker state changed", "backend", name, "from", from.String(), "to", to.String())
		},
	}
}

func tiersOf(sorted []Backend) [][]int {
	var tiers [][]int
	for i, b := range sorted {
		if i == 0 || b.Priority != sorted[i-1].Priority {
			tiers = append(tiers, nil)
		}
		tiers[len(tiers)-1] = append(tiers[len(tiers)-1], i)
	}
	return tiers
}

// DialContext connects to the next available backend, failing over to the
// following one when a dial fails. It returns the backend that answered.
func (d *Dialer) DialContext(ctx context.Context) (net.Conn, Backend, error) {
	var lastErr error
	tried := make(map[int]bool, len(d.backends))

	for {
		idx := d.next(tried)
		if idx < 0 {
			return nil, Backend{}, &AllUnavailableError{LastError: lastErr}
		}
		tried[idx] = true

		backend := d.backends[idx]
		conn, err := d.breakers[idx].Execute(func() (net.Conn, error) {
			dctx := ctx
			if d.dialTimeout > 0 {
				var cancel context.CancelFunc
				dctx, cancel = context.WithTimeout(ctx, d.dialTimeout)
				defer cancel()
			}
			return d.connect(dctx, backend.Address)
		})
		if err == nil {
			return conn, backend, nil
		}

		if ctx.Err() != nil {
			return nil, Backend{}, ctx.Err()
		}
		d.log.Debug("backend dial failed", "backend", backend.Address, "error", err)
		lastErr = err
	}
}

// connect dials address and, when TLS is configured, completes the handshake
// so a backend with a bad certificate counts against its breaker.
func (d *Dialer) connect(ctx context.Context, address string) (net.Conn, error) {
	conn, err := d.dial(ctx, "tcp", address)
	if err != nil || d.tls == nil {
		return conn, err
	}

	cfg := d.tls.Clone()
	if cfg.ServerName == "" {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			host = address
		}
		cfg.ServerName = host
	}
	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", address, err)
	}
	return tc, nil
}

// next picks the first untried backend whose breaker is not open, walking
// tiers from highest priority and round-robin within a tier.
func (d *Dialer) next(tried map[int]bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, tier := range d.tiers {
		priority := d.backends[tier[0]].Priority
		start := d.cursor[priority]

		for i := range tier {
			pos := (start + i) % len(tier)
			idx := tier[pos]
			if tried[idx] || d.breakers[idx].State() == gobreaker.StateOpen {
				continue
			}
			d.cursor[priority] = (pos + 1) % len(tier)
			return idx
		}
	}
	return -1
}

// BackendStatus reports the breaker state of one backend.
type BackendStatus struct {
	Address  string `json:"address"`
	Priority int    `json:"priority"`
	State    string `json:"state"`
	Failures uint32 `json:"consecutive_failures"`
}

// Status lists every backend in failover order.
func (d *Dialer) Status() []BackendStatus {
	out := make([]BackendStatus, len(d.backends))
	for i, b := range d.backends {
		out[i] = BackendStatus{
			Address:  b.Address,
			Priority: b.Priority,
			State:    d.breakers[i].State().String(),
			Failures: d.breakers[i].Counts().ConsecutiveFailures,
		}
	}
	return out
}

// Available reports whether at least one backend's breaker is not open.
func (d *Dialer) Available() bool {
	for _, cb := range d.breakers {
		if cb.State() != gobreaker.StateOpen {
			return true
		}
	}
	return false
}

// Len returns the number of backends.
func (d *Dialer) Len() int {
	return len(d.backends)
}
