package upstream

import (
	"crypto/tls"
	"log/slog"
	"net"
	"time"
)

const (
	defaultFailures    = 3
	defaultCooldown    = 30 * time.Second
	defaultDialTimeout = 5 * time.Second
)

type config struct {
	failures    uint32
	cooldown    time.Duration
	dialTimeout time.Duration
	dial        DialFunc
	tls         *tls.Config
	logger      *slog.Logger
}

func defaultConfig() *config {
	return &config{
		failures:    defaultFailures,
		cooldown:    defaultCooldown,
		dialTimeout: defaultDialTimeout,
		dial:        (&net.Dialer{}).DialContext,
		logger:      slog.New(slog.DiscardHandler),
	}
}

// Option configures a Dialer.
type Option func(*config)

// WithFailures sets how many consecutive dial failures open a backend's breaker.
func WithFailures(n uint32) Option {
	return func(c *config) {
		if n > 0 {
			c.failures = n
		}
	}
}

// WithCooldown sets how long an open breaker waits before letting a probe through.
func WithCooldown(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.cooldown = d
		}
	}
}

// WithDialTimeout bounds each dial attempt. Zero disables the bound.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) {
		c.dialTimeout = d
	}
}

// WithDialFunc replaces the function used to open connections.
func WithDialFunc(fn DialFunc) Option {
	return func(c *config) {
		if fn != nil {
			c.dial = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTLS wraps every upstream connection in TLS. When cfg has no ServerName,
// the host part of the backend address is verified.
func WithTLS(cfg *tls.Config) Option {
	return func(c *config) {
		c.tls = cfg
	}
}
