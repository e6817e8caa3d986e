package recordfilter

import (
	"log/slog"

	"github.com/epithet-ssh/jsonflt/pkg/jsonrec"
)

// LevelTrace is the level of per-record parse events.
const LevelTrace = jsonrec.LevelTrace

// config holds Filter configuration.
type config struct {
	name     string
	proxyID  string
	maxDepth int
	logger   *slog.Logger
	stats    *Stats
}

// Option configures a Filter.
type Option func(*config)

// WithName sets the instance name used in log lines.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithProxyID names the listener the filter is attached to. The full instance
// name becomes "<name>/<proxy>", or "TRACE/<proxy>" when no name is set.
func WithProxyID(id string) Option {
	return func(c *config) {
		c.proxyID = id
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxDepth bounds JSON nesting for the JSON strategy.
func WithMaxDepth(n int) Option {
	return func(c *config) {
		c.maxDepth = n
	}
}

// WithStats shares counters between filters. By default every Filter has its own.
func WithStats(s *Stats) Option {
	return func(c *config) {
		c.stats = s
	}
}
