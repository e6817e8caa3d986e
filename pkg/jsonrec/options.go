package jsonrec

import "log/slog"

const (
	// Default limit on object and array nesting.
	defaultMaxDepth = 512

	// Delimiter terminates a record on the wire.
	Delimiter = '\n'
)

// LevelTrace sits below debug and carries one line per parsed record.
const LevelTrace = slog.LevelDebug - 4

// config holds parser and scanner configuration.
type config struct {
	maxDepth int
	logger   *slog.Logger
}

// Option configures a Parser or Scanner.
type Option func(*config)

// MaxDepth sets how deeply objects and arrays may nest. Deeper input is
// reported as malformed.
//
// Default: 512
func MaxDepth(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

// WithLogger sets the logger used for per-record tracing.
// Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func newConfig(opts []Option) *config {
	cfg := &config{
		maxDepth: defaultMaxDepth,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
