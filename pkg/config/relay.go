package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"

	"github.com/epithet-ssh/jsonflt/pkg/recordfilter"
	"github.com/epithet-ssh/jsonflt/pkg/tlsconfig"
)

// Policies for a record that fails to parse before the end of the buffered data.
const (
	OnMalformedWait  = "wait"
	OnMalformedClose = "close"
)

// Defaults applied by Load.
const (
	DefaultListen      = "127.0.0.1:7070"
	DefaultBufferSize  = 64 * 1024
	DefaultMaxDepth    = 512
	DefaultDialTimeout = "5s"
	DefaultCooldown    = "30s"
	DefaultFailures    = 3
)

// Upstream is one backend address.
type Upstream struct {
	Address  string `json:"address"`
	Priority int    `json:"priority,omitempty"`
}

// Breaker tunes the per-upstream circuit breaker.
type Breaker struct {
	Failures uint32 `json:"failures,omitempty"`
	Cooldown string `json:"cooldown,omitempty"`
}

// Relay is the configuration of one filtering listener.
type Relay struct {
	Listen      string     `json:"listen,omitempty"`
	StatsListen string     `json:"stats_listen,omitempty"`
	Strategy    string     `json:"strategy,omitempty"`
	Name        string     `json:"name,omitempty"`
	BufferSize  int        `json:"buffer_size,omitempty"`
	MaxDepth    int        `json:"max_depth,omitempty"`
	OnMalformed string     `json:"on_malformed,omitempty"`
	Upstreams   []Upstream `json:"upstreams,omitempty"`
	Breaker     Breaker    `json:"breaker,omitempty"`
	DialTimeout string     `json:"dial_timeout,omitempty"`

	// TLS applies to every upstream connection.
	TLS tlsconfig.Config `json:"tls,omitempty"`
}

// DecodeRelay decodes a Relay from val. A missing value yields an empty Relay.
func DecodeRelay(val cue.Value) (*Relay, error) {
	var r Relay
	if !val.Exists() {
		return &r, nil
	}
	if err := val.Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode relay config: %w", err)
	}
	return &r, nil
}

// ApplyDefaults fills every unset field.
func (r *Relay) ApplyDefaults() {
	if r.Listen == "" {
		r.Listen = DefaultListen
	}
	if r.Strategy == "" {
		r.Strategy = recordfilter.JSON.String()
	}
	if r.BufferSize == 0 {
		r.BufferSize = DefaultBufferSize
	}
	if r.MaxDepth == 0 {
		r.MaxDepth = DefaultMaxDepth
	}
	if r.OnMalformed == "" {
		r.OnMalformed = OnMalformedWait
	}
	if r.DialTimeout == "" {
		r.DialTimeout = DefaultDialTimeout
	}
	if r.Breaker.Failures == 0 {
		r.Breaker.Failures = DefaultFailures
	}
	if r.Breaker.Cooldown == "" {
		r.Breaker.Cooldown = DefaultCooldown
	}
}

// Validate checks the configuration, reporting every problem at once.
func (r *Relay) Validate() error {
	var errs []error
	if _, err := recordfilter.ParseStrategy(r.Strategy); err != nil {
		errs = append(errs, err)
	}
	if r.BufferSize < 2 {
		errs = append(errs, fmt.Errorf("buffer_size must be at least 2, got %d", r.BufferSize))
	}
	if r.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("max_depth must not be negative, got %d", r.MaxDepth))
	}
	switch strings.ToLower(r.OnMalformed) {
	case OnMalformedWait, OnMalformedClose:
	default:
		errs = append(errs, fmt.Errorf("on_malformed must be %q or %q, got %q", OnMalformedWait, OnMalformedClose, r.OnMalformed))
	}
	if len(r.Upstreams) == 0 {
		errs = append(errs, errors.New("at least one upstream is required"))
	}
	for i, u := range r.Upstreams {
		if u.Address == "" {
			errs = append(errs, fmt.Errorf("upstreams[%d]: address is required", i))
		}
	}
	if _, err := time.ParseDuration(r.DialTimeout); err != nil {
		errs = append(errs, fmt.Errorf("dial_timeout: %w", err))
	}
	if _, err := time.ParseDuration(r.Breaker.Cooldown); err != nil {
		errs = append(errs, fmt.Errorf("breaker.cooldown: %w", err))
	}
	if r.TLS.Enabled {
		if _, err := r.TLS.ClientConfig(); err != nil {
			errs = append(errs, fmt.Errorf("tls: %w", err))
		}
	}
	return errors.Join(errs...)
}

// StrategyValue returns the parsed strategy.
func (r *Relay) StrategyValue() (recordfilter.Strategy, error) {
	return recordfilter.ParseStrategy(r.Strategy)
}

// DialTimeoutValue returns the parsed dial timeout.
func (r *Relay) DialTimeoutValue() time.Duration {
	d, _ := time.ParseDuration(r.DialTimeout)
	return d
}

// CooldownValue returns the parsed breaker cooldown.
func (r *Relay) CooldownValue() time.Duration {
	d, _ := time.ParseDuration(r.Breaker.Cooldown)
	return d
}

// CloseOnMalformed reports whether malformed input closes the connection.
func (r *Relay) CloseOnMalformed() bool {
	return strings.EqualFold(r.OnMalformed, OnMalformedClose)
}
