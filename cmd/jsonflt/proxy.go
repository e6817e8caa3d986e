package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/epithet-ssh/jsonflt/pkg/config"
	"github.com/epithet-ssh/jsonflt/pkg/recordfilter"
	"github.com/epithet-ssh/jsonflt/pkg/relay"
	"github.com/epithet-ssh/jsonflt/pkg/stats"
	"github.com/epithet-ssh/jsonflt/pkg/upstream"
)

// ProxyCLI runs the filtering relay. Every flag can also come from the
// configuration file; upstream lists with priorities can only come from there
// or from --upstream ADDR[@PRIORITY].
type ProxyCLI struct {
	Listen      string   `help:"Address to accept clients on." short:"l" default:"127.0.0.1:7070"`
	StatsListen string   `help:"Address for the /stats and /healthz endpoints (disabled when empty)." name:"stats-listen"`
	Upstream    []string `help:"Upstream address, optionally ADDR@PRIORITY. Repeatable." short:"u" placeholder:"ADDR[@PRIORITY]"`
	Strategy    string   `help:"Boundary strategy." enum:"json,noop,newline,newlinesimd" default:"json"`
	Name        string   `help:"Filter instance name used in logs."`
	BufferSize  int      `help:"Per-connection buffer size; the largest record that can pass." default:"65536" name:"buffer-size"`
	MaxDepth    int      `help:"Maximum JSON nesting depth." default:"512" name:"max-depth"`
	OnMalformed string   `help:"What to do with a malformed record." enum:"wait,close" default:"wait" name:"on-malformed"`
	DialTimeout string   `help:"Upstream dial timeout." default:"5s" name:"dial-timeout"`

	BreakerFailures uint32 `help:"Consecutive dial failures that open an upstream's breaker." default:"3" name:"breaker-failures"`
	BreakerCooldown string `help:"How long an open breaker waits before probing again." default:"30s" name:"breaker-cooldown"`

	TLSEnabled    bool   `help:"Connect to upstreams over TLS." name:"tls-enabled"`
	TLSCACert     string `help:"PEM file of CAs trusted for upstream certificates." name:"tls-ca-cert" type:"path"`
	TLSInsecure   bool   `help:"Skip upstream certificate verification (NOT RECOMMENDED)." name:"tls-insecure"`
	TLSServerName string `help:"Name to verify upstream certificates against." name:"tls-server-name"`
}

func (c *ProxyCLI) Run(logger *slog.Logger, loaded *loadedConfig) error {
	cfg, err := loaded.Relay()
	if err != nil {
		return err
	}
	if err := c.applyOverrides(cfg); err != nil {
		return err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runProxy(ctx, logger, cfg)
}

// applyOverrides copies flag values over cfg. Flags already carry
// configuration values through the resolver, so every flag wins.
func (c *ProxyCLI) applyOverrides(cfg *config.Relay) error {
	cfg.Listen = c.Listen
	cfg.StatsListen = c.StatsListen
	cfg.Strategy = c.Strategy
	cfg.Name = c.Name
	cfg.BufferSize = c.BufferSize
	cfg.MaxDepth = c.MaxDepth
	cfg.OnMalformed = c.OnMalformed
	cfg.DialTimeout = c.DialTimeout
	cfg.Breaker.Failures = c.BreakerFailures
	cfg.Breaker.Cooldown = c.BreakerCooldown
	cfg.TLS.Enabled = c.TLSEnabled
	cfg.TLS.CACertFile = c.TLSCACert
	cfg.TLS.Insecure = c.TLSInsecure
	cfg.TLS.ServerName = c.TLSServerName

	if len(c.Upstream) > 0 {
		ups, err := parseUpstreams(c.Upstream)
		if err != nil {
			return err
		}
		cfg.Upstreams = ups
	}
	return nil
}

// parseUpstreams parses ADDR or ADDR@PRIORITY.
func parseUpstreams(specs []string) ([]config.Upstream, error) {
	out := make([]config.Upstream, 0, len(specs))
	for _, spec := range specs {
		addr, prio, found := strings.Cut(spec, "@")
		u := config.Upstream{Address: addr}
		if found {
			p, err := strconv.Atoi(prio)
			if err != nil {
				return nil, fmt.Errorf("invalid upstream priority in %q: %w", spec, err)
			}
			u.Priority = p
		}
		out = append(out, u)
	}
	return out, nil
}

// runProxy wires the filter, dialer, relay and stats server from cfg and
// serves until ctx is done.
func runProxy(ctx context.Context, logger *slog.Logger, cfg *config.Relay) error {
	strategy, err := cfg.StrategyValue()
	if err != nil {
		return err
	}

	filter, err := recordfilter.New(strategy,
		recordfilter.WithName(cfg.Name),
		recordfilter.WithProxyID(cfg.Listen),
		recordfilter.WithMaxDepth(cfg.MaxDepth),
		recordfilter.WithLogger(logger))
	if err != nil {
		return err
	}

	tlsCfg, err := cfg.TLS.ClientConfig()
	if err != nil {
		return err
	}
	if cfg.TLS.Insecure && tlsCfg != nil {
		logger.Warn("upstream certificate verification disabled")
	}

	backends := make([]upstream.Backend, len(cfg.Upstreams))
	for i, u := range cfg.Upstreams {
		backends[i] = upstream.Backend{Address: u.Address, Priority: u.Priority}
	}
	dialer, err := upstream.NewDialer(backends,
		upstream.WithFailures(cfg.Breaker.Failures),
		upstream.WithCooldown(cfg.CooldownValue()),
		upstream.WithDialTimeout(cfg.DialTimeoutValue()),
		upstream.WithTLS(tlsCfg),
		upstream.WithLogger(logger))
	if err != nil {
		return err
	}

	r, err := relay.New(relay.Config{
		Filter:           filter,
		Dialer:           dialer,
		BufferSize:       cfg.BufferSize,
		CloseOnMalformed: cfg.CloseOnMalformed(),
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", cfg.Listen, err)
	}
	var sln net.Listener
	if cfg.StatsListen != "" {
		sln, err = net.Listen("tcp", cfg.StatsListen)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("unable to listen on %s: %w", cfg.StatsListen, err)
		}
		logger.Info("stats listening", "addr", sln.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Serve(gctx, ln)
	})
	if sln != nil {
		g.Go(func() error {
			return stats.Serve(gctx, sln, stats.NewHandler(filter, dialer, logger))
		})
	}

	start := time.Now()
	err = g.Wait()
	snap := filter.Stats().Snapshot()
	logger.Info("proxy stopped",
		"uptime", time.Since(start).Truncate(time.Second).String(),
		"records_parsed", snap.RecordsParsed,
		"records_failed", snap.RecordsFailed,
		"bytes_forwarded", snap.BytesForwarded)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
