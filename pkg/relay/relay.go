// Package relay accepts TCP clients and forwards their newline-delimited
// records upstream, releasing bytes only once a record filter has seen a
// complete record. Responses travel back unfiltered.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/epithet-ssh/jsonflt/pkg/recordfilter"
	"github.com/epithet-ssh/jsonflt/pkg/upstream"
)

var (
	// ErrRecordTooLarge means the buffer filled up without a record boundary.
	ErrRecordTooLarge = errors.New("relay: record larger than buffer")
	// ErrMalformedInput means the client sent a record that can never parse.
	ErrMalformedInput = errors.New("relay: malformed record")
)

// Dialer opens connections to an upstream.
type Dialer interface {
	DialContext(ctx context.Context) (net.Conn, upstream.Backend, error)
}

// Config configures a Relay.
type Config struct {
	Filter *recordfilter.Filter
	Dialer Dialer
	// BufferSize is the per-connection ring size, and so the largest record
	// that can be forwarded.
	BufferSize int
	// CloseOnMalformed drops a client as soon as one of its records is
	// malformed. Otherwise the relay keeps waiting for more data.
	CloseOnMalformed bool
	Logger           *slog.Logger
}

// Relay forwards filtered client streams to an upstream.
type Relay struct {
	cfg Config
	log *slog.Logger

	lock      sync.Mutex
	listener  net.Listener
	done      chan struct{}
	closeOnce sync.Once
	sessions  sync.WaitGroup

	seq    atomic.Uint64
	active atomic.Int64
}

// New validates cfg and creates a Relay. Call Serve to start accepting clients.
func New(cfg Config) (*Relay, error) {
	if cfg.Filter == nil {
		return nil, errors.New("relay: filter is required")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("relay: dialer is required")
	}
	if cfg.BufferSize < 2 {
		return nil, fmt.Errorf("relay: buffer size must be at least 2, got %d", cfg.BufferSize)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Relay{
		cfg:  cfg,
		log:  cfg.Logger,
		done: make(chan struct{}),
	}, nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (r *Relay) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to start relay listener: %w", err)
	}
	return r.Serve(ctx, ln)
}

// Serve accepts clients on ln and blocks until ctx is cancelled. It closes ln,
// waits for open sessions to end and returns ctx.Err().
func (r *Relay) Serve(ctx context.Context, ln net.Listener) error {
	r.lock.Lock()
	r.listener = ln
	r.lock.Unlock()

	r.log.Info("relay listening",
		"addr", ln.Addr().String(),
		"filter", r.cfg.Filter.Name(),
		"strategy", r.cfg.Filter.Strategy().Description(),
		"buffer_size", r.cfg.BufferSize)

	accepting := make(chan struct{})
	go func() {
		defer close(accepting)
		r.serve(ctx, ln)
	}()

	<-ctx.Done()
	r.Close()
	// No session can be added once the accept loop has returned.
	<-accepting
	r.sessions.Wait()

	return ctx.Err()
}

func (r *Relay) serve(ctx context.Context, ln net.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
				r.log.Warn("unable to accept connection", "error", err)
				continue
			}
		}

		r.sessions.Add(1)
		go func() {
			defer r.sessions.Done()
			r.handle(ctx, conn)
		}()
	}
}

// Addr returns the listening address, or nil before Serve is called.
func (r *Relay) Addr() net.Addr {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Active returns the number of open client sessions.
func (r *Relay) Active() int64 {
	return r.active.Load()
}

// Done is closed once the relay stops accepting clients.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Close stops accepting clients. Open sessions end when Serve's context is
// cancelled or their client disconnects.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		r.lock.Lock()
		if r.listener != nil {
			_ = r.listener.Close()
		}
		r.lock.Unlock()
		close(r.done)
	})
}

// Running reports whether the relay still accepts clients.
func (r *Relay) Running() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}
