package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/epithet-ssh/jsonflt/pkg/jsonrec"
	"github.com/epithet-ssh/jsonflt/pkg/recordfilter"
	"github.com/epithet-ssh/jsonflt/pkg/ringbuf"
)

// session is one client connection and its upstream.
type session struct {
	client   net.Conn
	upstream net.Conn
	buf      *ringbuf.Buffer
	filter   *recordfilter.Filter
	strict   bool
	log      *slog.Logger
}

type closeWriter interface {
	CloseWrite() error
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
}

func (r *Relay) handle(ctx context.Context, client net.Conn) {
	defer client.Close()

	id := fmt.Sprintf("%s#%d", client.RemoteAddr(), r.seq.Add(1))
	log := r.log.With("conn", id)

	up, backend, err := r.cfg.Dialer.DialContext(ctx)
	if err != nil {
		log.Warn("unable to reach upstream", "error", err)
		return
	}
	defer up.Close()
	log = log.With("upstream", backend.Address)

	r.active.Add(1)
	defer r.active.Add(-1)

	// Shutdown unblocks both directions.
	stop := context.AfterFunc(ctx, func() {
		_ = client.Close()
		_ = up.Close()
	})
	defer stop()

	s := &session{
		client:   client,
		upstream: up,
		buf:      ringbuf.New(r.cfg.BufferSize),
		filter:   r.cfg.Filter,
		strict:   r.cfg.CloseOnMalformed,
		log:      log,
	}

	s.filter.Attach(id)
	defer s.filter.Detach(id)
	log.Debug("session started")

	responses := make(chan error, 1)
	go func() {
		_, err := io.Copy(client, up)
		closeWrite(client)
		responses <- err
	}()

	err = s.pump()
	switch {
	case err == nil:
		closeWrite(up)
	case ctx.Err() != nil:
		log.Debug("session interrupted by shutdown")
		_ = up.Close()
	case errors.Is(err, ErrRecordTooLarge), errors.Is(err, ErrMalformedInput):
		log.Warn("closing client", "error", err)
		_ = up.Close()
	default:
		log.Info("session failed", "error", err)
		_ = up.Close()
	}

	if err := <-responses; err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug("response copy ended", "error", err)
	}
	log.Debug("session ended")
}

// pump moves client bytes upstream, record by record, until the client
// closes its side or an error occurs.
func (s *session) pump() error {
	for {
		n, err := s.buf.ReadFrom(s.client)
		if n > 0 {
			if ferr := s.forward(); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.finish()
				return nil
			}
			return err
		}
	}
}

// forward runs the filter over the pending bytes and writes whatever ends on
// a record boundary.
func (s *session) forward() error {
	res, err := s.filter.Analyze(s.buf.Bytes(), s.buf.Head(), s.buf.Len(), s.buf.Released())
	if err != nil {
		return err
	}

	s.buf.Release(res.Consumed)
	if s.buf.Released() > 0 {
		if _, err := s.buf.WriteTo(s.upstream); err != nil {
			return fmt.Errorf("write upstream: %w", err)
		}
	}

	if s.strict && errors.Is(res.Err, jsonrec.ErrMalformed) {
		return fmt.Errorf("%w: %w", ErrMalformedInput, res.Err)
	}
	if res.MoreData() {
		if s.buf.Free() == 0 {
			return fmt.Errorf("%w (%d bytes buffered)", ErrRecordTooLarge, s.buf.Len())
		}
		s.log.Log(context.Background(), recordfilter.LevelTrace, "waiting for more data", "pending", s.buf.Pending())
	}
	return nil
}

// finish drops a trailing partial record left when the client closes.
func (s *session) finish() {
	if pending := s.buf.Pending(); pending > 0 {
		s.log.Warn("dropping incomplete record at end of stream", "bytes", pending)
	}
	s.buf.Reset()
}
