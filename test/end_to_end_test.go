package test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/require"

	"github.com/epithet-ssh/jsonflt/pkg/config"
	"github.com/epithet-ssh/jsonflt/pkg/recordfilter"
	"github.com/epithet-ssh/jsonflt/pkg/relay"
	"github.com/epithet-ssh/jsonflt/pkg/stats"
	"github.com/epithet-ssh/jsonflt/pkg/upstream"
	"github.com/epithet-ssh/jsonflt/test/collector"
)

type stack struct {
	relay   *relay.Relay
	filter  *recordfilter.Filter
	dialer  *upstream.Dialer
	stats   *httptest.Server
	cancel  context.CancelFunc
	stopped chan struct{}
}

// startStack builds the proxy from a YAML document the way the CLI does.
func startStack(t *testing.T, yaml string) *stack {
	t.Helper()
	logger := slog.New(tint.NewHandler(t.Output(), &tint.Options{Level: slog.LevelInfo, TimeFormat: "15:04:05"}))

	val, err := config.LoadValueFromReader(strings.NewReader(yaml))
	require.NoError(t, err)
	cfg, err := config.DecodeRelay(val)
	require.NoError(t, err)
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	strategy, err := cfg.StrategyValue()
	require.NoError(t, err)
	filter, err := recordfilter.New(strategy,
		recordfilter.WithName(cfg.Name),
		recordfilter.WithProxyID("e2e"),
		recordfilter.WithMaxDepth(cfg.MaxDepth),
		recordfilter.WithLogger(logger))
	require.NoError(t, err)

	var backends []upstream.Backend
	for _, u := range cfg.Upstreams {
		backends = append(backends, upstream.Backend{Address: u.Address, Priority: u.Priority})
	}
	dialer, err := upstream.NewDialer(backends,
		upstream.WithFailures(cfg.Breaker.Failures),
		upstream.WithCooldown(cfg.CooldownValue()),
		upstream.WithDialTimeout(cfg.DialTimeoutValue()),
		upstream.WithLogger(logger))
	require.NoError(t, err)

	r, err := relay.New(relay.Config{
		Filter:           filter,
		Dialer:           dialer,
		BufferSize:       cfg.BufferSize,
		CloseOnMalformed: cfg.CloseOnMalformed(),
		Logger:           logger,
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := &stack{
		relay:   r,
		filter:  filter,
		dialer:  dialer,
		stats:   httptest.NewServer(stats.NewHandler(filter, dialer, logger)),
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go func() {
		defer close(s.stopped)
		_ = r.Serve(ctx, ln)
	}()
	t.Cleanup(s.stop)

	require.Eventually(t, func() bool { return r.Addr() != nil }, time.Second, 5*time.Millisecond)
	return s
}

func (s *stack) stop() {
	s.cancel()
	<-s.stopped
	s.stats.Close()
}

func (s *stack) report(t *testing.T) stats.Report {
	t.Helper()
	resp, err := http.Get(s.stats.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rep stats.Report
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &rep))
	return rep
}

type event struct {
	Client int      `json:"client"`
	Seq    int      `json:"seq"`
	Host   string   `json:"host"`
	Tags   []string `json:"tags"`
	Nested struct {
		Msg string `json:"msg"`
	} `json:"nested"`
}

func records(t *testing.T, client, n int) []string {
	t.Helper()
	out := make([]string, n)
	for i := range out {
		e := event{Client: client, Seq: i, Host: fmt.Sprintf("web-%02d", client), Tags: []string{"a", "é", "\"q\""}}
		e.Nested.Msg = strings.Repeat("x", i%17)
		b, err := json.Marshal(e)
		require.NoError(t, err)
		out[i] = string(b)
	}
	return out
}

// send writes the records in randomly sized pieces so record boundaries fall
// anywhere within a read.
func send(t *testing.T, addr string, lines []string, seed uint64) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	rng := rand.New(rand.NewPCG(seed, seed))
	data := []byte(strings.Join(lines, "\n") + "\n")
	for len(data) > 0 {
		n := min(1+rng.IntN(40), len(data))
		_, err := conn.Write(data[:n])
		require.NoError(t, err)
		data = data[n:]
		if rng.IntN(4) == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	_, _ = io.Copy(io.Discard, conn)
}

func Test_EndToEnd_FailoverAndStats(t *testing.T) {
	// The primary is a port nobody listens on.
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.Addr().String()
	dead.Close()

	backup, err := collector.Start()
	require.NoError(t, err)
	defer backup.Close()

	s := startStack(t, fmt.Sprintf(`
name: e2e
strategy: json
buffer_size: 512
upstreams:
  - address: %q
    priority: 200
  - address: %q
    priority: 100
breaker:
  failures: 1
  cooldown: "1m"
`, deadAddr, backup.Addr()))

	want := records(t, 1, 200)
	send(t, s.relay.Addr().String(), want, 1)

	require.Eventually(t, func() bool {
		return len(backup.Lines()) == len(want)
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, want, backup.Lines())
	require.Empty(t, backup.Invalid())

	rep := s.report(t)
	require.Equal(t, "e2e/e2e", rep.Filter)
	require.Equal(t, int64(len(want)), rep.Counters.RecordsParsed)
	require.Len(t, rep.Upstreams, 2)
	require.Equal(t, deadAddr, rep.Upstreams[0].Address)
	require.Equal(t, "open", rep.Upstreams[0].State)
	require.Equal(t, "closed", rep.Upstreams[1].State)

	resp, err := http.Get(s.stats.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func Test_EndToEnd_ConcurrentClients(t *testing.T) {
	for _, strategy := range []string{"json", "newline", "newlinesimd"} {
		t.Run(strategy, func(t *testing.T) {
			up, err := collector.Start()
			require.NoError(t, err)
			defer up.Close()

			s := startStack(t, fmt.Sprintf("strategy: %s\nbuffer_size: 300\nupstreams:\n  - address: %q\n", strategy, up.Addr()))

			const clients = 8
			var wg sync.WaitGroup
			for c := 0; c < clients; c++ {
				wg.Add(1)
				go func(c int) {
					defer wg.Done()
					send(t, s.relay.Addr().String(), records(t, c, 100), uint64(c+1))
				}(c)
			}
			wg.Wait()

			require.Eventually(t, func() bool {
				return len(up.Lines()) == clients*100
			}, 10*time.Second, 10*time.Millisecond)
			require.Empty(t, up.Invalid())

			// Records from one client keep their order.
			next := make(map[int]int)
			for _, line := range up.Lines() {
				var e event
				require.NoError(t, json.Unmarshal([]byte(line), &e))
				require.Equal(t, next[e.Client], e.Seq)
				next[e.Client]++
			}
			require.Equal(t, clients, up.Conns())
		})
	}
}

func Test_EndToEnd_NoopForwardsPartialRecords(t *testing.T) {
	up, err := collector.Start()
	require.NoError(t, err)
	defer up.Close()

	s := startStack(t, fmt.Sprintf("strategy: noop\nupstreams:\n  - address: %q\n", up.Addr()))

	conn, err := net.Dial("tcp", s.relay.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"a":1}` + "\n" + `{"b":`))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	_, _ = io.Copy(io.Discard, conn)
	conn.Close()

	require.Eventually(t, func() bool {
		return len(up.Lines()) == 1 && len(up.Invalid()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{`{"b":`}, up.Invalid())
}
