package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/epithet-ssh/jsonflt/pkg/recordfilter"
)

var version = "dev"

// CLI is the root command.
type CLI struct {
	Config    configPaths `help:"Configuration files or globs (YAML, JSON or CUE). Values fill unset flags." short:"c" placeholder:"PATH"`
	Verbose   int         `help:"Increase log verbosity (-v info, -vv debug, -vvv trace)." short:"v" type:"counter"`
	LogFormat string      `help:"Log output format." enum:"text,json" default:"text" name:"log-format"`

	Proxy   ProxyCLI   `cmd:"" help:"Relay newline-delimited records from clients to upstreams."`
	Scan    ScanCLI    `cmd:"" help:"Push files through a record filter and report what it would forward."`
	Version VersionCLI `cmd:"" help:"Print the version."`
}

// VersionCLI prints the build version.
type VersionCLI struct{}

func (v *VersionCLI) Run(ctx *kong.Context) error {
	_, err := fmt.Fprintln(ctx.Stdout, version)
	return err
}

func main() {
	var cli CLI
	loaded := &loadedConfig{}

	ctx := kong.Parse(&cli,
		kong.Name("jsonflt"),
		kong.Description("Record-boundary filter for newline-delimited JSON streams."),
		kong.UsageOnError(),
		kong.Bind(loaded),
	)

	logger := newLogger(os.Stderr, cli.LogFormat, cli.Verbose)
	if len(loaded.paths) > 0 {
		logger.Debug("configuration loaded", "paths", loaded.paths)
	}

	err := ctx.Run(logger)
	ctx.FatalIfErrorf(err)
}

// levelFor maps the -v count to a log level.
func levelFor(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	case verbosity == 2:
		return slog.LevelDebug
	default:
		return recordfilter.LevelTrace
	}
}

// renameTrace prints the trace level as TRACE rather than DEBUG-4.
func renameTrace(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= recordfilter.LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

func newLogger(w io.Writer, format string, verbosity int) *slog.Logger {
	level := levelFor(verbosity)
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: renameTrace,
		}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:       level,
		TimeFormat:  time.TimeOnly,
		ReplaceAttr: renameTrace,
	}))
}
