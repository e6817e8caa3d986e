package main

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"github.com/alecthomas/kong"

	"github.com/epithet-ssh/jsonflt/pkg/config"
)

// loadedConfig carries the unified configuration from flag parsing to the
// commands. val is the zero Value when no --config was given.
type loadedConfig struct {
	paths []string
	val   cue.Value
}

// Relay decodes the relay settings from the loaded configuration.
func (l *loadedConfig) Relay() (*config.Relay, error) {
	if len(l.paths) == 0 {
		return &config.Relay{}, nil
	}
	return config.DecodeRelay(l.val)
}

// configPaths is the --config flag. Once parsed, it loads every path and
// installs a resolver so configuration values fill flags not set on the
// command line.
type configPaths []string

// BeforeResolve runs before the struct is populated, so the paths are read
// from the parse trace rather than from the receiver.
func (configPaths) BeforeResolve(ctx *kong.Context, trace *kong.Path, loaded *loadedConfig) error {
	paths, _ := ctx.FlagValue(trace.Flag).(configPaths)
	if len(paths) == 0 {
		return nil
	}
	val, err := config.LoadAndUnifyPaths(paths)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	loaded.paths = paths
	loaded.val = val
	ctx.AddResolver(cueResolver(val))
	return nil
}

// cueResolver looks flags up in val. A flag named buffer-size matches the
// key buffer_size; breaker-cooldown also matches breaker.cooldown.
func cueResolver(val cue.Value) kong.Resolver {
	return kong.ResolverFunc(func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		for _, path := range flagPaths(flag.Name) {
			v := val.LookupPath(cue.ParsePath(path))
			if !v.Exists() {
				continue
			}
			return scalar(v, path)
		}
		return nil, nil
	})
}

func flagPaths(name string) []string {
	flat := strings.ReplaceAll(name, "-", "_")
	paths := []string{flat}
	if i := strings.IndexByte(name, '-'); i > 0 {
		paths = append(paths, name[:i]+"."+strings.ReplaceAll(name[i+1:], "-", "_"))
	}
	return paths
}

// scalar converts a concrete CUE value into something kong can decode.
// Lists and structs are left to the commands that decode them directly.
func scalar(v cue.Value, path string) (any, error) {
	switch v.Kind() {
	case cue.StringKind:
		return v.String()
	case cue.IntKind:
		return v.Int64()
	case cue.FloatKind:
		return v.Float64()
	case cue.BoolKind:
		return v.Bool()
	case cue.ListKind, cue.StructKind:
		return nil, nil
	default:
		return nil, fmt.Errorf("config key %s: unsupported value %v", path, v)
	}
}
