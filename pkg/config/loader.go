// Package config loads jsonflt configuration from YAML, JSON or CUE files,
// using CUE as the parser for all three.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/encoding/yaml"
)

// LoadValueFromReader parses YAML (and therefore JSON) from r.
func LoadValueFromReader(r io.Reader) (cue.Value, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to read config: %w", err)
	}
	return buildYAML(cuecontext.New(), "", data)
}

// LoadValue loads a configuration file or directory as a CUE value.
//
// Directories and .cue files are loaded as CUE instances, so imports work.
// Anything else is read as a data file: .json is compiled directly, every
// other extension is parsed as YAML.
func LoadValue(path string) (cue.Value, error) {
	info, err := os.Stat(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to stat path: %w", err)
	}

	return loadValue(cuecontext.New(), path, info)
}

// LoadAndUnifyPaths loads every file matching patterns and unifies them into
// one value. Patterns may be globs; paths that do not exist are skipped.
// Conflicting values are an error. No matches yields an empty struct.
func LoadAndUnifyPaths(patterns []string) (cue.Value, error) {
	ctx := cuecontext.New()
	out := ctx.CompileString("{}")

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return cue.Value{}, fmt.Errorf("invalid config pattern %q: %w", pattern, err)
		}
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			val, err := loadValue(ctx, path, info)
			if err != nil {
				return cue.Value{}, fmt.Errorf("%s: %w", path, err)
			}
			out = out.Unify(val)
		}
	}
	if err := out.Validate(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to unify config: %w", err)
	}
	return out, nil
}

func loadValue(ctx *cue.Context, path string, info os.FileInfo) (cue.Value, error) {
	if info.IsDir() || strings.EqualFold(filepath.Ext(path), ".cue") {
		return loadInstance(ctx, path, info.IsDir())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to read file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return checked(ctx.CompileBytes(data, cue.Filename(path)))
	}
	return buildYAML(ctx, path, data)
}

// LoadFromFile loads path and decodes it into a new T.
func LoadFromFile[T any](path string) (*T, error) {
	val, err := LoadValue(path)
	if err != nil {
		return nil, err
	}
	var out T
	if err := val.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &out, nil
}

func loadInstance(ctx *cue.Context, path string, dir bool) (cue.Value, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to resolve path: %w", err)
	}

	arg := abs
	if dir {
		arg = path
	}
	instances := load.Instances([]string{arg}, &load.Config{
		Dir:       filepath.Dir(abs),
		DataFiles: true,
	})
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no instances loaded from %s", path)
	}
	if err := instances[0].Err; err != nil {
		return cue.Value{}, fmt.Errorf("failed to load config: %w", err)
	}
	return checked(ctx.BuildInstance(instances[0]))
}

func buildYAML(ctx *cue.Context, name string, data []byte) (cue.Value, error) {
	file, err := yaml.Extract(name, data)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return checked(ctx.BuildFile(file))
}

func checked(val cue.Value) (cue.Value, error) {
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to build CUE value: %w", err)
	}
	return val, nil
}
