// Package envconfig reads engine settings from TINYENGINE_* environment
// variables. Every getter re-reads the environment, so tests can use
// t.Setenv.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const (
	defaultArenaSize      = 64 << 20
	defaultParamArenaSize = 16 << 20
)

var (
	// ArenaSize is the size in bytes of the per-step scratch arena.
	ArenaSize = Uint64("TINYENGINE_ARENA_SIZE", defaultArenaSize)
	// ParamArenaSize is the size in bytes of the long-lived parameter arena.
	ParamArenaSize = Uint64("TINYENGINE_PARAM_ARENA_SIZE", defaultParamArenaSize)
	// NumWorkers is the worker count of the concurrent forward executor.
	NumWorkers = Uint("TINYENGINE_NUM_WORKERS", uint(runtime.NumCPU()))
	// Parallel selects the concurrent forward executor.
	Parallel = Bool("TINYENGINE_PARALLEL")
	// Stats enables execution statistics.
	Stats = Bool("TINYENGINE_STATS")
)

// LogLevel returns the log level from TINYENGINE_DEBUG: unset or false is
// INFO, true or 1 is DEBUG, 2 is TRACE.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("TINYENGINE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var returns the trimmed value of key with surrounding quotes removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// BoolWithDefault returns a getter for a boolean variable. A value that does
// not parse counts as true.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"TINYENGINE_DEBUG":            {"TINYENGINE_DEBUG", LogLevel(), "Show additional debug information (e.g. TINYENGINE_DEBUG=1)"},
		"TINYENGINE_ARENA_SIZE":       {"TINYENGINE_ARENA_SIZE", ArenaSize(), "Scratch arena size in bytes (default 64 MiB)"},
		"TINYENGINE_PARAM_ARENA_SIZE": {"TINYENGINE_PARAM_ARENA_SIZE", ParamArenaSize(), "Parameter arena size in bytes (default 16 MiB)"},
		"TINYENGINE_NUM_WORKERS":      {"TINYENGINE_NUM_WORKERS", NumWorkers(), "Workers of the concurrent forward pass (default: number of CPUs)"},
		"TINYENGINE_PARALLEL":         {"TINYENGINE_PARALLEL", Parallel(), "Run the forward pass concurrently"},
		"TINYENGINE_STATS":            {"TINYENGINE_STATS", Stats(), "Record kernel execution statistics"},
	}
}

// Values returns every setting formatted as a string.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
