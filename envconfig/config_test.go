package envconfig

import (
	"log/slog"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"t":     slog.LevelDebug,
		"1":     slog.LevelDebug,
		"0":     slog.LevelInfo,
		"2":     slog.Level(-8),
		"3":     slog.Level(-12),
		"bogus": slog.LevelInfo,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("TINYENGINE_DEBUG", k)
			if i := LogLevel(); i != v {
				t.Errorf("%s: expected %d, got %d", k, v, i)
			}
		})
	}
}

func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"true":  true,
		"false": false,
		"1":     true,
		"0":     false,
		// invalid values
		"random":    true,
		"something": true,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("TINYENGINE_PARALLEL", k)
			if b := Parallel(); b != v {
				t.Errorf("%s: expected %t, got %t", k, v, b)
			}
		})
	}
}

func TestArenaSize(t *testing.T) {
	cases := map[string]uint64{
		"":         64 << 20,
		"1048576":  1 << 20,
		"  4096 ":  4096,
		"\"8192\"": 8192,
		"-1":       64 << 20,
		"lots":     64 << 20,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("TINYENGINE_ARENA_SIZE", k)
			assert.Equal(t, v, ArenaSize())
		})
	}
}

func TestNumWorkers(t *testing.T) {
	t.Setenv("TINYENGINE_NUM_WORKERS", "")
	assert.Equal(t, uint(runtime.NumCPU()), NumWorkers())

	t.Setenv("TINYENGINE_NUM_WORKERS", "3")
	assert.Equal(t, uint(3), NumWorkers())
}

func TestValues(t *testing.T) {
	t.Setenv("TINYENGINE_STATS", "1")
	t.Setenv("TINYENGINE_PARAM_ARENA_SIZE", "1024")

	vals := Values()
	assert.Equal(t, "true", vals["TINYENGINE_STATS"])
	assert.Equal(t, "1024", vals["TINYENGINE_PARAM_ARENA_SIZE"])
	assert.Len(t, vals, len(AsMap()))
}
