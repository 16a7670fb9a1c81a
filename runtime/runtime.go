// Package runtime executes scheduled computation graphs.
//
// Forward and Backward are the sequential executors: Forward walks an Order
// and runs each kernel's forward function, Backward walks it in reverse and
// accumulates gradients from a caller-seeded loss. ParallelForward is the
// concurrent variant of Forward and produces identical results.
//
// Engine wraps the executors into a training step:
//  1. Reset the scratch arena
//  2. Build a fresh graph through the caller's BuildFunc
//  3. Schedule it
//  4. Run forward, sequentially or on a worker pool
//  5. Seed the loss gradient and run backward
//  6. Record execution statistics
//
// Parameters live in a separate arena owned by the Engine and survive every
// step; the optimizer reads their gradients after Step returns.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sbl8/tinyengine/core"
	"github.com/sbl8/tinyengine/envconfig"
	"github.com/sbl8/tinyengine/kernels"
	"github.com/sbl8/tinyengine/model"
)

// Options configures an Engine.
type Options struct {
	ArenaSize      uintptr // scratch arena, reset every step
	ParamArenaSize uintptr // parameter arena, never reset
	Workers        int
	Parallel       bool
	EnableStats    bool
}

// ExecutionStats tracks step counts and timings.
type ExecutionStats struct {
	TotalSteps       int64
	AverageLatency   time.Duration
	KernelExecutions map[string]int64
	PeakArenaBytes   uintptr
	ArenaUtilization float64
}

// DefaultOptions reads the options from the environment.
func DefaultOptions() Options {
	return Options{
		ArenaSize:      uintptr(envconfig.ArenaSize()),
		ParamArenaSize: uintptr(envconfig.ParamArenaSize()),
		Workers:        int(envconfig.NumWorkers()),
		Parallel:       envconfig.Parallel(),
		EnableStats:    envconfig.Stats(),
	}
}

// BuildFunc adds the nodes of one step to g and returns the loss node.
type BuildFunc func(g *model.Graph) model.NodeID

// SeedFunc writes the initial gradient of loss into grad.
type SeedFunc func(loss, grad *core.Tensor)

// SeedOnes seeds every element of the loss gradient with 1, the gradient of
// the sum of the loss elements.
func SeedOnes(_, grad *core.Tensor) {
	grad.Fill(1)
}

// Engine runs training steps over a scratch arena and a parameter arena.
type Engine struct {
	scratch *core.Arena
	params  *core.Arena
	opts    Options
	stats   ExecutionStats
	mu      sync.RWMutex
}

// NewEngine reserves both arenas. Zero sizes and worker counts in opts are
// replaced with the environment defaults.
func NewEngine(opts *Options) *Engine {
	engineOpts := DefaultOptions()
	if opts != nil {
		defaults := engineOpts
		engineOpts = *opts
		if engineOpts.ArenaSize == 0 {
			engineOpts.ArenaSize = defaults.ArenaSize
		}
		if engineOpts.ParamArenaSize == 0 {
			engineOpts.ParamArenaSize = defaults.ParamArenaSize
		}
		if engineOpts.Workers <= 0 {
			engineOpts.Workers = defaults.Workers
		}
	}
	engineOpts.Workers = max(1, engineOpts.Workers)

	return &Engine{
		scratch: core.NewArena(engineOpts.ArenaSize),
		params:  core.NewArena(engineOpts.ParamArenaSize),
		opts:    engineOpts,
		stats:   ExecutionStats{KernelExecutions: make(map[string]int64)},
	}
}

// Options returns the effective options of the engine.
func (e *Engine) Options() Options {
	return e.opts
}

// Scratch returns the per-step arena.
func (e *Engine) Scratch() *core.Arena {
	return e.scratch
}

// Params returns the parameter arena.
func (e *Engine) Params() *core.Arena {
	return e.params
}

// ArenaBytes returns the combined capacity of both arenas.
func (e *Engine) ArenaBytes() int {
	return int(e.scratch.Cap() + e.params.Cap())
}

// NewParam allocates a parameter tensor holding values, together with a zeroed
// gradient, from the parameter arena.
func (e *Engine) NewParam(values []float64, shape ...int64) *core.Tensor {
	t := core.NewTensorFrom(e.params, values, shape...)
	t.EnsureGrad(e.params)
	return t
}

// Step runs one training iteration and returns the loss tensor. The loss and
// every other tensor of the step stay valid until the next call to Step. A nil
// seed selects SeedOnes.
func (e *Engine) Step(ctx context.Context, build BuildFunc, seed SeedFunc) (*core.Tensor, error) {
	if build == nil {
		core.Fatalf(core.ErrNilReference, "engine: nil build function")
	}
	if seed == nil {
		seed = SeedOnes
	}
	start := time.Now()

	e.scratch.Reset()
	g := model.NewGraph(e.scratch)
	lossID := build(g)
	o := model.Schedule(g)

	if e.opts.Parallel {
		if err := ParallelForward(ctx, o, e.opts.Workers); err != nil {
			return nil, fmt.Errorf("forward: %w", err)
		}
	} else {
		Forward(o)
	}

	loss := g.Tensor(lossID)
	seed(loss, loss.EnsureGrad(e.scratch))
	Backward(o, loss)

	e.updateExecutionStats(o, start)
	slog.Debug("step complete", "nodes", o.Len(), "arena_used", e.scratch.Used(), "duration", time.Since(start))
	return loss, nil
}

// Stats returns a copy of the execution statistics.
func (e *Engine) Stats() ExecutionStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := e.stats
	stats.KernelExecutions = make(map[string]int64, len(e.stats.KernelExecutions))
	for k, v := range e.stats.KernelExecutions {
		stats.KernelExecutions[k] = v
	}

	return stats
}

func (e *Engine) updateExecutionStats(o *model.Order, start time.Time) {
	if !e.opts.EnableStats {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, n := range o.Nodes() {
		if n.Op != kernels.OpInput {
			e.stats.KernelExecutions[n.Op.String()]++
		}
	}

	e.stats.TotalSteps++
	duration := time.Since(start)
	if e.stats.TotalSteps == 1 {
		e.stats.AverageLatency = duration
	} else {
		oldTotal := e.stats.TotalSteps - 1
		e.stats.AverageLatency = time.Duration((int64(e.stats.AverageLatency)*oldTotal + int64(duration)) / e.stats.TotalSteps)
	}

	e.stats.PeakArenaBytes = e.scratch.Peak()
	e.stats.ArenaUtilization = float64(e.scratch.Peak()) / float64(e.scratch.Cap())
}
