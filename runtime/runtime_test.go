package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/tinyengine/core"
	"github.com/sbl8/tinyengine/model"
)

func testOptions() *Options {
	return &Options{
		ArenaSize:      1 << 16,
		ParamArenaSize: 1 << 12,
		Workers:        2,
		EnableStats:    true,
	}
}

func TestNewEngine(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testOptions())
	require.NotNil(t, engine)

	assert.Equal(t, uintptr(1<<16), engine.Scratch().Cap())
	assert.Equal(t, uintptr(1<<12), engine.Params().Cap())
	assert.Equal(t, 1<<16+1<<12, engine.ArenaBytes())
	assert.Equal(t, 2, engine.Options().Workers)
}

func TestEngineDefaults(t *testing.T) {
	t.Setenv("TINYENGINE_ARENA_SIZE", "8192")
	t.Setenv("TINYENGINE_PARAM_ARENA_SIZE", "4096")
	t.Setenv("TINYENGINE_NUM_WORKERS", "3")
	t.Setenv("TINYENGINE_PARALLEL", "true")

	engine := NewEngine(nil)
	opts := engine.Options()
	assert.Equal(t, uintptr(8192), opts.ArenaSize)
	assert.Equal(t, uintptr(4096), opts.ParamArenaSize)
	assert.Equal(t, 3, opts.Workers)
	assert.True(t, opts.Parallel)
	assert.False(t, opts.EnableStats)

	// Zero fields fall back to the environment.
	engine = NewEngine(&Options{ArenaSize: 1024})
	assert.Equal(t, uintptr(1024), engine.Options().ArenaSize)
	assert.Equal(t, uintptr(4096), engine.Options().ParamArenaSize)
	assert.Equal(t, 3, engine.Options().Workers)
	assert.False(t, engine.Options().Parallel)
}

func TestEngineNewParam(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testOptions())
	w := engine.NewParam([]float64{1, 2, 3, 4, 5, 6}, 2, 3)

	assert.Equal(t, []int64{2, 3}, w.Dims())
	require.NotNil(t, w.Grad)
	assert.Equal(t, make([]float64, 6), w.Grad.Data)
	assert.Equal(t, uintptr(0), engine.Scratch().Used())
}

// regression fits y = x·w with a squared-error loss.
type regression struct {
	w       *core.Tensor
	x, y    []float64
	samples int64
}

func (r *regression) build(g *model.Graph) model.NodeID {
	a := g.Arena()
	x := g.AddInput(core.NewTensorFrom(a, r.x, r.samples, 2))
	y := g.AddInput(core.NewTensorFrom(a, r.y, r.samples, 1))
	w := g.AddInput(r.w)
	diff := g.Sub(g.MatMul(x, w), y)
	return g.Mul(diff, diff)
}

func (r *regression) sgd(lr float64) {
	for i, g := range r.w.Grad.Data {
		r.w.Data[i] -= lr * g
	}
	r.w.ZeroGrad()
}

func sum(t *core.Tensor) float64 {
	var s float64
	for _, v := range t.Data {
		s += v
	}
	return s
}

func newRegression(engine *Engine) *regression {
	// y = 2*x0 - 3*x1
	return &regression{
		w:       engine.NewParam([]float64{0, 0}, 2, 1),
		x:       []float64{1, 0, 0, 1, 1, 1, 2, -1},
		y:       []float64{2, -3, -1, 7},
		samples: 4,
	}
}

func TestEngineTraining(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testOptions())
	r := newRegression(engine)
	ctx := context.Background()

	var losses []float64
	var used uintptr
	for step := 0; step < 200; step++ {
		loss, err := engine.Step(ctx, r.build, nil)
		require.NoError(t, err)
		losses = append(losses, sum(loss))
		r.sgd(0.05)

		if step == 0 {
			used = engine.Scratch().Used()
		}
		require.Equal(t, used, engine.Scratch().Used(), "step %d", step)
	}

	assert.Greater(t, losses[0], losses[len(losses)-1])
	assert.Less(t, losses[len(losses)-1], 1e-6)
	assert.InDelta(t, 2, r.w.Data[0], 1e-3)
	assert.InDelta(t, -3, r.w.Data[1], 1e-3)

	stats := engine.Stats()
	assert.Equal(t, int64(200), stats.TotalSteps)
	assert.Equal(t, int64(200), stats.KernelExecutions["matmul"])
	assert.Equal(t, int64(200), stats.KernelExecutions["sub"])
	assert.Equal(t, int64(200), stats.KernelExecutions["mul"])
	assert.NotContains(t, stats.KernelExecutions, "input")
	assert.Positive(t, stats.AverageLatency)
	assert.Equal(t, used, stats.PeakArenaBytes)
	assert.InDelta(t, float64(used)/float64(1<<16), stats.ArenaUtilization, 1e-12)
}

func TestEngineParallelMatchesSequential(t *testing.T) {
	t.Parallel()
	seqEngine := NewEngine(testOptions())
	parOpts := testOptions()
	parOpts.Parallel = true
	parEngine := NewEngine(parOpts)

	seq, par := newRegression(seqEngine), newRegression(parEngine)
	ctx := context.Background()
	for step := 0; step < 5; step++ {
		seqLoss, err := seqEngine.Step(ctx, seq.build, nil)
		require.NoError(t, err)
		parLoss, err := parEngine.Step(ctx, par.build, nil)
		require.NoError(t, err)

		assert.Equal(t, seqLoss.Data, parLoss.Data)
		assert.Equal(t, seq.w.Grad.Data, par.w.Grad.Data)
		seq.sgd(0.05)
		par.sgd(0.05)
	}
}

func TestEngineCustomSeed(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testOptions())
	w := engine.NewParam([]float64{1, 2, 3}, 3)

	build := func(g *model.Graph) model.NodeID {
		return g.ReLU(g.AddInput(w))
	}
	seed := func(loss, grad *core.Tensor) {
		assert.Same(t, loss.Grad, grad)
		grad.Data[1] = 1
	}

	_, err := engine.Step(context.Background(), build, seed)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0}, w.Grad.Data)
}

func TestEngineStepCanceled(t *testing.T) {
	t.Parallel()
	opts := testOptions()
	opts.Parallel = true
	engine := NewEngine(opts)
	r := newRegression(engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loss, err := engine.Step(ctx, r.build, nil)
	assert.Nil(t, loss)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, engine.Stats().TotalSteps)
}

func TestEngineStatsDisabled(t *testing.T) {
	t.Parallel()
	opts := testOptions()
	opts.EnableStats = false
	engine := NewEngine(opts)
	r := newRegression(engine)

	_, err := engine.Step(context.Background(), r.build, nil)
	require.NoError(t, err)
	stats := engine.Stats()
	assert.Zero(t, stats.TotalSteps)
	assert.Empty(t, stats.KernelExecutions)
}

func TestEngineNilBuild(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testOptions())
	requireFatal(t, core.ErrNilReference, func() { _, _ = engine.Step(context.Background(), nil, nil) })
}

func BenchmarkEngineStep(b *testing.B) {
	engine := NewEngine(testOptions())
	r := newRegression(engine)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Step(ctx, r.build, nil); err != nil {
			b.Fatal(err)
		}
		r.sgd(0.01)
	}
}
