package gradcheck

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/tinyengine/core"
	"github.com/sbl8/tinyengine/kernels"
)

// leakyOp carries a kernel with a deliberately wrong backward.
const leakyOp = kernels.Op(kernels.MaxOps - 1)

func TestMain(m *testing.M) {
	kernels.RegisterBuiltins()
	os.Exit(m.Run())
}

func TestBuiltinKernels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		op     kernels.Op
		shapes [][]int64
	}{
		{kernels.OpAdd, [][]int64{{2, 3}, {2, 3}}},
		{kernels.OpSub, [][]int64{{2, 3}, {2, 3}}},
		{kernels.OpMul, [][]int64{{2, 3}, {2, 3}}},
		{kernels.OpMatMul, [][]int64{{2, 3}, {3, 4}}},
		{kernels.OpMatMul, [][]int64{{1, 5}, {5, 1}}},
		{kernels.OpReLU, [][]int64{{2, 3}}},
		{kernels.OpReLU, [][]int64{{7}}},
		{kernels.OpSoftmax, [][]int64{{2, 3}}},
		{kernels.OpSoftmax, [][]int64{{4}}},
		{kernels.OpSoftmax, [][]int64{{3, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			for seed := uint64(1); seed <= 5; seed++ {
				cfg := DefaultConfig()
				cfg.Seed = seed
				results := Check(tt.op, tt.shapes, cfg)
				require.Len(t, results, len(tt.shapes))
				for _, res := range results {
					assert.True(t, res.Passed, "seed %d input %d shape %v: max abs err %g", seed, res.Input, res.Shape, res.MaxAbsErr)
					assert.Equal(t, tt.op, res.Op)
				}
			}
		})
	}
}

func TestCheckAll(t *testing.T) {
	t.Parallel()
	var results []Result
	for _, res := range CheckAll(DefaultConfig()) {
		if res.Op != leakyOp {
			results = append(results, res)
		}
	}
	// add, sub, mul, matmul: two inputs each; relu, softmax: one.
	assert.Len(t, results, 10)
	for _, res := range results {
		assert.True(t, res.Passed, "%s input %d", res.Op, res.Input)
		assert.Less(t, res.MaxRelErr, 1e-3)
	}
}

func TestDetectsWrongBackward(t *testing.T) {
	relu := kernels.Lookup(kernels.OpReLU)
	leaky := &kernels.Kernel{
		Op:      leakyOp,
		Name:    "leaky",
		Arity:   1,
		Infer:   relu.Infer,
		Forward: relu.Forward,
		// Claims a slope of 0.5 on the negative side that forward does not have.
		Backward: func(n kernels.Node) {
			a := n.Input(0)
			gc := n.Output().Grad.Data
			for i, v := range a.Data {
				if v > 0 {
					a.Grad.Data[i] += gc[i]
				} else {
					a.Grad.Data[i] += 0.5 * gc[i]
				}
			}
		},
	}
	if !kernels.Registered(leakyOp) {
		kernels.Register(leaky)
	}

	results := Check(leakyOp, [][]int64{{4, 4}}, DefaultConfig())
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Greater(t, results[0].MaxAbsErr, 1e-2)
}

func TestCheckArity(t *testing.T) {
	t.Parallel()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected fatal")
		err, ok := r.(error)
		require.True(t, ok)
		require.ErrorIs(t, err, core.ErrArity)
	}()
	Check(kernels.OpAdd, [][]int64{{2, 2}}, DefaultConfig())
}

func TestDefaultShapes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, [][]int64{{2, 3}, {3, 4}}, DefaultShapes(kernels.Lookup(kernels.OpMatMul)))
	assert.Equal(t, [][]int64{{2, 3}}, DefaultShapes(kernels.Lookup(kernels.OpSoftmax)))
	assert.Equal(t, [][]int64{{2, 3}, {2, 3}}, DefaultShapes(kernels.Lookup(kernels.OpSub)))
}
