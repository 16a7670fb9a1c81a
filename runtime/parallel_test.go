package runtime

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/tinyengine/core"
	"github.com/sbl8/tinyengine/kernels"
	"github.com/sbl8/tinyengine/model"
)

// buildWide builds a graph with several independent branches that are joined
// at the end, seeded so two calls produce identical graphs.
func buildWide(a *core.Arena, seed uint64) (*model.Graph, model.NodeID) {
	r := rand.New(rand.NewPCG(seed, seed+1))
	random := func(shape ...int64) *core.Tensor {
		t := core.NewTensor(a, shape...)
		for i := range t.Data {
			t.Data[i] = r.Float64()*2 - 1
		}
		return t
	}

	g := model.NewGraph(a)
	x := g.AddInput(random(8, 16))
	var branches []model.NodeID
	for i := 0; i < 6; i++ {
		w := g.AddInput(random(16, 16))
		h := g.ReLU(g.MatMul(x, w))
		v := g.AddInput(random(16, 16))
		branches = append(branches, g.Mul(g.MatMul(h, v), h))
	}
	out := branches[0]
	for _, b := range branches[1:] {
		out = g.Add(out, b)
	}
	return g, g.Softmax(out)
}

func TestParallelForwardMatchesSequential(t *testing.T) {
	t.Parallel()
	for _, workers := range []int{1, 2, 4, 16} {
		seqArena := core.NewArena(1 << 20)
		seq, seqOut := buildWide(seqArena, 42)
		Forward(model.Schedule(seq))

		parArena := core.NewArena(1 << 20)
		par, parOut := buildWide(parArena, 42)
		require.NoError(t, ParallelForward(context.Background(), model.Schedule(par), workers))

		for id := 0; id < seq.NodeCount(); id++ {
			want := seq.Tensor(model.NodeID(id)).Data
			got := par.Tensor(model.NodeID(id)).Data
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("workers=%d node %d mismatch (-want +got):\n%s", workers, id, diff)
			}
		}
		assert.Equal(t, seq.Tensor(seqOut).Data, par.Tensor(parOut).Data)
	}
}

func TestParallelForwardRepeatable(t *testing.T) {
	t.Parallel()
	a := core.NewArena(1 << 20)
	g, out := buildWide(a, 7)
	o := model.Schedule(g)

	require.NoError(t, ParallelForward(context.Background(), o, 4))
	first := append([]float64(nil), g.Tensor(out).Data...)
	for i := 0; i < 10; i++ {
		require.NoError(t, ParallelForward(context.Background(), o, 4))
		assert.Equal(t, first, g.Tensor(out).Data)
	}
}

func TestParallelForwardCanceled(t *testing.T) {
	t.Parallel()
	a := core.NewArena(1 << 20)
	g, _ := buildWide(a, 1)
	o := model.Schedule(g)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ParallelForward(ctx, o, 4), context.Canceled)
}

func TestParallelForwardFatal(t *testing.T) {
	t.Parallel()
	a := core.NewArena(1 << 20)
	g, out := buildWide(a, 3)
	o := model.Schedule(g)

	g.Node(out).Op = kernels.Op(kernels.MaxOps - 6)
	requireFatal(t, core.ErrUnregistered, func() {
		_ = ParallelForward(context.Background(), o, 4)
	})
}

func TestParallelForwardEmptyGraph(t *testing.T) {
	t.Parallel()
	g := model.NewGraph(core.NewArena(64))
	assert.NoError(t, ParallelForward(context.Background(), model.Schedule(g), 4))
}

func BenchmarkParallelForward(b *testing.B) {
	a := core.NewArena(1 << 20)
	g, _ := buildWide(a, 9)
	o := model.Schedule(g)
	ctx := context.Background()

	b.Run("sequential", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			Forward(o)
		}
	})
	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if err := ParallelForward(ctx, o, 4); err != nil {
				b.Fatal(err)
			}
		}
	})
}
