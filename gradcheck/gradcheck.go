// Package gradcheck verifies kernel backward functions against central
// difference approximations of their forward functions.
//
// Each check builds a one-node graph over random inputs and reduces the node
// output to a scalar with random weights w, L = Σ w·C. The analytic gradient
// comes from seeding dC = w and running the backward executor; the numeric one
// from evaluating L at x±ε for every input element.
package gradcheck

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/sbl8/tinyengine/core"
	"github.com/sbl8/tinyengine/kernels"
	"github.com/sbl8/tinyengine/model"
	"github.com/sbl8/tinyengine/runtime"
)

// Config controls the numeric differentiation and the acceptance rule. An
// element passes when |analytic - numeric| <= ATol + RTol*|numeric|.
type Config struct {
	Epsilon float64
	RTol    float64
	ATol    float64
	Seed    uint64
}

func DefaultConfig() Config {
	return Config{Epsilon: 1e-6, RTol: 1e-3, ATol: 1e-4, Seed: 1}
}

// Result is the outcome for one input of one kernel.
type Result struct {
	Op        kernels.Op
	Input     int
	Shape     []int64
	MaxAbsErr float64
	MaxRelErr float64
	Passed    bool
}

// DefaultShapes returns small input shapes suitable for k.
func DefaultShapes(k *kernels.Kernel) [][]int64 {
	if k.Op == kernels.OpMatMul {
		return [][]int64{{2, 3}, {3, 4}}
	}
	shapes := make([][]int64, k.Arity)
	for i := range shapes {
		shapes[i] = []int64{2, 3}
	}
	return shapes
}

// CheckAll checks every registered kernel with its default shapes.
func CheckAll(cfg Config) []Result {
	var results []Result
	for _, k := range kernels.Kernels() {
		results = append(results, Check(k.Op, DefaultShapes(k), cfg)...)
	}
	return results
}

// Check compares analytic and numeric gradients of op for inputs of the given
// shapes, one Result per input. Input values are drawn from [-2, 2).
func Check(op kernels.Op, shapes [][]int64, cfg Config) []Result {
	k := kernels.Lookup(op)
	if len(shapes) != k.Arity {
		core.Fatalf(core.ErrArity, "gradcheck: %s takes %d inputs, got %d shapes", k.Name, k.Arity, len(shapes))
	}
	r := rand.New(rand.NewPCG(cfg.Seed, uint64(op)))

	var inElems int
	for _, s := range shapes {
		inElems += elems(s)
	}
	params := core.NewArena(arenaSize(inElems))
	inputs := make([]*core.Tensor, len(shapes))
	for i, s := range shapes {
		t := core.NewTensor(params, s...)
		for j := range t.Data {
			t.Data[j] = sample(r)
		}
		t.EnsureGrad(params)
		inputs[i] = t
	}

	scratch := core.NewArena(arenaSize(elems(k.Infer(inputs))))
	g := model.NewGraph(scratch)
	ids := make([]model.NodeID, len(inputs))
	for i, t := range inputs {
		ids[i] = g.AddInput(t)
	}
	out := g.AddNode(op, ids...)
	o := model.Schedule(g)

	weights := make([]float64, len(out.Data))
	for i := range weights {
		weights[i] = sample(r)
	}
	objective := func() float64 {
		runtime.Forward(o)
		return floats.Dot(weights, out.Data)
	}

	objective()
	copy(out.EnsureGrad(scratch).Data, weights)
	runtime.Backward(o, out)

	results := make([]Result, len(inputs))
	for i, t := range inputs {
		numeric := make([]float64, len(t.Data))
		for j, v := range t.Data {
			t.Data[j] = v + cfg.Epsilon
			plus := objective()
			t.Data[j] = v - cfg.Epsilon
			minus := objective()
			t.Data[j] = v
			numeric[j] = (plus - minus) / (2 * cfg.Epsilon)
		}
		results[i] = compare(op, i, t, numeric, cfg)
	}
	return results
}

func compare(op kernels.Op, input int, t *core.Tensor, numeric []float64, cfg Config) Result {
	res := Result{Op: op, Input: input, Shape: t.Dims(), Passed: true}
	if len(numeric) == 0 {
		return res
	}

	diff := make([]float64, len(numeric))
	floats.SubTo(diff, t.Grad.Data, numeric)
	res.MaxAbsErr = floats.Norm(diff, math.Inf(1))

	for i, d := range diff {
		d = math.Abs(d)
		res.MaxRelErr = max(res.MaxRelErr, d/max(1, math.Abs(numeric[i])))
		if d > cfg.ATol+cfg.RTol*math.Abs(numeric[i]) {
			res.Passed = false
		}
	}
	return res
}

// sample draws from [-2, 2), keeping clear of 0 where ReLU has its kink.
func sample(r *rand.Rand) float64 {
	v := r.Float64()*4 - 2
	if math.Abs(v) < 1e-2 {
		v += 0.1
	}
	return v
}

func elems(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

// arenaSize covers n floats plus their gradients.
func arenaSize(n int) uintptr {
	return uintptr(2*n*core.FloatSize + core.CacheLineSize)
}
