package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/sbl8/tinyengine/core"
	"github.com/sbl8/tinyengine/model"
	"github.com/sbl8/tinyengine/runtime"
)

// initScheme selects the distribution of initial weights.
type initScheme int

const (
	initXavierUniform initScheme = iota
	initXavierNormal
	initHeUniform
	initHeNormal
)

var initSchemes = map[string]initScheme{
	"xavier-uniform": initXavierUniform,
	"xavier-normal":  initXavierNormal,
	"he-uniform":     initHeUniform,
	"he-normal":      initHeNormal,
}

func parseInitScheme(s string) (initScheme, error) {
	if scheme, ok := initSchemes[s]; ok {
		return scheme, nil
	}

	names := make([]string, 0, len(initSchemes))
	for name := range initSchemes {
		names = append(names, name)
	}
	sort.Strings(names)
	return 0, fmt.Errorf("unknown init scheme %q, want one of %v", s, names)
}

func (s initScheme) String() string {
	for name, scheme := range initSchemes {
		if scheme == s {
			return name
		}
	}
	return fmt.Sprintf("init(%d)", int(s))
}

// fill draws w for a fanIn x fanOut weight matrix. Xavier scales by
// fanIn+fanOut, He by fanIn alone; uniform draws from [-limit, limit) with
// limit = sqrt(6/fan), normal from N(0, 2/fan).
func (s initScheme) fill(r *rand.Rand, w []float64, fanIn, fanOut int64) {
	fan := float64(max(1, fanIn))
	if s == initXavierUniform || s == initXavierNormal {
		fan = float64(max(1, fanIn+fanOut))
	}

	switch s {
	case initXavierUniform, initHeUniform:
		limit := math.Sqrt(6 / fan)
		for i := range w {
			w[i] = (2*r.Float64() - 1) * limit
		}
	default:
		std := math.Sqrt(2 / fan)
		for i := range w {
			w[i] = r.NormFloat64() * std
		}
	}
}

type mlpConfig struct {
	Batch      int64
	In         int64
	Hidden     int64
	Classes    int64
	Layers     int
	HiddenInit initScheme
	OutputInit initScheme
	Seed       uint64
}

type layer struct {
	w, b *core.Tensor
}

// mlp is a softmax classifier over synthetic data. Biases are stored per row
// because the add kernel does not broadcast.
type mlp struct {
	cfg    mlpConfig
	layers []layer
	x      []float64
	labels []int64
}

func newMLP(engine *runtime.Engine, cfg mlpConfig) *mlp {
	cfg.Layers = max(1, cfg.Layers)
	r := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	m := &mlp{cfg: cfg}
	dims := []int64{cfg.In}
	for range cfg.Layers - 1 {
		dims = append(dims, cfg.Hidden)
	}
	dims = append(dims, cfg.Classes)

	for i := range cfg.Layers {
		fanIn, fanOut := dims[i], dims[i+1]
		scheme := cfg.HiddenInit
		if i == cfg.Layers-1 {
			scheme = cfg.OutputInit
		}
		w := make([]float64, fanIn*fanOut)
		scheme.fill(r, w, fanIn, fanOut)
		m.layers = append(m.layers, layer{
			w: engine.NewParam(w, fanIn, fanOut),
			b: engine.NewParam(make([]float64, cfg.Batch*fanOut), cfg.Batch, fanOut),
		})
	}

	// Labels come from a fixed random projection so the data is learnable.
	proj := make([]float64, cfg.In*cfg.Classes)
	for j := range proj {
		proj[j] = r.NormFloat64()
	}
	m.x = make([]float64, cfg.Batch*cfg.In)
	for j := range m.x {
		m.x[j] = r.NormFloat64()
	}
	m.labels = make([]int64, cfg.Batch)
	scores := make([]float64, cfg.Classes)
	for i := range cfg.Batch {
		row := m.x[i*cfg.In : (i+1)*cfg.In]
		for c := range cfg.Classes {
			var s float64
			for k, v := range row {
				s += v * proj[int64(k)*cfg.Classes+c]
			}
			scores[c] = s
		}
		m.labels[i] = int64(floats.MaxIdx(scores))
	}
	return m
}

func (m *mlp) build(g *model.Graph) model.NodeID {
	h := g.AddInput(core.NewTensorFrom(g.Arena(), m.x, m.cfg.Batch, m.cfg.In))
	for i, l := range m.layers {
		h = g.Add(g.MatMul(h, g.AddInput(l.w)), g.AddInput(l.b))
		if i < len(m.layers)-1 {
			h = g.ReLU(h)
		}
	}
	return g.Softmax(h)
}

// seed writes the gradient of the mean cross-entropy with respect to the
// softmax output: -1/(batch*p) at each label, zero elsewhere.
func (m *mlp) seed(probs, grad *core.Tensor) {
	n := float64(m.cfg.Batch)
	for i, label := range m.labels {
		p := max(probs.At(int64(i), label), 1e-12)
		grad.Set(int64(i), label, -1/(n*p))
	}
}

func (m *mlp) loss(probs *core.Tensor) float64 {
	var l float64
	for i, label := range m.labels {
		l -= math.Log(max(probs.At(int64(i), label), 1e-12))
	}
	return l / float64(m.cfg.Batch)
}

func (m *mlp) accuracy(probs *core.Tensor) float64 {
	var correct int
	for i, label := range m.labels {
		row := probs.Data[int64(i)*m.cfg.Classes : int64(i+1)*m.cfg.Classes]
		if int64(floats.MaxIdx(row)) == label {
			correct++
		}
	}
	return float64(correct) / float64(m.cfg.Batch)
}

func (m *mlp) params() []*core.Tensor {
	params := make([]*core.Tensor, 0, 2*len(m.layers))
	for _, l := range m.layers {
		params = append(params, l.w, l.b)
	}
	return params
}

func (m *mlp) sgd(lr float64) {
	for _, p := range m.params() {
		floats.AddScaled(p.Data, -lr, p.Grad.Data)
		p.ZeroGrad()
	}
}
