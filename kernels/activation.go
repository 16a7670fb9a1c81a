package kernels

import (
	"math"

	"github.com/sbl8/tinyengine/core"
)

func reluForward(n Node) {
	a, c := n.Input(0).Data, n.Output().Data
	for i, v := range a {
		c[i] = max(v, 0)
	}
}

// dA += dC where A > 0
func reluBackward(n Node) {
	a := n.Input(0)
	gc := n.Output().Grad.Data
	ga := a.Grad.Data
	for i, v := range a.Data {
		if v > 0 {
			ga[i] += gc[i]
		}
	}
}

func inferSoftmax(in []*core.Tensor) []int64 {
	a := in[0]
	if a.NDim > 2 {
		core.Fatalf(core.ErrRank, "kernels: softmax over rank %d tensor %v", a.NDim, a.Dims())
	}
	return a.Dims()
}

// rows describes a tensor of rank at most 2 as a sequence of rows along its
// last axis. Rank 0 and rank 1 tensors are a single row.
type rows struct {
	count, width int
	rowStride    int
	colStride    int
}

func rowsOf(t *core.Tensor) rows {
	switch t.NDim {
	case 0:
		return rows{count: 1, width: 1, colStride: 1}
	case 1:
		return rows{count: 1, width: int(t.Shape[0]), colStride: int(t.Stride[0])}
	default:
		return rows{
			count:     int(t.Shape[0]),
			width:     int(t.Shape[1]),
			rowStride: int(t.Stride[0]),
			colStride: int(t.Stride[1]),
		}
	}
}

// softmaxForward normalizes every row of A into C. The row maximum is
// subtracted before exponentiation.
func softmaxForward(n Node) {
	a, c := n.Input(0), n.Output()
	r := rowsOf(a)
	for i := 0; i < r.count; i++ {
		if r.width == 0 {
			continue
		}
		base := i * r.rowStride

		m := math.Inf(-1)
		for j := 0; j < r.width; j++ {
			m = max(m, a.Data[base+j*r.colStride])
		}

		var sum float64
		for j := 0; j < r.width; j++ {
			idx := base + j*r.colStride
			e := math.Exp(a.Data[idx] - m)
			c.Data[idx] = e
			sum += e
		}
		for j := 0; j < r.width; j++ {
			c.Data[base+j*r.colStride] /= sum
		}
	}
}

// dA_i += C_i * (dC_i - Σ_j dC_j C_j), per row
func softmaxBackward(n Node) {
	a, c := n.Input(0), n.Output()
	gc, ga := c.Grad.Data, a.Grad.Data
	r := rowsOf(c)
	for i := 0; i < r.count; i++ {
		base := i * r.rowStride

		var dot float64
		for j := 0; j < r.width; j++ {
			idx := base + j*r.colStride
			dot += gc[idx] * c.Data[idx]
		}
		for j := 0; j < r.width; j++ {
			idx := base + j*r.colStride
			ga[idx] += c.Data[idx] * (gc[idx] - dot)
		}
	}
}
