package kernels

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/sbl8/tinyengine/core"
)

// inferMatMul requires A [n,m] and B [m,k] and yields [n,k].
func inferMatMul(in []*core.Tensor) []int64 {
	a, b := in[0], in[1]
	if a.NDim != 2 || b.NDim != 2 {
		core.Fatalf(core.ErrShapeMismatch, "kernels: matmul needs rank-2 operands, got %v and %v", a.Dims(), b.Dims())
	}
	if a.Shape[1] != b.Shape[0] {
		core.Fatalf(core.ErrShapeMismatch, "kernels: matmul inner dimensions %v x %v", a.Dims(), b.Dims())
	}
	return []int64{a.Shape[0], b.Shape[1]}
}

// general views a rank-2 tensor as a BLAS matrix. The leading dimension is
// clamped to 1 so empty matrices pass the BLAS argument checks.
func general(t *core.Tensor) blas64.General {
	return blas64.General{
		Rows:   int(t.Shape[0]),
		Cols:   int(t.Shape[1]),
		Stride: max(1, int(t.Stride[0])),
		Data:   t.Data,
	}
}

func empty(t *core.Tensor) bool {
	return t.Shape[0] == 0 || t.Shape[1] == 0
}

// C = A·B
func matMulForward(n Node) {
	a, b, c := n.Input(0), n.Input(1), n.Output()
	if empty(a) || empty(b) {
		clear(c.Data)
		return
	}
	blas64.Gemm(blas.NoTrans, blas.NoTrans, 1, general(a), general(b), 0, general(c))
}

// dA += dC·Bᵀ, dB += Aᵀ·dC
func matMulBackward(n Node) {
	a, b, c := n.Input(0), n.Input(1), n.Output()
	if empty(a) || empty(b) {
		return
	}
	gc := general(c.Grad)
	blas64.Gemm(blas.NoTrans, blas.Trans, 1, gc, general(b), 1, general(a.Grad))
	blas64.Gemm(blas.Trans, blas.NoTrans, 1, general(a), gc, 1, general(b.Grad))
}
