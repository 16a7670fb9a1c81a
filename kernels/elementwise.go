package kernels

import (
	"gonum.org/v1/gonum/floats"

	"github.com/sbl8/tinyengine/core"
)

// inferSameShape requires both operands to have identical shapes. There is no
// broadcasting.
func inferSameShape(in []*core.Tensor) []int64 {
	a, b := in[0], in[1]
	if !a.SameShape(b) {
		core.Fatalf(core.ErrShapeMismatch, "kernels: elementwise operands %v and %v", a.Dims(), b.Dims())
	}
	return a.Dims()
}

func inferUnary(in []*core.Tensor) []int64 {
	return in[0].Dims()
}

func addForward(n Node) {
	floats.AddTo(n.Output().Data, n.Input(0).Data, n.Input(1).Data)
}

// dA += dC, dB += dC
func addBackward(n Node) {
	gc := n.Output().Grad.Data
	floats.Add(n.Input(0).Grad.Data, gc)
	floats.Add(n.Input(1).Grad.Data, gc)
}

func subForward(n Node) {
	floats.SubTo(n.Output().Data, n.Input(0).Data, n.Input(1).Data)
}

// dA += dC, dB -= dC
func subBackward(n Node) {
	gc := n.Output().Grad.Data
	floats.Add(n.Input(0).Grad.Data, gc)
	floats.Sub(n.Input(1).Grad.Data, gc)
}

func mulForward(n Node) {
	floats.MulTo(n.Output().Data, n.Input(0).Data, n.Input(1).Data)
}

// dA += B*dC, dB += A*dC
func mulBackward(n Node) {
	a, b := n.Input(0), n.Input(1)
	gc := n.Output().Grad.Data
	ga, gb := a.Grad.Data, b.Grad.Data
	for i, g := range gc {
		ga[i] += b.Data[i] * g
		gb[i] += a.Data[i] * g
	}
}
