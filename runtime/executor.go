package runtime

import (
	"github.com/sbl8/tinyengine/core"
	"github.com/sbl8/tinyengine/kernels"
	"github.com/sbl8/tinyengine/logutil"
	"github.com/sbl8/tinyengine/model"
)

// Forward runs every operation node of o in order. Input nodes are skipped;
// their tensors are populated by the caller.
func Forward(o *model.Order) {
	trace := logutil.TraceEnabled()
	for _, n := range o.Nodes() {
		if n.Op == kernels.OpInput {
			continue
		}
		kernels.Lookup(n.Op).Forward(n)
		if trace {
			logutil.Trace("forward", "node", n, "out", core.Dump(n.Out))
		}
	}
}

// Backward propagates gradients from loss through o in reverse order. The
// gradient of loss must already be seeded by the caller; every other gradient
// receives contributions by accumulation, so a tensor read by several nodes
// ends up with the sum over its consumers.
//
// Missing gradients are allocated from the graph arena. Tensors that outlive
// the graph, such as parameters, must be given a gradient from their own arena
// beforehand. Input nodes stop propagation and keep their gradient for the
// optimizer.
func Backward(o *model.Order, loss *core.Tensor) {
	if loss == nil {
		core.Fatalf(core.ErrNilReference, "backward: nil loss tensor")
	}
	if o.Producer(loss) == nil {
		core.Fatalf(core.ErrInvalidArgument, "backward: loss %v is not produced by the scheduled graph", loss)
	}
	if loss.Grad == nil {
		core.Fatalf(core.ErrInvalidArgument, "backward: loss gradient has not been seeded")
	}

	a := o.Graph().Arena()
	trace := logutil.TraceEnabled()
	nodes := o.Nodes()
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if n.Op == kernels.OpInput {
			continue
		}
		n.Out.EnsureGrad(a)
		for _, in := range n.Inputs {
			in.Out.EnsureGrad(a)
		}
		kernels.Lookup(n.Op).Backward(n)
		if trace {
			logutil.Trace("backward", "node", n, "grad", core.Dump(n.Out.Grad))
		}
	}
}
