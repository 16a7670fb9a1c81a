// Package tinyengine is a small reverse-mode automatic differentiation engine
// for training neural networks on the CPU.
//
// A training step builds a fresh computation graph inside a scratch arena,
// schedules it in topological order, runs the forward kernels, seeds the loss
// gradient and runs the backward kernels in reverse. The scratch arena is
// rewound before the next step; parameters live in a second arena that is
// never reset, so an optimizer can read their gradients between steps.
//
// # Package Structure
//
//   - core: arena allocator, strided tensors, fatal error sentinels, checkpoints
//   - kernels: operator registry and the built-in add, sub, mul, matmul, relu and softmax kernels
//   - model: computation graph and the Kahn scheduler
//   - runtime: forward and backward executors, the concurrent forward pass and the training Engine
//   - gradcheck: numeric verification of kernel gradients
//   - envconfig, logutil: environment configuration and structured logging
//   - cmd/tinyengine: command-line diagnostics (gradcheck, bench, schedule)
//
// # Basic Usage
//
//	kernels.RegisterBuiltins()
//	engine := runtime.NewEngine(nil)
//	w := engine.NewParam([]float64{0, 0}, 2, 1)
//
//	loss, err := engine.Step(ctx, func(g *model.Graph) model.NodeID {
//	    x := g.AddInput(core.NewTensorFrom(g.Arena(), xs, 4, 2))
//	    y := g.AddInput(core.NewTensorFrom(g.Arena(), ys, 4, 1))
//	    d := g.Sub(g.MatMul(x, g.AddInput(w)), y)
//	    return g.Mul(d, d)
//	}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// w.Grad now holds dL/dw.
package tinyengine
