package kernels

import "sync"

var builtinOnce sync.Once

// RegisterBuiltins installs the built-in kernels. Calling it more than once is
// a no-op.
func RegisterBuiltins() {
	builtinOnce.Do(func() {
		Register(&Kernel{Op: OpAdd, Name: "add", Arity: 2, Infer: inferSameShape, Forward: addForward, Backward: addBackward})
		Register(&Kernel{Op: OpSub, Name: "sub", Arity: 2, Infer: inferSameShape, Forward: subForward, Backward: subBackward})
		Register(&Kernel{Op: OpMul, Name: "mul", Arity: 2, Infer: inferSameShape, Forward: mulForward, Backward: mulBackward})
		Register(&Kernel{Op: OpMatMul, Name: "matmul", Arity: 2, Infer: inferMatMul, Forward: matMulForward, Backward: matMulBackward})
		Register(&Kernel{Op: OpReLU, Name: "relu", Arity: 1, Infer: inferUnary, Forward: reluForward, Backward: reluBackward})
		Register(&Kernel{Op: OpSoftmax, Name: "softmax", Arity: 1, Infer: inferSoftmax, Forward: softmaxForward, Backward: softmaxBackward})
	})
}
