// Package kernels provides the operator kernels of the engine and the
// process-wide registry that dispatches them.
//
// Every operator is described by a Kernel: a shape rule, a forward function
// that writes the node output, and a backward function that accumulates (+=)
// into the gradients of the node inputs. Kernels never allocate; the executor
// guarantees that every tensor they touch, including gradients, is in place.
//
// Available operations:
//   - Elementwise: add, sub, mul (identical shapes, no broadcasting)
//   - Linear algebra: matmul on rank-2 operands (gonum BLAS)
//   - Activations: ReLU, row-wise softmax
//
// The registry is a fixed-capacity table indexed by Op. It is populated during
// startup (RegisterBuiltins plus any custom Register calls) and is read-only
// afterwards, so lookups take no locks.
package kernels

import (
	"fmt"

	"github.com/sbl8/tinyengine/core"
)

// MaxOps is the capacity of the registry.
const MaxOps = 32

// Op is a small integer tag identifying an operator.
type Op uint8

// Built-in operator tags. OpInput marks graph leaves and has no kernel.
const (
	OpInput Op = iota
	OpAdd
	OpSub
	OpMul
	OpMatMul
	OpReLU
	OpSoftmax
)

func (op Op) String() string {
	if op == OpInput {
		return "input"
	}
	if int(op) < MaxOps {
		if k := registry[op]; k != nil {
			return k.Name
		}
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Node is the view a kernel has of a graph node: its resolved input tensors
// and its output tensor.
type Node interface {
	NumInputs() int
	Input(i int) *core.Tensor
	Output() *core.Tensor
}

// Kernel describes one operator.
type Kernel struct {
	Op    Op
	Name  string
	Arity int

	// Infer returns the output shape for the given inputs. Incompatible shapes
	// are fatal.
	Infer func(inputs []*core.Tensor) []int64

	// Forward reads the inputs and overwrites the output.
	Forward func(n Node)

	// Backward reads the output gradient and adds the contribution of this
	// node to every input gradient.
	Backward func(n Node)
}

var registry [MaxOps]*Kernel

// Register installs k under k.Op. Registering OpInput, a tag outside the
// table, a tag that is already taken, or an incomplete kernel is fatal.
// Register must not be called concurrently with Lookup.
func Register(k *Kernel) {
	if k == nil {
		core.Fatalf(core.ErrNilReference, "kernels: register nil kernel")
	}
	if k.Op == OpInput || int(k.Op) >= MaxOps {
		core.Fatalf(core.ErrRegistryFull, "kernels: tag %d outside registry of %d slots", uint8(k.Op), MaxOps)
	}
	if k.Infer == nil || k.Forward == nil || k.Backward == nil {
		core.Fatalf(core.ErrNilReference, "kernels: %q is missing a function", k.Name)
	}
	if k.Arity < 1 {
		core.Fatalf(core.ErrArity, "kernels: %q has arity %d", k.Name, k.Arity)
	}
	if prev := registry[k.Op]; prev != nil {
		core.Fatalf(core.ErrDuplicateKernel, "kernels: tag %d already bound to %q", uint8(k.Op), prev.Name)
	}
	registry[k.Op] = k
}

// Lookup returns the kernel registered for op. An unregistered tag is fatal.
func Lookup(op Op) *Kernel {
	if int(op) >= MaxOps || registry[op] == nil {
		core.Fatalf(core.ErrUnregistered, "kernels: no kernel for tag %d", uint8(op))
	}
	return registry[op]
}

// Registered reports whether a kernel is bound to op.
func Registered(op Op) bool {
	return int(op) < MaxOps && registry[op] != nil
}

// Kernels returns the registered kernels in tag order.
func Kernels() []*Kernel {
	var ks []*Kernel
	for _, k := range registry {
		if k != nil {
			ks = append(ks, k)
		}
	}
	return ks
}
