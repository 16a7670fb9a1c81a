// Package core provides the memory and data primitives of the engine.
//
// Key components:
//   - Arena: bump allocator over one contiguous region, reset once per training step
//   - Tensor: strided, row-major float64 buffer carved from an Arena, with an
//     optional gradient Tensor of identical shape
//   - Fatal error sentinels shared by every package of the engine
//
// Tensors built in a scratch Arena live exactly as long as the step that built
// them. Parameter tensors are built once in a separate long-lived Arena and are
// updated in place.
package core

import "fmt"

// MaxDims is the largest rank a Tensor can have.
const MaxDims = 6

// Tensor is a strided multi-dimensional float buffer. Entries of Shape and
// Stride beyond NDim are zero. Strides are row-major and fixed at creation.
//
// Data is arena-owned and never resized. Grad, once allocated, accumulates
// contributions (+=) during backward; only the loss seed is written directly.
type Tensor struct {
	Data   []float64
	Shape  [MaxDims]int64
	Stride [MaxDims]int64
	NDim   int
	Grad   *Tensor
}

// NewTensor allocates a tensor of the given shape from a. The rank is
// len(shape); more than MaxDims dimensions, or a negative dimension, is fatal.
// The contents of Data are whatever the arena region held.
func NewTensor(a *Arena, shape ...int64) *Tensor {
	if a == nil {
		Fatalf(ErrNilReference, "tensor: nil arena")
	}
	if len(shape) > MaxDims {
		Fatalf(ErrRank, "tensor: rank %d exceeds %d", len(shape), MaxDims)
	}

	t := &Tensor{NDim: len(shape)}
	elems := int64(1)
	for i, d := range shape {
		if d < 0 {
			Fatalf(ErrInvalidArgument, "tensor: negative dimension %d at axis %d", d, i)
		}
		if d != 0 && elems > int64(maxFloats)/d {
			Fatalf(ErrArenaExhausted, "tensor: shape %v exceeds the addressable element count", shape)
		}
		elems *= d
		t.Shape[i] = d
	}
	t.computeStrides()
	t.Data = a.AllocFloats(t.TotalElems())

	return t
}

// NewTensorFrom allocates a tensor of the given shape and copies values into
// it. len(values) must equal the element count of shape.
func NewTensorFrom(a *Arena, values []float64, shape ...int64) *Tensor {
	t := NewTensor(a, shape...)
	if len(values) != len(t.Data) {
		Fatalf(ErrShapeMismatch, "tensor: %d values for shape %v", len(values), t.Dims())
	}
	copy(t.Data, values)
	return t
}

// ZeroesLike allocates a zero-filled tensor with the shape of t.
func ZeroesLike(a *Arena, t *Tensor) *Tensor {
	if t == nil {
		Fatalf(ErrNilReference, "tensor: zeroes like nil tensor")
	}
	z := NewTensor(a, t.Dims()...)
	clear(z.Data)
	return z
}

func (t *Tensor) computeStrides() {
	acc := int64(1)
	for i := t.NDim - 1; i >= 0; i-- {
		t.Stride[i] = acc
		acc *= t.Shape[i]
	}
}

// TotalElems returns the product of the dimensions; 1 for a rank-0 tensor.
func (t *Tensor) TotalElems() int {
	n := int64(1)
	for i := 0; i < t.NDim; i++ {
		n *= t.Shape[i]
	}
	return int(n)
}

// Dims returns the shape as a slice of length NDim.
func (t *Tensor) Dims() []int64 {
	dims := make([]int64, t.NDim)
	copy(dims, t.Shape[:t.NDim])
	return dims
}

// SameShape reports whether t and o have identical rank and dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	return t.NDim == o.NDim && t.Shape == o.Shape
}

// Fill writes v to every element.
func (t *Tensor) Fill(v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// EnsureGrad allocates a zeroed gradient from a if t has none. It is idempotent
// and returns the gradient.
func (t *Tensor) EnsureGrad(a *Arena) *Tensor {
	if t.Grad == nil {
		t.Grad = ZeroesLike(a, t)
	}
	return t.Grad
}

// ZeroGrad clears an existing gradient. Optimizers call it after consuming
// the gradient of a parameter.
func (t *Tensor) ZeroGrad() {
	if t.Grad != nil {
		clear(t.Grad.Data)
	}
}

func (t *Tensor) offset2(i, j int64) int64 {
	return i*t.Stride[0] + j*t.Stride[1]
}

// At returns element (i, j) of a rank-2 tensor.
func (t *Tensor) At(i, j int64) float64 {
	return t.Data[t.offset2(i, j)]
}

// Set stores v at element (i, j) of a rank-2 tensor.
func (t *Tensor) Set(i, j int64, v float64) {
	t.Data[t.offset2(i, j)] = v
}

// AddAt accumulates v into element (i, j) of a rank-2 tensor.
func (t *Tensor) AddAt(i, j int64, v float64) {
	t.Data[t.offset2(i, j)] += v
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v)", t.Dims())
}
