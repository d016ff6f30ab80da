// Package tensor provides the value types the cache hierarchy operates on:
// strided tensors, their metadata, devices, and the tagged runtime argument
// wrapper. Nothing in the package touches a real device; Tensor is a strided
// view over a flat byte buffer so kernels and tests can share one data model.
package tensor

import (
	"fmt"
	"unsafe"
)

// Tensor is a strided view over a flat buffer. Views created by Permute or
// AsStrided share storage with their base; no operation here copies element
// data.
type Tensor struct {
	dtype   DType
	device  Device
	sizes   []int64
	strides []int64
	offset  int64 // element offset into data
	data    []byte
}

// New allocates a zeroed, dense tensor.
func New(dtype DType, device Device, sizes ...int64) *Tensor {
	n := int64(1)
	for _, s := range sizes {
		if s < 0 {
			panic(fmt.Sprintf("tensor: negative extent %d", s))
		}
		n *= s
	}
	return &Tensor{
		dtype:   dtype,
		device:  device,
		sizes:   append([]int64(nil), sizes...),
		strides: ContiguousStrides(sizes),
		data:    make([]byte, n*dtype.Size()),
	}
}

// FromFloat32 builds a dense Float32 tensor over a copy of vals.
func FromFloat32(device Device, sizes []int64, vals []float32) *Tensor {
	t := New(Float32, device, sizes...)
	if int64(len(vals)) != t.Elements() {
		panic(fmt.Sprintf("tensor: %d values for %d elements", len(vals), t.Elements()))
	}
	copy(t.Float32s(), vals)
	return t
}

func (t *Tensor) DType() DType     { return t.dtype }
func (t *Tensor) Device() Device   { return t.device }
func (t *Tensor) Sizes() []int64   { return t.sizes }
func (t *Tensor) Strides() []int64 { return t.strides }
func (t *Tensor) Rank() int        { return len(t.sizes) }
func (t *Tensor) Offset() int64    { return t.offset }

// Elements returns the element count of this view.
func (t *Tensor) Elements() int64 {
	n := int64(1)
	for _, s := range t.sizes {
		n *= s
	}
	return n
}

// Meta returns the cache-relevant description of this view. The Sizes and
// Strides slices alias the tensor and must not be mutated.
func (t *Tensor) Meta() Meta {
	return Meta{DType: t.dtype, Device: t.device, Sizes: t.sizes, Strides: t.strides}
}

// AsStrided returns a view with explicit sizes and strides over the same
// storage. It is the escape hatch tests use to build padded or otherwise
// non-dense layouts.
func (t *Tensor) AsStrided(sizes, strides []int64) *Tensor {
	if len(sizes) != len(strides) {
		panic(fmt.Sprintf("tensor: %d sizes against %d strides", len(sizes), len(strides)))
	}
	return &Tensor{
		dtype:   t.dtype,
		device:  t.device,
		sizes:   append([]int64(nil), sizes...),
		strides: append([]int64(nil), strides...),
		offset:  t.offset,
		data:    t.data,
	}
}

// Permute returns a view with dimensions reordered so that result dimension i
// is the base's dimension perm[i]. Storage is shared.
func (t *Tensor) Permute(perm []int) (*Tensor, error) {
	if len(perm) != len(t.sizes) {
		return nil, fmt.Errorf("tensor: permutation of rank %d applied to rank-%d tensor", len(perm), len(t.sizes))
	}
	if !IsPermutation(perm) {
		return nil, fmt.Errorf("tensor: %v is not a permutation", perm)
	}
	sizes := make([]int64, len(perm))
	strides := make([]int64, len(perm))
	for i, p := range perm {
		sizes[i] = t.sizes[p]
		strides[i] = t.strides[p]
	}
	return &Tensor{dtype: t.dtype, device: t.device, sizes: sizes, strides: strides, offset: t.offset, data: t.data}, nil
}

// ElemOffset resolves a logical index to an element offset into the storage
// buffer, honoring the view's strides and base offset.
func (t *Tensor) ElemOffset(idx []int64) int64 {
	off := t.offset
	for d, i := range idx {
		off += i * t.strides[d]
	}
	return off
}

// Float32s reinterprets the underlying storage as float32 elements. The slice
// spans the whole buffer, not just this view; index it through ElemOffset.
func (t *Tensor) Float32s() []float32 {
	t.checkDType(Float32)
	if len(t.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.data[0])), len(t.data)/4)
}

// Float64s reinterprets the underlying storage as float64 elements.
func (t *Tensor) Float64s() []float64 {
	t.checkDType(Float64)
	if len(t.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&t.data[0])), len(t.data)/8)
}

// Int32s reinterprets the underlying storage as int32 elements.
func (t *Tensor) Int32s() []int32 {
	t.checkDType(Int32)
	if len(t.data) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&t.data[0])), len(t.data)/4)
}

// Int64s reinterprets the underlying storage as int64 elements.
func (t *Tensor) Int64s() []int64 {
	t.checkDType(Int64)
	if len(t.data) == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&t.data[0])), len(t.data)/8)
}

func (t *Tensor) checkDType(want DType) {
	if t.dtype != want {
		panic(fmt.Sprintf("tensor: %s accessor on %s tensor", want, t.dtype))
	}
}
