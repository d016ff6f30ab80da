package tensor

import "fmt"

// Scalar is a non-tensor runtime argument. Supported value types are int64,
// float64 and bool (int, int32 and float32 are widened on construction).
//
// A specializing scalar is treated as a compile-time constant: its concrete
// value becomes part of the input identity and of the specialization class,
// so different values select different compiled plans.
type Scalar struct {
	Value      any
	Specialize bool
}

type argKind uint8

const (
	argInvalid argKind = iota
	argTensor
	argScalar
)

// Arg is one runtime input to a fused graph: either a tensor or a scalar.
// The zero Arg is invalid.
type Arg struct {
	tensor *Tensor
	scalar Scalar
	kind   argKind
}

// TensorArg wraps a tensor input.
func TensorArg(t *Tensor) Arg {
	if t == nil {
		panic("tensor: nil tensor argument")
	}
	return Arg{tensor: t, kind: argTensor}
}

// ScalarArg wraps a runtime scalar the compiled kernel receives as a plain
// parameter. Its value never influences caching.
func ScalarArg(v any) Arg {
	return Arg{scalar: Scalar{Value: normalizeScalar(v)}, kind: argScalar}
}

// ConstArg wraps a specializing scalar, a value the compiler may bake into
// the generated kernel.
func ConstArg(v any) Arg {
	return Arg{scalar: Scalar{Value: normalizeScalar(v), Specialize: true}, kind: argScalar}
}

func normalizeScalar(v any) any {
	switch x := v.(type) {
	case int64, float64, bool:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	default:
		panic(fmt.Sprintf("tensor: unsupported scalar type %T", v))
	}
}

// IsTensor reports whether the argument carries a tensor.
func (a Arg) IsTensor() bool { return a.kind == argTensor }

// Tensor returns the tensor payload; it panics on a scalar argument.
func (a Arg) Tensor() *Tensor {
	if a.kind != argTensor {
		panic("tensor: Tensor on non-tensor argument")
	}
	return a.tensor
}

// Scalar returns the scalar payload; it panics on a tensor argument.
func (a Arg) Scalar() Scalar {
	if a.kind != argScalar {
		panic("tensor: Scalar on non-scalar argument")
	}
	return a.scalar
}
