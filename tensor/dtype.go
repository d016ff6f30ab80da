package tensor

import "fmt"

// DType identifies the element type of a tensor.
type DType uint8

const (
	Float32 DType = iota
	Float64
	Int32
	Int64
	Bool
)

// Size returns the element width in bytes.
func (d DType) Size() int64 {
	switch d {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Bool:
		return 1
	default:
		panic(fmt.Sprintf("tensor: unknown dtype %d", uint8(d)))
	}
}

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}
