// Package ir holds the internal representation the cache hierarchy schedules
// and compiles: a Fusion of elementwise and reduction nodes in topological
// order, plus the segmented form produced when a fusion cannot be compiled as
// a single kernel.
package ir

import "fmt"

// ValID names one value inside a fusion. Ids are assigned by the front end:
// fusion inputs first, then one fresh id per node output. Segments of a
// segmented fusion keep the complete fusion's ids.
type ValID int

// Op enumerates node kinds.
type Op uint8

const (
	OpInvalid Op = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpRelu
	OpExp
	OpSum
	OpMax
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpNeg:
		return "neg"
	case OpRelu:
		return "relu"
	case OpExp:
		return "exp"
	case OpSum:
		return "sum"
	case OpMax:
		return "max"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// IsReduction reports whether the op collapses axes out of its input.
func (o Op) IsReduction() bool { return o == OpSum || o == OpMax }

// Node is one operation. In and Out name fusion values. Axes is meaningful
// only for reduction ops and lists the input axes collapsed away, ascending.
type Node struct {
	Op   Op
	In   []ValID
	Out  ValID
	Axes []int
}

// Fusion is a lowered graph ready for scheduling. Nodes are topologically
// ordered: every operand is a fusion input or the output of an earlier node.
type Fusion struct {
	Inputs  []ValID
	Outputs []ValID
	Nodes   []Node
}

// HasReduction reports whether any node reduces.
func (f *Fusion) HasReduction() bool {
	for _, n := range f.Nodes {
		if n.Op.IsReduction() {
			return true
		}
	}
	return false
}

// Validate checks structural sanity: single definition per value, operands
// defined before use, declared outputs defined, reduction axes present
// exactly on reduction nodes.
func (f *Fusion) Validate() error {
	defined := make(map[ValID]bool, len(f.Inputs)+len(f.Nodes))
	for _, in := range f.Inputs {
		if defined[in] {
			return fmt.Errorf("ir: input %d declared twice", in)
		}
		defined[in] = true
	}
	for i, n := range f.Nodes {
		if n.Op == OpInvalid {
			return fmt.Errorf("ir: node %d has no op", i)
		}
		for _, in := range n.In {
			if !defined[in] {
				return fmt.Errorf("ir: node %d uses undefined value %d", i, in)
			}
		}
		if defined[n.Out] {
			return fmt.Errorf("ir: value %d defined twice", n.Out)
		}
		if n.Op.IsReduction() && len(n.Axes) == 0 {
			return fmt.Errorf("ir: reduction node %d without axes", i)
		}
		if !n.Op.IsReduction() && len(n.Axes) != 0 {
			return fmt.Errorf("ir: non-reduction node %d carries axes", i)
		}
		defined[n.Out] = true
	}
	for _, out := range f.Outputs {
		if !defined[out] {
			return fmt.Errorf("ir: declared output %d is never defined", out)
		}
	}
	return nil
}
