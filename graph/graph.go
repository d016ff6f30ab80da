// Package graph defines the external graph form handed to the cache: typed
// inputs, nodes in definition order, and declared outputs. Op names are plain
// strings so the form stays neutral to whatever front end produced it; a
// backend.FrontEnd lowers the graph to the internal representation once per
// cache.
package graph

import (
	"fmt"

	"github.com/unkn0wn-root/fusecache/tensor"
)

// Op names understood by the bundled lowering conventions. A front end may
// accept more.
const (
	Add  = "add"
	Sub  = "sub"
	Mul  = "mul"
	Div  = "div"
	Neg  = "neg"
	Relu = "relu"
	Exp  = "exp"
	Sum  = "sum"
	Max  = "max"
)

// IsReduction reports whether the named op collapses axes.
func IsReduction(op string) bool { return op == Sum || op == Max }

// Input declares one graph input. Type carries the profiled tensor shape the
// cache keys permutation decisions on; a nil Type declares a scalar input.
type Input struct {
	Name string
	Type *tensor.Meta
}

// Node is one operation. Operands are value ids: inputs take ids 0..n-1 and
// node i defines value n+i. Axes lists reduction axes for reducing ops.
type Node struct {
	Op   string
	In   []int
	Axes []int
}

// Graph is a complete fused computation.
type Graph struct {
	Inputs  []Input
	Nodes   []Node
	Outputs []int
}

// NumValues returns the total number of values the graph defines.
func (g *Graph) NumValues() int { return len(g.Inputs) + len(g.Nodes) }

// Validate checks structural sanity: operand ids in range and defined before
// use, outputs in range, reduction axes present exactly on reducing nodes.
func (g *Graph) Validate() error {
	n := len(g.Inputs)
	for i, nd := range g.Nodes {
		if nd.Op == "" {
			return fmt.Errorf("graph: node %d has no op", i)
		}
		for _, in := range nd.In {
			if in < 0 || in >= n+i {
				return fmt.Errorf("graph: node %d uses undefined value %d", i, in)
			}
		}
		if IsReduction(nd.Op) && len(nd.Axes) == 0 {
			return fmt.Errorf("graph: reduction node %d without axes", i)
		}
		if !IsReduction(nd.Op) && len(nd.Axes) != 0 {
			return fmt.Errorf("graph: non-reduction node %d carries axes", i)
		}
	}
	for _, out := range g.Outputs {
		if out < 0 || out >= g.NumValues() {
			return fmt.Errorf("graph: declared output %d out of range", out)
		}
	}
	if len(g.Outputs) == 0 {
		return fmt.Errorf("graph: no declared outputs")
	}
	return nil
}

// ReductionAxes returns the axes of every reducing node, in node order.
func (g *Graph) ReductionAxes() [][]int {
	var axes [][]int
	for _, nd := range g.Nodes {
		if IsReduction(nd.Op) {
			axes = append(axes, nd.Axes)
		}
	}
	return axes
}
