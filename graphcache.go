package fusecache

import (
	"context"
	"fmt"
	"slices"

	"github.com/unkn0wn-root/fusecache/graph"
	"github.com/unkn0wn-root/fusecache/tensor"
)

// GraphCache fronts one external graph. At construction it decides, from the
// graph's profiled input layouts, whether every tensor input shares one
// non-default memory order. If so, every run happens in that order: input
// views are permuted (no copies), the plan level sees the layout kernels are
// fastest in, and outputs are permuted back before being returned. The
// decision is a property of the graph, never of an individual run.
type GraphCache struct {
	graph *graph.Graph
	plans *PlanCache
	log   Logger

	permute    bool
	inPerm     []int // applied to every tensor input view
	pwOutPerm  []int // restores full-rank outputs
	redOutPerm []int // restores reduced-rank outputs
	redAxes    []int // reduction axes, original coordinates
}

func newGraphCache(g *graph.Graph, opts Options) (*GraphCache, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("fusecache: %w", err)
	}
	gc := &GraphCache{graph: g, log: opts.Logger}
	gc.planPermutation(g)

	// With an active permutation the fusion must live in the permuted frame:
	// run-time inputs arrive as permuted views, so input metadata and
	// reduction axes are rewritten before lowering.
	lowerSrc := g
	if gc.permute {
		lowerSrc = permutedGraph(g, gc.inPerm)
	}
	f, err := opts.FrontEnd.Lower(lowerSrc)
	if err != nil {
		return nil, fmt.Errorf("fusecache: lowering failed: %w", err)
	}
	pc, err := newPlanCache(f, opts)
	if err != nil {
		return nil, err
	}
	gc.plans = pc
	return gc, nil
}

// planPermutation works out the common-order transform, leaving the cache in
// pass-through mode when none exists: divergent reduction axes, mixed ranks
// or orders, rank under two, or an order that is already the default.
func (gc *GraphCache) planPermutation(g *graph.Graph) {
	var redAxes []int
	for i, axes := range g.ReductionAxes() {
		if i == 0 {
			redAxes = append([]int(nil), axes...)
			continue
		}
		if !slices.Equal(redAxes, axes) {
			gc.log.Debug("permutation disabled: divergent reduction axes", nil)
			return
		}
	}

	order := []int(nil)
	rank := -1
	for _, in := range g.Inputs {
		if in.Type == nil {
			continue
		}
		m := *in.Type
		if rank == -1 {
			rank = m.Rank()
			order = m.StrideOrder()
			continue
		}
		if m.Rank() != rank || !slices.Equal(order, m.StrideOrder()) {
			gc.log.Debug("permutation disabled: no common memory order", nil)
			return
		}
	}
	if rank <= 1 || tensor.IsIdentity(order) {
		return
	}
	for _, ax := range redAxes {
		if ax < 0 || ax >= rank {
			gc.log.Debug("permutation disabled: reduction axis out of range", Fields{"axis": ax})
			return
		}
	}

	gc.permute = true
	gc.inPerm = order
	gc.redAxes = redAxes
	gc.pwOutPerm = tensor.Inverse(order)
	gc.redOutPerm = inverseSkipping(order, redAxes)
	gc.log.Debug("permutation enabled", Fields{"order": fmt.Sprint(order)})
}

// permutedGraph rewrites g into the common-order frame: every tensor input's
// metadata is permuted and every reduction's axes are mapped to their permuted
// positions. Structure and value ids are untouched.
func permutedGraph(g *graph.Graph, perm []int) *graph.Graph {
	inv := tensor.Inverse(perm)
	out := &graph.Graph{
		Inputs:  make([]graph.Input, len(g.Inputs)),
		Nodes:   make([]graph.Node, len(g.Nodes)),
		Outputs: append([]int(nil), g.Outputs...),
	}
	for i, in := range g.Inputs {
		out.Inputs[i] = in
		if in.Type == nil {
			continue
		}
		m := *in.Type
		sizes := make([]int64, len(m.Sizes))
		strides := make([]int64, len(m.Strides))
		for d, p := range perm {
			sizes[d] = m.Sizes[p]
			strides[d] = m.Strides[p]
		}
		out.Inputs[i].Type = &tensor.Meta{DType: m.DType, Device: m.Device, Sizes: sizes, Strides: strides}
	}
	for i, n := range g.Nodes {
		nn := graph.Node{Op: n.Op, In: append([]int(nil), n.In...)}
		if len(n.Axes) > 0 {
			nn.Axes = make([]int, len(n.Axes))
			for j, ax := range n.Axes {
				nn.Axes[j] = inv[ax]
			}
			slices.Sort(nn.Axes)
		}
		out.Nodes[i] = nn
	}
	return out
}

// inverseSkipping computes the permutation restoring original axis order for
// an output that lost the removed axes: entries equal to a removed axis are
// dropped, surviving axis labels are shifted down past the removed ones, and
// the compacted permutation is inverted.
func inverseSkipping(perm []int, removed []int) []int {
	if len(removed) == 0 {
		return tensor.Inverse(perm)
	}
	adjusted := make([]int, 0, len(perm)-len(removed))
	for _, dim := range perm {
		offset := 0
		for _, rd := range removed {
			if rd < dim {
				offset++
			} else if rd == dim {
				offset = -1
				break
			}
		}
		if offset >= 0 {
			adjusted = append(adjusted, dim-offset)
		}
	}
	inv := make([]int, len(adjusted))
	for i, a := range adjusted {
		inv[a] = i
	}
	return inv
}

// Run executes the graph for args. Logical results are identical with and
// without an active permutation; only the memory order the kernels see
// differs.
func (gc *GraphCache) Run(ctx context.Context, args []tensor.Arg) ([]*tensor.Tensor, error) {
	if len(args) != len(gc.graph.Inputs) {
		return nil, fmt.Errorf("fusecache: %d args for graph with %d inputs", len(args), len(gc.graph.Inputs))
	}
	if !gc.permute {
		return gc.plans.Run(ctx, args)
	}

	permuted := make([]tensor.Arg, len(args))
	for i, a := range args {
		if !a.IsTensor() {
			permuted[i] = a
			continue
		}
		v, err := a.Tensor().Permute(gc.inPerm)
		if err != nil {
			return nil, fmt.Errorf("fusecache: input %d: %w", i, err)
		}
		permuted[i] = tensor.TensorArg(v)
	}

	outs, err := gc.plans.Run(ctx, permuted)
	if err != nil {
		return nil, err
	}

	restored := make([]*tensor.Tensor, len(outs))
	for i, out := range outs {
		// Rank selects the restoring permutation: full rank means the output
		// went through pointwise ops only, reduced rank through a reduction.
		var perm []int
		switch out.Rank() {
		case len(gc.pwOutPerm):
			perm = gc.pwOutPerm
		case len(gc.redOutPerm):
			perm = gc.redOutPerm
		default:
			panic(fmt.Sprintf("fusecache: output %d rank %d matches neither full rank %d nor reduced rank %d",
				i, out.Rank(), len(gc.pwOutPerm), len(gc.redOutPerm)))
		}
		v, err := out.Permute(perm)
		if err != nil {
			return nil, fmt.Errorf("fusecache: output %d: %w", i, err)
		}
		restored[i] = v
	}
	return restored, nil
}

// Permutes reports whether runs go through the common-order transform.
func (gc *GraphCache) Permutes() bool { return gc.permute }

// Profile toggles run logging on the plan level.
func (gc *GraphCache) Profile(on bool) { gc.plans.Profile(on) }

// Plans exposes the underlying plan cache for inspection.
func (gc *GraphCache) Plans() *PlanCache { return gc.plans }

// Stats returns the plan level's counters.
func (gc *GraphCache) Stats() Stats { return gc.plans.Stats() }

// Close releases all compiled state. The cache must not be used after Close.
func (gc *GraphCache) Close(ctx context.Context) error { return gc.plans.Close(ctx) }
