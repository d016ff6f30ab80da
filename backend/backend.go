// Package backend declares the collaborator contracts the cache hierarchy
// drives: graph lowering, segmentation, heuristic derivation and device
// compilation. The cache owns policy (identity assignment, plan reuse,
// eviction coupling); collaborators own mechanism. Tests supply in-memory
// fakes; production embedders supply the real device pipeline.
package backend

import (
	"context"

	"github.com/unkn0wn-root/fusecache/graph"
	"github.com/unkn0wn-root/fusecache/ir"
	"github.com/unkn0wn-root/fusecache/sched"
	"github.com/unkn0wn-root/fusecache/tensor"
)

// FrontEnd lowers an external graph into the internal representation. It runs
// once per graph cache; a lowering failure is a construction failure.
type FrontEnd interface {
	Lower(g *graph.Graph) (*ir.Fusion, error)
}

// Segmenter partitions a fusion that could not be scheduled as one kernel.
// The partition must be acyclic and keep the complete fusion's value ids. An
// error marks the configuration unsupported for this fusion.
type Segmenter interface {
	Segment(f *ir.Fusion, args []tensor.Arg) (*ir.SegmentedFusion, error)
}

// Scheduler derives scheduling decisions for one compiled unit: the whole
// fusion when seg is nil, otherwise the given segment of f. args are always
// the complete fusion's concrete inputs; implementations infer interior
// extents from them.
//
// The boolean result separates "no strategy accepts this unit" from a
// successful derivation. Refusal is an expected outcome, not an error.
type Scheduler interface {
	// Propose picks a strategy and derives its full parameters.
	Propose(f *ir.Fusion, seg *ir.Segment, args []tensor.Arg) (*sched.Params, bool)
	// Derive computes parameters for an already fixed strategy. Reuse checks
	// call it to learn whether an existing plan's kind still accepts new
	// concrete inputs.
	Derive(kind sched.Kind, f *ir.Fusion, seg *ir.Segment, args []tensor.Arg) (*sched.Params, bool)
}

// Compiler turns one unit and its scheduling decision into an executable
// kernel. unit is the whole fusion in single-kernel mode, or the extracted
// per-segment fusion otherwise.
type Compiler interface {
	Compile(ctx context.Context, unit *ir.Fusion, params *sched.Params) (Kernel, error)
}

// Kernel is one compiled device function.
type Kernel interface {
	// Launch runs the kernel over args with a fully resolved launch shape and
	// returns the unit's outputs in declared order.
	Launch(ctx context.Context, args []tensor.Arg, launch sched.LaunchParams) ([]*tensor.Tensor, error)
	// Close releases device resources backing the kernel.
	Close(ctx context.Context) error
}
