package fusecache

import (
	"fmt"

	"github.com/unkn0wn-root/fusecache/backend"
	"github.com/unkn0wn-root/fusecache/graph"
	"github.com/unkn0wn-root/fusecache/ir"
)

// Options tune the cache hierarchy.
// Scheduler and Compiler are always required; NewGraphCache additionally
// requires FrontEnd. Everything else has sensible defaults.
type Options struct {
	// Required
	Scheduler backend.Scheduler
	Compiler  backend.Compiler

	FrontEnd  backend.FrontEnd  // graph lowering; NewGraphCache only
	Segmenter backend.Segmenter // nil => a fusion refused whole is not schedulable

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	IDCapacity         int   // live identities; 0 => 100
	LaunchCacheEntries int64 // resolved launch shapes per kernel; 0 => 4096
}

func (o Options) withDefaults() Options {
	o.Logger = coalesce[Logger](o.Logger, NopLogger{})
	o.Hooks = coalesce[Hooks](o.Hooks, NopHooks{})
	o.IDCapacity = coalesce(o.IDCapacity, DefaultIDCapacity)
	o.LaunchCacheEntries = coalesce(o.LaunchCacheEntries, DefaultLaunchCacheEntries)
	return o
}

func (o Options) validate(needFrontEnd bool) error {
	if o.Scheduler == nil {
		return fmt.Errorf("fusecache: Scheduler is required")
	}
	if o.Compiler == nil {
		return fmt.Errorf("fusecache: Compiler is required")
	}
	if needFrontEnd && o.FrontEnd == nil {
		return fmt.Errorf("fusecache: FrontEnd is required")
	}
	return nil
}

// NewPlanCache builds the plan level for an already lowered fusion. Use it
// when the embedder owns lowering; NewGraphCache otherwise.
func NewPlanCache(f *ir.Fusion, opts Options) (*PlanCache, error) {
	if f == nil {
		return nil, fmt.Errorf("fusecache: Fusion is required")
	}
	if err := opts.validate(false); err != nil {
		return nil, err
	}
	return newPlanCache(f, opts.withDefaults())
}

// NewGraphCache builds the full hierarchy fronting an external graph.
func NewGraphCache(g *graph.Graph, opts Options) (*GraphCache, error) {
	if g == nil {
		return nil, fmt.Errorf("fusecache: Graph is required")
	}
	if err := opts.validate(true); err != nil {
		return nil, err
	}
	return newGraphCache(g, opts.withDefaults())
}
