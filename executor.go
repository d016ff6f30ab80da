package fusecache

import (
	"context"
	"fmt"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/fusecache/backend"
	"github.com/unkn0wn-root/fusecache/ir"
	"github.com/unkn0wn-root/fusecache/sched"
	"github.com/unkn0wn-root/fusecache/tensor"
)

const defaultBlockX = 128

// executor owns one compiled unit of a plan: the kernel, compiled lazily on
// first run, and a per-identity cache of resolved launch shapes. Launch
// resolution is pure, so a dropped or evicted cache entry only costs a
// re-resolution, never correctness.
type executor struct {
	unit     int
	extract  func() *ir.Fusion // builds the unit's fusion at compile time
	kernel   backend.Kernel
	launches *rc.Cache
}

func newExecutor(unit int, entries int64, extract func() *ir.Fusion) (*executor, error) {
	lc, err := rc.NewCache(&rc.Config{
		NumCounters: entries * 10,
		MaxCost:     entries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("fusecache: launch cache: %w", err)
	}
	return &executor{unit: unit, extract: extract, launches: lc}, nil
}

func (ex *executor) compiled() bool { return ex.kernel != nil }

func (ex *executor) compile(ctx context.Context, comp backend.Compiler, params *sched.Params, seg bool, hooks Hooks) error {
	start := time.Now()
	k, err := comp.Compile(ctx, ex.extract(), params)
	if err != nil {
		return &CompileError{Unit: ex.unit, Segmented: seg, Err: err}
	}
	ex.kernel = k
	hooks.KernelCompiled(ex.unit, params.Kind.String(), time.Since(start))
	return nil
}

// run launches the unit, reusing the launch shape resolved for id when one is
// cached.
func (ex *executor) run(ctx context.Context, args []tensor.Arg, id uint64, params *sched.Params) ([]*tensor.Tensor, sched.LaunchParams, error) {
	launch, ok := ex.cachedLaunch(id)
	if !ok {
		launch = resolveLaunch(params.Launch, args)
		ex.launches.Set(id, launch, 1)
	}
	outs, err := ex.kernel.Launch(ctx, args, launch)
	return outs, launch, err
}

func (ex *executor) cachedLaunch(id uint64) (sched.LaunchParams, bool) {
	v, ok := ex.launches.Get(id)
	if !ok {
		return sched.LaunchParams{}, false
	}
	lp, ok := v.(sched.LaunchParams)
	if !ok {
		// self-heal: drop unexpected entry shape
		ex.launches.Del(id)
		return sched.LaunchParams{}, false
	}
	return lp, true
}

func (ex *executor) evict(id uint64) {
	ex.launches.Del(id)
}

func (ex *executor) close(ctx context.Context) error {
	ex.launches.Wait()
	ex.launches.Close()
	if ex.kernel == nil {
		return nil
	}
	return ex.kernel.Close(ctx)
}

// resolveLaunch fills Unset launch fields against concrete extents: block
// defaults to defaultBlockX threads on x, grid x to enough blocks to cover
// the largest tensor argument, remaining dims to 1 and shared memory to 0.
// Non-positive block dims count as unset; BlockX divides the grid math.
func resolveLaunch(lp sched.LaunchParams, args []tensor.Arg) sched.LaunchParams {
	maxElems := int64(1)
	for _, a := range args {
		if a.IsTensor() {
			if n := a.Tensor().Elements(); n > maxElems {
				maxElems = n
			}
		}
	}
	if lp.BlockX <= 0 {
		lp.BlockX = defaultBlockX
	}
	if lp.BlockY <= 0 {
		lp.BlockY = 1
	}
	if lp.BlockZ <= 0 {
		lp.BlockZ = 1
	}
	if lp.GridX == sched.Unset {
		lp.GridX = (maxElems + lp.BlockX - 1) / lp.BlockX
	}
	if lp.GridY == sched.Unset {
		lp.GridY = 1
	}
	if lp.GridZ == sched.Unset {
		lp.GridZ = 1
	}
	if lp.SharedBytes == sched.Unset {
		lp.SharedBytes = 0
	}
	return lp
}
