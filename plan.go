package fusecache

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/fusecache/backend"
	"github.com/unkn0wn-root/fusecache/ir"
	"github.com/unkn0wn-root/fusecache/sched"
	"github.com/unkn0wn-root/fusecache/tensor"
)

// ExecLog captures the most recent profiled kernel run of a plan. Segmented
// plans overwrite it per unit, so after a run it describes the last unit in
// run order.
type ExecLog struct {
	Unit      int
	Segmented bool
	Params    sched.Params       // decision the unit ran with
	Launch    sched.LaunchParams // resolved launch shape
}

type planMode uint8

const (
	modeSingle planMode = iota
	modeSegmented
)

// planConfig is the slice of Options a plan needs.
type planConfig struct {
	scheduler     backend.Scheduler
	compiler      backend.Compiler
	segmenter     backend.Segmenter
	log           Logger
	hooks         Hooks
	launchEntries int64
}

// Plan is one compiled strategy for a fusion: the scheduling decisions made
// at construction plus the kernels compiled from them. Whether the plan runs
// a single kernel or a dependency-ordered segment chain is decided exactly
// once, here; a plan never re-segments.
type Plan struct {
	fusion   *ir.Fusion
	segs     *ir.SegmentedFusion // nil in single-kernel mode
	runOrder []int               // segment traversal order, segmented mode only
	mode     planMode
	device   tensor.Device
	class    sched.Class
	classKey string
	heur     *sched.Heuristics
	execs    []*executor
	cfg      planConfig

	profiling bool
	lastLog   ExecLog
	hasLog    bool
}

// newPlan derives scheduling decisions for args and prepares one executor per
// compiled unit. It reports ErrNotSchedulable when the whole fusion is
// refused and no segmenter is configured, or when any segment is refused.
func newPlan(f *ir.Fusion, args []tensor.Arg, device tensor.Device, cfg planConfig) (*Plan, error) {
	p := &Plan{
		fusion: f,
		device: device,
		class:  sched.ClassOf(args),
		cfg:    cfg,
	}
	p.classKey = p.class.Key()

	if params, ok := cfg.scheduler.Propose(f, nil, args); ok {
		p.mode = modeSingle
		p.heur = &sched.Heuristics{Entries: []*sched.Params{params.Clone()}}
		ex, err := newExecutor(0, cfg.launchEntries, func() *ir.Fusion { return f })
		if err != nil {
			return nil, err
		}
		p.execs = []*executor{ex}
		return p, nil
	}

	if cfg.segmenter == nil {
		return nil, fmt.Errorf("%w: whole fusion refused and no segmenter configured", ErrNotSchedulable)
	}
	sf, err := cfg.segmenter.Segment(f, args)
	if err != nil {
		return nil, fmt.Errorf("fusecache: segmentation failed: %w", err)
	}
	if len(sf.Segments) == 0 {
		return nil, errors.New("fusecache: segmenter produced no segments")
	}
	if err := validatePartition(f, sf); err != nil {
		return nil, fmt.Errorf("fusecache: malformed partition: %w", err)
	}
	order, err := sf.RunOrder()
	if err != nil {
		return nil, fmt.Errorf("fusecache: %w", err)
	}

	p.mode = modeSegmented
	p.segs = sf
	p.runOrder = order
	p.heur = &sched.Heuristics{Entries: make([]*sched.Params, len(sf.Segments))}
	for i, seg := range sf.Segments {
		params, ok := cfg.scheduler.Propose(f, seg, args)
		if !ok {
			return nil, fmt.Errorf("%w: segment %d refused", ErrNotSchedulable, i)
		}
		p.heur.Entries[i] = params.Clone()
	}
	p.execs = make([]*executor, len(sf.Segments))
	for i, seg := range sf.Segments {
		ex, err := newExecutor(i, cfg.launchEntries, func() *ir.Fusion { return sf.MakeFusion(seg) })
		if err != nil {
			for _, built := range p.execs[:i] {
				built.launches.Close()
			}
			return nil, err
		}
		p.execs[i] = ex
	}
	return p, nil
}

// validatePartition checks that every segment input is a fusion input or some
// segment's output, and that the fusion's declared outputs are all covered.
func validatePartition(f *ir.Fusion, sf *ir.SegmentedFusion) error {
	produced := make(map[ir.ValID]bool, len(f.Inputs))
	for _, in := range f.Inputs {
		produced[in] = true
	}
	for _, seg := range sf.Segments {
		for _, out := range seg.Outputs {
			produced[out] = true
		}
	}
	for _, seg := range sf.Segments {
		for _, in := range seg.Inputs {
			if !produced[in] {
				return fmt.Errorf("segment %d consumes value %d that nothing produces", seg.ID, in)
			}
		}
	}
	for _, out := range f.Outputs {
		if !produced[out] {
			return fmt.Errorf("declared output %d not produced by any segment", out)
		}
	}
	return nil
}

// Run executes the plan for one input configuration. id keys the per-kernel
// resolved-launch caches.
func (p *Plan) Run(ctx context.Context, args []tensor.Arg, id uint64) ([]*tensor.Tensor, error) {
	if p.mode == modeSingle {
		return p.runUnit(ctx, 0, args, id)
	}
	return p.runSegments(ctx, args, id)
}

func (p *Plan) runSegments(ctx context.Context, args []tensor.Arg, id uint64) ([]*tensor.Tensor, error) {
	complete := p.segs.Complete
	if len(args) != len(complete.Inputs) {
		return nil, fmt.Errorf("fusecache: %d args for fusion with %d inputs", len(args), len(complete.Inputs))
	}
	vals := make(map[ir.ValID]tensor.Arg, len(complete.Inputs)+len(p.segs.Segments))
	for i, in := range complete.Inputs {
		vals[in] = args[i]
	}

	for _, si := range p.runOrder {
		seg := p.segs.Segments[si]
		segArgs := make([]tensor.Arg, len(seg.Inputs))
		for i, in := range seg.Inputs {
			a, ok := vals[in]
			if !ok {
				// validatePartition plus RunOrder make this unreachable.
				panic(fmt.Sprintf("fusecache: segment %d scheduled before its input %d", si, in))
			}
			segArgs[i] = a
		}
		outs, err := p.runUnit(ctx, si, segArgs, id)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", si, err)
		}
		if len(outs) != len(seg.Outputs) {
			return nil, fmt.Errorf("fusecache: segment %d produced %d outputs, declared %d", si, len(outs), len(seg.Outputs))
		}
		for i, out := range seg.Outputs {
			vals[out] = tensor.TensorArg(outs[i])
		}
	}

	final := make([]*tensor.Tensor, len(complete.Outputs))
	for i, out := range complete.Outputs {
		a := vals[out]
		if !a.IsTensor() {
			return nil, fmt.Errorf("fusecache: declared output %d is not a tensor", out)
		}
		final[i] = a.Tensor()
	}
	return final, nil
}

func (p *Plan) runUnit(ctx context.Context, unit int, args []tensor.Arg, id uint64) ([]*tensor.Tensor, error) {
	ex := p.execs[unit]
	entry := p.heur.Entries[unit]
	if !ex.compiled() {
		if err := ex.compile(ctx, p.cfg.compiler, entry, p.mode == modeSegmented, p.cfg.hooks); err != nil {
			return nil, err
		}
		p.cfg.log.Debug("kernel compiled", Fields{"unit": unit, "kind": entry.Kind.String()})
	}
	outs, launch, err := ex.run(ctx, args, id, entry)
	if err != nil {
		return nil, err
	}
	if p.profiling {
		p.lastLog = ExecLog{Unit: unit, Segmented: p.mode == modeSegmented, Params: *entry, Launch: launch}
		p.hasLog = true
	}
	return outs, nil
}

// MaybeHeuristicsFor checks whether the plan can absorb a new input
// configuration: the specialization class must match and every unit's fixed
// strategy must re-derive to the same schedule. The returned bundle carries
// the freshly derived launch shapes; nil means the plan does not fit.
func (p *Plan) MaybeHeuristicsFor(args []tensor.Arg) *sched.Heuristics {
	if sched.ClassOf(args).Key() != p.classKey {
		return nil
	}
	fresh := &sched.Heuristics{Entries: make([]*sched.Params, len(p.heur.Entries))}
	for i, entry := range p.heur.Entries {
		var seg *ir.Segment
		if p.mode == modeSegmented {
			seg = p.segs.Segments[i]
		}
		params, ok := p.cfg.scheduler.Derive(entry.Kind, p.fusion, seg, args)
		if !ok || !params.SameScheduleAs(entry) {
			return nil
		}
		fresh.Entries[i] = params.Clone()
	}
	return fresh
}

// UpdateLaunchParams copies the launch shapes of h into the plan's bundle,
// leaving the compiled kernels untouched.
func (p *Plan) UpdateLaunchParams(h *sched.Heuristics) {
	p.heur.UpdateLaunch(h)
}

// Evict drops the launch shapes cached for id in every unit.
func (p *Plan) Evict(id uint64) {
	for _, ex := range p.execs {
		ex.evict(id)
	}
}

// Profile toggles run logging.
func (p *Plan) Profile(on bool) { p.profiling = on }

// MostRecentLog returns the last profiled unit run, if any.
func (p *Plan) MostRecentLog() (ExecLog, bool) { return p.lastLog, p.hasLog }

// Segmented reports whether the plan runs a segment chain.
func (p *Plan) Segmented() bool { return p.mode == modeSegmented }

// Units returns the number of compiled units: 1 for a single-kernel plan,
// the segment count otherwise.
func (p *Plan) Units() int { return len(p.execs) }

// Device returns the device the plan was built for.
func (p *Plan) Device() tensor.Device { return p.device }

// Heuristics returns a copy of the live decision bundle.
func (p *Plan) Heuristics() *sched.Heuristics { return p.heur.Clone() }

// Close releases every unit's kernel and launch cache.
func (p *Plan) Close(ctx context.Context) error {
	var errs []error
	for _, ex := range p.execs {
		if err := ex.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
