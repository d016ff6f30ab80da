package fusecache

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/fusecache/ir"
	"github.com/unkn0wn-root/fusecache/tensor"
)

// PlanCache is the second cache level: input identities to compiled plans.
// One PlanCache serves one fusion. Plans are grouped per device; a new
// identity first tries to reuse a same-class plan through a launch-only
// update and only then pays for scheduling and compilation.
//
// The identity level it embeds is concurrency-safe; the plan level itself
// must be driven by one goroutine at a time.
type PlanCache struct {
	fusion *ir.Fusion
	ids    *InputIDCache
	cfg    planConfig

	plans  map[tensor.Device][]*Plan
	byID   map[uint64]*Plan
	barren map[uint64]struct{} // identities whose configuration failed scheduling
	failed map[uint64]error    // identities whose configuration failed hard

	recent    *Plan
	profiling bool
	stats     planStats
}

type planStats struct {
	built, reused, discarded, notSchedulable uint64
}

func newPlanCache(f *ir.Fusion, opts Options) (*PlanCache, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("fusecache: %w", err)
	}
	return &PlanCache{
		fusion: f,
		ids:    NewInputIDCache(opts.IDCapacity),
		cfg: planConfig{
			scheduler:     opts.Scheduler,
			compiler:      opts.Compiler,
			segmenter:     opts.Segmenter,
			log:           opts.Logger,
			hooks:         opts.Hooks,
			launchEntries: opts.LaunchCacheEntries,
		},
		plans:  make(map[tensor.Device][]*Plan),
		byID:   make(map[uint64]*Plan),
		barren: make(map[uint64]struct{}),
		failed: make(map[uint64]error),
	}, nil
}

// Run resolves args to their identity and plan, compiling at most once per
// specialization class, and executes the plan. An identity retired by the
// lookup is drained from the plan level before anything else happens.
func (pc *PlanCache) Run(ctx context.Context, args []tensor.Arg) ([]*tensor.Tensor, error) {
	res := pc.ids.Lookup(args)
	if res.Evicted {
		pc.evict(ctx, res.EvictedID)
	}
	plan, err := pc.planFor(args, res.ID)
	if err != nil {
		return nil, err
	}
	pc.recent = plan
	return plan.Run(ctx, args, res.ID)
}

// planFor returns the plan serving id: shortcut map first, then same-class
// reuse on the args' device, then a fresh build. Every identity handed out by
// the lookup ends up in exactly one of byID, barren or failed, so a later
// retirement always finds its bookkeeping.
func (pc *PlanCache) planFor(args []tensor.Arg, id uint64) (*Plan, error) {
	if p, ok := pc.byID[id]; ok {
		return p, nil
	}
	if _, ok := pc.barren[id]; ok {
		// Collaborators are deterministic per identity; re-deriving would
		// only fail again.
		pc.stats.notSchedulable++
		return nil, ErrNotSchedulable
	}
	if err, ok := pc.failed[id]; ok {
		// Hard failures are as deterministic as refusals.
		return nil, err
	}

	dev, err := commonDevice(args)
	if err != nil {
		pc.failed[id] = err
		pc.cfg.log.Debug("unsupported configuration", Fields{"id": id, "error": err.Error()})
		return nil, err
	}
	for _, p := range pc.plans[dev] {
		if h := p.MaybeHeuristicsFor(args); h != nil {
			p.UpdateLaunchParams(h)
			pc.byID[id] = p
			pc.stats.reused++
			pc.cfg.hooks.PlanReused(id, dev.String())
			pc.cfg.log.Debug("plan reused", Fields{"id": id, "device": dev.String()})
			return p, nil
		}
	}

	p, err := newPlan(pc.fusion, args, dev, pc.cfg)
	if err != nil {
		if errors.Is(err, ErrNotSchedulable) {
			pc.barren[id] = struct{}{}
			pc.stats.notSchedulable++
			pc.cfg.hooks.NotSchedulable(id)
			pc.cfg.log.Debug("not schedulable", Fields{"id": id, "error": err.Error()})
		} else {
			pc.failed[id] = err
			pc.cfg.log.Debug("plan build failed", Fields{"id": id, "error": err.Error()})
		}
		return nil, err
	}
	p.Profile(pc.profiling)
	pc.plans[dev] = append(pc.plans[dev], p)
	pc.byID[id] = p
	pc.stats.built++
	pc.cfg.hooks.PlanBuilt(id, dev.String(), p.Units(), p.Segmented())
	pc.cfg.log.Info("plan built", Fields{
		"id":        id,
		"device":    dev.String(),
		"units":     p.Units(),
		"segmented": p.Segmented(),
	})
	return p, nil
}

// evict drains one identity-retirement signal: drop the launch shapes held
// for the retired id and, when that was the plan's last live identity,
// destroy the plan to bound resident compiled state. A retired identity the
// plan level has never heard of means the two levels disagree, which is not
// a recoverable state.
func (pc *PlanCache) evict(ctx context.Context, id uint64) {
	pc.cfg.hooks.IdentityEvicted(id)
	if _, ok := pc.barren[id]; ok {
		delete(pc.barren, id)
		return
	}
	if _, ok := pc.failed[id]; ok {
		delete(pc.failed, id)
		return
	}
	p, ok := pc.byID[id]
	if !ok {
		panic(fmt.Sprintf("fusecache: retired identity %d unknown to the plan level", id))
	}
	delete(pc.byID, id)
	p.Evict(id)
	pc.cfg.log.Debug("identity evicted", Fields{"id": id})

	for _, q := range pc.byID {
		if q == p {
			return
		}
	}
	dev := p.Device()
	group := pc.plans[dev]
	for i, q := range group {
		if q == p {
			pc.plans[dev] = append(group[:i], group[i+1:]...)
			break
		}
	}
	if pc.recent == p {
		pc.recent = nil
	}
	pc.stats.discarded++
	pc.cfg.hooks.PlanDiscarded(dev.String(), p.Units())
	pc.cfg.log.Debug("plan discarded", Fields{"device": dev.String(), "units": p.Units()})
	if err := p.Close(ctx); err != nil {
		pc.cfg.log.Warn("plan close failed", Fields{"error": err.Error()})
	}
}

// commonDevice returns the single device of all tensor args. Scalar-only
// argument lists fall back to the zero Device. Mixed devices are an
// unsupported configuration.
func commonDevice(args []tensor.Arg) (tensor.Device, error) {
	var dev tensor.Device
	found := false
	for _, a := range args {
		if !a.IsTensor() {
			continue
		}
		d := a.Tensor().Device()
		if !found {
			dev, found = d, true
			continue
		}
		if d != dev {
			return tensor.Device{}, fmt.Errorf("fusecache: arguments span devices %s and %s; single-device execution only", dev, d)
		}
	}
	return dev, nil
}

// Profile toggles run logging on every live plan and seeds plans built later.
func (pc *PlanCache) Profile(on bool) {
	pc.profiling = on
	for _, group := range pc.plans {
		for _, p := range group {
			p.Profile(on)
		}
	}
}

// MostRecentPlan returns the plan selected by the latest successful Run.
// Advisory only; the pointer goes stale the moment the plan is discarded.
func (pc *PlanCache) MostRecentPlan() *Plan { return pc.recent }

// MostRecentLog returns the last profiled unit run of the most recent plan.
func (pc *PlanCache) MostRecentLog() (ExecLog, bool) {
	if pc.recent == nil {
		return ExecLog{}, false
	}
	return pc.recent.MostRecentLog()
}

// Fusion returns the fusion this cache serves.
func (pc *PlanCache) Fusion() *ir.Fusion { return pc.fusion }

// IDs exposes the identity level for inspection.
func (pc *PlanCache) IDs() *InputIDCache { return pc.ids }

// Stats merges identity-level and plan-level counters.
func (pc *PlanCache) Stats() Stats {
	ids := pc.ids.Stats()
	return Stats{
		IDHits:         ids.Hits,
		IDMisses:       ids.Misses,
		IDEvictions:    ids.Evictions,
		PlansBuilt:     pc.stats.built,
		PlansReused:    pc.stats.reused,
		PlansDiscarded: pc.stats.discarded,
		NotSchedulable: pc.stats.notSchedulable,
	}
}

// Close destroys every live plan and releases their device resources. The
// cache must not be used after Close.
func (pc *PlanCache) Close(ctx context.Context) error {
	var errs []error
	for _, group := range pc.plans {
		for _, p := range group {
			if err := p.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	pc.plans = make(map[tensor.Device][]*Plan)
	pc.byID = make(map[uint64]*Plan)
	pc.barren = make(map[uint64]struct{})
	pc.failed = make(map[uint64]error)
	pc.recent = nil
	return errors.Join(errs...)
}
