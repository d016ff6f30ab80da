package sloghooks

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/fusecache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	EvictEvery uint64
	ReuseEvery uint64
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	evictCtr atomic.Uint64
	reuseCtr atomic.Uint64
}

var _ fusecache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) IdentityEvicted(id uint64) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("fusecache.identity_evicted", "id", id)
}

func (h *Hooks) PlanBuilt(id uint64, device string, units int, segmented bool) {
	if h.l == nil {
		return
	}
	h.l.Info("fusecache.plan_built",
		"id", id,
		"device", device,
		"units", units,
		"segmented", segmented)
}

func (h *Hooks) PlanReused(id uint64, device string) {
	if h.l == nil || !sample(h.opts.ReuseEvery, &h.reuseCtr) {
		return
	}
	h.l.Debug("fusecache.plan_reused",
		"id", id,
		"device", device)
}

func (h *Hooks) PlanDiscarded(device string, units int) {
	if h.l == nil {
		return
	}
	h.l.Info("fusecache.plan_discarded",
		"device", device,
		"units", units)
}

func (h *Hooks) KernelCompiled(unit int, kind string, d time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Info("fusecache.kernel_compiled",
		"unit", unit,
		"kind", kind,
		"dur", d)
}

func (h *Hooks) NotSchedulable(id uint64) {
	if h.l == nil {
		return
	}
	h.l.Warn("fusecache.not_schedulable", "id", id)
}
