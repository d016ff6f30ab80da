package fusecache

import "time"

// Hooks lightweight callbacks for high-signal cache events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// The identity cache retired an input identity to make room.
	IdentityEvicted(id uint64)

	// A new plan was compiled into the cache.
	// units is 1 for a single-kernel plan, the segment count otherwise.
	PlanBuilt(id uint64, device string, units int, segmented bool)

	// An existing plan absorbed a new identity via a launch-only update.
	PlanReused(id uint64, device string)

	// An evicted identity was the plan's last reference; the plan was
	// destroyed to bound resident compiled state.
	PlanDiscarded(device string, units int)

	// One unit finished device compilation.
	KernelCompiled(unit int, kind string, d time.Duration)

	// No scheduling strategy accepted the identity's configuration.
	NotSchedulable(id uint64)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) IdentityEvicted(uint64)                    {}
func (NopHooks) PlanBuilt(uint64, string, int, bool)       {}
func (NopHooks) PlanReused(uint64, string)                 {}
func (NopHooks) PlanDiscarded(string, int)                 {}
func (NopHooks) KernelCompiled(int, string, time.Duration) {}
func (NopHooks) NotSchedulable(uint64)                     {}
