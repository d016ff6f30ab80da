// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/fusecache"
//	"github.com/unkn0wn-root/fusecache/hooks/async"
//	"github.com/unkn0wn-root/fusecache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    EvictEvery: 10, // sample logs: ~every 10th identity eviction
//	    ReuseEvery: 1,  // log every plan reuse
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	gc, _ := fusecache.NewGraphCache(g, fusecache.Options{
//	    FrontEnd:  fe,
//	    Scheduler: sch,
//	    Compiler:  comp,
//	    Hooks:     hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/fusecache"
)

type Hooks struct {
	inner fusecache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ fusecache.Hooks = (*Hooks)(nil)

func New(inner fusecache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) IdentityEvicted(id uint64) { h.try(func() { h.inner.IdentityEvicted(id) }) }
func (h *Hooks) NotSchedulable(id uint64)  { h.try(func() { h.inner.NotSchedulable(id) }) }
func (h *Hooks) PlanReused(id uint64, device string) {
	h.try(func() { h.inner.PlanReused(id, device) })
}
func (h *Hooks) PlanBuilt(id uint64, device string, units int, segmented bool) {
	h.try(func() { h.inner.PlanBuilt(id, device, units, segmented) })
}
func (h *Hooks) PlanDiscarded(device string, units int) {
	h.try(func() { h.inner.PlanDiscarded(device, units) })
}
func (h *Hooks) KernelCompiled(unit int, kind string, d time.Duration) {
	h.try(func() { h.inner.KernelCompiled(unit, kind, d) })
}
