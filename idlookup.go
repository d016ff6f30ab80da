package fusecache

import (
	"bytes"
	"container/list"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/fusecache/internal/encode"
	"github.com/unkn0wn-root/fusecache/tensor"
)

// IDLookup is the result of one identity probe.
type IDLookup struct {
	// ID is the identity of the presented input configuration. Never zero.
	ID uint64
	// EvictedID is the identity retired to make room; valid iff Evicted.
	EvictedID uint64
	// Evicted reports that this probe pushed an older configuration out. The
	// plan level must drain the signal before its next lookup.
	Evicted bool
}

// IDCacheStats are cumulative identity-cache counters.
type IDCacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type idEntry struct {
	id   uint64
	node *list.Element
}

// InputIDCache interns input configurations as small integer identities with
// LRU retirement. Identities start at 1 and are never reused, so a retired
// identity can propagate through the plan level without ever aliasing a live
// one; 0 stays free as a caller-side sentinel.
//
// Safe for concurrent use. One lock guards the ledger, the recency list and
// the reused encoding scratch; this is the only lock in the cache core.
type InputIDCache struct {
	mu       sync.Mutex
	scratch  bytes.Buffer
	enc      *msgpack.Encoder
	entries  map[string]*idEntry
	order    *list.List // front = most recently seen; values are ledger keys
	next     uint64
	capacity int
	stats    IDCacheStats
}

// NewInputIDCache builds a cache holding at most capacity live identities;
// capacity <= 0 selects DefaultIDCapacity.
func NewInputIDCache(capacity int) *InputIDCache {
	if capacity <= 0 {
		capacity = DefaultIDCapacity
	}
	c := &InputIDCache{
		entries:  make(map[string]*idEntry, capacity),
		order:    list.New(),
		next:     1,
		capacity: capacity,
	}
	c.enc = msgpack.NewEncoder(&c.scratch)
	return c
}

// Lookup interns the configuration of args. A hit refreshes recency and
// returns the existing identity; a miss assigns the next identity and, when
// the cache is over capacity, retires the least recently seen one.
func (c *InputIDCache) Lookup(args []tensor.Arg) IDLookup {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scratch.Reset()
	c.enc.Reset(&c.scratch)
	if err := encode.Args(c.enc, args); err != nil {
		panic(fmt.Sprintf("fusecache: input configuration encoding failed: %v", err))
	}

	// Probe without copying the scratch bytes out.
	if e, ok := c.entries[string(c.scratch.Bytes())]; ok {
		c.stats.Hits++
		if e.node != c.order.Front() {
			c.order.MoveToFront(e.node)
		}
		return IDLookup{ID: e.id}
	}

	c.stats.Misses++
	key := c.scratch.String()
	e := &idEntry{id: c.next}
	c.next++
	e.node = c.order.PushFront(key)
	c.entries[key] = e

	res := IDLookup{ID: e.id}
	if c.order.Len() > c.capacity {
		back := c.order.Back()
		old := back.Value.(string)
		gone, ok := c.entries[old]
		if !ok {
			panic("fusecache: identity ledger out of sync with recency list")
		}
		delete(c.entries, old)
		c.order.Remove(back)
		c.stats.Evictions++
		res.EvictedID = gone.id
		res.Evicted = true
	}
	if len(c.entries) != c.order.Len() {
		panic("fusecache: identity ledger out of sync with recency list")
	}
	return res
}

// Len returns the number of live identities.
func (c *InputIDCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the fixed identity bound.
func (c *InputIDCache) Capacity() int { return c.capacity }

// Stats snapshots the cumulative counters.
func (c *InputIDCache) Stats() IDCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
