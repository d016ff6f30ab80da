package fusecache

// Stats is a point-in-time snapshot of cache-effectiveness counters across
// both levels.
type Stats struct {
	// Identity level.
	IDHits      uint64
	IDMisses    uint64
	IDEvictions uint64

	// Plan level.
	PlansBuilt     uint64
	PlansReused    uint64
	PlansDiscarded uint64
	NotSchedulable uint64
}
