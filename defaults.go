package fusecache

const (
	// DefaultIDCapacity bounds the identity cache when Options.IDCapacity
	// is zero.
	DefaultIDCapacity = 100

	// DefaultLaunchCacheEntries bounds each kernel's resolved-launch cache
	// when Options.LaunchCacheEntries is zero.
	DefaultLaunchCacheEntries = 4096
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
