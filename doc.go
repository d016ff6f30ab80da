// Package fusecache implements a two-level, in-process compilation cache for
// fused tensor graphs. Level one maps a concrete input configuration (shapes,
// strides, dtypes, devices, specializing scalars) to a small integer identity
// under LRU; level two maps identities to compiled execution plans. The hot
// path for a repeated configuration is one serialization, one map probe and
// one shortcut lookup; no scheduling or compilation work is redone.
//
// Components:
//   - InputIDCache: bounded identity assignment. Identities are monotonic and
//     never reused; retiring one is the coupling signal that invalidates the
//     plan level.
//   - Plan: one compiled strategy for a fusion, either a single kernel or a
//     dependency-ordered chain of segment kernels, with per-identity resolved
//     launch shapes cached per kernel (Ristretto).
//   - PlanCache: identity -> plan with device partitioning, specialization-
//     class reuse (launch-only updates against existing plans) and eager
//     destruction of plans whose last identity was retired.
//   - GraphCache: the outward entry point. Decides once, from the graph's
//     profiled input layouts, whether to run through a common memory-order
//     permutation, then delegates to a PlanCache and restores output order.
//
// Collaborators (graph lowering, segmentation, heuristic derivation, device
// compilation) are interfaces in the backend package; the cache drives them
// but owns no device logic itself.
//
// Typical use:
//
//	gc, _ := fusecache.NewGraphCache(g, fusecache.Options{
//		FrontEnd:  fe,
//		Scheduler: sch,
//		Compiler:  comp,
//	})
//	outs, err := gc.Run(ctx, args) // compiles on first sight, cached after
//
// Only the identity cache is safe for concurrent use; a PlanCache or
// GraphCache must be driven by one goroutine at a time.
package fusecache
