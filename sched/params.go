// Package sched models scheduling decisions: which strategy compiles a unit,
// with what parameters, and the specialization class that gates reuse of
// already-derived decisions across input configurations.
package sched

import "fmt"

// Kind enumerates scheduling strategies.
type Kind uint8

const (
	Pointwise Kind = iota
	Reduction
	Normalization
	Transpose
)

func (k Kind) String() string {
	switch k {
	case Pointwise:
		return "pointwise"
	case Reduction:
		return "reduction"
	case Normalization:
		return "normalization"
	case Transpose:
		return "transpose"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Unset marks launch fields the deriver left for resolution against concrete
// extents.
const Unset int64 = -1

// LaunchParams fixes the device-side launch shape of one kernel.
type LaunchParams struct {
	GridX, GridY, GridZ    int64
	BlockX, BlockY, BlockZ int64
	SharedBytes            int64
}

// EmptyLaunch returns launch params with every field Unset.
func EmptyLaunch() LaunchParams {
	return LaunchParams{
		GridX: Unset, GridY: Unset, GridZ: Unset,
		BlockX: Unset, BlockY: Unset, BlockZ: Unset,
		SharedBytes: Unset,
	}
}

// Resolved reports whether no field is Unset.
func (lp LaunchParams) Resolved() bool {
	return lp.GridX != Unset && lp.GridY != Unset && lp.GridZ != Unset &&
		lp.BlockX != Unset && lp.BlockY != Unset && lp.BlockZ != Unset &&
		lp.SharedBytes != Unset
}

func (lp LaunchParams) String() string {
	return fmt.Sprintf("grid(%d,%d,%d) block(%d,%d,%d) smem=%d",
		lp.GridX, lp.GridY, lp.GridZ, lp.BlockX, lp.BlockY, lp.BlockZ, lp.SharedBytes)
}

// Params is the full scheduling decision for one compiled unit.
type Params struct {
	Kind   Kind
	Launch LaunchParams
	Vector int // vectorization width
	Unroll int // unroll factor
}

// Clone returns an independent copy.
func (p *Params) Clone() *Params {
	cp := *p
	return &cp
}

// SameScheduleAs reports whether two decisions produce the same compiled
// kernel: equal in everything except launch shape. A launch-only delta is
// what lets a plan absorb a new input configuration without recompiling.
func (p *Params) SameScheduleAs(o *Params) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.Kind == o.Kind && p.Vector == o.Vector && p.Unroll == o.Unroll
}

// Heuristics is the ordered decision bundle of one execution plan: one entry
// per compiled unit, a single entry when the fusion runs as one kernel.
type Heuristics struct {
	Entries []*Params
}

// Clone deep-copies the bundle.
func (h *Heuristics) Clone() *Heuristics {
	cp := &Heuristics{Entries: make([]*Params, len(h.Entries))}
	for i, e := range h.Entries {
		cp.Entries[i] = e.Clone()
	}
	return cp
}

// UpdateLaunch copies launch shapes from src entrywise, leaving every other
// field untouched. Bundles of different shapes cannot describe the same plan.
func (h *Heuristics) UpdateLaunch(src *Heuristics) {
	if len(h.Entries) != len(src.Entries) {
		panic(fmt.Sprintf("sched: launch update across bundle shapes %d and %d", len(h.Entries), len(src.Entries)))
	}
	for i, e := range src.Entries {
		h.Entries[i].Launch = e.Launch
	}
}
