package ir

import "errors"

// Segment is one compiled unit of a segmented fusion. Inputs are the values
// the segment consumes from outside itself (complete-fusion inputs or other
// segments' outputs); Outputs are the values it must materialize for later
// segments or for the fusion's declared outputs.
type Segment struct {
	ID      int
	Inputs  []ValID
	Outputs []ValID
	Nodes   []Node
}

// SegmentedFusion is a partition of a fusion into independently compiled
// units. Value ids stay global to the complete fusion, so a runner can move
// intermediates between segments through a single value table.
type SegmentedFusion struct {
	Complete *Fusion
	Segments []*Segment
}

// MakeFusion extracts a self-contained fusion for one segment, suitable for
// scheduling and compilation on its own.
func (sf *SegmentedFusion) MakeFusion(s *Segment) *Fusion {
	return &Fusion{
		Inputs:  append([]ValID(nil), s.Inputs...),
		Outputs: append([]ValID(nil), s.Outputs...),
		Nodes:   append([]Node(nil), s.Nodes...),
	}
}

// RunOrder returns segment indices in dependency order: a segment that
// consumes another's output is placed after its producer. Ties resolve to
// ascending segment index, so the order is deterministic. A cyclic partition
// is malformed segmenter output and yields an error.
func (sf *SegmentedFusion) RunOrder() ([]int, error) {
	producer := make(map[ValID]int, len(sf.Segments))
	for i, s := range sf.Segments {
		for _, v := range s.Outputs {
			producer[v] = i
		}
	}

	indeg := make([]int, len(sf.Segments))
	succ := make([][]int, len(sf.Segments))
	seen := make(map[[2]int]bool)
	for i, s := range sf.Segments {
		for _, v := range s.Inputs {
			p, ok := producer[v]
			if !ok || p == i {
				continue
			}
			e := [2]int{p, i}
			if seen[e] {
				continue
			}
			seen[e] = true
			succ[p] = append(succ[p], i)
			indeg[i]++
		}
	}

	queue := make([]int, 0, len(sf.Segments))
	for i := range sf.Segments {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, len(sf.Segments))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		for _, j := range succ[i] {
			indeg[j]--
			if indeg[j] == 0 {
				queue = append(queue, j)
			}
		}
	}
	if len(order) != len(sf.Segments) {
		return nil, errors.New("ir: segment dependencies form a cycle")
	}
	return order, nil
}
