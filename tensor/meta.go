package tensor

import (
	"cmp"
	"slices"
)

// Meta describes a tensor argument without referencing its storage: element
// type, device, and the extent and stride of every dimension. The cache
// layers key exclusively on Meta; element data never participates.
//
// Slices returned by Meta methods are freshly allocated, but Sizes and
// Strides may alias the owning tensor and must be treated as read-only.
type Meta struct {
	DType   DType
	Device  Device
	Sizes   []int64
	Strides []int64
}

// Rank returns the number of dimensions.
func (m Meta) Rank() int { return len(m.Sizes) }

// Elements returns the total element count.
func (m Meta) Elements() int64 {
	n := int64(1)
	for _, s := range m.Sizes {
		n *= s
	}
	return n
}

// StrideOrder returns the permutation that sorts dimensions by decreasing
// stride, ties broken by dimension index. Permuting a tensor by its stride
// order yields a view whose innermost dimension has the smallest stride; for
// a tensor that is dense in some layout, that view is dense in the default
// layout.
func (m Meta) StrideOrder() []int {
	order := make([]int, len(m.Strides))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(m.Strides[b], m.Strides[a])
	})
	return order
}

// Contiguity reports, per stride-order position from outermost to innermost,
// whether that dimension is packed tightly against the next-inner one.
// Extent-1 dimensions are considered packed regardless of their stride.
func (m Meta) Contiguity() []bool {
	order := m.StrideOrder()
	contig := make([]bool, len(order))
	expected := int64(1)
	for i := len(order) - 1; i >= 0; i-- {
		dim := order[i]
		if m.Sizes[dim] == 1 {
			contig[i] = true
			continue
		}
		contig[i] = m.Strides[dim] == expected
		expected = m.Strides[dim] * m.Sizes[dim]
	}
	return contig
}

// Broadcast returns per-dimension broadcast flags: true exactly where the
// extent is 1.
func (m Meta) Broadcast() []bool {
	bc := make([]bool, len(m.Sizes))
	for i, s := range m.Sizes {
		bc[i] = s == 1
	}
	return bc
}

// ContiguousStrides returns the default dense strides for sizes: innermost
// dimension has stride 1.
func ContiguousStrides(sizes []int64) []int64 {
	strides := make([]int64, len(sizes))
	acc := int64(1)
	for i := len(sizes) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= sizes[i]
	}
	return strides
}
