package fusecache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/unkn0wn-root/fusecache/backend"
	"github.com/unkn0wn-root/fusecache/graph"
	"github.com/unkn0wn-root/fusecache/ir"
	"github.com/unkn0wn-root/fusecache/sched"
	"github.com/unkn0wn-root/fusecache/tensor"
)

// ==============================
// fake collaborators
// ==============================

// fakeFrontEnd lowers the string-op graph 1:1 into the internal form.
type fakeFrontEnd struct{ lowered int }

var lowerOps = map[string]ir.Op{
	graph.Add:  ir.OpAdd,
	graph.Sub:  ir.OpSub,
	graph.Mul:  ir.OpMul,
	graph.Div:  ir.OpDiv,
	graph.Neg:  ir.OpNeg,
	graph.Relu: ir.OpRelu,
	graph.Exp:  ir.OpExp,
	graph.Sum:  ir.OpSum,
	graph.Max:  ir.OpMax,
}

func (fe *fakeFrontEnd) Lower(g *graph.Graph) (*ir.Fusion, error) {
	f := &ir.Fusion{}
	for i := range g.Inputs {
		f.Inputs = append(f.Inputs, ir.ValID(i))
	}
	base := len(g.Inputs)
	for i, nd := range g.Nodes {
		op, ok := lowerOps[nd.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported op %q", nd.Op)
		}
		in := make([]ir.ValID, len(nd.In))
		for j, v := range nd.In {
			in[j] = ir.ValID(v)
		}
		f.Nodes = append(f.Nodes, ir.Node{
			Op:   op,
			In:   in,
			Out:  ir.ValID(base + i),
			Axes: append([]int(nil), nd.Axes...),
		})
	}
	for _, out := range g.Outputs {
		f.Outputs = append(f.Outputs, ir.ValID(out))
	}
	fe.lowered++
	return f, nil
}

// fakeScheduler derives deterministic decisions: reduction kind when the unit
// reduces, pointwise otherwise, with a concrete launch shape computed from
// the complete fusion's extents. Knobs simulate the refusal paths.
type fakeScheduler struct {
	refuseWhole bool
	refuseSegs  map[int]bool
	deriveFail  bool
	vector      func(args []tensor.Arg) int // nil => 1

	proposeCalls int
	deriveCalls  int
}

func (s *fakeScheduler) unitReduces(f *ir.Fusion, seg *ir.Segment) bool {
	nodes := f.Nodes
	if seg != nil {
		nodes = seg.Nodes
	}
	for _, n := range nodes {
		if n.Op.IsReduction() {
			return true
		}
	}
	return false
}

func (s *fakeScheduler) paramsFor(kind sched.Kind, args []tensor.Arg) *sched.Params {
	maxElems := int64(1)
	for _, a := range args {
		if a.IsTensor() {
			if n := a.Tensor().Elements(); n > maxElems {
				maxElems = n
			}
		}
	}
	vec := 1
	if s.vector != nil {
		vec = s.vector(args)
	}
	return &sched.Params{
		Kind:   kind,
		Vector: vec,
		Unroll: 2,
		Launch: sched.LaunchParams{
			GridX: (maxElems + defaultBlockX - 1) / defaultBlockX, GridY: 1, GridZ: 1,
			BlockX: defaultBlockX, BlockY: 1, BlockZ: 1,
			SharedBytes: 0,
		},
	}
}

func (s *fakeScheduler) Propose(f *ir.Fusion, seg *ir.Segment, args []tensor.Arg) (*sched.Params, bool) {
	s.proposeCalls++
	if seg == nil && s.refuseWhole {
		return nil, false
	}
	if seg != nil && s.refuseSegs[seg.ID] {
		return nil, false
	}
	kind := sched.Pointwise
	if s.unitReduces(f, seg) {
		kind = sched.Reduction
	}
	return s.paramsFor(kind, args), true
}

func (s *fakeScheduler) Derive(kind sched.Kind, f *ir.Fusion, seg *ir.Segment, args []tensor.Arg) (*sched.Params, bool) {
	s.deriveCalls++
	if s.deriveFail {
		return nil, false
	}
	return s.paramsFor(kind, args), true
}

// fakeSegmenter puts every node in its own segment, the finest legal
// partition. Value ids stay global, so the runner's value table routes
// intermediates between segments.
type fakeSegmenter struct {
	segmentations int
	fail          bool
}

func (sg *fakeSegmenter) Segment(f *ir.Fusion, _ []tensor.Arg) (*ir.SegmentedFusion, error) {
	if sg.fail {
		return nil, errors.New("partitioner rejected fusion")
	}
	sg.segmentations++
	sf := &ir.SegmentedFusion{Complete: f}
	for i, n := range f.Nodes {
		in := make([]ir.ValID, 0, len(n.In))
		seen := make(map[ir.ValID]bool, len(n.In))
		for _, v := range n.In {
			if !seen[v] {
				seen[v] = true
				in = append(in, v)
			}
		}
		sf.Segments = append(sf.Segments, &ir.Segment{
			ID:      i,
			Inputs:  in,
			Outputs: []ir.ValID{n.Out},
			Nodes:   []ir.Node{n},
		})
	}
	return sf, nil
}

// fakeCompiler hands out interpreting kernels and counts compilations.
type fakeCompiler struct {
	compiles int
	fail     bool
	kernels  []*fakeKernel
}

func (c *fakeCompiler) Compile(_ context.Context, unit *ir.Fusion, params *sched.Params) (backend.Kernel, error) {
	if c.fail {
		return nil, errors.New("device compiler unavailable")
	}
	c.compiles++
	k := &fakeKernel{unit: unit, params: params}
	c.kernels = append(c.kernels, k)
	return k, nil
}

func (c *fakeCompiler) closedKernels() int {
	n := 0
	for _, k := range c.kernels {
		if k.closed {
			n++
		}
	}
	return n
}

// fakeKernel interprets its unit fusion on float32 data, honoring strides, so
// tests can check numeric results end to end.
type fakeKernel struct {
	unit     *ir.Fusion
	params   *sched.Params
	launches []sched.LaunchParams
	closed   bool
}

func (k *fakeKernel) Launch(_ context.Context, args []tensor.Arg, launch sched.LaunchParams) ([]*tensor.Tensor, error) {
	if k.closed {
		return nil, errors.New("kernel launched after close")
	}
	if !launch.Resolved() {
		return nil, fmt.Errorf("unresolved launch shape %v", launch)
	}
	k.launches = append(k.launches, launch)
	return evalFusion(k.unit, args)
}

func (k *fakeKernel) Close(context.Context) error {
	k.closed = true
	return nil
}

// ==============================
// fusion interpreter
// ==============================

func evalFusion(f *ir.Fusion, args []tensor.Arg) ([]*tensor.Tensor, error) {
	if len(args) != len(f.Inputs) {
		return nil, fmt.Errorf("%d args for %d inputs", len(args), len(f.Inputs))
	}
	vals := make(map[ir.ValID]tensor.Arg, len(f.Inputs)+len(f.Nodes))
	for i, id := range f.Inputs {
		vals[id] = args[i]
	}
	for _, n := range f.Nodes {
		out, err := evalNode(n, vals)
		if err != nil {
			return nil, err
		}
		vals[n.Out] = tensor.TensorArg(out)
	}
	outs := make([]*tensor.Tensor, len(f.Outputs))
	for i, id := range f.Outputs {
		a, ok := vals[id]
		if !ok || !a.IsTensor() {
			return nil, fmt.Errorf("output %d missing", id)
		}
		outs[i] = a.Tensor()
	}
	return outs, nil
}

func evalNode(n ir.Node, vals map[ir.ValID]tensor.Arg) (*tensor.Tensor, error) {
	switch n.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv:
		return evalBinary(n.Op, vals[n.In[0]], vals[n.In[1]])
	case ir.OpNeg, ir.OpRelu, ir.OpExp:
		return evalUnary(n.Op, vals[n.In[0]].Tensor())
	case ir.OpSum, ir.OpMax:
		return evalReduce(n.Op, vals[n.In[0]].Tensor(), n.Axes)
	default:
		return nil, fmt.Errorf("cannot interpret op %s", n.Op)
	}
}

func scalarF32(s tensor.Scalar) (float32, error) {
	switch v := s.Value.(type) {
	case float64:
		return float32(v), nil
	case int64:
		return float32(v), nil
	default:
		return 0, fmt.Errorf("non-numeric scalar %T", s.Value)
	}
}

func readF32(t *tensor.Tensor, idx []int64) float32 {
	local := make([]int64, len(idx))
	for d := range idx {
		if t.Sizes()[d] == 1 {
			local[d] = 0
			continue
		}
		local[d] = idx[d]
	}
	return t.Float32s()[t.ElemOffset(local)]
}

// nextIndex advances idx odometer-style; false when the space is exhausted.
func nextIndex(idx, sizes []int64) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < sizes[d] {
			return true
		}
		idx[d] = 0
	}
	return false
}

func applyBinary(op ir.Op, a, b float32) float32 {
	switch op {
	case ir.OpAdd:
		return a + b
	case ir.OpSub:
		return a - b
	case ir.OpMul:
		return a * b
	case ir.OpDiv:
		return a / b
	}
	panic("not a binary op")
}

func evalBinary(op ir.Op, a, b tensor.Arg) (*tensor.Tensor, error) {
	// Scalar operands broadcast over the tensor side.
	if !a.IsTensor() && !b.IsTensor() {
		return nil, errors.New("binary node without tensor operand")
	}
	if !a.IsTensor() || !b.IsTensor() {
		t := a
		sc := b
		swap := false
		if !a.IsTensor() {
			t, sc, swap = b, a, true
		}
		sv, err := scalarF32(sc.Scalar())
		if err != nil {
			return nil, err
		}
		tt := t.Tensor()
		out := tensor.New(tensor.Float32, tt.Device(), tt.Sizes()...)
		dst := out.Float32s()
		if out.Elements() > 0 {
			idx := make([]int64, tt.Rank())
			for {
				x := readF32(tt, idx)
				var r float32
				if swap {
					r = applyBinary(op, sv, x)
				} else {
					r = applyBinary(op, x, sv)
				}
				dst[out.ElemOffset(idx)] = r
				if !nextIndex(idx, out.Sizes()) {
					break
				}
			}
		}
		return out, nil
	}

	ta, tb := a.Tensor(), b.Tensor()
	if ta.Rank() != tb.Rank() {
		return nil, fmt.Errorf("rank mismatch %d vs %d", ta.Rank(), tb.Rank())
	}
	sizes := make([]int64, ta.Rank())
	for d := range sizes {
		sa, sb := ta.Sizes()[d], tb.Sizes()[d]
		switch {
		case sa == sb:
			sizes[d] = sa
		case sa == 1:
			sizes[d] = sb
		case sb == 1:
			sizes[d] = sa
		default:
			return nil, fmt.Errorf("incompatible extents %d vs %d at dim %d", sa, sb, d)
		}
	}
	out := tensor.New(tensor.Float32, ta.Device(), sizes...)
	dst := out.Float32s()
	if out.Elements() > 0 {
		idx := make([]int64, len(sizes))
		for {
			dst[out.ElemOffset(idx)] = applyBinary(op, readF32(ta, idx), readF32(tb, idx))
			if !nextIndex(idx, sizes) {
				break
			}
		}
	}
	return out, nil
}

func evalUnary(op ir.Op, t *tensor.Tensor) (*tensor.Tensor, error) {
	out := tensor.New(tensor.Float32, t.Device(), t.Sizes()...)
	dst := out.Float32s()
	if out.Elements() > 0 {
		idx := make([]int64, t.Rank())
		for {
			x := readF32(t, idx)
			var r float32
			switch op {
			case ir.OpNeg:
				r = -x
			case ir.OpRelu:
				if x > 0 {
					r = x
				}
			case ir.OpExp:
				r = float32(math.Exp(float64(x)))
			}
			dst[out.ElemOffset(idx)] = r
			if !nextIndex(idx, out.Sizes()) {
				break
			}
		}
	}
	return out, nil
}

func evalReduce(op ir.Op, t *tensor.Tensor, axes []int) (*tensor.Tensor, error) {
	reduced := make(map[int]bool, len(axes))
	for _, ax := range axes {
		if ax < 0 || ax >= t.Rank() {
			return nil, fmt.Errorf("reduction axis %d out of range", ax)
		}
		reduced[ax] = true
	}
	var outSizes []int64
	for d, s := range t.Sizes() {
		if !reduced[d] {
			outSizes = append(outSizes, s)
		}
	}
	out := tensor.New(tensor.Float32, t.Device(), outSizes...)
	dst := out.Float32s()
	if op == ir.OpMax {
		for i := range dst {
			dst[i] = float32(math.Inf(-1))
		}
	}
	if t.Elements() == 0 {
		return out, nil
	}
	idx := make([]int64, t.Rank())
	outIdx := make([]int64, len(outSizes))
	for {
		j := 0
		for d := range idx {
			if !reduced[d] {
				outIdx[j] = idx[d]
				j++
			}
		}
		x := readF32(t, idx)
		off := out.ElemOffset(outIdx)
		if op == ir.OpSum {
			dst[off] += x
		} else if x > dst[off] {
			dst[off] = x
		}
		if !nextIndex(idx, t.Sizes()) {
			break
		}
	}
	return out, nil
}

// ==============================
// recording hooks and helpers
// ==============================

type recordHooks struct {
	evicted   []uint64
	builtIDs  []uint64
	reusedIDs []uint64
	discarded int
	compiled  int
	notSched  []uint64
}

func (h *recordHooks) IdentityEvicted(id uint64) {
	h.evicted = append(h.evicted, id)
}

func (h *recordHooks) PlanBuilt(id uint64, _ string, _ int, _ bool) {
	h.builtIDs = append(h.builtIDs, id)
}

func (h *recordHooks) PlanReused(id uint64, _ string) {
	h.reusedIDs = append(h.reusedIDs, id)
}

func (h *recordHooks) PlanDiscarded(string, int) {
	h.discarded++
}

func (h *recordHooks) KernelCompiled(int, string, time.Duration) {
	h.compiled++
}

func (h *recordHooks) NotSchedulable(id uint64) {
	h.notSched = append(h.notSched, id)
}

func cpuDev() tensor.Device { return tensor.Device{Kind: tensor.CPU} }

func denseF32(vals []float32, sizes ...int64) *tensor.Tensor {
	return tensor.FromFloat32(cpuDev(), sizes, vals)
}

// transposedF32 stores vals in transposed memory order and returns a view
// with logical sizes, so the view's stride order is [1, 0].
func transposedF32(vals []float32, rows, cols int64) *tensor.Tensor {
	backing := make([]float32, len(vals))
	for i := int64(0); i < rows; i++ {
		for j := int64(0); j < cols; j++ {
			backing[j*rows+i] = vals[i*cols+j]
		}
	}
	base := tensor.FromFloat32(cpuDev(), []int64{cols, rows}, backing)
	return base.AsStrided([]int64{rows, cols}, []int64{1, rows})
}

// addFusion is x + y over rank-2 inputs.
func addFusion() *ir.Fusion {
	return &ir.Fusion{
		Inputs:  []ir.ValID{0, 1},
		Outputs: []ir.ValID{2},
		Nodes:   []ir.Node{{Op: ir.OpAdd, In: []ir.ValID{0, 1}, Out: 2}},
	}
}

// mulSumFusion is (x * y) summed over axis 1: one pointwise and one reduction
// node, two segments under the per-node partitioner.
func mulSumFusion() *ir.Fusion {
	return &ir.Fusion{
		Inputs:  []ir.ValID{0, 1},
		Outputs: []ir.ValID{3},
		Nodes: []ir.Node{
			{Op: ir.OpMul, In: []ir.ValID{0, 1}, Out: 2},
			{Op: ir.OpSum, In: []ir.ValID{2}, Out: 3, Axes: []int{1}},
		},
	}
}

func tensorArgs(ts ...*tensor.Tensor) []tensor.Arg {
	args := make([]tensor.Arg, len(ts))
	for i, t := range ts {
		args[i] = tensor.TensorArg(t)
	}
	return args
}

// checkTensor compares a result against expected logical sizes and row-major
// element values, reading through the view's strides.
func checkTensor(t *testing.T, got *tensor.Tensor, wantSizes []int64, want []float32) {
	t.Helper()
	if !slices.Equal(got.Sizes(), wantSizes) {
		t.Fatalf("sizes = %v, want %v", got.Sizes(), wantSizes)
	}
	if got.Elements() == 0 {
		return
	}
	idx := make([]int64, got.Rank())
	i := 0
	for {
		if v := readF32(got, idx); v != want[i] {
			t.Fatalf("element %v = %v, want %v", idx, v, want[i])
		}
		i++
		if !nextIndex(idx, got.Sizes()) {
			break
		}
	}
}

// checkSameTensor asserts that two tensors agree logically, whatever their
// memory layouts.
func checkSameTensor(t *testing.T, got, want *tensor.Tensor) {
	t.Helper()
	if !slices.Equal(got.Sizes(), want.Sizes()) {
		t.Fatalf("sizes = %v, want %v", got.Sizes(), want.Sizes())
	}
	if got.Elements() == 0 {
		return
	}
	idx := make([]int64, got.Rank())
	for {
		g, w := readF32(got, idx), readF32(want, idx)
		if g != w {
			t.Fatalf("element %v = %v, want %v", idx, g, w)
		}
		if !nextIndex(idx, got.Sizes()) {
			break
		}
	}
}
