// Package kernelopt is the tensor-program kernel optimizer: it takes a
// SINK-rooted op graph over strided buffers and rewrites its shape so that
// an external code generator can emit global/local work sizes, vectorized
// upcasts, loop unrolls, shared-memory grouping, and tensor-core
// instructions. See the package's design notes for the full component
// breakdown; this file holds construction and the mutable Kernel record.
package kernelopt

import (
	"fmt"

	"github.com/example/go-kernelopt/internal/dag"
	"github.com/example/go-kernelopt/internal/renderer"
	"github.com/example/go-kernelopt/internal/shapetracker"
	"github.com/example/go-kernelopt/internal/uop"
)

// TensorCoreOptions records where a matched tensor core's N/M axes live in
// the current shape, adjusted in lockstep with simplify_ones removing axes.
type TensorCoreOptions struct {
	Axes      [3]int  // N, M, K axis positions
	AxesExist [2]bool // whether the N, M axes are still present (K always is)
	AxisPads  [][2]int
}

// FixAxes adjusts the stored N/M axis positions when axis `removed` is
// deleted from the shape (called after a simplify_ones pass removes it).
func (t *TensorCoreOptions) FixAxes(removed int) {
	for dim := 0; dim < 2; dim++ {
		if !t.AxesExist[dim] {
			continue
		}
		switch {
		case removed < t.Axes[dim]:
			t.Axes[dim]--
		case removed == t.Axes[dim]:
			t.AxesExist[dim] = false
		}
	}
}

// Kernel is the mutable optimizer state for a single fused kernel.
type Kernel struct {
	AST  *uop.UOp
	Opts renderer.Renderer

	ReduceOps     []*uop.UOp
	Bufs          []*uop.UOp
	FullBufIndex  int
	Sts           []*shapetracker.ShapeTracker

	AppliedOpts     []renderer.Opt
	GroupForReduces int
	Upcasted        int
	LocalDims       int
	DontUseLocals   bool

	TensorCore     *renderer.TensorCore
	TensorCoreOpts *TensorCoreOptions
	UseTensorCores int
}

// New builds a Kernel from a SINK-rooted ast, permutes reduce axes to the
// tail, and runs the initial simplification pass.
func New(ast *uop.UOp, opts renderer.Renderer) (*Kernel, error) {
	if ast.Op != uop.Sink {
		return nil, &InvalidAstError{Reason: fmt.Sprintf("root op must be SINK, got %s", ast.Op)}
	}

	order, err := dag.Toposort(ast)
	if err != nil {
		return nil, &InvalidAstError{Reason: err.Error()}
	}

	var reduceOps []*uop.UOp
	for _, n := range order {
		if n.Op == uop.ReduceAxis {
			reduceOps = append(reduceOps, n)
		}
	}

	var bufs []*uop.UOp
	for _, n := range order {
		if uop.BufferOps[n.Op] {
			bufs = append(bufs, n)
		}
	}
	// NOTE: buffers are indexed in *reverse* toposort order. This is
	// preserved as observable behavior even though later axis-derived
	// indices depend on it; see DESIGN.md for why it is kept as-is.
	for i, j := 0, len(bufs)-1; i < j; i, j = i+1, j-1 {
		bufs[i], bufs[j] = bufs[j], bufs[i]
	}

	fullBufIndex := 0
	if len(reduceOps) > 0 {
		var earlyBufs []*uop.UOp
		for _, r := range reduceOps {
			src0Order, err := dag.Toposort(r.Src[0])
			if err != nil {
				return nil, &InvalidAstError{Reason: err.Error()}
			}
			for _, n := range src0Order {
				if uop.BufferOps[n.Op] {
					earlyBufs = append(earlyBufs, n)
				}
			}
		}
		if len(earlyBufs) == 0 {
			return nil, &InvalidAstError{Reason: "reduce op has no buffer source"}
		}
		best := earlyBufs[0]
		bestProd := shapeProduct(bufShapeTracker(best))
		for _, b := range earlyBufs[1:] {
			p := shapeProduct(bufShapeTracker(b))
			if p > bestProd {
				best, bestProd = b, p
			}
		}
		idx := indexOf(bufs, best)
		if idx < 0 {
			return nil, &InvalidAstError{Reason: "full buffer not found among buffer ops"}
		}
		fullBufIndex = idx
	}

	sts := make([]*shapetracker.ShapeTracker, 0, len(bufs)+2*len(reduceOps))
	for _, b := range bufs {
		st := bufShapeTracker(b)
		if st == nil {
			return nil, &InvalidAstError{Reason: "buffer op missing shape-tracker"}
		}
		sts = append(sts, st.Clone())
	}
	for _, r := range reduceOps {
		inSt := bufShapeTracker(r.Src[0])
		if inSt == nil {
			return nil, &InvalidAstError{Reason: "reduce op source missing shape-tracker"}
		}
		outSt, _ := r.ShapeTracker.(*shapetracker.ShapeTracker)
		if outSt == nil {
			// Reduce ops are not buffer ops themselves; their "shape" for
			// the optimizer is the output shape of their first source
			// post-reduction, and the input shape is the source's shape.
			outSt = reduceOutputShapeTracker(r)
		}
		sts = append(sts, outSt.Clone(), inSt.Clone())
	}

	k := &Kernel{
		AST:          ast,
		Opts:         opts,
		ReduceOps:    reduceOps,
		Bufs:         bufs,
		FullBufIndex: fullBufIndex,
		Sts:          sts,
	}

	// Move every axis where full_shape diverges from the output shape (the
	// reduce axes) to the tail, preserving relative order within each group.
	fullShape := k.Sts[k.FullBufIndex].Shape()
	outShape := k.Sts[0].Shape()
	var kept, reduceAxes []int
	for i := range fullShape {
		if i < len(outShape) && fullShape[i] == outShape[i] {
			kept = append(kept, i)
		} else {
			reduceAxes = append(reduceAxes, i)
		}
	}
	perm := append(append([]int(nil), kept...), reduceAxes...)
	if err := k.reshapeAndPermute(nil, perm); err != nil {
		return nil, &InvalidAstError{Reason: "initial reduce-axis permute failed: " + err.Error()}
	}

	k.simplifyOnes()
	k.simplifyMergeAdjacent()

	return k, nil
}

// Copy returns an independent kernel state a beam-search-style caller can
// mutate without affecting the original.
func (k *Kernel) Copy() *Kernel {
	ret := &Kernel{
		AST:          k.AST,
		Opts:         k.Opts,
		ReduceOps:    k.ReduceOps,
		Bufs:         k.Bufs,
		FullBufIndex: k.FullBufIndex,

		AppliedOpts:     append([]renderer.Opt(nil), k.AppliedOpts...),
		GroupForReduces: k.GroupForReduces,
		Upcasted:        k.Upcasted,
		LocalDims:       k.LocalDims,
		DontUseLocals:   k.DontUseLocals,
		UseTensorCores:  k.UseTensorCores,
	}
	ret.Sts = make([]*shapetracker.ShapeTracker, len(k.Sts))
	for i, st := range k.Sts {
		ret.Sts[i] = st.Clone()
	}
	if k.TensorCore != nil {
		tc := *k.TensorCore
		ret.TensorCore = &tc
	}
	if k.TensorCoreOpts != nil {
		opts := *k.TensorCoreOpts
		ret.TensorCoreOpts = &opts
	}
	return ret
}

func indexOf(haystack []*uop.UOp, needle *uop.UOp) int {
	for i, n := range haystack {
		if n == needle {
			return i
		}
	}
	return -1
}

// bufShapeTracker finds the shape-tracker carried by n itself, or failing
// that, by the nearest buffer-op/VIEW descendant reachable from n — used
// both to read a buffer op's own view and to recover the pre-reduction
// shape from a reduce op's first source (e.g. a MUL of two LOADs).
func bufShapeTracker(n *uop.UOp) *shapetracker.ShapeTracker {
	if n.ShapeTracker != nil {
		if st, ok := n.ShapeTracker.(*shapetracker.ShapeTracker); ok {
			return st
		}
	}
	for _, s := range n.Src {
		if s.Op == uop.View {
			if st, ok := s.ShapeTracker.(*shapetracker.ShapeTracker); ok {
				return st
			}
		}
	}
	for _, s := range n.Src {
		if st := bufShapeTracker(s); st != nil {
			return st
		}
	}
	return nil
}

// reduceOutputShapeTracker derives the output shape-tracker of a REDUCE_AXIS
// node from its input shape-tracker by collapsing the reduced axes to 1.
func reduceOutputShapeTracker(r *uop.UOp) *shapetracker.ShapeTracker {
	in := bufShapeTracker(r.Src[0])
	shape := append([]int64(nil), in.Shape()...)
	for _, axis := range r.ReduceArgValue().Axes {
		shape[axis] = 1
	}
	return shapetracker.FromShape(shape)
}

func shapeProduct(st *shapetracker.ShapeTracker) int64 {
	if st == nil {
		return 0
	}
	p := int64(1)
	for _, s := range st.Shape() {
		p *= s
	}
	return p
}
