package kernelopt

import (
	"fmt"
	"sync/atomic"

	"github.com/example/go-kernelopt/internal/renderer"
	"github.com/example/go-kernelopt/internal/rewrite"
	"github.com/example/go-kernelopt/internal/shapetracker"
	"github.com/example/go-kernelopt/internal/uop"
)

// kernelCnt is the process-wide counter get_optimized_ast's name generation
// reads; its only guarantee is uniqueness within a single process.
var kernelCnt uint64

// FunctionName returns the generated kernel name: nameOverride if given, or
// a name derived from the op mix plus a unique process-local suffix.
func (k *Kernel) FunctionName(nameOverride string) string {
	if nameOverride != "" {
		return nameOverride
	}
	base := "r"
	if len(k.ReduceOps) == 0 {
		base = "E"
	}
	n := atomic.AddUint64(&kernelCnt, 1)
	return fmt.Sprintf("%s_%d", base, n)
}

// GetOptimizedAst rebuilds the op graph under the kernel's current
// shape-trackers and tensor-core arrangement, then runs the external
// view_left term-rewriter over the result.
func (k *Kernel) GetOptimizedAst(nameOverride string) (*uop.UOp, error) {
	bufIndex := map[*uop.UOp]int{}
	for i, b := range k.Bufs {
		bufIndex[b] = i
	}
	reduceIndex := map[*uop.UOp]int{}
	for i, r := range k.ReduceOps {
		reduceIndex[r] = i
	}

	memo := map[*uop.UOp]*uop.UOp{}
	var fix func(n *uop.UOp) (*uop.UOp, error)
	fix = func(n *uop.UOp) (*uop.UOp, error) {
		if cached, ok := memo[n]; ok {
			return cached, nil
		}
		newSrc := make([]*uop.UOp, len(n.Src))
		for i, s := range n.Src {
			fixed, err := fix(s)
			if err != nil {
				return nil, err
			}
			newSrc[i] = fixed
		}

		var out *uop.UOp
		switch {
		case uop.BufferOps[n.Op]:
			if i, ok := bufIndex[n]; ok {
				view := k.Sts[i].ToUOp()
				src := make([]*uop.UOp, 0, len(newSrc)+1)
				hasView := false
				for _, s := range newSrc {
					if s.Op == uop.View {
						s, hasView = view, true
					}
					src = append(src, s)
				}
				if !hasView {
					src = append([]*uop.UOp{view}, src...)
				}
				rebuilt := n.Replace(src, nil, false)
				if n.Op == uop.Const && anyAxisMasked(k.Sts[i]) {
					rebuilt = k.Sts[i].Valid(rebuilt)
				}
				out = rebuilt
			} else {
				out = n.Replace(newSrc, nil, false)
			}
		case n.Op == uop.ReduceAxis:
			idx, ok := reduceIndex[n]
			if !ok {
				out = n.Replace(newSrc, nil, false)
				break
			}
			fixed, ferr := k.fixReduceAxis(n, newSrc[0], idx)
			if ferr != nil {
				return nil, ferr
			}
			out = fixed
		default:
			out = n.Replace(newSrc, nil, false)
		}
		memo[n] = out
		return out, nil
	}

	rebuilt, err := fix(k.AST)
	if err != nil {
		return nil, err
	}

	info := uop.KernelInfo{
		FunctionName:  k.FunctionName(nameOverride),
		LocalDims:     k.LocalDims,
		Upcasted:      k.Upcasted,
		DontUseLocals: k.DontUseLocals,
	}
	sink := rebuilt.Replace(rebuilt.Src, info, true)
	return rewrite.ViewLeft(sink), nil
}

func anyAxisMasked(st *shapetracker.ShapeTracker) bool {
	for i := 0; i < st.Rank(); i++ {
		if st.AxisIsMasked(i) {
			return true
		}
	}
	return false
}

// diffAxesInRange returns the indices in [start, end) where out and in
// disagree, the set of axes a REDUCE_AXIS truly still reduces over within
// that segment after the kernel's shape rewrites.
func diffAxesInRange(out, in []int64, start, end int) []int {
	var axes []int
	for i := start; i < end; i++ {
		if i >= len(out) || i >= len(in) || out[i] != in[i] {
			axes = append(axes, i)
		}
	}
	return axes
}

// fixReduceAxis rewrites one REDUCE_AXIS node under the kernel's final
// shape-trackers. A matched tensor core (use_tensor_cores 1 or 3) on the
// kernel's first reduce op replaces the MUL+REDUCE entirely with a WMMA or
// an emulated spilled-local MUL+REDUCE_AXIS; otherwise the node keeps
// reducing its own (non-grouped) axes and, if group_for_reduces claimed part
// of its segment, the grouped portion is staged through a local buffer.
func (k *Kernel) fixReduceAxis(n, rebuiltSrc *uop.UOp, idx int) (*uop.UOp, error) {
	reduceSt := len(k.Bufs) + 2*idx
	outSt, inSt := k.Sts[reduceSt], k.Sts[reduceSt+1]
	kind := n.ReduceArgValue().Kind
	groupEnd := k.FirstReduce() + k.GroupForReduces

	axes := diffAxesInRange(outSt.Shape(), inSt.Shape(), groupEnd, k.ShapeLen())
	groupedAxes := diffAxesInRange(outSt.Shape(), inSt.Shape(), k.FirstReduce(), groupEnd)

	if k.TensorCore != nil && idx == 0 && (k.UseTensorCores == 1 || k.UseTensorCores == 3) {
		return k.fixTensorCoreReduce(rebuiltSrc, axes)
	}

	ret := n.Replace([]*uop.UOp{rebuiltSrc}, uop.ReduceArg{Kind: kind, Axes: axes}, true)
	if k.GroupForReduces == 0 || len(groupedAxes) == 0 {
		return ret, nil
	}
	return k.stageGroupedReduce(ret, kind, groupedAxes, idx), nil
}

// stageGroupedReduce stores ret's partial reduction into a DEFINE_LOCAL
// buffer sized for the grouped segment, loads it back, and runs a second
// REDUCE_AXIS over the grouped axes. When this isn't the kernel's last
// reduce op, the grouped result is itself staged through the same buffer so
// a following reduce op can consume it.
func (k *Kernel) stageGroupedReduce(ret *uop.UOp, kind uop.ReduceKind, groupedAxes []int, idx int) *uop.UOp {
	reduceSt := len(k.Bufs) + 2*idx
	outSt, inSt := k.Sts[reduceSt], k.Sts[reduceSt+1]
	localShape := k.groupedReduceLocalShape(outSt, inSt)

	lst := shapetracker.FromShape(localShape)
	stView := lst.ToUOp()
	localBuf := uop.New(uop.DefineLocal, ret.DType, nil, fmt.Sprintf("temp%d", idx))
	store := uop.New(uop.Store, ret.DType, []*uop.UOp{localBuf, stView, ret}, nil)
	load := uop.New(uop.Load, ret.DType, []*uop.UOp{localBuf, stView, store}, nil)
	groupedReduce := uop.New(uop.ReduceAxis, ret.DType, []*uop.UOp{load}, uop.ReduceArg{Kind: kind, Axes: groupedAxes})

	if idx == len(k.ReduceOps)-1 {
		return groupedReduce
	}

	collapsed := append([]int64(nil), localShape...)
	for _, a := range groupedAxes {
		if a < len(collapsed) {
			collapsed[a] = 1
		}
	}
	stView2 := shapetracker.FromShape(collapsed).ToUOp()
	store2 := uop.New(uop.Store, ret.DType, []*uop.UOp{localBuf, stView2, groupedReduce}, nil)
	return uop.New(uop.Load, ret.DType, []*uop.UOp{localBuf, stView2, store2}, nil)
}

// groupedReduceLocalShape builds the shape of the staging buffer a grouped
// reduce spills through: a 1 for every global axis, the kernel's actual
// local-dims sizes, the grouped segment's sizes (1 where that particular
// reduce op doesn't actually reduce the axis), a 1 for every axis left in
// the ungrouped reduce segment, and finally the output's own upcast sizes.
func (k *Kernel) groupedReduceLocalShape(outSt, inSt *shapetracker.ShapeTracker) []int64 {
	full := k.FullShape()
	globalDims, localDims := k.GlobalDims(), k.LocalDims
	firstReduce := k.FirstReduce()
	outShape, inShape := outSt.Shape(), inSt.Shape()

	shape := make([]int64, 0, k.ShapeLen())
	for i := 0; i < globalDims; i++ {
		shape = append(shape, 1)
	}
	for i := globalDims; i < globalDims+localDims; i++ {
		shape = append(shape, full[i])
	}
	for i := firstReduce; i < firstReduce+k.GroupForReduces; i++ {
		if i < len(outShape) && i < len(inShape) && outShape[i] != inShape[i] {
			shape = append(shape, full[i])
		} else {
			shape = append(shape, 1)
		}
	}
	midCount := k.ShapeLen() - k.Upcasted - k.GroupForReduces - firstReduce
	for i := 0; i < midCount; i++ {
		shape = append(shape, 1)
	}
	for axis := 0; axis < k.Upcasted; axis++ {
		size, _, _ := k.UpcastedAxis(0, axis)
		shape = append(shape, size)
	}
	return shape
}

// fixTensorCoreReduce replaces a REDUCE_AXIS over MUL(LOAD, LOAD) (optionally
// CAST) with the matched tensor core's instruction: real WMMA (use_tensor_
// cores 1), built from CONTRACT-wrapped operands and wrapped in turn in
// UNROLL, or an emulated MUL+REDUCE_AXIS over locally-spilled operands
// (use_tensor_cores 3). Any reduce axes outside the core's own K dimension
// are still reduced by a wrapping REDUCE_AXIS.
func (k *Kernel) fixTensorCoreReduce(rebuiltSrc *uop.UOp, axes []int) (*uop.UOp, error) {
	tc := *k.TensorCore

	mulNode := rebuiltSrc
	if mulNode.Op == uop.Cast {
		mulNode = mulNode.Src[0]
	}
	if mulNode.Op != uop.Mul || len(mulNode.Src) != 2 {
		return nil, &InvalidAstError{Reason: "tensor-core reduce source is not a MUL"}
	}
	src0, src1 := mulNode.Src[0], mulNode.Src[1]

	tcd := k.FirstUpcast()
	var tcReduceAxes []int
	for _, ra := range tc.GetReduceAxes() {
		tcReduceAxes = append(tcReduceAxes, tcd+ra[0])
	}

	var tcUop *uop.UOp
	if k.UseTensorCores == 1 {
		upcastAxes0 := tcOperandUpcastAxes(tcd, tc, 0)
		upcastAxes1 := tcOperandUpcastAxes(tcd, tc, 1)
		upcastAxes2 := tcOperandUpcastAxes(tcd, tc, 2)

		contract0 := uop.New(uop.Contract, src0.DType, []*uop.UOp{src0}, upcastAxes0)
		contract1 := uop.New(uop.Contract, src1.DType, []*uop.UOp{src1}, upcastAxes1)
		zero := uop.New(uop.Const, tc.DTypeOut, nil, float64(0))
		wmmaArg := uop.WmmaArg{
			Dims: tc.Dims, DTypeIn: tc.DTypeIn, DTypeOut: tc.DTypeOut,
			Device: k.Opts.Device, Threads: tc.Threads,
			UpcastAxes: [3][][2]int{upcastAxes0, upcastAxes1, upcastAxes2},
			ReduceAxes: tcReduceAxes,
		}
		wmma := uop.New(uop.Wmma, tc.DTypeOut, []*uop.UOp{contract0, contract1, zero}, wmmaArg)
		tcUop = uop.New(uop.Unroll, tc.DTypeOut, []*uop.UOp{wmma}, upcastAxes2)
	} else {
		spilled0 := k.spillTensorCoreOperand(src0, "0")
		spilled1 := k.spillTensorCoreOperand(src1, "1")
		mul := uop.New(uop.Mul, tc.DTypeOut, []*uop.UOp{spilled0, spilled1}, nil)
		if !tc.DTypeIn.Equal(tc.DTypeOut) {
			mul = uop.New(uop.Cast, tc.DTypeOut, []*uop.UOp{mul}, nil)
		}
		tcUop = uop.New(uop.ReduceAxis, tc.DTypeOut, []*uop.UOp{mul}, uop.ReduceArg{Kind: uop.ReduceAdd, Axes: tcReduceAxes})
	}

	isTCAxis := map[int]bool{}
	for _, a := range tcReduceAxes {
		isTCAxis[a] = true
	}
	var newAxes []int
	for _, a := range axes {
		if !isTCAxis[a] {
			newAxes = append(newAxes, a)
		}
	}
	if len(newAxes) == 0 {
		return tcUop, nil
	}
	return uop.New(uop.ReduceAxis, tc.DTypeOut, []*uop.UOp{tcUop}, uop.ReduceArg{Kind: uop.ReduceAdd, Axes: newAxes}), nil
}

// tcOperandUpcastAxes returns the (axis, amount) pairs a CONTRACT (buf 0, 1)
// or the wrapping UNROLL (buf 2, the accumulator) vectorizes over, counting
// back from the tensor core's helper-axis block at the tail of the shape.
func tcOperandUpcastAxes(tcd int, tc renderer.TensorCore, buf int) [][2]int {
	n := log2Int(tc.ElementsPerThread[buf])
	base := tcd + len(tc.GetReduceAxes()) + len(tc.GetUpcastAxes())
	axes := make([][2]int, 0, n)
	for i := 0; i < n; i++ {
		axes = append(axes, [2]int{base - (i + 1), 2})
	}
	return axes
}

func log2Int(n int) int {
	c := 0
	for n > 1 {
		n >>= 1
		c++
	}
	return c
}

// spillTensorCoreOperand stages one MUL operand through a local buffer, the
// use_tensor_cores=3 emulation path's stand-in for the warp-local addressing
// a real WMMA instruction gets for free. Axes broadcast over, in the global
// segment, or in the plain reduce segment collapse to 1; local and upcast
// axes keep their size.
func (k *Kernel) spillTensorCoreOperand(src *uop.UOp, label string) *uop.UOp {
	srcSt := bufShapeTracker(src)
	if srcSt == nil {
		return src
	}
	shape, strides := srcSt.Shape(), srcSt.RealStrides()
	wd, firstReduce, tcd := k.GlobalDims(), k.FirstReduce(), k.FirstUpcast()

	localShape := make([]int64, len(shape))
	for i := range shape {
		switch {
		case i < len(strides) && strides[i] != nil && *strides[i] == 0:
			localShape[i] = 1
		case i < wd || (i >= firstReduce && i < tcd):
			localShape[i] = 1
		default:
			localShape[i] = shape[i]
		}
	}

	stView := shapetracker.FromShape(localShape).ToUOp()
	localBuf := uop.New(uop.DefineLocal, src.DType, nil, "temp"+label)
	store := uop.New(uop.Store, src.DType, []*uop.UOp{localBuf, stView, src}, nil)
	return uop.New(uop.Load, src.DType, []*uop.UOp{localBuf, stView, store}, nil)
}

// Linearize composes get_optimized_ast with the external index-lowering and
// full-graph-rewrite passes, then orders the result into flat instructions.
func (k *Kernel) Linearize(nameOverride string) ([]*uop.UOp, error) {
	ast, err := k.GetOptimizedAst(nameOverride)
	if err != nil {
		return nil, err
	}
	ast = rewrite.RewriteShapetrackerWithIndex(ast, k.Opts)
	ast = rewrite.FullGraphRewrite(ast, k.Opts)
	return rewrite.LinearizeUOp(ast)
}

// ToProgram runs Linearize, estimates the kernel's memory footprint, and
// returns the descriptor the external renderer would otherwise have emitted
// device source into.
func (k *Kernel) ToProgram(nameOverride string) (*renderer.ProgramSpec, error) {
	name := k.FunctionName(nameOverride)
	uops, err := k.Linearize(name)
	if err != nil {
		return nil, err
	}

	memBytes := int64(0)
	for i := range k.Bufs {
		size := k.Sts[i].RealSize()
		itemSize := int64(k.Bufs[i].DType.ItemSize)
		if b := size * itemSize; b > memBytes {
			memBytes = b
		}
	}

	globalSize, localSize := k.defaultWorkSizes()

	return &renderer.ProgramSpec{
		Name:        name,
		Device:      k.Opts.Device,
		AST:         k.AST,
		UOps:        uops,
		AppliedOpts: append([]renderer.Opt(nil), k.AppliedOpts...),
		MemBytes:    memBytes,
		GlobalSize:  globalSize,
		LocalSize:   localSize,
	}, nil
}

func (k *Kernel) defaultWorkSizes() (global, local []int) {
	firstReduce := k.FirstReduce()
	globalDims := k.GlobalDims()
	full := k.FullShape()
	for i := 0; i < globalDims; i++ {
		global = append(global, int(full[i]))
	}
	for i := globalDims; i < firstReduce; i++ {
		local = append(local, int(full[i]))
	}
	return global, local
}
