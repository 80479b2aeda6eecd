package kernelopt

import (
	"github.com/example/go-kernelopt/internal/config"
	"github.com/example/go-kernelopt/internal/renderer"
	"github.com/example/go-kernelopt/internal/uop"
)

// RequiredOptimizations applies opts the lowering step cannot skip
// regardless of any planner: currently just the image-buffer upcast every
// image-dtype kernel needs so its addressing stays plane-aligned.
func (k *Kernel) RequiredOptimizations() error {
	if len(k.Bufs) == 0 || !k.Bufs[0].DType.IsImage() {
		return nil
	}
	axis, ok := k.firstUnitStrideAxisDivisibleBy(0, 4)
	if !ok {
		return nil
	}
	return k.ApplyOpt(renderer.Opt{Op: renderer.OptUpcast, Axis: &axis, Arg: 4}, true)
}

// HandCodedOptimizations produces the default opt sequence a caller runs
// when no external beam-search planner is driving the kernel.
func (k *Kernel) HandCodedOptimizations(cfg config.HeuristicConfig) error {
	if err := k.RequiredOptimizations(); err != nil {
		return err
	}

	if cfg.MatvecEnabled && k.tryMatvec(cfg) {
		return nil
	}

	k.tryGroupTopScan()
	k.tryImageUpcastUnroll()
	k.tryMaskedAxisUpcast()
	k.tryStrideZeroUpcastScan()
	k.tryTailReduceUnroll()
	k.tryLeadingUpcast()
	k.tryLocals(cfg.NoLocals)

	return nil
}

// tryMatvec detects a single ADD-reduce over MUL(LOAD, LOAD), with the first
// operand stride-1 at the first reduce axis and not both operands expanded
// there, and emits the GROUP/LOCAL/UPCAST triple that turns it into a
// classic matrix-vector kernel. It reports whether the kernel matched; a
// matched kernel gets no further heuristic steps.
func (k *Kernel) tryMatvec(cfg config.HeuristicConfig) bool {
	if !k.Opts.HasShared || !k.Opts.HasLocal {
		return false
	}
	if cfg.MatvecBlockSize <= 1 && cfg.MatvecThreadsRow <= 1 && cfg.MatvecRowsThread <= 1 {
		return false
	}
	if len(k.ReduceOps) != 1 {
		return false
	}
	r := k.ReduceOps[0]
	if r.ReduceArgValue().Kind != uop.ReduceAdd {
		return false
	}
	if len(k.FullShape()) < 2 {
		return false
	}
	mul := r.Src[0]
	if mul.Op != uop.Mul || len(mul.Src) != 2 {
		return false
	}
	if mul.Src[0].Op != uop.Load || mul.Src[1].Op != uop.Load {
		return false
	}

	i0, i1 := indexOf(k.Bufs, mul.Src[0]), indexOf(k.Bufs, mul.Src[1])
	if i0 < 0 || i1 < 0 {
		return false
	}
	st0, st1 := k.Sts[i0], k.Sts[i1]
	strides0, strides1 := st0.RealStrides(), st1.RealStrides()

	firstReduce := k.FirstReduce()
	if firstReduce >= len(strides0) || strides0[firstReduce] == nil || *strides0[firstReduce] != 1 {
		return false
	}
	if hasExpandedAxis(st0.Shape(), strides0) && hasExpandedAxis(st1.Shape(), strides1) {
		return false
	}

	gi := k.pickMatvecGlobalIndex(cfg)
	if gi < 0 {
		return false
	}

	if cfg.MatvecThreadsRow > 1 {
		groupAxis := 0
		if err := k.ApplyOpt(renderer.Opt{Op: renderer.OptGroup, Axis: &groupAxis, Arg: cfg.MatvecThreadsRow}, true); err != nil {
			return true
		}
	}
	if cfg.MatvecBlockSize > 1 {
		localAxis := gi
		if err := k.ApplyOpt(renderer.Opt{Op: renderer.OptLocal, Axis: &localAxis, Arg: cfg.MatvecBlockSize}, true); err != nil {
			return true
		}
	}
	if cfg.MatvecRowsThread > 1 {
		upcastAxis := gi
		_ = k.ApplyOpt(renderer.Opt{Op: renderer.OptUpcast, Axis: &upcastAxis, Arg: cfg.MatvecRowsThread}, true)
	}
	return true
}

// hasExpandedAxis reports whether any axis is broadcast (stride 0) over a
// size greater than 1 - a genuinely expanded axis, as opposed to a
// coincidentally size-1 one.
func hasExpandedAxis(shape []int64, strides []*int64) bool {
	for i, s := range shape {
		if s > 1 && i < len(strides) && strides[i] != nil && *strides[i] == 0 {
			return true
		}
	}
	return false
}

// pickMatvecGlobalIndex searches the global axes for one whose size, paired
// with the first reduce axis's size, satisfies both of MV's thread-layout
// divisibility preconditions.
func (k *Kernel) pickMatvecGlobalIndex(cfg config.HeuristicConfig) int {
	full := k.FullShape()
	firstReduce := k.FirstReduce()
	for globalIdx := 0; globalIdx < k.GlobalDims(); globalIdx++ {
		if firstReduce >= len(full) || full[firstReduce]%int64(cfg.MatvecThreadsRow) != 0 {
			continue
		}
		if globalIdx >= len(full) || full[globalIdx]%int64(cfg.MatvecBlockSize*cfg.MatvecRowsThread) != 0 {
			continue
		}
		return globalIdx
	}
	return -1
}

// tryGroupTopScan attempts a coarse GROUPTOP(0, 256 or 16) when the output
// shape is small enough and not already vectorized for a group-less plan.
func (k *Kernel) tryGroupTopScan() {
	if !k.Opts.HasShared || !k.Opts.HasLocal {
		return
	}
	if k.hasUnitStrideMul4InUpcast() {
		return
	}
	firstReduce, firstUpcast := k.FirstReduce(), k.FirstUpcast()
	if firstUpcast-firstReduce > 2 {
		return
	}
	nonReduceProd := int64(1)
	full := k.FullShape()
	for i := 0; i < firstReduce; i++ {
		nonReduceProd *= full[i]
	}
	if nonReduceProd > 2048 {
		return
	}
	axis := 0
	for _, amt := range []int{256, 16} {
		if err := k.ApplyOpt(renderer.Opt{Op: renderer.OptGroupTop, Axis: &axis, Arg: amt}, true); err == nil {
			return
		}
	}
}

func (k *Kernel) hasUnitStrideMul4InUpcast() bool {
	firstUpcast := k.FirstUpcast()
	for i := firstUpcast; i < k.ShapeLen(); i++ {
		for stIdx := range k.Bufs {
			strides := k.Sts[stIdx].RealStrides()
			if i < len(strides) && strides[i] != nil && *strides[i] == 1 && k.Sts[stIdx].Shape()[i]%4 == 0 {
				return true
			}
		}
	}
	return false
}

// tryImageUpcastUnroll upcasts (pre-reduce) or unrolls (post-reduce) the
// first unit-stride-mul-4 axis of every image-dtype buffer by 4.
func (k *Kernel) tryImageUpcastUnroll() {
	firstReduce := k.FirstReduce()
	for i, b := range k.Bufs {
		if !b.DType.IsImage() {
			continue
		}
		axis, ok := k.firstUnitStrideAxisDivisibleBy(i, 4)
		if !ok {
			continue
		}
		op := renderer.OptUpcast
		relAxis := axis
		if axis >= firstReduce {
			op = renderer.OptUnroll
			relAxis = axis - firstReduce
		}
		_ = k.ApplyOpt(renderer.Opt{Op: op, Axis: &relAxis, Arg: 4}, true)
	}
}

func (k *Kernel) firstUnitStrideAxisDivisibleBy(bufIndex, divisor int) (int, bool) {
	st := k.Sts[bufIndex]
	strides := st.RealStrides()
	shape := st.Shape()
	for i, s := range strides {
		if s != nil && (*s == 1 || *s == -1) && shape[i]%int64(divisor) == 0 {
			return i, true
		}
	}
	return 0, false
}

// tryMaskedAxisUpcast upcasts pre-reduce axes masked by padding, as long as
// no GROUP has claimed the reduce segment and the combined upcast product
// stays under the 49-element cap.
func (k *Kernel) tryMaskedAxisUpcast() {
	if k.GroupForReduces != 0 {
		return
	}
	firstReduce := k.FirstReduce()
	product := int64(1)
	for axis := 0; axis < firstReduce; axis++ {
		masked := false
		for _, st := range k.Sts {
			if axis < st.Rank() && st.AxisIsMasked(axis) {
				masked = true
				break
			}
		}
		if !masked {
			continue
		}
		size := k.FullShape()[axis]
		if size > 7 || product*size > 49 {
			continue
		}
		a := axis
		if err := k.ApplyOpt(renderer.Opt{Op: renderer.OptUpcast, Axis: &a, Arg: int(size)}, true); err == nil {
			product *= size
			firstReduce = k.FirstReduce()
		}
	}
}

// tryStrideZeroUpcastScan repeatedly upcasts the best zero-stride candidate
// axis while the pre-reduce product stays at or above 1024.
func (k *Kernel) tryStrideZeroUpcastScan() {
	for {
		firstReduce := k.FirstReduce()
		product := int64(1)
		for i := 0; i < firstReduce; i++ {
			product *= k.FullShape()[i]
		}
		if product < 1024 {
			return
		}
		divisor := 4
		if k.Opts.Device == "DSP" {
			divisor = 128
		}
		axis, amt, ok := k.bestZeroStrideCandidate(firstReduce, divisor)
		if !ok {
			return
		}
		if err := k.ApplyOpt(renderer.Opt{Op: renderer.OptUpcast, Axis: &axis, Arg: amt}, true); err != nil {
			return
		}
	}
}

func (k *Kernel) bestZeroStrideCandidate(firstReduce, divisor int) (axis, amt int, ok bool) {
	full := k.FullShape()
	upcastedZero := map[int]bool{}
	for i := k.FirstUpcast(); i < k.ShapeLen(); i++ {
		for _, st := range k.Sts {
			strides := st.RealStrides()
			if i < len(strides) && strides[i] != nil && *strides[i] == 0 {
				upcastedZero[i] = true
			}
		}
	}
	best, bestSize := -1, int64(0)
	for i := 0; i < firstReduce; i++ {
		size := full[i]
		if size%int64(divisor) != 0 && size%3 != 0 {
			continue
		}
		hasZero := false
		for _, st := range k.Sts {
			strides := st.RealStrides()
			if i < len(strides) && strides[i] != nil && *strides[i] == 0 {
				hasZero = true
				break
			}
		}
		if !hasZero || upcastedZero[i] {
			continue
		}
		if size > bestSize {
			best, bestSize = i, size
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	d := int64(divisor)
	if bestSize%d != 0 {
		d = 3
	}
	return best, int(d), true
}

// tryTailReduceUnroll unrolls the innermost non-upcasted reduce axis when
// it's small enough, optionally taking the next axis in too.
func (k *Kernel) tryTailReduceUnroll() {
	firstUpcast := k.FirstUpcast()
	firstReduce := k.FirstReduce()
	if firstUpcast <= firstReduce {
		return
	}
	axis := firstUpcast - 1
	full := k.FullShape()
	size := full[axis]
	if size > 32 {
		relAxis := axis - firstReduce
		if relAxis >= 0 {
			_ = k.ApplyOpt(renderer.Opt{Op: renderer.OptUnroll, Axis: &relAxis, Arg: 4}, true)
		}
		return
	}
	relAxis := axis - firstReduce
	if relAxis < 0 {
		return
	}
	if err := k.ApplyOpt(renderer.Opt{Op: renderer.OptUnroll, Axis: &relAxis, Arg: int(size)}, true); err != nil {
		return
	}
	if size <= 3 {
		firstReduce = k.FirstReduce()
		firstUpcast = k.FirstUpcast()
		if firstUpcast > firstReduce {
			next := firstUpcast - 1 - firstReduce
			full = k.FullShape()
			if next >= 0 && next+firstReduce < len(full) {
				_ = k.ApplyOpt(renderer.Opt{Op: renderer.OptUnroll, Axis: &next, Arg: int(full[next+firstReduce])}, true)
			}
		}
	}
}

// tryLeadingUpcast upcasts the last non-upcasted axis by 4 if nothing has
// been upcasted yet and that axis divides 4 evenly.
func (k *Kernel) tryLeadingUpcast() {
	if k.Upcasted != 0 {
		return
	}
	firstUpcast := k.FirstUpcast()
	if firstUpcast == 0 {
		return
	}
	axis := firstUpcast - 1
	full := k.FullShape()
	if full[axis]%4 != 0 {
		return
	}
	_ = k.ApplyOpt(renderer.Opt{Op: renderer.OptUpcast, Axis: &axis, Arg: 4}, true)
}

// tryLocals either forces NOLOCALS (if requested and none assigned yet) or
// assigns up to three leading local axes, prioritizing expanded (any
// zero-stride) axes, from the size menu [32, 16, 8, 4, 3, 2].
func (k *Kernel) tryLocals(noLocals bool) {
	if !k.Opts.HasLocal {
		return
	}
	if noLocals && k.LocalDims == 0 {
		_ = k.ApplyOpt(renderer.Opt{Op: renderer.OptNoLocals}, true)
		return
	}

	menu := []int{32, 16, 8, 4, 3, 2}
	product := int64(1)
	assigned := 0
	for assigned < 3 {
		globalDims := k.GlobalDims()
		if globalDims == 0 {
			break
		}
		axis := k.bestLocalCandidate(globalDims)
		if axis < 0 {
			break
		}
		applied := false
		for _, amt := range menu {
			if amt == 32 && axis != 0 {
				continue
			}
			if product*int64(amt) > 128 {
				continue
			}
			full := k.FullShape()
			if axis >= len(full) || full[axis]%int64(amt) != 0 {
				continue
			}
			a := axis
			if err := k.ApplyOpt(renderer.Opt{Op: renderer.OptLocal, Axis: &a, Arg: amt}, true); err == nil {
				product *= int64(amt)
				applied = true
				break
			}
		}
		if !applied {
			break
		}
		assigned++
	}
}

func (k *Kernel) bestLocalCandidate(globalDims int) int {
	for i := 0; i < globalDims; i++ {
		for _, st := range k.Sts {
			strides := st.RealStrides()
			if i < len(strides) && strides[i] != nil && *strides[i] == 0 {
				return i
			}
		}
	}
	if globalDims > 0 {
		return 0
	}
	return -1
}
