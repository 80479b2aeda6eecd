package kernelopt

import "github.com/example/go-kernelopt/internal/renderer"

// ApplyOpt validates opt's preconditions, mutates kernel state, and — unless
// appendOpt is false (used internally by the tensor-core matcher, which
// stages several opts that are recorded as a single TC entry) — appends opt
// to AppliedOpts. The kernel is snapshotted first and restored if any step
// fails, so a failing opt leaves the kernel exactly as it was.
func (k *Kernel) ApplyOpt(opt renderer.Opt, appendOpt bool) error {
	before := k.Copy()
	axis := 0
	if opt.Axis != nil {
		axis = *opt.Axis
	}

	trueAxis := axis
	switch opt.Op {
	case renderer.OptUnroll:
		trueAxis = k.FirstReduce() + axis
	case renderer.OptGroup, renderer.OptGroupTop:
		trueAxis = k.FirstReduce() + k.GroupForReduces + axis
	}

	amt, _ := opt.Arg.(int)

	var err error
	switch opt.Op {
	case renderer.OptUpcast:
		err = k.applyUpcastOpt(trueAxis, amt)
	case renderer.OptUnroll:
		err = k.applyUnrollOpt(trueAxis, amt)
	case renderer.OptLocal:
		err = k.applyLocalOpt(trueAxis, amt)
	case renderer.OptGroup, renderer.OptGroupTop:
		err = k.applyGroupOpt(trueAxis, amt, opt.Op == renderer.OptGroupTop)
	case renderer.OptNoLocals:
		err = k.applyNoLocalsOpt()
	case renderer.OptSwap:
		err = k.applySwapOpt(trueAxis, amt)
	case renderer.OptPadTo:
		err = k.applyPadToOpt(trueAxis, amt)
	case renderer.OptTC:
		err = k.applyTCOpt(trueAxis, opt.Arg)
	default:
		err = checkf(false, "unknown opt %s", opt.Op)
	}
	if err != nil {
		*k = *before
		return err
	}

	k.simplifyOnes()
	if appendOpt {
		k.AppliedOpts = append(k.AppliedOpts, opt)
	}
	return nil
}

func (k *Kernel) applyUpcastOpt(axis, amt int) error {
	if err := check(axis < k.FirstReduce(), "can only upcast pre-reduce axes"); err != nil {
		return err
	}
	if k.TensorCoreOpts != nil {
		for _, a := range k.TensorCoreOpts.Axes[:2] {
			if a == axis {
				return &KernelOptError{Reason: "can't upcast a tensor-core local axis"}
			}
		}
	}
	maxAmt := 16
	if k.Opts.Device == "DSP" {
		maxAmt = 1 << 30
	}
	if err := checkf(amt <= maxAmt, "upcast amount %d exceeds device limit", amt); err != nil {
		return err
	}
	full := k.FullShape()
	if err := checkf(full[axis]%int64(amt) == 0 || full[axis] == 1, "upcast amount %d does not divide axis size %d", amt, full[axis]); err != nil {
		return err
	}
	if err := k.shiftTo(axis, amt, false, nil); err != nil {
		return err
	}
	return k.upcast()
}

func (k *Kernel) applyUnrollOpt(axis, amt int) error {
	if err := check(axis < k.FirstUpcast(), "unroll axis must precede the upcast segment"); err != nil {
		return err
	}
	if err := checkf(amt <= 32, "unroll amount %d exceeds 32", amt); err != nil {
		return err
	}
	full := k.FullShape()
	firstReduce := k.FirstReduce()
	if full[axis] == int64(amt) && axis == firstReduce {
		k.LocalDims++
	}
	if axis < firstReduce+k.GroupForReduces {
		k.GroupForReduces--
	}
	ib := axis + 1
	if err := k.shiftTo(axis, amt, false, &ib); err != nil {
		return err
	}
	return k.upcast()
}

func (k *Kernel) applyLocalOpt(axis, amt int) error {
	if err := check(k.Opts.HasLocal, "device has no local memory"); err != nil {
		return err
	}
	if err := check(!k.DontUseLocals, "locals are disabled by NOLOCALS"); err != nil {
		return err
	}
	if err := check(axis < k.GlobalDims(), "local axis must be a global axis"); err != nil {
		return err
	}
	firstReduce := k.FirstReduce()
	if err := k.shiftTo(axis, amt, false, &firstReduce); err != nil {
		return err
	}
	k.LocalDims++
	return nil
}

func (k *Kernel) applyGroupOpt(axis, amt int, top bool) error {
	if err := check(k.Opts.HasLocal && k.Opts.HasShared, "device has no local/shared memory"); err != nil {
		return err
	}
	if err := check(!k.DontUseLocals, "locals are disabled by NOLOCALS"); err != nil {
		return err
	}
	firstReduce, groupEnd := k.FirstReduce(), k.GroupSegmentEnd()
	if err := check(axis >= groupEnd && axis < k.FirstUpcast(), "group axis must be an ungrouped, unupcasted reduce axis"); err != nil {
		return err
	}
	if err := check(k.TensorCore == nil, "can't group with a tensor core active"); err != nil {
		return err
	}
	if err := check(!k.hasParallelReduces(), "no two reduce ops may share an axis"); err != nil {
		return err
	}

	accItemSize := int64(4)
	upcastProduct := int64(1)
	for i := k.FirstUpcast(); i < k.ShapeLen(); i++ {
		upcastProduct *= k.FullShape()[i]
	}
	localProduct := int64(1)
	for i := firstReduce - k.LocalDims; i < firstReduce; i++ {
		localProduct *= k.FullShape()[i]
	}
	needed := int64(amt) * accItemSize * upcastProduct * localProduct
	if needed > k.Opts.SharedMax {
		return newSharedMemoryExceeded(needed, k.Opts.SharedMax)
	}

	insertBefore := groupEnd
	if err := k.shiftTo(axis, amt, top, &insertBefore); err != nil {
		return err
	}
	k.GroupForReduces++
	return nil
}

func (k *Kernel) hasParallelReduces() bool {
	seen := map[int]bool{}
	for _, r := range k.ReduceOps {
		for _, a := range r.ReduceArgValue().Axes {
			if seen[a] {
				return true
			}
			seen[a] = true
		}
	}
	return false
}

func (k *Kernel) applyNoLocalsOpt() error {
	if err := check(k.Opts.HasLocal, "device has no local memory"); err != nil {
		return err
	}
	if err := check(!k.DontUseLocals, "NOLOCALS already applied"); err != nil {
		return err
	}
	if err := check(k.LocalDims == 0 && k.GroupForReduces == 0, "locals already assigned"); err != nil {
		return err
	}
	k.DontUseLocals = true
	return nil
}

func (k *Kernel) applySwapOpt(axis, amt int) error {
	if err := check(axis < amt && amt < k.GlobalDims(), "SWAP axes must be distinct global axes"); err != nil {
		return err
	}
	perm := make([]int, k.ShapeLen())
	for i := range perm {
		perm[i] = i
	}
	perm[axis], perm[amt] = perm[amt], perm[axis]
	return k.reshapeAndPermute(nil, perm)
}

func (k *Kernel) applyPadToOpt(axis, amt int) error {
	if err := check(axis < k.FirstUpcast(), "pad axis must precede the upcast segment"); err != nil {
		return err
	}
	firstReduce, groupEnd := k.FirstReduce(), k.ReduceSegmentEnd()
	if axis >= firstReduce && axis < groupEnd {
		// NOTE: pad-neutral accumulator verification (can_pad, f(0)=0 along
		// every ALU ancestor) requires walking the source AST; that walk is
		// delegated to the external graph-rewrite engine and is not
		// re-implemented here. Only the ADD-reduce-kind precondition is
		// checked directly.
		for _, r := range k.ReduceOps {
			if err := check(r.ReduceArgValue().Kind == 0, "can only pad an ADD reduce"); err != nil {
				return err
			}
		}
	}

	padded := false
	for i, st := range k.Sts {
		shape := st.Shape()
		if axis >= len(shape) {
			continue
		}
		s := shape[axis]
		if s <= 1 {
			continue
		}
		if err := checkf(s > int64(amt)/4, "pad would more than quadruple axis %d (size %d, amount %d)", axis, s, amt); err != nil {
			return err
		}
		rem := s % int64(amt)
		if rem == 0 {
			continue
		}
		delta := int64(amt) - rem
		pairs := make([][2]int64, len(shape))
		pairs[axis] = [2]int64{0, delta}
		newSt, err := st.Pad(pairs)
		if err != nil {
			return err
		}
		k.Sts[i] = newSt
		padded = true
	}
	return check(padded, "PADTO did not pad any shape-tracker")
}
