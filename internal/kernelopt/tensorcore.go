package kernelopt

import (
	"github.com/example/go-kernelopt/internal/renderer"
	"github.com/example/go-kernelopt/internal/uop"
)

// tcCandidate is one (n_axis, m_axis, k_axis) triple considered by the
// tensor-core matcher, alongside the padding each axis would need.
type tcCandidate struct {
	axes [3]int // N, M, K
	pads [3]int64
}

// createTCOpts attempts to match reduceOp against tc at the given selection
// index and opt level, returning the TensorCoreOptions to apply or an error
// describing why no match exists.
func (k *Kernel) createTCOpts(reduceOp *uop.UOp, tc renderer.TensorCore, axis, optLevel int) (*TensorCoreOptions, error) {
	if err := check(reduceOp.ReduceArgValue().Kind == uop.ReduceAdd, "tensor core reduce must be ADD"); err != nil {
		return nil, err
	}

	hasCast := !tc.DTypeIn.Equal(tc.DTypeOut)
	src0 := reduceOp.Src[0]
	if hasCast {
		if err := check(src0.Op == uop.Cast && src0.DType.Equal(tc.DTypeOut), "reduce source is not cast to the tensor core's output dtype"); err != nil {
			return nil, err
		}
		src0 = src0.Src[0]
	}
	if err := check(src0.Op == uop.Mul, "reduce source is not a MUL"); err != nil {
		return nil, err
	}

	bufIndex := func(src *uop.UOp) int {
		if src.Op == uop.Load && src.DType.Equal(tc.DTypeIn) {
			return indexOf(k.Bufs, src)
		}
		if optLevel >= 1 && src.Op == uop.Cast && src.DType.Equal(tc.DTypeIn) {
			return indexOf(k.Bufs, src.Src[0])
		}
		return -1
	}
	buf0 := bufIndex(src0.Src[0])
	buf1 := bufIndex(src0.Src[1])
	if err := check(buf0 >= 0 && buf1 >= 0, "tensor core operands are not matching LOADs"); err != nil {
		return nil, err
	}

	firstReduce := k.FirstReduce()
	buf0Strides := k.Sts[buf0].RealStrides()
	buf1Strides := k.Sts[buf1].RealStrides()

	var axisBuf0, axisBuf1 []int
	for i := 0; i < firstReduce; i++ {
		if buf0Strides[i] != nil && *buf0Strides[i] == 0 {
			axisBuf0 = append(axisBuf0, i)
		}
		if buf1Strides[i] != nil && *buf1Strides[i] == 0 {
			axisBuf1 = append(axisBuf1, i)
		}
	}
	if err := check(len(axisBuf0) > 0 && len(axisBuf1) > 0, "no broadcast axis found for either tensor-core operand"); err != nil {
		return nil, err
	}

	var reduceAxes []int
	for i := firstReduce; i < k.FirstUpcast(); i++ {
		reduceAxes = append(reduceAxes, i)
	}
	if err := check(len(reduceAxes) >= 1, "no reduce axis available for the tensor core's K dimension"); err != nil {
		return nil, err
	}
	if len(reduceAxes) > 1 {
		if err := check(optLevel >= 1, "multiple reduce axes require opt level >= 1"); err != nil {
			return nil, err
		}
	}

	var candidates []tcCandidate
	for _, n := range axisBuf0 {
		for _, m := range axisBuf1 {
			for _, kk := range reduceAxes {
				candidates = append(candidates, tcCandidate{axes: [3]int{n, m, kk}})
			}
		}
	}
	if err := check(len(candidates) > 0, "no candidate tensor-core axis triple"); err != nil {
		return nil, err
	}
	if err := check(axis < len(candidates), "tensor-core axis selector out of range"); err != nil {
		return nil, err
	}
	chosen := candidates[len(candidates)-1-axis]

	full := k.FullShape()
	var pads [][2]int
	for i, a := range chosen.axes {
		if full[a]%int64(tc.Dims[i]) != 0 {
			pads = append(pads, [2]int{a, tc.Dims[i]})
		}
	}
	if len(pads) > 0 {
		if err := check(optLevel >= 2, "tensor-core match needs padding, which requires opt level >= 2"); err != nil {
			return nil, err
		}
	}

	return &TensorCoreOptions{
		Axes:      chosen.axes,
		AxesExist: [2]bool{true, true},
		AxisPads:  pads,
	}, nil
}

// applyTCOpt is the TC opt catalogue entry: it must be the first applied
// opt, and delegates matching to createTCOpts across every candidate core
// (or a single selected one) until one succeeds.
func (k *Kernel) applyTCOpt(axis int, arg any) error {
	if err := check(len(k.AppliedOpts) == 0, "TC must be the first applied opt"); err != nil {
		return err
	}
	type tcArg struct {
		Select int
		Opt    int
	}
	var selectOpt tcArg
	switch v := arg.(type) {
	case [2]int:
		selectOpt = tcArg{Select: v[0], Opt: v[1]}
	case tcArg:
		selectOpt = v
	default:
		return &KernelOptError{Reason: "TC opt argument must be a (select, opt_level) pair"}
	}

	if len(k.ReduceOps) == 0 {
		return &KernelOptError{Reason: "no reduce op to apply a tensor core to"}
	}
	reduceOp := k.ReduceOps[0]

	cores := k.Opts.TensorCores
	if selectOpt.Select >= 0 {
		if selectOpt.Select >= len(cores) {
			return &KernelOptError{Reason: "tensor-core selection out of range"}
		}
		cores = cores[selectOpt.Select : selectOpt.Select+1]
	}

	var lastErr error
	for _, tc := range cores {
		opts, err := k.createTCOpts(reduceOp, tc, axis, selectOpt.Opt)
		if err != nil {
			lastErr = err
			continue
		}
		return k.applyMatchedTensorCore(tc, opts)
	}
	if lastErr == nil {
		lastErr = &KernelOptError{Reason: "no tensor core available"}
	}
	return lastErr
}

// applyMatchedTensorCore stages the plan createTCOpts produced: pad the
// mismatched axes, unroll the K dimension, then run the core's canonical
// opt program — all as non-appended apply_opt calls, as a single TC entry
// records the whole plan.
func (k *Kernel) applyMatchedTensorCore(tc renderer.TensorCore, opts *TensorCoreOptions) error {
	for _, pad := range opts.AxisPads {
		axis, amt := pad[0], pad[1]
		if err := k.ApplyOpt(renderer.Opt{Op: renderer.OptPadTo, Axis: &axis, Arg: amt}, false); err != nil {
			return err
		}
	}
	kAxis := opts.Axes[2] - k.FirstReduce()
	for _, ra := range tc.GetReduceAxes() {
		amt := ra[1]
		if err := k.ApplyOpt(renderer.Opt{Op: renderer.OptUnroll, Axis: &kAxis, Arg: amt}, false); err != nil {
			return err
		}
	}
	for _, step := range tc.Opts {
		axis := opts.Axes[step.Which]
		op := renderer.OptUpcast
		if step.Kind == renderer.TCLocal {
			op = renderer.OptLocal
		}
		if err := k.ApplyOpt(renderer.Opt{Op: op, Axis: &axis, Arg: 2}, false); err != nil {
			return err
		}
	}

	tcCopy := tc
	k.TensorCore = &tcCopy
	k.TensorCoreOpts = opts
	k.UseTensorCores = 1
	return nil
}

// ApplyTensorCores is the convenience entry point for a tensor-core match: it
// tries every registered tensor core (select = -1) at opt level useTC-1,
// records useTC as the kernel's tensor-core mode on success, and returns
// whether one matched and was applied.
func (k *Kernel) ApplyTensorCores(useTC int) bool {
	if useTC <= 0 || len(k.Opts.TensorCores) == 0 {
		return false
	}
	axis := 0
	arg := [2]int{-1, useTC - 1}
	if err := k.ApplyOpt(renderer.Opt{Op: renderer.OptTC, Axis: &axis, Arg: arg}, true); err != nil {
		return false
	}
	k.UseTensorCores = useTC
	return true
}
