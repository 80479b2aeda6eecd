package kernelopt

import "github.com/example/go-kernelopt/internal/shapetracker"

// reshapeFn computes a tracker's replacement shape from its current shape.
type reshapeFn func(shape []int64) []int64

// reshapeAndPermute reshapes (if reshape is non-nil) then permutes (if perm
// is non-nil) every shape-tracker. All trackers succeed or none are
// committed, so a failed reshape never leaves the kernel half-mutated.
func (k *Kernel) reshapeAndPermute(reshape reshapeFn, perm []int) error {
	next := make([]*shapetracker.ShapeTracker, len(k.Sts))
	for i, st := range k.Sts {
		cur := st
		if reshape != nil {
			r, err := cur.Reshape(reshape(cur.Shape()))
			if err != nil {
				return err
			}
			cur = r
		}
		if perm != nil {
			cur = cur.Permute(perm)
		}
		next[i] = cur
	}
	k.Sts = next
	return nil
}

// upcast drops the final dimension into the upcast segment.
func (k *Kernel) upcast() error {
	full := k.FullShape()
	if err := check(full[len(full)-1] != 1, "can't upcast a dimension with size 1"); err != nil {
		return err
	}
	k.Upcasted++
	return nil
}

// shiftTo splits axis of size n into (amount, n/amount) if top else
// (n/amount, amount), then permutes so the new amount-sized axis lands
// immediately before insertBefore (defaulting to the current shape length).
func (k *Kernel) shiftTo(axis, amount int, top bool, insertBefore *int) error {
	ib := k.ShapeLen()
	if insertBefore != nil {
		ib = *insertBefore
	}
	moveAxis := axis
	if !top {
		moveAxis = axis + 1
	}
	if moveAxis < ib {
		ib++
	}
	shapeLen := k.ShapeLen()

	reshape := func(shape []int64) []int64 {
		n := shape[axis]
		var a, b int64
		if n > 1 {
			if top {
				a, b = int64(amount), n/int64(amount)
			} else {
				a, b = n/int64(amount), int64(amount)
			}
		} else {
			a, b = 1, 1
		}
		out := make([]int64, 0, len(shape)+1)
		out = append(out, shape[:axis]...)
		out = append(out, a, b)
		out = append(out, shape[axis+1:]...)
		return out
	}

	var perm []int
	for i := 0; i < ib; i++ {
		if i != moveAxis {
			perm = append(perm, i)
		}
	}
	perm = append(perm, moveAxis)
	for i := ib; i <= shapeLen; i++ {
		if i != moveAxis {
			perm = append(perm, i)
		}
	}

	return k.reshapeAndPermute(reshape, perm)
}

// simplifyOnes drops every axis whose full_shape entry is 1, adjusting the
// local/upcast counters and any active tensor-core axis bookkeeping for the
// axes removed. Reports whether anything was removed.
func (k *Kernel) simplifyOnes() bool {
	if k.ShapeLen() == 0 {
		return false
	}
	full := k.FullShape()
	allOnes := make([]bool, len(full))
	anyOne := false
	for i, s := range full {
		allOnes[i] = s == 1
		anyOne = anyOne || allOnes[i]
	}
	if !anyOne {
		return false
	}

	firstReduce, firstUpcast := k.FirstReduce(), k.FirstUpcast()
	for i := firstReduce - k.LocalDims; i < firstReduce; i++ {
		if i >= 0 && i < len(allOnes) && allOnes[i] {
			k.LocalDims--
		}
	}
	for i := firstUpcast; i < len(allOnes); i++ {
		if allOnes[i] {
			k.Upcasted--
		}
	}

	if k.TensorCoreOpts != nil {
		for i, one := range allOnes {
			if one {
				k.TensorCoreOpts.FixAxes(i)
			}
		}
	}

	_ = k.reshapeAndPermute(func(shape []int64) []int64 {
		out := make([]int64, 0, len(shape))
		for i, x := range shape {
			if !allOnes[i] {
				out = append(out, x)
			}
		}
		return out
	}, nil)
	return true
}

type stridePair struct {
	size   int64
	stride *int64
}

// simplifyMergeAdjacent greedily merges adjacent axis pairs across every
// shape-tracker wherever the merge preserves strides for all of them. It
// never merges across the reduce boundary. Image plane boundaries are not
// considered: image dtypes get no special case here.
func (k *Kernel) simplifyMergeAdjacent() {
	if k.ShapeLen() == 0 {
		return
	}
	n := len(k.Sts)
	shapes := make([][]int64, n)
	strides := make([][]*int64, n)
	for i, st := range k.Sts {
		shapes[i] = st.Shape()
		strides[i] = st.RealStrides()
	}

	firstReduce := k.FirstReduce()
	rank := len(shapes[0])

	rets := make([][]stridePair, n)
	for i := range rets {
		rets[i] = []stridePair{{size: shapes[i][0], stride: strides[i][0]}}
	}

	for col := 1; col < rank; col++ {
		mergeable := col != firstReduce
		for i := 0; i < n && mergeable; i++ {
			if len(shapes[i]) <= col {
				mergeable = false
				break
			}
			sti := strides[i][col]
			last := rets[i][len(rets[i])-1]
			if sti == nil {
				mergeable = false
			} else if *sti != 0 {
				mergeable = last.stride != nil && *last.stride == shapes[i][col]**sti
			} else {
				mergeable = last.stride != nil && *last.stride == 0
			}
		}
		for i := 0; i < n; i++ {
			if len(shapes[i]) <= col {
				continue
			}
			s, st := shapes[i][col], strides[i][col]
			if mergeable {
				last := rets[i][len(rets[i])-1]
				newSize := last.size * s
				rets[i][len(rets[i])-1] = stridePair{size: newSize, stride: st}
			} else {
				rets[i] = append(rets[i], stridePair{size: s, stride: st})
			}
		}
	}

	for i, st := range k.Sts {
		newShape := make([]int64, len(rets[i]))
		for j, p := range rets[i] {
			newShape[j] = p.size
		}
		if reshaped, err := st.Reshape(newShape); err == nil {
			k.Sts[i] = reshaped
		}
	}
}
