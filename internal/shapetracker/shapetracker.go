// Package shapetracker provides the ShapeTracker façade the kernel optimizer
// manipulates: a strided, possibly padded/masked view over a logical buffer.
//
// The general multi-view merge engine (arbitrary chains of reshape/permute/
// pad collapsed losslessly) is treated as an external primitive by the
// optimizer spec; this package implements the single-view subset that
// covers every legal rewrite the optimizer itself performs (permute, axis
// split/merge, right-pad) and reports failure - via a plain error, exactly
// like the external merge primitive would - when a reshape cannot be
// represented without a copy.
package shapetracker

import (
	"errors"
	"fmt"
)

// axisMask restricts axis i to the half-open range [Lo, Hi) of the view's
// shape; values outside the range read as zero (CONST 0) rather than buffer
// data. A nil mask means the whole axis is valid.
type axisMask struct {
	Lo, Hi int64
}

// ShapeTracker is a single view over a logical buffer: shape, strides,
// offset, and an optional per-axis validity mask.
type ShapeTracker struct {
	shape   []int64
	strides []int64
	offset  int64
	mask    []*axisMask // nil or len(mask) == len(shape)
}

// FromShape builds a contiguous, unmasked, zero-offset view.
func FromShape(shape []int64) *ShapeTracker {
	return &ShapeTracker{
		shape:   append([]int64(nil), shape...),
		strides: computeStrides(shape),
	}
}

// New builds a view with explicit strides (used to model broadcast axes with
// stride 0, or axes inherited from an already-permuted buffer).
func New(shape, strides []int64, offset int64) (*ShapeTracker, error) {
	if len(shape) != len(strides) {
		return nil, fmt.Errorf("shapetracker: shape %v and strides %v rank mismatch", shape, strides)
	}
	return &ShapeTracker{
		shape:   append([]int64(nil), shape...),
		strides: append([]int64(nil), strides...),
		offset:  offset,
	}, nil
}

// Clone returns a deep-enough copy; ShapeTracker values are otherwise treated
// as immutable by the kernel, but Clone guards against accidental aliasing
// where a caller holds on to a pre-opt snapshot.
func (st *ShapeTracker) Clone() *ShapeTracker {
	if st == nil {
		return nil
	}
	out := &ShapeTracker{
		shape:   append([]int64(nil), st.shape...),
		strides: append([]int64(nil), st.strides...),
		offset:  st.offset,
	}
	if st.mask != nil {
		out.mask = make([]*axisMask, len(st.mask))
		for i, m := range st.mask {
			if m != nil {
				cp := *m
				out.mask[i] = &cp
			}
		}
	}
	return out
}

// Shape returns the view's logical shape.
func (st *ShapeTracker) Shape() []int64 { return append([]int64(nil), st.shape...) }

// Rank returns len(Shape()).
func (st *ShapeTracker) Rank() int { return len(st.shape) }

// RealStrides returns the per-axis byte-agnostic stride. A nil entry means
// the axis has no single affine stride (not producible by this single-view
// implementation, but kept in the signature for contract fidelity with
// callers that branch on "unknown").
func (st *ShapeTracker) RealStrides() []*int64 {
	out := make([]*int64, len(st.strides))
	for i := range st.strides {
		v := st.strides[i]
		out[i] = &v
	}
	return out
}

// RealSize returns the number of elements the view's backing buffer must
// hold, i.e. the element count of the (possibly padded) logical shape.
func (st *ShapeTracker) RealSize() int64 {
	size := int64(1)
	for _, s := range st.shape {
		size *= s
	}
	return size
}

// AxisIsMasked reports whether axis is restricted to a proper sub-range of
// its shape (introduced by Pad).
func (st *ShapeTracker) AxisIsMasked(axis int) bool {
	if st.mask == nil || axis < 0 || axis >= len(st.mask) || st.mask[axis] == nil {
		return false
	}
	m := st.mask[axis]
	return m.Lo != 0 || m.Hi != st.shape[axis]
}

// UnitStrideAxes returns axes whose stride has absolute value 1.
// ignoreValid controls whether masked axes are still reported; true looks
// through padding.
func (st *ShapeTracker) UnitStrideAxes(ignoreValid bool) []int {
	var out []int
	for i, s := range st.strides {
		if !ignoreValid && st.AxisIsMasked(i) {
			continue
		}
		if s == 1 || s == -1 {
			out = append(out, i)
		}
	}
	return out
}

// Permute returns a view with axes reordered by perm (perm[i] is the source
// axis that becomes axis i).
func (st *ShapeTracker) Permute(perm []int) *ShapeTracker {
	n := len(st.shape)
	out := &ShapeTracker{
		shape:   make([]int64, n),
		strides: make([]int64, n),
		offset:  st.offset,
	}
	if st.mask != nil {
		out.mask = make([]*axisMask, n)
	}
	for i, p := range perm {
		out.shape[i] = st.shape[p]
		out.strides[i] = st.strides[p]
		if st.mask != nil {
			out.mask[i] = st.mask[p]
		}
	}
	return out
}

// Pad right- and left-pads each axis per pairs (lo, hi), in buffer-shape
// order. Padded regions read as invalid (masked).
func (st *ShapeTracker) Pad(pairs [][2]int64) (*ShapeTracker, error) {
	if len(pairs) != len(st.shape) {
		return nil, fmt.Errorf("shapetracker: pad arity %d does not match rank %d", len(pairs), len(st.shape))
	}
	out := st.Clone()
	if out.mask == nil {
		out.mask = make([]*axisMask, len(out.shape))
	}
	for i, p := range pairs {
		lo, hi := p[0], p[1]
		if lo == 0 && hi == 0 {
			continue
		}
		oldSize := out.shape[i]
		existingLo, existingHi := int64(0), oldSize
		if out.mask[i] != nil {
			existingLo, existingHi = out.mask[i].Lo, out.mask[i].Hi
		}
		out.shape[i] = lo + oldSize + hi
		out.mask[i] = &axisMask{Lo: lo + existingLo, Hi: lo + existingHi}
	}
	allUnmasked := true
	for i, m := range out.mask {
		if m != nil && (m.Lo != 0 || m.Hi != out.shape[i]) {
			allUnmasked = false
			break
		}
	}
	if allUnmasked {
		out.mask = nil
	}
	return out, nil
}

// Reshape returns a view over newShape if it can be represented without a
// data copy (a regrouping of the current axes that preserves strides), else
// an error - mirroring the external view-merge primitive's contract.
func (st *ShapeTracker) Reshape(newShape []int64) (*ShapeTracker, error) {
	oldTotal, newTotal := int64(1), int64(1)
	for _, s := range st.shape {
		oldTotal *= s
	}
	for _, s := range newShape {
		newTotal *= s
	}
	if oldTotal != newTotal {
		return nil, fmt.Errorf("shapetracker: cannot reshape %v (%d elements) to %v (%d elements)", st.shape, oldTotal, newShape, newTotal)
	}
	if st.mask != nil {
		for i, m := range st.mask {
			if m != nil && (m.Lo != 0 || m.Hi != st.shape[i]) {
				return nil, errors.New("shapetracker: cannot reshape a masked view")
			}
		}
	}

	newStrides, ok := mergeReshape(st.shape, st.strides, newShape)
	if !ok {
		return nil, fmt.Errorf("shapetracker: reshape %v -> %v is not representable without a copy", st.shape, newShape)
	}
	return &ShapeTracker{
		shape:   append([]int64(nil), newShape...),
		strides: newStrides,
		offset:  st.offset,
	}, nil
}

func computeStrides(shape []int64) []int64 {
	if len(shape) == 0 {
		return nil
	}
	strides := make([]int64, len(shape))
	stride := int64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}
