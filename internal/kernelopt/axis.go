package kernelopt

import "github.com/example/go-kernelopt/internal/shapetracker"

// ShapeLen is the rank of the output shape-tracker (sts[0]).
func (k *Kernel) ShapeLen() int { return k.Sts[0].Rank() }

// FirstUpcast is the index where the upcast segment begins.
func (k *Kernel) FirstUpcast() int { return k.ShapeLen() - k.Upcasted }

// FullShape is the shape of the full (largest) buffer tracker, the
// reference every axis-segment boundary is measured against.
func (k *Kernel) FullShape() []int64 { return k.Sts[k.FullBufIndex].Shape() }

// FirstReduce is the index of the first axis where the output shape
// diverges from the full shape.
func (k *Kernel) FirstReduce() int {
	full, out := k.FullShape(), k.Sts[0].Shape()
	n := len(out)
	if len(full) < n {
		n = len(full)
	}
	for i := 0; i < n; i++ {
		if full[i] != out[i] {
			return i
		}
	}
	return n
}

// GlobalDims is the count of leading axes not yet claimed as local.
func (k *Kernel) GlobalDims() int { return k.FirstReduce() - k.LocalDims }

// OutputShape is the logical shape of the kernel's written result.
func (k *Kernel) OutputShape() []int64 { return k.Sts[0].Shape() }

// MemBufs returns the kernel's buffer shape-trackers, in the reverse
// toposort order established at construction.
func (k *Kernel) MemBufs() []*shapetracker.ShapeTracker {
	return k.Sts[:len(k.Bufs)]
}

// UpcastedAxis reports, for shape-tracker index i, the (size, stride,
// expanded) triple at the given upcasted axis, where axis is relative to
// FirstUpcast (0 = first upcast axis).
func (k *Kernel) UpcastedAxis(stIndex, axis int) (size int64, stride int64, expanded bool) {
	st := k.Sts[stIndex]
	a := k.FirstUpcast() + axis
	shape := st.Shape()
	strides := st.RealStrides()
	size = shape[a]
	if strides[a] != nil {
		stride = *strides[a]
	}
	expanded = stride == 0 && size != 1
	return
}

// ReduceSegmentEnd is the exclusive end of the (possibly grouped) reduce
// segment, i.e. the start of the upcast segment.
func (k *Kernel) ReduceSegmentEnd() int { return k.FirstUpcast() }

// GroupSegmentEnd is the exclusive end of the grouped-reduce segment.
func (k *Kernel) GroupSegmentEnd() int { return k.FirstReduce() + k.GroupForReduces }
