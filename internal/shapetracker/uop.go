package shapetracker

import "github.com/example/go-kernelopt/internal/uop"

// ToUOp wraps the view as a VIEW node carrying this ShapeTracker in its
// ShapeTracker field (its arg is nil), the form buffer ops expect as their
// addressing source.
func (st *ShapeTracker) ToUOp() *uop.UOp {
	n := uop.New(uop.View, uop.DType{}, nil, nil)
	n.ShapeTracker = st
	return n
}

// Valid builds the VALID(masked-CONST) rewrite used when a CONST gets masked
// by padding applied after construction: the const only reads as its
// original value inside the mask, and as zero elsewhere.
func (st *ShapeTracker) Valid(original *uop.UOp) *uop.UOp {
	return uop.New(uop.Valid, original.DType, []*uop.UOp{st.ToUOp()}, original.Arg)
}
