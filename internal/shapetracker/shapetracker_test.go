package shapetracker_test

import (
	"testing"

	"github.com/example/go-kernelopt/internal/shapetracker"
	"github.com/example/go-kernelopt/internal/uop"
)

func int64Eq(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFromShapeContiguousStrides(t *testing.T) {
	st := shapetracker.FromShape([]int64{2, 3, 4})
	strides := st.RealStrides()
	want := []int64{12, 4, 1}
	for i, s := range strides {
		if *s != want[i] {
			t.Errorf("stride[%d] = %d, want %d", i, *s, want[i])
		}
	}
	if st.RealSize() != 24 {
		t.Errorf("RealSize() = %d, want 24", st.RealSize())
	}
}

func TestNewRankMismatch(t *testing.T) {
	if _, err := shapetracker.New([]int64{2, 3}, []int64{1}, 0); err == nil {
		t.Error("New() with mismatched rank should error")
	}
}

func TestCloneIndependence(t *testing.T) {
	st := shapetracker.FromShape([]int64{2, 3})
	clone := st.Clone()
	if !int64Eq(st.Shape(), clone.Shape()) {
		t.Error("clone shape should match original")
	}
	clone.Shape()[0] = 99
	if st.Shape()[0] == 99 {
		t.Error("mutating a returned Shape() slice should not affect the tracker")
	}
}

func TestPadMasksAndUnmasks(t *testing.T) {
	st := shapetracker.FromShape([]int64{4})
	padded, err := st.Pad([][2]int64{{1, 1}})
	if err != nil {
		t.Fatalf("Pad() error = %v", err)
	}
	if padded.Shape()[0] != 6 {
		t.Fatalf("padded shape = %v, want [6]", padded.Shape())
	}
	if !padded.AxisIsMasked(0) {
		t.Error("padded axis should be masked")
	}

	zero, err := st.Pad([][2]int64{{0, 0}})
	if err != nil {
		t.Fatalf("Pad() error = %v", err)
	}
	if zero.AxisIsMasked(0) {
		t.Error("zero-pad should leave axis unmasked")
	}
}

func TestPadArityMismatch(t *testing.T) {
	st := shapetracker.FromShape([]int64{4, 4})
	if _, err := st.Pad([][2]int64{{0, 1}}); err == nil {
		t.Error("Pad() with wrong arity should error")
	}
}

func TestUnitStrideAxes(t *testing.T) {
	st := shapetracker.FromShape([]int64{2, 3, 4})
	axes := st.UnitStrideAxes(false)
	if len(axes) != 1 || axes[0] != 2 {
		t.Errorf("UnitStrideAxes() = %v, want [2]", axes)
	}
}

func TestPermuteReordersShapeAndStrides(t *testing.T) {
	st := shapetracker.FromShape([]int64{2, 3, 4})
	perm := st.Permute([]int{2, 0, 1})
	if !int64Eq(perm.Shape(), []int64{4, 2, 3}) {
		t.Errorf("Permute() shape = %v, want [4 2 3]", perm.Shape())
	}
}

func TestReshapeSplitAndMerge(t *testing.T) {
	st := shapetracker.FromShape([]int64{6, 4})
	split, err := st.Reshape([]int64{2, 3, 4})
	if err != nil {
		t.Fatalf("Reshape(split) error = %v", err)
	}
	if !int64Eq(split.Shape(), []int64{2, 3, 4}) {
		t.Errorf("split shape = %v", split.Shape())
	}
	merged, err := split.Reshape([]int64{6, 4})
	if err != nil {
		t.Fatalf("Reshape(merge) error = %v", err)
	}
	if !int64Eq(merged.Shape(), []int64{6, 4}) {
		t.Errorf("merged shape = %v", merged.Shape())
	}
}

func TestReshapeElementCountMismatch(t *testing.T) {
	st := shapetracker.FromShape([]int64{4, 4})
	if _, err := st.Reshape([]int64{3, 5}); err == nil {
		t.Error("Reshape() with a different element count should error")
	}
}

func TestReshapeMaskedViewFails(t *testing.T) {
	st := shapetracker.FromShape([]int64{4})
	padded, err := st.Pad([][2]int64{{1, 1}})
	if err != nil {
		t.Fatalf("Pad() error = %v", err)
	}
	if _, err := padded.Reshape([]int64{2, 3}); err == nil {
		t.Error("Reshape() of a masked view should error")
	}
}

func TestReshapeNonMergeableFails(t *testing.T) {
	// A stride-0 broadcast axis next to a unit-stride axis can't be
	// regrouped across without a copy.
	st, err := shapetracker.New([]int64{2, 3}, []int64{0, 1}, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := st.Reshape([]int64{6}); err == nil {
		t.Error("Reshape() merging a broadcast axis with a real one should error")
	}
}

func TestToUopAndValid(t *testing.T) {
	st := shapetracker.FromShape([]int64{4})
	view := st.ToUOp()
	if view.Op != uop.View {
		t.Errorf("ToUOp().Op = %s, want VIEW", view.Op)
	}
	if view.ShapeTracker != st {
		t.Error("ToUOp() should carry the tracker as ShapeTracker")
	}

	original := uop.New(uop.Const, uop.Float32, nil, 1.0)
	valid := st.Valid(original)
	if valid.Op != uop.Valid {
		t.Errorf("Valid().Op = %s, want VALID", valid.Op)
	}
	if valid.Arg != original.Arg {
		t.Errorf("Valid().Arg = %v, want %v", valid.Arg, original.Arg)
	}
	if len(valid.Src) != 1 || valid.Src[0].ShapeTracker != st {
		t.Error("Valid() should wrap a VIEW node carrying the tracker")
	}
}
