package uop_test

import (
	"testing"

	"github.com/example/go-kernelopt/internal/uop"
)

func TestOpString(t *testing.T) {
	cases := map[uop.Op]string{
		uop.Sink:       "SINK",
		uop.Load:       "LOAD",
		uop.ReduceAxis: "REDUCE_AXIS",
		uop.DefineGlobal: "DEFINE_GLOBAL",
	}
	for op, want := range cases {
		if got := op.String(); got != want {
			t.Errorf("Op(%d).String() = %q, want %q", int(op), got, want)
		}
	}
	if got := uop.Op(999).String(); got != "Op(999)" {
		t.Errorf("unknown Op.String() = %q, want Op(999)", got)
	}
}

func TestBufferOps(t *testing.T) {
	for _, op := range []uop.Op{uop.Load, uop.Store, uop.Const, uop.Valid} {
		if !uop.BufferOps[op] {
			t.Errorf("BufferOps[%s] = false, want true", op)
		}
	}
	if uop.BufferOps[uop.Mul] {
		t.Error("BufferOps[MUL] = true, want false")
	}
}

func TestDTypeIsImage(t *testing.T) {
	if uop.Float32.IsImage() {
		t.Error("Float32.IsImage() = true, want false")
	}
	img := uop.DType{Name: "image", ItemSize: 4, ImageShape: []int64{3, 4, 4}}
	if !img.IsImage() {
		t.Error("image DType.IsImage() = false, want true")
	}
}

func TestDTypeEqual(t *testing.T) {
	if !uop.Float32.Equal(uop.DType{Name: "float32", ItemSize: 99}) {
		t.Error("Equal() should compare by name only")
	}
	if uop.Float32.Equal(uop.Int32) {
		t.Error("Float32.Equal(Int32) = true, want false")
	}
}

func TestNewCopiesSrc(t *testing.T) {
	src := []*uop.UOp{uop.New(uop.Const, uop.Int32, nil, 0)}
	n := uop.New(uop.Add, uop.Int32, src, nil)
	src[0] = nil
	if n.Src[0] == nil {
		t.Error("New() did not defensively copy src")
	}
}

func TestReplace(t *testing.T) {
	orig := uop.New(uop.Add, uop.Int32, []*uop.UOp{uop.New(uop.Const, uop.Int32, nil, 1)}, "old")
	replaced := orig.Replace(nil, "new", true)
	if replaced.Arg != "new" {
		t.Errorf("Replace() Arg = %v, want new", replaced.Arg)
	}
	if len(replaced.Src) != len(orig.Src) {
		t.Errorf("Replace() with nil src should keep original src, got len %d", len(replaced.Src))
	}
	noArgChange := orig.Replace(nil, "ignored", false)
	if noArgChange.Arg != "old" {
		t.Errorf("Replace() with hasArg=false changed Arg to %v", noArgChange.Arg)
	}
}

func TestReduceArgValuePanicsOnWrongOp(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("ReduceArgValue() on non-REDUCE_AXIS node did not panic")
		}
	}()
	n := uop.New(uop.Add, uop.Int32, nil, nil)
	_ = n.ReduceArgValue()
}

func TestReduceArgValue(t *testing.T) {
	arg := uop.ReduceArg{Kind: uop.ReduceAdd, Axes: []int{1, 2}}
	n := uop.New(uop.ReduceAxis, uop.Float32, nil, arg)
	got := n.ReduceArgValue()
	if got.Kind != uop.ReduceAdd || len(got.Axes) != 2 {
		t.Errorf("ReduceArgValue() = %+v, want %+v", got, arg)
	}
}
