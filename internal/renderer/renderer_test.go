package renderer_test

import (
	"testing"

	"github.com/example/go-kernelopt/internal/renderer"
	"github.com/example/go-kernelopt/internal/uop"
)

func TestOptOpsString(t *testing.T) {
	cases := map[renderer.OptOps]string{
		renderer.OptUpcast:   "UPCAST",
		renderer.OptUnroll:   "UNROLL",
		renderer.OptLocal:    "LOCAL",
		renderer.OptGroup:    "GROUP",
		renderer.OptGroupTop: "GROUPTOP",
		renderer.OptNoLocals: "NOLOCALS",
		renderer.OptSwap:     "SWAP",
		renderer.OptPadTo:    "PADTO",
		renderer.OptTC:       "TC",
	}
	for op, want := range cases {
		if got := op.String(); got != want {
			t.Errorf("OptOps(%d).String() = %q, want %q", int(op), got, want)
		}
	}
	if got := renderer.OptOps(99).String(); got != "UNKNOWN" {
		t.Errorf("unknown OptOps.String() = %q, want UNKNOWN", got)
	}
}

func TestTensorCoreReduceAndLocalAxes(t *testing.T) {
	tc := renderer.TensorCore{
		Dims:    [3]int{16, 16, 16},
		DTypeIn: uop.Half,
		Opts: []renderer.TCProgramStep{
			{Kind: renderer.TCLocal, Which: 0},
			{Kind: renderer.TCUpcast, Which: 1},
			{Kind: renderer.TCLocal, Which: 1},
		},
	}
	reduceAxes := tc.GetReduceAxes()
	if len(reduceAxes) != 1 || reduceAxes[0][1] != 16 {
		t.Errorf("GetReduceAxes() = %v, want [[0 16]]", reduceAxes)
	}
	localAxes := tc.GetLocalAxes()
	if len(localAxes) != 2 || localAxes[0] != 0 || localAxes[1] != 1 {
		t.Errorf("GetLocalAxes() = %v, want [0 1]", localAxes)
	}
}
