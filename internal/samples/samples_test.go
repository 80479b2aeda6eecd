package samples_test

import (
	"testing"

	"github.com/example/go-kernelopt/internal/samples"
	"github.com/example/go-kernelopt/internal/uop"
)

func TestGPURendererCapabilities(t *testing.T) {
	r := samples.GPURenderer()
	if !r.HasLocal || !r.HasShared {
		t.Error("GPURenderer() should have local and shared memory")
	}
	if len(r.TensorCores) != 1 {
		t.Fatalf("GPURenderer() TensorCores = %d, want 1", len(r.TensorCores))
	}
	if r.TensorCores[0].Dims != [3]int{8, 8, 16} {
		t.Errorf("GPURenderer() tensor core dims = %v, want [8 8 16]", r.TensorCores[0].Dims)
	}
}

func TestMatvecIsSinkRootedWithOneReduce(t *testing.T) {
	ast := samples.Matvec(64, 64)
	if ast.Op != uop.Sink {
		t.Fatalf("Matvec() root op = %s, want SINK", ast.Op)
	}
	store := ast.Src[0]
	if store.Op != uop.Store {
		t.Fatalf("Matvec() SINK source op = %s, want STORE", store.Op)
	}
	reduce := store.Src[0]
	if reduce.Op != uop.ReduceAxis {
		t.Fatalf("Matvec() STORE source op = %s, want REDUCE_AXIS", reduce.Op)
	}
	arg := reduce.ReduceArgValue()
	if arg.Kind != uop.ReduceAdd {
		t.Errorf("Matvec() reduce kind = %s, want ADD", arg.Kind)
	}
}

func TestElementwiseAddHasNoReduce(t *testing.T) {
	ast := samples.ElementwiseAdd(128)
	store := ast.Src[0]
	add := store.Src[0]
	if add.Op != uop.Add {
		t.Fatalf("ElementwiseAdd() STORE source op = %s, want ADD", add.Op)
	}
	for _, src := range add.Src {
		if src.Op == uop.ReduceAxis {
			t.Error("ElementwiseAdd() should not contain a REDUCE_AXIS")
		}
	}
}

func TestConv1x1ReduceShape(t *testing.T) {
	ast := samples.Conv1x1Reduce(8, 16, 32)
	store := ast.Src[0]
	if store.ShapeTracker == nil {
		t.Fatal("Conv1x1Reduce() STORE node should carry a shape tracker")
	}
}

func TestEmptyReduceToScalar(t *testing.T) {
	ast := samples.EmptyReduce(16)
	store := ast.Src[0]
	reduce := store.Src[0]
	arg := reduce.ReduceArgValue()
	if len(arg.Axes) != 1 || arg.Axes[0] != 0 {
		t.Errorf("EmptyReduce() reduce axes = %v, want [0]", arg.Axes)
	}
}
