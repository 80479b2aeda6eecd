package kernelopt_test

import (
	"testing"

	"github.com/example/go-kernelopt/internal/config"
	"github.com/example/go-kernelopt/internal/dag"
	"github.com/example/go-kernelopt/internal/kernelopt"
	"github.com/example/go-kernelopt/internal/renderer"
	"github.com/example/go-kernelopt/internal/samples"
	"github.com/example/go-kernelopt/internal/uop"
)

// tcRenderer is a GPU-shaped renderer carrying a single (16,16,16) tensor
// core over float32, sized to match spec scenarios 4 and 5 without the
// half/cast plumbing samples.GPURenderer's (8,8,16) half core would need.
func tcRenderer() renderer.Renderer {
	r := samples.GPURenderer()
	r.TensorCores = []renderer.TensorCore{
		{
			Dims:              [3]int{16, 16, 16},
			DTypeIn:           uop.Float32,
			DTypeOut:          uop.Float32,
			Threads:           32,
			ElementsPerThread: [3]int{2, 2, 2},
			Opts: []renderer.TCProgramStep{
				{Kind: renderer.TCLocal, Which: 0},
				{Kind: renderer.TCUpcast, Which: 1},
			},
		},
	}
	return r
}

func countWmma(root *uop.UOp) (int, error) {
	nodes, err := dag.Toposort(root)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range nodes {
		if u.Op == uop.Wmma {
			n++
		}
	}
	return n, nil
}

func heuristicDefaults() config.HeuristicConfig {
	return config.DefaultConfig().Heuristic
}

func TestNewEmptyReduceHasNoReduceSegment(t *testing.T) {
	k, err := kernelopt.New(samples.EmptyReduce(4), samples.GPURenderer())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if k.ShapeLen() != k.FirstReduce() {
		t.Errorf("FirstReduce() = %d, want shape_len %d (no reduce axis remaining)", k.FirstReduce(), k.ShapeLen())
	}
}

func TestNewElementwiseAddHasNoReduce(t *testing.T) {
	k, err := kernelopt.New(samples.ElementwiseAdd(4096), samples.GPURenderer())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if len(k.ReduceOps) != 0 {
		t.Fatalf("ReduceOps = %v, want none", k.ReduceOps)
	}
	if k.GlobalDims() != k.ShapeLen() {
		t.Errorf("GlobalDims() = %d, want shape_len %d", k.GlobalDims(), k.ShapeLen())
	}
}

func TestMatvecHandCodedOptimizations(t *testing.T) {
	k, err := kernelopt.New(samples.Matvec(1024, 1024), samples.GPURenderer())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := k.HandCodedOptimizations(heuristicDefaults()); err != nil {
		t.Fatalf("HandCodedOptimizations() error = %v", err)
	}

	if k.LocalDims != 1 {
		t.Errorf("LocalDims = %d, want 1", k.LocalDims)
	}
	if k.GroupForReduces != 1 {
		t.Errorf("GroupForReduces = %d, want 1", k.GroupForReduces)
	}
	if k.Upcasted < 1 {
		t.Errorf("Upcasted = %d, want >= 1", k.Upcasted)
	}

	wantOps := []renderer.OptOps{renderer.OptGroup, renderer.OptLocal, renderer.OptUpcast}
	wantArgs := []int{8, 4, 4}
	if len(k.AppliedOpts) < len(wantOps) {
		t.Fatalf("AppliedOpts = %v, want at least %d entries", k.AppliedOpts, len(wantOps))
	}
	for i, op := range wantOps {
		got := k.AppliedOpts[i]
		if got.Op != op {
			t.Errorf("AppliedOpts[%d].Op = %s, want %s", i, got.Op, op)
		}
		if got.Axis == nil || *got.Axis != 0 {
			t.Errorf("AppliedOpts[%d].Axis = %v, want 0", i, got.Axis)
		}
		if arg, _ := got.Arg.(int); arg != wantArgs[i] {
			t.Errorf("AppliedOpts[%d].Arg = %v, want %d", i, got.Arg, wantArgs[i])
		}
	}
}

func TestApplyOptFailureLeavesStateUnchanged(t *testing.T) {
	k, err := kernelopt.New(samples.Matvec(64, 64), samples.GPURenderer())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	noLocal := samples.GPURenderer()
	noLocal.HasLocal = false
	k.Opts = noLocal

	appliedBefore := append([]renderer.Opt(nil), k.AppliedOpts...)
	localDimsBefore := k.LocalDims

	axis := 0
	err = k.ApplyOpt(renderer.Opt{Op: renderer.OptLocal, Axis: &axis, Arg: 4}, true)
	if err == nil {
		t.Fatal("ApplyOpt() error = nil, want failure for LOCAL with no device local memory")
	}
	if len(k.AppliedOpts) != len(appliedBefore) {
		t.Errorf("AppliedOpts mutated on failure: got %v, want %v", k.AppliedOpts, appliedBefore)
	}
	if k.LocalDims != localDimsBefore {
		t.Errorf("LocalDims mutated on failure: got %d, want %d", k.LocalDims, localDimsBefore)
	}
}

func TestCopyThenApplyOptMatchesDirectApply(t *testing.T) {
	k1, err := kernelopt.New(samples.Matvec(256, 256), samples.GPURenderer())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	k2 := k1.Copy()

	axis := 0
	opt := renderer.Opt{Op: renderer.OptUpcast, Axis: &axis, Arg: 4}
	if err := k1.ApplyOpt(opt, true); err != nil {
		t.Fatalf("k1.ApplyOpt() error = %v", err)
	}
	if err := k2.ApplyOpt(opt, true); err != nil {
		t.Fatalf("k2.ApplyOpt() error = %v", err)
	}

	if k1.Upcasted != k2.Upcasted || k1.LocalDims != k2.LocalDims || k1.GroupForReduces != k2.GroupForReduces {
		t.Errorf("copy+apply diverged from direct apply: (%d,%d,%d) vs (%d,%d,%d)",
			k1.Upcasted, k1.LocalDims, k1.GroupForReduces, k2.Upcasted, k2.LocalDims, k2.GroupForReduces)
	}
}

func TestPadToOnAddReduceAxis(t *testing.T) {
	k, err := kernelopt.New(samples.Matvec(130, 130), samples.GPURenderer())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	// The matvec sample's reduce kind is ADD, so PADTO on its reduce axis
	// should be accepted (padding may still fail if no tracker needs it).
	axis := k.FirstReduce()
	err = k.ApplyOpt(renderer.Opt{Op: renderer.OptPadTo, Axis: &axis, Arg: 16}, true)
	if err != nil {
		t.Logf("PADTO on reduce axis returned %v (acceptable: axis size %d may already be aligned)", err, k.FullShape()[axis])
	}
}

func TestToProgramProducesNonEmptyUOps(t *testing.T) {
	k, err := kernelopt.New(samples.Matvec(64, 64), samples.GPURenderer())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := k.HandCodedOptimizations(heuristicDefaults()); err != nil {
		t.Fatalf("HandCodedOptimizations() error = %v", err)
	}
	prog, err := k.ToProgram("")
	if err != nil {
		t.Fatalf("ToProgram() error = %v", err)
	}
	if len(prog.UOps) == 0 {
		t.Error("ToProgram().UOps is empty")
	}
	if prog.MemBytes <= 0 {
		t.Error("ToProgram().MemBytes should be positive")
	}
}

func TestApplyTensorCoresMatchesAndLowersToSingleWmma(t *testing.T) {
	// M=N=64, K=16 against a (16,16,16) core: matches at tc_opt=0 with no
	// padding needed (spec scenario 4).
	k, err := kernelopt.New(samples.Conv1x1Reduce(64, 16, 64), tcRenderer())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !k.ApplyTensorCores(1) {
		t.Fatalf("ApplyTensorCores(1) = false, want true")
	}
	if len(k.AppliedOpts) != 1 || k.AppliedOpts[0].Op != renderer.OptTC {
		t.Fatalf("AppliedOpts = %v, want a single TC entry", k.AppliedOpts)
	}
	if k.TensorCore == nil {
		t.Fatal("TensorCore = nil after a successful match")
	}

	ast, err := k.GetOptimizedAst("")
	if err != nil {
		t.Fatalf("GetOptimizedAst() error = %v", err)
	}
	n, err := countWmma(ast)
	if err != nil {
		t.Fatalf("countWmma() error = %v", err)
	}
	if n != 1 {
		t.Errorf("WMMA node count = %d, want exactly 1", n)
	}
}

func TestApplyTensorCoresPadRequiredFailsAtOptZeroSucceedsAtOptTwo(t *testing.T) {
	// K=20 against a K=16 core: the K axis needs padding, which opt level 0
	// refuses and opt level 2 allows (spec scenario 5).
	kAxis := 2

	k0, err := kernelopt.New(samples.Conv1x1Reduce(64, 20, 64), tcRenderer())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	axis := 0
	err = k0.ApplyOpt(renderer.Opt{Op: renderer.OptTC, Axis: &axis, Arg: [2]int{-1, 0}}, true)
	if err == nil {
		t.Fatal("ApplyOpt(TC, opt=0) error = nil, want failure (K axis needs padding)")
	}

	k2, err := kernelopt.New(samples.Conv1x1Reduce(64, 20, 64), tcRenderer())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := k2.ApplyOpt(renderer.Opt{Op: renderer.OptTC, Axis: &axis, Arg: [2]int{-1, 2}}, true); err != nil {
		t.Fatalf("ApplyOpt(TC, opt=2) error = %v, want success", err)
	}
	if k2.TensorCoreOpts == nil {
		t.Fatal("TensorCoreOpts = nil after a padded match")
	}
	found := false
	for _, pad := range k2.TensorCoreOpts.AxisPads {
		if pad[0] == kAxis {
			found = true
		}
	}
	if !found {
		t.Errorf("TensorCoreOpts.AxisPads = %v, want a pad at the K axis (%d)", k2.TensorCoreOpts.AxisPads, kAxis)
	}

	if _, err := k2.GetOptimizedAst(""); err != nil {
		t.Errorf("GetOptimizedAst() error = %v after a padded tensor-core match", err)
	}
}

func TestEmptyReduceToProgramNonEmptySource(t *testing.T) {
	k, err := kernelopt.New(samples.EmptyReduce(4), samples.GPURenderer())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := k.HandCodedOptimizations(heuristicDefaults()); err != nil {
		t.Fatalf("HandCodedOptimizations() error = %v", err)
	}
	prog, err := k.ToProgram("")
	if err != nil {
		t.Fatalf("ToProgram() error = %v", err)
	}
	if len(prog.UOps) == 0 {
		t.Error("ToProgram().UOps is empty for a no-reduce-left kernel")
	}
}
