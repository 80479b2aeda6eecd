// Package renderer describes the external code-generation backend the
// kernel optimizer targets: its capability flags, its tensor-core catalogue,
// and the program bundle the optimizer ultimately hands it. The renderer
// itself - turning an optimized AST into device source - is out of scope;
// this package only models the narrow contract the optimizer consumes.
package renderer

import "github.com/example/go-kernelopt/internal/uop"

// OptOps enumerates the optimization operators the kernel catalogue accepts.
type OptOps int

const (
	OptUpcast OptOps = iota
	OptUnroll
	OptLocal
	OptGroup
	OptGroupTop
	OptNoLocals
	OptSwap
	OptPadTo
	OptTC
)

func (o OptOps) String() string {
	switch o {
	case OptUpcast:
		return "UPCAST"
	case OptUnroll:
		return "UNROLL"
	case OptLocal:
		return "LOCAL"
	case OptGroup:
		return "GROUP"
	case OptGroupTop:
		return "GROUPTOP"
	case OptNoLocals:
		return "NOLOCALS"
	case OptSwap:
		return "SWAP"
	case OptPadTo:
		return "PADTO"
	case OptTC:
		return "TC"
	default:
		return "UNKNOWN"
	}
}

// Opt is a single optimization instruction: the operator, the axis it
// targets (nil for NOLOCALS), and an opcode-specific argument (an amount
// int for most ops, a (tcSelect, tcOpt) pair for TC).
type Opt struct {
	Op   OptOps
	Axis *int
	Arg  any
}

// TCAxisKind selects which of a tensor core's canonical opt-program entries
// is an upcast vs. a local.
type TCAxisKind int

const (
	TCUpcast TCAxisKind = iota
	TCLocal
)

// TCProgramStep is one entry of a TensorCore's canonical opts program:
// apply Kind at axis index Which (0 = N axis, 1 = M axis).
type TCProgramStep struct {
	Kind  TCAxisKind
	Which int
}

// TensorCore describes one hardware tensor-core instruction: a fixed
// (M,N,K)-tile multiply-accumulate with prescribed dtypes and thread layout.
type TensorCore struct {
	Dims              [3]int // M, N, K
	DTypeIn           uop.DType
	DTypeOut          uop.DType
	Threads           int
	ElementsPerThread [3]int // per (A, B, C) operand
	Swizzle           [2]any // per-operand (local-perm, upcast-perm), nil if none
	Opts              []TCProgramStep
}

// GetReduceAxes returns the (relative axis, amount) pairs to UNROLL before
// applying Opts - always the K dimension at relative axis 0.
func (tc TensorCore) GetReduceAxes() [][2]int { return [][2]int{{0, tc.Dims[2]}} }

// GetUpcastAxes returns the helper upcast axis slots the tensor core needs
// per operand: always the single slot 0; ElementsPerThread is not consulted.
func (tc TensorCore) GetUpcastAxes() []int { return []int{0} }

// GetLocalAxes returns the helper local-axis slots consumed by the tensor
// core's canonical opt program.
func (tc TensorCore) GetLocalAxes() []int {
	var out []int
	for _, s := range tc.Opts {
		if s.Kind == TCLocal {
			out = append(out, s.Which)
		}
	}
	return out
}

// Renderer is the capability descriptor the kernel optimizer reads to decide
// which opts are legal on the current device.
type Renderer struct {
	HasLocal    bool
	HasShared   bool
	SharedMax   int64
	Device      string
	TensorCores []TensorCore
}

// ProgramSpec is the optimizer's final output bundle.
type ProgramSpec struct {
	Name        string
	Src         string
	Device      string
	AST         *uop.UOp
	UOps        []*uop.UOp
	AppliedOpts []Opt
	MemBytes    int64
	GlobalSize  []int
	LocalSize   []int
}
