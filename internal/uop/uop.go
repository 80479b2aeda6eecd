// Package uop defines the closed set of operation nodes the kernel optimizer
// consumes: a DAG describing a single fused, reduction-bearing kernel.
package uop

import "fmt"

// Op is the opcode of a UOp node. Only the subset the optimizer touches is
// modeled; the renderer and devectorizer understand a larger set downstream.
type Op int

const (
	Sink Op = iota
	Load
	Store
	Const
	Valid
	View
	ReduceAxis
	Mul
	Cast
	Add
	DefineGlobal
	DefineLocal
	Wmma
	Contract
	Unroll
	Name
)

func (o Op) String() string {
	switch o {
	case Sink:
		return "SINK"
	case Load:
		return "LOAD"
	case Store:
		return "STORE"
	case Const:
		return "CONST"
	case Valid:
		return "VALID"
	case View:
		return "VIEW"
	case ReduceAxis:
		return "REDUCE_AXIS"
	case Mul:
		return "MUL"
	case Cast:
		return "CAST"
	case Add:
		return "ADD"
	case DefineGlobal:
		return "DEFINE_GLOBAL"
	case DefineLocal:
		return "DEFINE_LOCAL"
	case Wmma:
		return "WMMA"
	case Contract:
		return "CONTRACT"
	case Unroll:
		return "UNROLL"
	case Name:
		return "NAME"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// BufferOps is the set of opcodes that carry (or are associated through a
// VIEW source with) a shape-tracker.
var BufferOps = map[Op]bool{Load: true, Store: true, Const: true, Valid: true}

// DType is a minimal dtype description. Image dtypes additionally describe a
// 3D plane shape; axis merging does not consult it.
type DType struct {
	Name       string
	ItemSize   int
	ImageShape []int64 // nil unless this is an image dtype
}

func (d DType) IsImage() bool { return d.ImageShape != nil }

func (d DType) Equal(o DType) bool { return d.Name == o.Name }

func (d DType) String() string { return d.Name }

var (
	Float32 = DType{Name: "float32", ItemSize: 4}
	Int32   = DType{Name: "int", ItemSize: 4}
	Half    = DType{Name: "half", ItemSize: 2}
	Bool    = DType{Name: "bool", ItemSize: 1}
)

// ReduceKind identifies the reduction operator carried by a REDUCE_AXIS arg.
// Only ADD is used by the tensor-core matcher and PADTO's can-pad contract,
// but the field is kept general for future reduce kinds.
type ReduceKind int

const (
	ReduceAdd ReduceKind = iota
	ReduceMax
)

func (r ReduceKind) String() string {
	if r == ReduceAdd {
		return "ADD"
	}
	return "MAX"
}

// ReduceArg is the argument carried by a REDUCE_AXIS node: the reduction kind
// and the tuple of axes (in the *input* shape) being reduced.
type ReduceArg struct {
	Kind ReduceKind
	Axes []int
}

// UOp is a node in the operation DAG. Nodes are immutable once built; kernel
// transformations build new nodes rather than mutating existing ones.
type UOp struct {
	Op    Op
	DType DType
	Src   []*UOp
	Arg   any // opcode-specific: ReduceArg, shape-tracker, KernelInfo, etc.

	// ShapeTracker is set on buffer ops (LOAD/STORE/CONST/VALID) and on VIEW
	// nodes; it is the contract the optimizer manipulates. Declared as `any`
	// to avoid an import cycle with the shapetracker package; callers type
	// assert to *shapetracker.ShapeTracker.
	ShapeTracker any
}

// New constructs a node. Src is copied defensively.
func New(op Op, dtype DType, src []*UOp, arg any) *UOp {
	s := append([]*UOp(nil), src...)
	return &UOp{Op: op, DType: dtype, Src: s, Arg: arg}
}

// Replace returns a shallow copy of u with src and/or arg overridden.
func (u *UOp) Replace(src []*UOp, arg any, hasArg bool) *UOp {
	ret := *u
	if src != nil {
		ret.Src = append([]*UOp(nil), src...)
	}
	if hasArg {
		ret.Arg = arg
	}
	return &ret
}

// ReduceArgValue returns the node's REDUCE_AXIS argument, panicking if the node is
// not a REDUCE_AXIS (mirrors the teacher's style of asserting at call sites
// that already know the opcode).
func (u *UOp) ReduceArgValue() ReduceArg {
	if u.Op != ReduceAxis {
		panic(fmt.Sprintf("uop: ReduceArgValue on non-REDUCE_AXIS node %s", u.Op))
	}
	return u.Arg.(ReduceArg)
}

// KernelInfo is the SINK root's argument after lowering: the renderer-facing
// kernel metadata.
type KernelInfo struct {
	FunctionName  string
	LocalDims     int
	Upcasted      int
	DontUseLocals bool
}

// WmmaArg is the argument carried by a WMMA node: the matched tensor core's
// shape and dtypes, plus the per-operand upcast axes (arg to each operand's
// CONTRACT) and the absolute axes it contracts over.
type WmmaArg struct {
	Dims       [3]int
	DTypeIn    DType
	DTypeOut   DType
	Device     string
	Threads    int
	UpcastAxes [3][][2]int // per (A, B, C) operand
	ReduceAxes []int
}
