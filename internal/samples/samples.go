// Package samples builds small SINK-rooted op graphs the kernel optimizer
// can run against, for use by the command-line demo and by kernelopt's own
// tests. Each builder returns a ready-to-optimize ast; GPURenderer supplies
// a renderer descriptor sized for a typical GPU target.
package samples

import (
	"github.com/example/go-kernelopt/internal/renderer"
	"github.com/example/go-kernelopt/internal/shapetracker"
	"github.com/example/go-kernelopt/internal/uop"
)

// GPURenderer is a renderer descriptor with local memory, shared memory, and
// one tensor core — representative of a discrete GPU backend.
func GPURenderer() renderer.Renderer {
	return renderer.Renderer{
		HasLocal:  true,
		HasShared: true,
		SharedMax: 32 * 1024,
		Device:    "GPU",
		TensorCores: []renderer.TensorCore{
			{
				Dims:              [3]int{8, 8, 16},
				DTypeIn:           uop.Half,
				DTypeOut:          uop.Float32,
				Threads:           32,
				ElementsPerThread: [3]int{2, 2, 2},
				Opts: []renderer.TCProgramStep{
					{Kind: renderer.TCLocal, Which: 0},
					{Kind: renderer.TCUpcast, Which: 1},
				},
			},
		},
	}
}

func buf(op uop.Op, dtype uop.DType, st *shapetracker.ShapeTracker, src []*uop.UOp, arg any) *uop.UOp {
	n := uop.New(op, dtype, src, arg)
	n.ShapeTracker = st
	return n
}

// Matvec builds SINK(STORE(out[M,1], REDUCE_AXIS(ADD, axis=1, MUL(LOAD(a[M,N]), LOAD(x[broadcast M,N]))))).
// The output tracker keeps the reduced axis as a size-1 dimension, matching
// every other shape-tracker's rank, per the reduce-output convention the
// rest of the package assumes (construction permutes and simplifies all
// trackers in lockstep, so they must share a rank until simplify_ones runs).
func Matvec(m, n int64) *uop.UOp {
	aSt := shapetracker.FromShape([]int64{m, n})
	xSt, _ := shapetracker.New([]int64{m, n}, []int64{0, 1}, 0)
	outSt := shapetracker.FromShape([]int64{m, 1})

	a := buf(uop.Load, uop.Float32, aSt, nil, nil)
	x := buf(uop.Load, uop.Float32, xSt, nil, nil)
	mul := uop.New(uop.Mul, uop.Float32, []*uop.UOp{a, x}, nil)
	reduce := uop.New(uop.ReduceAxis, uop.Float32, []*uop.UOp{mul}, uop.ReduceArg{Kind: uop.ReduceAdd, Axes: []int{1}})
	store := buf(uop.Store, uop.Float32, outSt, []*uop.UOp{reduce}, nil)
	return uop.New(uop.Sink, uop.Float32, []*uop.UOp{store}, nil)
}

// ElementwiseAdd builds SINK(STORE(out[N], ADD(LOAD(a[N]), LOAD(b[N])))), a
// reduce-free kernel exercising the pure global/upcast axis segments.
func ElementwiseAdd(n int64) *uop.UOp {
	st := shapetracker.FromShape([]int64{n})
	a := buf(uop.Load, uop.Float32, st, nil, nil)
	b := buf(uop.Load, uop.Float32, st, nil, nil)
	add := uop.New(uop.Add, uop.Float32, []*uop.UOp{a, b}, nil)
	store := buf(uop.Store, uop.Float32, st, []*uop.UOp{add}, nil)
	return uop.New(uop.Sink, uop.Float32, []*uop.UOp{store}, nil)
}

// Conv1x1Reduce builds a small conv-like reduction: out[N,Cout] = sum over
// Cin of LOAD(x)[N, Cin broadcast over Cout] * LOAD(w)[Cin, Cout broadcast
// over N], exercising a two-buffer matmul-shaped reduce.
func Conv1x1Reduce(n, cin, cout int64) *uop.UOp {
	xSt, _ := shapetracker.New([]int64{n, cout, cin}, []int64{cin, 0, 1}, 0)
	wSt, _ := shapetracker.New([]int64{n, cout, cin}, []int64{0, cin, 1}, 0)
	outSt := shapetracker.FromShape([]int64{n, cout, 1})

	x := buf(uop.Load, uop.Float32, xSt, nil, nil)
	w := buf(uop.Load, uop.Float32, wSt, nil, nil)
	mul := uop.New(uop.Mul, uop.Float32, []*uop.UOp{x, w}, nil)
	reduce := uop.New(uop.ReduceAxis, uop.Float32, []*uop.UOp{mul}, uop.ReduceArg{Kind: uop.ReduceAdd, Axes: []int{2}})
	store := buf(uop.Store, uop.Float32, outSt, []*uop.UOp{reduce}, nil)
	return uop.New(uop.Sink, uop.Float32, []*uop.UOp{store}, nil)
}

// EmptyReduce builds SINK(STORE(out[1], REDUCE_AXIS(ADD, axis=0, LOAD(a[N])))),
// a full reduction to a scalar.
func EmptyReduce(n int64) *uop.UOp {
	aSt := shapetracker.FromShape([]int64{n})
	outSt := shapetracker.FromShape([]int64{1})
	a := buf(uop.Load, uop.Float32, aSt, nil, nil)
	reduce := uop.New(uop.ReduceAxis, uop.Float32, []*uop.UOp{a}, uop.ReduceArg{Kind: uop.ReduceAdd, Axes: []int{0}})
	store := buf(uop.Store, uop.Float32, outSt, []*uop.UOp{reduce}, nil)
	return uop.New(uop.Sink, uop.Float32, []*uop.UOp{store}, nil)
}
