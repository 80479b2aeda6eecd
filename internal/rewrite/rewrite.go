// Package rewrite models the optimizer's external collaborators: the
// graph-rewrite term-rewriter, the linearizer, and the devectorizer. Their
// real implementations live outside this module's scope (spec §1); what's
// modeled here is only the narrow call contract the kernel lowering step
// (internal/kernelopt) depends on.
package rewrite

import (
	"github.com/example/go-kernelopt/internal/dag"
	"github.com/example/go-kernelopt/internal/renderer"
	"github.com/example/go-kernelopt/internal/uop"
)

// GraphRewriter is the shape of a bottom-up AST rewrite under some pattern
// set. ViewLeft below has this shape; nothing in this module accepts a
// GraphRewriter as a parameter.
type GraphRewriter func(ast *uop.UOp) *uop.UOp

// ViewLeft is the no-op stand-in for the view_left pass that pushes VIEW
// nodes toward the leaves of the rewritten AST: it passes the AST through
// unchanged. GetOptimizedAst calls it directly; there is no hook for
// substituting another rewriter.
func ViewLeft(ast *uop.UOp) *uop.UOp { return ast }

// RewriteShapetrackerWithIndex lowers VIEW/shape-tracker addressing into
// explicit index arithmetic ahead of full_graph_rewrite. Left as an identity
// pass here; the real lowering is an external collaborator.
func RewriteShapetrackerWithIndex(ast *uop.UOp, _ renderer.Renderer) *uop.UOp { return ast }

// FullGraphRewrite runs the devectorizer's full pattern set over the
// lowered AST. Left as an identity pass here for the same reason.
func FullGraphRewrite(ast *uop.UOp, _ renderer.Renderer) *uop.UOp { return ast }

// LinearizeUOp orders a rewritten AST into the flat instruction list a
// renderer emits source from. Unlike the rewrite passes above, ordering a
// DAG genuinely is this module's concern, so it's implemented directly on
// top of the same toposort the kernel uses to enumerate the input graph.
func LinearizeUOp(ast *uop.UOp) ([]*uop.UOp, error) {
	return dag.Toposort(ast)
}
