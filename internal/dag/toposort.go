// Package dag orders a uop.UOp graph for the kernel optimizer using
// lvlath's directed-graph topological sort, rather than hand-rolling DFS
// bookkeeping again here.
package dag

import (
	"fmt"
	"strconv"

	"github.com/katalvlaran/lvlath/core"
	"github.com/katalvlaran/lvlath/dfs"

	"github.com/example/go-kernelopt/internal/uop"
)

// Toposort returns every node reachable from root in dependency order: a
// node's sources always precede it, matching Ops.toposort in the original
// kernel optimizer this package is modeled on.
func Toposort(root *uop.UOp) ([]*uop.UOp, error) {
	ids := make(map[*uop.UOp]string)
	nodes := make([]*uop.UOp, 0)

	var assign func(n *uop.UOp)
	assign = func(n *uop.UOp) {
		if _, ok := ids[n]; ok {
			return
		}
		id := strconv.Itoa(len(nodes))
		ids[n] = id
		nodes = append(nodes, n)
		for _, s := range n.Src {
			assign(s)
		}
	}
	assign(root)

	g := core.NewGraph(core.WithDirected(true), core.WithMultiEdges(), core.WithLoops())
	for _, n := range nodes {
		g.AddVertex(&core.Vertex{ID: ids[n]})
	}
	seen := make(map[[2]string]bool)
	for _, n := range nodes {
		for _, s := range n.Src {
			key := [2]string{ids[s], ids[n]}
			if seen[key] {
				continue
			}
			seen[key] = true
			if _, err := g.AddEdge(ids[s], ids[n], 0); err != nil {
				return nil, fmt.Errorf("dag: add edge %s->%s: %w", ids[s], ids[n], err)
			}
		}
	}

	order, err := dfs.TopologicalSort(g)
	if err != nil {
		return nil, fmt.Errorf("dag: topological sort: %w", err)
	}

	byID := make(map[string]*uop.UOp, len(nodes))
	for _, n := range nodes {
		byID[ids[n]] = n
	}

	out := make([]*uop.UOp, len(order))
	for i, id := range order {
		out[i] = byID[id]
	}

	return out, nil
}
