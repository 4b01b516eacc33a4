// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evgraph

import (
	"fmt"
	"sort"
)

// BasisEdge is one oriented spanning-tree edge. The basis parameter it
// labels is the effect of Child relative to Parent.
type BasisEdge struct {
	// Parent is the treatment nearer the tree root.
	Parent string

	// Child is the treatment farther from the tree root.
	Child string
}

// Name returns the conventional label for the basis parameter,
// "d[Parent:Child]".
func (e BasisEdge) Name() string {
	return fmt.Sprintf("d[%s:%s]", e.Parent, e.Child)
}

// Tree is a spanning tree of the evidence graph, used as the basis of the
// consistency model: the T-1 tree-edge effects parameterize the model, and
// every other comparison is the signed sum along the unique tree path,
// which enforces consistency by construction.
//
// Thread Safety: read-only after construction; safe for concurrent use.
type Tree struct {
	graph  *Graph
	root   int
	parent []int       // parent[node] = parent index, -1 at root
	basis  []BasisEdge // basis[b] corresponds to edge (parent, child)
	edgeOf []int       // edgeOf[node] = basis index of (parent[node], node), -1 at root
	order  []int       // nodes in root-first traversal order
}

// SpanningTree extracts the maximum-evidence spanning tree.
//
// Description:
//
//	Kruskal's algorithm over edges sorted by descending study count, with
//	ties broken by (A, B) treatment order, so the basis always spans the
//	comparisons backed by the most direct evidence and is deterministic
//	for a given dataset. The tree is rooted at the first treatment in
//	ascending identifier order.
//
//	Any spanning tree yields an equivalent consistency model; the choice
//	affects parameter labels, never the implied comparisons.
//
// Outputs:
//   - *Tree: Rooted spanning tree with T-1 basis edges. Nil on error.
//   - error: Non-nil if the graph is disconnected.
func (g *Graph) SpanningTree() (*Tree, error) {
	if err := g.RequireConnected(); err != nil {
		return nil, err
	}

	sorted := make([]Edge, len(g.edges))
	copy(sorted, g.edges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Weight != sorted[j].Weight {
			return sorted[i].Weight > sorted[j].Weight
		}
		if sorted[i].A != sorted[j].A {
			return sorted[i].A < sorted[j].A
		}
		return sorted[i].B < sorted[j].B
	})

	// Union-find over node indices.
	uf := make([]int, g.NumNodes())
	for i := range uf {
		uf[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for uf[x] != x {
			uf[x] = uf[uf[x]]
			x = uf[x]
		}
		return x
	}

	treeAdj := make([][]int, g.NumNodes())
	accepted := 0
	for _, e := range sorted {
		a, b := g.index[e.A], g.index[e.B]
		ra, rb := find(a), find(b)
		if ra == rb {
			continue
		}
		uf[ra] = rb
		treeAdj[a] = append(treeAdj[a], b)
		treeAdj[b] = append(treeAdj[b], a)
		accepted++
		if accepted == g.NumNodes()-1 {
			break
		}
	}

	// Root at node 0 and orient edges parent->child by BFS.
	root := 0
	parent := make([]int, g.NumNodes())
	edgeOf := make([]int, g.NumNodes())
	for i := range parent {
		parent[i] = -1
		edgeOf[i] = -1
	}

	order := make([]int, 0, g.NumNodes())
	visited := make([]bool, g.NumNodes())
	queue := []int{root}
	visited[root] = true
	var basis []BasisEdge
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		sort.Ints(treeAdj[node])
		for _, next := range treeAdj[node] {
			if visited[next] {
				continue
			}
			visited[next] = true
			parent[next] = node
			edgeOf[next] = len(basis)
			basis = append(basis, BasisEdge{Parent: g.treatments[node], Child: g.treatments[next]})
			queue = append(queue, next)
		}
	}

	return &Tree{
		graph:  g,
		root:   root,
		parent: parent,
		basis:  basis,
		edgeOf: edgeOf,
		order:  order,
	}, nil
}

// Root returns the root treatment identifier.
func (t *Tree) Root() string { return t.graph.treatments[t.root] }

// Treatments returns the underlying graph's treatments in node order, the
// order Expand writes its output in.
func (t *Tree) Treatments() []string { return t.graph.Nodes() }

// Basis returns the oriented basis edges, indexed by basis parameter.
func (t *Tree) Basis() []BasisEdge {
	out := make([]BasisEdge, len(t.basis))
	copy(out, t.basis)
	return out
}

// NumBasis returns the number of basis parameters (T-1).
func (t *Tree) NumBasis() int { return len(t.basis) }

// BasisNames returns the parameter labels in basis order.
func (t *Tree) BasisNames() []string {
	out := make([]string, len(t.basis))
	for i, e := range t.basis {
		out[i] = e.Name()
	}
	return out
}

// Expand computes every treatment's effect relative to the root from a
// basis vector, writing into out (len = number of treatments, indexed by
// node index). out[root] is always 0.
//
// Effects accumulate along tree paths: a child's effect is its parent's
// effect plus the basis effect of the connecting edge, so any derived
// comparison effect(a,b) = out[a] - out[b] is transitive by construction.
//
// Thread Safety: safe for concurrent use with distinct out slices.
func (t *Tree) Expand(basisValues, out []float64) {
	out[t.root] = 0
	for _, node := range t.order {
		if node == t.root {
			continue
		}
		out[node] = out[t.parent[node]] + basisValues[t.edgeOf[node]]
	}
}

// PathEffect computes the effect of treatment a relative to b implied by a
// basis vector. Convenience wrapper over Expand for single comparisons.
func (t *Tree) PathEffect(basisValues []float64, a, b string) (float64, error) {
	ia, err := t.graph.Index(a)
	if err != nil {
		return 0, err
	}
	ib, err := t.graph.Index(b)
	if err != nil {
		return 0, err
	}
	out := make([]float64, t.graph.NumNodes())
	t.Expand(basisValues, out)
	return out[ia] - out[ib], nil
}
