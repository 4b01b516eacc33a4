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
	"sort"

	"github.com/AleutianAI/netmeta/nma/dataset"
)

// Edge is an unordered direct comparison between two treatments.
//
// A < B always holds (ascending treatment identifier), so an edge has a
// single canonical representation.
type Edge struct {
	// A is the lexicographically smaller treatment of the pair.
	A string

	// B is the lexicographically larger treatment of the pair.
	B string

	// Weight is the number of studies directly comparing A and B.
	Weight int
}

// Graph is the undirected weighted evidence graph of a treatment network.
//
// Thread Safety: read-only after Build; safe for concurrent use.
type Graph struct {
	treatments []string
	index      map[string]int
	edges      []Edge
	weight     map[[2]int]int
	adj        [][]int
}

// Build constructs the evidence graph from the record store.
//
// Description:
//
//	For every study, all unordered pairs of its arms contribute one unit
//	of weight to the corresponding edge. Node identity comes from the
//	store's sorted treatment list, so treatment indices are deterministic
//	for a given dataset.
//
// Inputs:
//   - store: Validated record store. Must not be nil.
//
// Outputs:
//   - *Graph: The evidence graph. Nil on error.
//   - error: ErrEmptyGraph if no study compares two treatments.
func Build(store *dataset.Store) (*Graph, error) {
	treatments := store.Treatments()
	index := make(map[string]int, len(treatments))
	for i, t := range treatments {
		index[t] = i
	}

	weight := make(map[[2]int]int)
	for _, study := range store.Studies() {
		arms := study.Arms
		for i := 0; i < len(arms); i++ {
			for j := i + 1; j < len(arms); j++ {
				a, b := index[arms[i].Treatment], index[arms[j].Treatment]
				if a > b {
					a, b = b, a
				}
				weight[[2]int{a, b}]++
			}
		}
	}
	if len(weight) == 0 {
		return nil, ErrEmptyGraph
	}

	edges := make([]Edge, 0, len(weight))
	adj := make([][]int, len(treatments))
	for key, w := range weight {
		edges = append(edges, Edge{A: treatments[key[0]], B: treatments[key[1]], Weight: w})
		adj[key[0]] = append(adj[key[0]], key[1])
		adj[key[1]] = append(adj[key[1]], key[0])
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].A != edges[j].A {
			return edges[i].A < edges[j].A
		}
		return edges[i].B < edges[j].B
	})
	for _, neighbors := range adj {
		sort.Ints(neighbors)
	}

	return &Graph{
		treatments: treatments,
		index:      index,
		edges:      edges,
		weight:     weight,
		adj:        adj,
	}, nil
}

// Nodes returns the treatment identifiers in ascending order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.treatments))
	copy(out, g.treatments)
	return out
}

// NumNodes returns the number of treatments.
func (g *Graph) NumNodes() int { return len(g.treatments) }

// Edges returns the weighted edge list, sorted by (A, B). Together with
// Nodes this is the full graph description an external renderer consumes.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Index returns the dense node index of a treatment.
func (g *Graph) Index(treatment string) (int, error) {
	i, ok := g.index[treatment]
	if !ok {
		return 0, ErrUnknownTreatment
	}
	return i, nil
}

// Treatment returns the treatment identifier at a node index.
func (g *Graph) Treatment(i int) string { return g.treatments[i] }

// EdgeWeight returns the number of studies directly comparing a and b.
// Zero means no direct comparison exists.
func (g *Graph) EdgeWeight(a, b string) (int, error) {
	ia, ok := g.index[a]
	if !ok {
		return 0, ErrUnknownTreatment
	}
	ib, ok := g.index[b]
	if !ok {
		return 0, ErrUnknownTreatment
	}
	if ia > ib {
		ia, ib = ib, ia
	}
	return g.weight[[2]int{ia, ib}], nil
}

// Degree returns the number of distinct treatments directly compared with
// the given treatment.
func (g *Graph) Degree(treatment string) (int, error) {
	i, ok := g.index[treatment]
	if !ok {
		return 0, ErrUnknownTreatment
	}
	return len(g.adj[i]), nil
}

// Connected reports whether every treatment is reachable from every other.
func (g *Graph) Connected() bool {
	return len(g.components()) == 1
}

// RequireConnected returns a *DisconnectedNetworkError when the network
// splits into multiple components, nil otherwise.
//
// Joint estimation over the whole treatment set is only identified on a
// connected network, so callers abort the run on this error.
func (g *Graph) RequireConnected() error {
	comps := g.components()
	if len(comps) == 1 {
		return nil
	}
	named := make([][]string, len(comps))
	for i, comp := range comps {
		names := make([]string, len(comp))
		for j, idx := range comp {
			names[j] = g.treatments[idx]
		}
		named[i] = names
	}
	return &DisconnectedNetworkError{Components: named}
}

// components returns connected components as sorted index slices, using
// breadth-first traversal over the adjacency lists.
func (g *Graph) components() [][]int {
	visited := make([]bool, len(g.treatments))
	var comps [][]int

	for start := range g.treatments {
		if visited[start] {
			continue
		}
		var comp []int
		queue := []int{start}
		visited[start] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			comp = append(comp, node)
			for _, next := range g.adj[node] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		sort.Ints(comp)
		comps = append(comps, comp)
	}
	return comps
}
