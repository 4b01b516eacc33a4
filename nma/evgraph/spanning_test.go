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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/netmeta/nma/dataset"
)

func TestSpanningTree_Triangle(t *testing.T) {
	g, err := Build(triangleStore(t))
	require.NoError(t, err)

	tree, err := g.SpanningTree()
	require.NoError(t, err)

	assert.Equal(t, "A", tree.Root())
	assert.Equal(t, 2, tree.NumBasis())
	assert.Len(t, tree.BasisNames(), 2)
}

func TestSpanningTree_PrefersHeavyEdges(t *testing.T) {
	// A-B is backed by three studies, A-C and B-C by one each. The
	// maximum-evidence tree must contain A-B.
	records := []dataset.ArmRecord{
		{Study: "s1", Treatment: "A", Responders: 5, SampleSize: 20},
		{Study: "s1", Treatment: "B", Responders: 6, SampleSize: 20},
		{Study: "s2", Treatment: "A", Responders: 7, SampleSize: 25},
		{Study: "s2", Treatment: "B", Responders: 8, SampleSize: 25},
		{Study: "s3", Treatment: "A", Responders: 4, SampleSize: 15},
		{Study: "s3", Treatment: "B", Responders: 5, SampleSize: 15},
		{Study: "s4", Treatment: "A", Responders: 6, SampleSize: 22},
		{Study: "s4", Treatment: "C", Responders: 7, SampleSize: 22},
		{Study: "s5", Treatment: "B", Responders: 9, SampleSize: 28},
		{Study: "s5", Treatment: "C", Responders: 10, SampleSize: 28},
	}
	store, err := dataset.NewStore(records)
	require.NoError(t, err)
	g, err := Build(store)
	require.NoError(t, err)

	tree, err := g.SpanningTree()
	require.NoError(t, err)

	hasAB := false
	for _, e := range tree.Basis() {
		if (e.Parent == "A" && e.Child == "B") || (e.Parent == "B" && e.Child == "A") {
			hasAB = true
		}
	}
	assert.True(t, hasAB, "maximum-evidence tree must keep the 3-study A-B edge")
}

func TestTree_ExpandTransitivity(t *testing.T) {
	g, err := Build(triangleStore(t))
	require.NoError(t, err)
	tree, err := g.SpanningTree()
	require.NoError(t, err)

	basis := []float64{0.3, -0.7}
	out := make([]float64, g.NumNodes())
	tree.Expand(basis, out)

	rootIdx, err := g.Index(tree.Root())
	require.NoError(t, err)
	assert.Zero(t, out[rootIdx])

	// effect(a,c) == effect(a,b) + effect(b,c) exactly, for every triple.
	nodes := g.Nodes()
	for _, a := range nodes {
		for _, b := range nodes {
			for _, c := range nodes {
				ab, err := tree.PathEffect(basis, a, b)
				require.NoError(t, err)
				bc, err := tree.PathEffect(basis, b, c)
				require.NoError(t, err)
				ac, err := tree.PathEffect(basis, a, c)
				require.NoError(t, err)
				assert.InDelta(t, ac, ab+bc, 1e-12,
					"path %s-%s-%s must be transitive", a, b, c)
			}
		}
	}

	// Self-comparison is exactly zero.
	aa, err := tree.PathEffect(basis, "B", "B")
	require.NoError(t, err)
	assert.True(t, aa == 0 || math.Abs(aa) < 1e-15)
}

func TestSpanningTree_DisconnectedFails(t *testing.T) {
	store, err := dataset.NewStore([]dataset.ArmRecord{
		{Study: "s1", Treatment: "A", Responders: 10, SampleSize: 40},
		{Study: "s1", Treatment: "B", Responders: 12, SampleSize: 40},
		{Study: "s2", Treatment: "C", Responders: 9, SampleSize: 30},
		{Study: "s2", Treatment: "D", Responders: 11, SampleSize: 30},
	})
	require.NoError(t, err)
	g, err := Build(store)
	require.NoError(t, err)

	_, err = g.SpanningTree()
	require.Error(t, err)
}
