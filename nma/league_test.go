// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nma

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/netmeta/nma/contrast"
	"github.com/AleutianAI/netmeta/nma/dataset"
	"github.com/AleutianAI/netmeta/nma/evgraph"
	"github.com/AleutianAI/netmeta/nma/gls"
	"github.com/AleutianAI/netmeta/nma/mcmc"
)

// triangleRecords is a connected A/B/C network with three two-arm studies.
func triangleRecords() []dataset.ArmRecord {
	return []dataset.ArmRecord{
		{Study: "Study1", Treatment: "A", Responders: 30, SampleSize: 100},
		{Study: "Study1", Treatment: "B", Responders: 40, SampleSize: 100},
		{Study: "Study2", Treatment: "B", Responders: 35, SampleSize: 90},
		{Study: "Study2", Treatment: "C", Responders: 45, SampleSize: 90},
		{Study: "Study3", Treatment: "A", Responders: 25, SampleSize: 80},
		{Study: "Study3", Treatment: "C", Responders: 40, SampleSize: 80},
	}
}

func triangleFit(t *testing.T) *gls.Fit {
	t.Helper()
	store, err := dataset.NewStore(triangleRecords())
	require.NoError(t, err)
	g, err := evgraph.Build(store)
	require.NoError(t, err)
	_, pairs, err := contrast.Transform(store, contrast.PolicyAbort, nil)
	require.NoError(t, err)
	result, err := gls.Solve(g, pairs)
	require.NoError(t, err)
	return result.Random
}

func TestOrderTreatments(t *testing.T) {
	got := orderTreatments([]string{"C", "A", "B"}, "B")
	assert.Equal(t, []string{"B", "A", "C"}, got)

	got = orderTreatments([]string{"C", "A", "B"}, "")
	assert.Equal(t, []string{"A", "B", "C"}, got)

	got = orderTreatments([]string{"C", "A", "B"}, "Zilch")
	assert.Equal(t, []string{"A", "B", "C"}, got, "unknown reference keeps ascending order")
}

func TestLeagueFromFit_DiagonalAndReciprocity(t *testing.T) {
	fit := triangleFit(t)
	table, err := leagueFromFit(fit, "A")
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, table.Treatments())

	for _, tr := range table.Treatments() {
		cell, err := table.Cell(tr, tr)
		require.NoError(t, err)
		assert.Equal(t, Interval{Lower: 1, Point: 1, Upper: 1}, cell)
	}

	ab, err := table.Cell("A", "B")
	require.NoError(t, err)
	ba, err := table.Cell("B", "A")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ab.Point*ba.Point, 1e-12, "cells must be reciprocal")
	assert.InDelta(t, 1.0, ab.Lower*ba.Upper, 1e-12, "bounds must mirror")
	assert.InDelta(t, 1.0, ab.Upper*ba.Lower, 1e-12)
}

func TestLeagueFromFit_MatchesSolverEffects(t *testing.T) {
	fit := triangleFit(t)
	table, err := leagueFromFit(fit, "")
	require.NoError(t, err)

	for _, a := range table.Treatments() {
		for _, b := range table.Treatments() {
			if a == b {
				continue
			}
			eff, err := fit.Effect(a, b)
			require.NoError(t, err)
			cell, err := table.Cell(a, b)
			require.NoError(t, err)
			assert.InDelta(t, math.Exp(eff), cell.Point, 1e-12, "%s vs %s", a, b)
			assert.Less(t, cell.Lower, cell.Point)
			assert.Greater(t, cell.Upper, cell.Point)
		}
	}
}

func TestLeagueFromFit_UnknownTreatment(t *testing.T) {
	fit := triangleFit(t)
	table, err := leagueFromFit(fit, "A")
	require.NoError(t, err)

	_, err = table.Cell("A", "Zilch")
	assert.ErrorIs(t, err, evgraph.ErrUnknownTreatment)
}

func TestLeagueFromPosterior_PointMass(t *testing.T) {
	store, err := dataset.NewStore(triangleRecords())
	require.NoError(t, err)
	g, err := evgraph.Build(store)
	require.NoError(t, err)
	tree, err := g.SpanningTree()
	require.NoError(t, err)

	// Every draw implies d[A:B] = 0.3, d[A:C] = 0.7.
	basis := []float64{0.3, 0.7}
	chains := make([][]mcmc.Sample, 2)
	for c := range chains {
		chains[c] = make([]mcmc.Sample, 50)
		for i := range chains[c] {
			chains[c][i] = mcmc.Sample{Chain: c, Iteration: i, Basis: basis, TauSquared: 0.01, Deviance: 4}
		}
	}
	set, err := mcmc.NewSampleSet(tree.BasisNames(), chains)
	require.NoError(t, err)

	table, err := leagueFromPosterior(set, tree, "A")
	require.NoError(t, err)

	ba, err := table.Cell("B", "A")
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(0.3), ba.Point, 1e-12)
	assert.InDelta(t, math.Exp(0.3), ba.Lower, 1e-12, "degenerate posterior has zero-width intervals")
	assert.InDelta(t, math.Exp(0.3), ba.Upper, 1e-12)

	cb, err := table.Cell("C", "B")
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(0.4), cb.Point, 1e-12, "indirect cell is the path difference")

	ab, err := table.Cell("A", "B")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ab.Point*ba.Point, 1e-12)
}

func TestLeagueFromPosterior_IntervalOrdering(t *testing.T) {
	store, err := dataset.NewStore(triangleRecords())
	require.NoError(t, err)
	g, err := evgraph.Build(store)
	require.NoError(t, err)
	tree, err := g.SpanningTree()
	require.NoError(t, err)

	// Spread the draws so the interval has real width.
	chains := make([][]mcmc.Sample, 2)
	for c := range chains {
		chains[c] = make([]mcmc.Sample, 200)
		for i := range chains[c] {
			jitter := 0.005 * float64(i-100)
			chains[c][i] = mcmc.Sample{
				Chain:      c,
				Iteration:  i,
				Basis:      []float64{0.3 + jitter, 0.7 - jitter},
				TauSquared: 0.01,
				Deviance:   4,
			}
		}
	}
	set, err := mcmc.NewSampleSet(tree.BasisNames(), chains)
	require.NoError(t, err)

	table, err := leagueFromPosterior(set, tree, "")
	require.NoError(t, err)

	for _, a := range table.Treatments() {
		for _, b := range table.Treatments() {
			if a == b {
				continue
			}
			cell, err := table.Cell(a, b)
			require.NoError(t, err)
			assert.LessOrEqual(t, cell.Lower, cell.Point, "%s vs %s", a, b)
			assert.LessOrEqual(t, cell.Point, cell.Upper, "%s vs %s", a, b)
			assert.Greater(t, cell.Lower, 0.0)
		}
	}
}
