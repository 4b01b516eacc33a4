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
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/netmeta/nma/evgraph"
	"github.com/AleutianAI/netmeta/nma/gls"
	"github.com/AleutianAI/netmeta/nma/mcmc"
)

// confidenceLevel is the two-sided interval coverage of league tables.
const confidenceLevel = 0.95

// Interval is one league-table cell on the odds ratio scale.
type Interval struct {
	// Lower is the lower 95% bound.
	Lower float64

	// Point is the point estimate.
	Point float64

	// Upper is the upper 95% bound.
	Upper float64
}

// LeagueTable is the all-pairs odds ratio table.
//
// Cell (a, b) is the odds ratio of a versus b: the diagonal is exactly 1,
// and Cell(b, a) mirrors Cell(a, b) reciprocally. Cell values depend only
// on the pair, never on row ordering; the reference treatment merely leads
// the display order.
//
// Thread Safety: read-only after construction; safe for concurrent use.
type LeagueTable struct {
	treatments []string
	index      map[string]int
	cells      [][]Interval
}

// Treatments returns the display ordering: the reference treatment first,
// remaining treatments ascending.
func (t *LeagueTable) Treatments() []string {
	out := make([]string, len(t.treatments))
	copy(out, t.treatments)
	return out
}

// Cell returns the odds ratio interval of a versus b.
func (t *LeagueTable) Cell(a, b string) (Interval, error) {
	ia, ok := t.index[a]
	if !ok {
		return Interval{}, evgraph.ErrUnknownTreatment
	}
	ib, ok := t.index[b]
	if !ok {
		return Interval{}, evgraph.ErrUnknownTreatment
	}
	return t.cells[ia][ib], nil
}

// orderTreatments moves the reference to the front of an ascending list.
// An empty or unknown reference leaves the ascending order untouched.
func orderTreatments(treatments []string, reference string) []string {
	out := make([]string, len(treatments))
	copy(out, treatments)
	sort.Strings(out)
	for i, t := range out {
		if t == reference && i > 0 {
			copy(out[1:i+1], out[:i])
			out[0] = reference
			break
		}
	}
	return out
}

func newLeagueTable(treatments []string) *LeagueTable {
	n := len(treatments)
	index := make(map[string]int, n)
	for i, t := range treatments {
		index[t] = i
	}
	cells := make([][]Interval, n)
	for i := range cells {
		cells[i] = make([]Interval, n)
		cells[i][i] = Interval{Lower: 1, Point: 1, Upper: 1}
	}
	return &LeagueTable{treatments: treatments, index: index, cells: cells}
}

// leagueFromFit builds the frequentist league table: point estimates are
// exponentiated solver effects and bounds use normal quantiles on the log
// scale before exponentiation.
func leagueFromFit(fit *gls.Fit, reference string) (*LeagueTable, error) {
	table := newLeagueTable(orderTreatments(fit.Treatments(), reference))
	z := distuv.UnitNormal.Quantile(0.5 + confidenceLevel/2)

	for i, a := range table.treatments {
		for j, b := range table.treatments {
			if i == j {
				continue
			}
			eff, err := fit.Effect(a, b)
			if err != nil {
				return nil, err
			}
			se, err := fit.SE(a, b)
			if err != nil {
				return nil, err
			}
			table.cells[i][j] = Interval{
				Lower: math.Exp(eff - z*se),
				Point: math.Exp(eff),
				Upper: math.Exp(eff + z*se),
			}
		}
	}
	return table, nil
}

// leagueFromPosterior builds the Bayesian league table: every draw's basis
// vector is expanded along the spanning tree, and each cell takes the
// posterior mean and equal-tailed percentiles of the pairwise difference,
// exponentiated.
func leagueFromPosterior(set *mcmc.SampleSet, tree *evgraph.Tree, reference string) (*LeagueTable, error) {
	nodes := tree.Treatments()
	nodeIndex := make(map[string]int, len(nodes))
	for i, t := range nodes {
		nodeIndex[t] = i
	}

	// Expand each draw once; pairwise cells then reuse the effect matrix.
	draws := set.Samples()
	effects := make([][]float64, len(draws))
	for i, d := range draws {
		effects[i] = make([]float64, len(nodes))
		tree.Expand(d.Basis, effects[i])
	}

	table := newLeagueTable(orderTreatments(nodes, reference))
	lowerQ := (1 - confidenceLevel) / 2
	upperQ := 1 - lowerQ

	diffs := make([]float64, len(draws))
	for i, a := range table.treatments {
		for j, b := range table.treatments {
			if i >= j {
				continue
			}
			na, nb := nodeIndex[a], nodeIndex[b]
			sum := 0.0
			for k := range effects {
				diffs[k] = effects[k][na] - effects[k][nb]
				sum += diffs[k]
			}
			sort.Float64s(diffs)
			mean := sum / float64(len(diffs))
			lo := stat.Quantile(lowerQ, stat.Empirical, diffs, nil)
			hi := stat.Quantile(upperQ, stat.Empirical, diffs, nil)

			table.cells[i][j] = Interval{
				Lower: math.Exp(lo),
				Point: math.Exp(mean),
				Upper: math.Exp(hi),
			}
			table.cells[j][i] = Interval{
				Lower: math.Exp(-hi),
				Point: math.Exp(-mean),
				Upper: math.Exp(-lo),
			}
		}
	}
	return table, nil
}
