// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ranking derives treatment rankings and SUCRA scores from
// consistency-model posterior draws.
package ranking

import (
	"context"
	"errors"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/AleutianAI/netmeta/nma/evgraph"
	"github.com/AleutianAI/netmeta/nma/mcmc"
)

// Preferred directions for ranking.
const (
	// LargerIsBetter ranks higher effects first (+1).
	LargerIsBetter = 1

	// SmallerIsBetter ranks lower effects first (-1).
	SmallerIsBetter = -1
)

// Sentinel errors for ranking.
var (
	// ErrInvalidDirection is returned for directions other than +1/-1.
	ErrInvalidDirection = errors.New("preferred direction must be +1 or -1")

	// ErrEmptySampleSet is returned when no draws are available.
	ErrEmptySampleSet = errors.New("sample set has no draws")
)

// maxWorkers caps the counting fan-out; the loop is memory-bound and does
// not benefit from excessive parallelism.
const maxWorkers = 8

// RankMatrix is the treatments x rank-positions probability matrix.
//
// Row t gives the probability of treatment t occupying each rank, rank 0
// being best under the chosen direction. Rows are row-stochastic: each
// sums to 1 over ranks.
//
// Thread Safety: read-only after Compute; safe for concurrent use.
type RankMatrix struct {
	treatments []string
	index      map[string]int
	probs      [][]float64
	draws      int
}

// Compute accumulates the rank matrix over every posterior draw.
//
// Description:
//
//	Each draw's basis vector is expanded along the spanning tree to
//	per-treatment effects, treatments are ordered by effect in the
//	preferred direction (ties keep ascending treatment order, immaterial
//	for continuous posteriors), and rank counts accumulate. Draws are
//	split into per-worker chunks with private count matrices merged by
//	summation at the end; the hot counting loop takes no locks.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - set: Consistency-model posterior draws.
//   - tree: The model's spanning tree (basis expansion).
//   - direction: LargerIsBetter or SmallerIsBetter.
//   - workers: Chunk parallelism. Zero or negative means NumCPU, capped
//     at 8.
//
// Outputs:
//   - *RankMatrix: Row-stochastic rank probabilities. Nil on error.
//   - error: ErrInvalidDirection, ErrEmptySampleSet, or ctx errors.
func Compute(ctx context.Context, set *mcmc.SampleSet, tree *evgraph.Tree, direction, workers int) (*RankMatrix, error) {
	if direction != LargerIsBetter && direction != SmallerIsBetter {
		return nil, ErrInvalidDirection
	}
	if set.Len() == 0 {
		return nil, ErrEmptySampleSet
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}

	treatments := tree.Treatments()
	nT := len(treatments)
	draws := set.Samples()
	if workers > len(draws) {
		workers = 1
	}

	partials := make([][][]float64, workers)
	chunk := (len(draws) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(draws) {
			hi = len(draws)
		}
		if lo >= hi {
			partials[w] = newCounts(nT)
			continue
		}
		w := w
		g.Go(func() error {
			counts := newCounts(nT)
			effects := make([]float64, nT)
			order := make([]int, nT)

			for i := lo; i < hi; i++ {
				if i%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				tree.Expand(draws[i].Basis, effects)
				for j := range order {
					order[j] = j
				}
				sort.SliceStable(order, func(a, b int) bool {
					return float64(direction)*effects[order[a]] > float64(direction)*effects[order[b]]
				})
				for rank, node := range order {
					counts[node][rank]++
				}
			}
			partials[w] = counts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge partial matrices by summation, then normalize rows.
	total := newCounts(nT)
	for _, p := range partials {
		for t := range p {
			floats.Add(total[t], p[t])
		}
	}
	n := float64(len(draws))
	for t := range total {
		floats.Scale(1/n, total[t])
	}

	index := make(map[string]int, nT)
	for i, t := range treatments {
		index[t] = i
	}
	return &RankMatrix{
		treatments: treatments,
		index:      index,
		probs:      total,
		draws:      len(draws),
	}, nil
}

func newCounts(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	return out
}

// Treatments returns the treatment identifiers in row order.
func (m *RankMatrix) Treatments() []string {
	out := make([]string, len(m.treatments))
	copy(out, m.treatments)
	return out
}

// Draws returns the number of posterior draws counted.
func (m *RankMatrix) Draws() int { return m.draws }

// Probability returns P(treatment occupies rank), rank 0 being best.
func (m *RankMatrix) Probability(treatment string, rank int) (float64, error) {
	i, ok := m.index[treatment]
	if !ok {
		return 0, evgraph.ErrUnknownTreatment
	}
	return m.probs[i][rank], nil
}

// Row returns a copy of one treatment's rank-probability row.
func (m *RankMatrix) Row(treatment string) ([]float64, error) {
	i, ok := m.index[treatment]
	if !ok {
		return nil, evgraph.ErrUnknownTreatment
	}
	out := make([]float64, len(m.probs[i]))
	copy(out, m.probs[i])
	return out, nil
}

// SUCRA integrates the rank matrix into per-treatment scores, aligned
// with Treatments().
//
// SUCRA(t) = (1/(T-1)) * sum over r=1..T-1 of P(t ranks among the best r):
// the normalized area under the cumulative ranking curve. 1 means
// certainly best, 0 certainly worst. Deterministic given the matrix; it is
// never stored apart from it.
func (m *RankMatrix) SUCRA() []float64 {
	nT := len(m.treatments)
	out := make([]float64, nT)
	if nT == 1 {
		out[0] = 1
		return out
	}

	cum := make([]float64, nT)
	for t := range m.probs {
		floats.CumSum(cum, m.probs[t])
		sum := 0.0
		for r := 0; r < nT-1; r++ {
			sum += cum[r]
		}
		out[t] = sum / float64(nT-1)
	}
	return out
}
