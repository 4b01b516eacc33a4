// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcmc

import (
	"errors"

	"gonum.org/v1/gonum/stat"
)

// TauParameter is the monitored name of the heterogeneity variance.
const TauParameter = "tau2"

// Sample is one retained posterior draw from one chain.
type Sample struct {
	// Chain is the zero-based chain index.
	Chain int

	// Iteration is the zero-based sampling iteration within the chain
	// (warmup draws are discarded and never numbered).
	Iteration int

	// Basis holds the basis relative effects, in model basis order.
	Basis []float64

	// TauSquared is the heterogeneity variance draw.
	TauSquared float64

	// Deviance is the residual deviance at this draw.
	Deviance float64
}

// SampleSet is the joined posterior output of all chains.
//
// Samples are ordered by chain, then iteration; chain identity is retained
// because convergence diagnostics depend on it.
//
// Thread Safety: read-only after Run; safe for concurrent use.
type SampleSet struct {
	basisNames []string
	numChains  int
	perChain   int
	samples    []Sample
}

// NewSampleSet joins per-chain draws into a set.
//
// Exposed for synthetic-posterior construction in diagnostics and ranking
// consumers; engine runs assemble their sets internally. Chains must be
// complete and of equal length; partial chains are never joined.
func NewSampleSet(basisNames []string, chains [][]Sample) (*SampleSet, error) {
	if len(chains) == 0 {
		return nil, ErrTooFewChains
	}
	for _, c := range chains[1:] {
		if len(c) != len(chains[0]) {
			return nil, errors.New("chains must have equal length")
		}
	}
	return newSampleSet(basisNames, chains), nil
}

// newSampleSet joins per-chain draws. Chains must all have equal length.
func newSampleSet(basisNames []string, chains [][]Sample) *SampleSet {
	perChain := 0
	if len(chains) > 0 {
		perChain = len(chains[0])
	}
	set := &SampleSet{
		basisNames: basisNames,
		numChains:  len(chains),
		perChain:   perChain,
		samples:    make([]Sample, 0, len(chains)*perChain),
	}
	for _, c := range chains {
		set.samples = append(set.samples, c...)
	}
	return set
}

// NumChains returns the number of chains.
func (s *SampleSet) NumChains() int { return s.numChains }

// Len returns the total number of retained draws.
func (s *SampleSet) Len() int { return len(s.samples) }

// PerChain returns the number of retained draws per chain.
func (s *SampleSet) PerChain() int { return s.perChain }

// BasisNames returns the basis parameter labels.
func (s *SampleSet) BasisNames() []string {
	out := make([]string, len(s.basisNames))
	copy(out, s.basisNames)
	return out
}

// ParameterNames returns all monitored scalar parameters: the basis
// effects followed by TauParameter.
func (s *SampleSet) ParameterNames() []string {
	return append(s.BasisNames(), TauParameter)
}

// Samples returns the draws ordered by chain then iteration. The returned
// slice is shared; callers must not mutate it.
func (s *SampleSet) Samples() []Sample { return s.samples }

// Chain returns the draws of one chain in iteration order. The returned
// slice is shared; callers must not mutate it.
func (s *SampleSet) Chain(c int) []Sample {
	return s.samples[c*s.perChain : (c+1)*s.perChain]
}

// Series extracts one monitored parameter as per-chain ordered series,
// suitable for trace plotting and Gelman-Rubin computation.
func (s *SampleSet) Series(name string) ([][]float64, error) {
	extract, err := s.extractor(name)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, s.numChains)
	for c := 0; c < s.numChains; c++ {
		chain := s.Chain(c)
		series := make([]float64, len(chain))
		for i, draw := range chain {
			series[i] = extract(draw)
		}
		out[c] = series
	}
	return out, nil
}

func (s *SampleSet) extractor(name string) (func(Sample) float64, error) {
	if name == TauParameter {
		return func(d Sample) float64 { return d.TauSquared }, nil
	}
	for i, b := range s.basisNames {
		if b == name {
			idx := i
			return func(d Sample) float64 { return d.Basis[idx] }, nil
		}
	}
	return nil, ErrUnknownParameter
}

// DIC returns the deviance information criterion of the sampled model:
// mean deviance plus half the posterior variance of the deviance. Lower
// favors better fit; comparing the consistency and inconsistency models'
// DICs is the caller's judgement call, never automated here.
func (s *SampleSet) DIC() float64 {
	dev := make([]float64, len(s.samples))
	for i, d := range s.samples {
		dev[i] = d.Deviance
	}
	return stat.Mean(dev, nil) + 0.5*stat.Variance(dev, nil)
}
