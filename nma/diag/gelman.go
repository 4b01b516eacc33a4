// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diag computes convergence diagnostics over posterior samples.
//
// Everything here is a pure function of the sample set: no state, no side
// effects, safe to call from any goroutine once sampling has joined.
package diag

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/netmeta/nma/mcmc"
)

// ConvergenceThreshold is the conventional R-hat cutoff: parameters above
// it are flagged as non-converged.
const ConvergenceThreshold = 1.1

// Sentinel errors for diagnostics.
var (
	// ErrTooFewChains is returned when fewer than two chains are present;
	// between-chain variance is undefined otherwise.
	ErrTooFewChains = errors.New("gelman-rubin requires at least 2 chains")

	// ErrShortChain is returned when a chain has fewer than two draws.
	ErrShortChain = errors.New("chains must have at least 2 draws")
)

// Report holds the potential-scale-reduction statistics of one run.
type Report struct {
	// RHat maps each monitored parameter to its R-hat.
	RHat map[string]float64
}

// Flagged returns the parameters with R-hat above the threshold, i.e. the
// ones whose chains disagree more than within-chain noise explains.
func (r *Report) Flagged(threshold float64) []string {
	var out []string
	for _, name := range sortedKeys(r.RHat) {
		if r.RHat[name] > threshold {
			out = append(out, name)
		}
	}
	return out
}

// Converged reports whether every parameter is at or below
// ConvergenceThreshold.
func (r *Report) Converged() bool {
	return len(r.Flagged(ConvergenceThreshold)) == 0
}

// GelmanRubin computes R-hat for every monitored scalar parameter.
//
// Description:
//
//	For each parameter: W is the mean within-chain variance, B/n the
//	between-chain variance of chain means, and
//	R-hat = sqrt(((n-1)/n*W + B/n) / W). Values near 1 indicate the
//	chains are sampling the same distribution; above 1.1 the parameter
//	is treated as non-converged.
//
// Inputs:
//   - set: Joined sample set with >=2 complete chains.
//
// Outputs:
//   - *Report: Per-parameter R-hat. Nil on error.
//   - error: ErrTooFewChains or ErrShortChain.
func GelmanRubin(set *mcmc.SampleSet) (*Report, error) {
	if set.NumChains() < 2 {
		return nil, ErrTooFewChains
	}
	if set.PerChain() < 2 {
		return nil, ErrShortChain
	}

	report := &Report{RHat: make(map[string]float64)}
	for _, name := range set.ParameterNames() {
		series, err := set.Series(name)
		if err != nil {
			return nil, err
		}
		report.RHat[name] = rhat(series)
	}
	return report, nil
}

// rhat computes the potential scale reduction factor from per-chain series
// of equal length.
func rhat(series [][]float64) float64 {
	m := float64(len(series))
	n := float64(len(series[0]))

	means := make([]float64, len(series))
	within := 0.0
	for i, chain := range series {
		means[i] = stat.Mean(chain, nil)
		within += stat.Variance(chain, nil)
	}
	within /= m

	// B/n is the variance of chain means.
	bOverN := stat.Variance(means, nil)

	if within == 0 {
		// Degenerate chains (identical constant draws) are converged by
		// definition.
		if bOverN == 0 {
			return 1
		}
		return math.Inf(1)
	}

	varPlus := (n-1)/n*within + bOverN
	return math.Sqrt(varPlus / within)
}

// Trace returns one parameter's per-chain ordered series for external
// trend plotting. Thin wrapper kept here so presentation collaborators
// depend on diag alone.
func Trace(set *mcmc.SampleSet, parameter string) ([][]float64, error) {
	return set.Series(parameter)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
