// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contrast

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/netmeta/nma/dataset"
	"github.com/AleutianAI/netmeta/pkg/logging"
)

// Policy controls the handling of degenerate studies.
type Policy int

const (
	// PolicyAbort fails the whole transformation on the first degenerate
	// study. This is the default.
	PolicyAbort Policy = iota

	// PolicySkip drops degenerate studies with a warning log and
	// continues with the remaining studies.
	PolicySkip
)

// String returns the string representation of the Policy.
func (p Policy) String() string {
	switch p {
	case PolicyAbort:
		return "abort"
	case PolicySkip:
		return "skip"
	default:
		return "unknown"
	}
}

// StudyContrast holds the k-1 baseline contrasts of a k-arm study.
//
// The baseline arm is the study's lowest treatment identifier; this choice
// is deterministic for a given dataset and affects only the intermediate
// parameterization, never the consistency-model conclusions. Effects[i] is
// the log odds ratio of Arms[i] versus Baseline, and Cov captures the
// within-study correlation induced by the shared baseline arm:
// Var(d_i) = v_base + v_i and Cov(d_i, d_j) = v_base, which keeps the
// block positive semi-definite by construction.
type StudyContrast struct {
	// Study is the study identifier.
	Study string

	// Baseline is the baseline arm's treatment identifier.
	Baseline string

	// Arms lists the non-baseline treatments, ascending.
	Arms []string

	// Effects[i] is the log odds ratio of Arms[i] versus Baseline.
	Effects []float64

	// Cov is the covariance block of Effects.
	Cov *mat.SymDense
}

// PairContrast is one within-study pairwise comparison, used for per-edge
// pooling by the frequentist solver and for the bias test.
type PairContrast struct {
	// Study is the study identifier.
	Study string

	// A is the lexicographically smaller treatment.
	A string

	// B is the lexicographically larger treatment.
	B string

	// Effect is the log odds ratio of B relative to A.
	Effect float64

	// Variance is the sampling variance of Effect.
	Variance float64
}

// Transform converts every study's arm counts into contrasts.
//
// Description:
//
//	Per study: applies the standard continuity correction (when any cell
//	of the study is zero, 0.5 is added to responders and 1.0 to sample
//	size of every arm), computes arm log odds and variances, then the
//	baseline contrast block and all pairwise contrasts. Studies are
//	processed independently; iteration order follows the store's sorted
//	study order.
//
// Inputs:
//   - store: Validated record store. Must not be nil.
//   - policy: Degenerate-study handling. PolicyAbort fails fast,
//     PolicySkip warns and drops the study.
//   - logger: Destination for skip warnings. Nil means logging.Default().
//
// Outputs:
//   - []StudyContrast: Baseline contrast blocks, one per usable study.
//   - []PairContrast: All within-study pairwise contrasts.
//   - error: *DegenerateStudyError under PolicyAbort.
func Transform(store *dataset.Store, policy Policy, logger *slog.Logger) ([]StudyContrast, []PairContrast, error) {
	if logger == nil {
		logger = logging.Default()
	}

	var studyContrasts []StudyContrast
	var pairs []PairContrast

	for _, study := range store.Studies() {
		if len(study.Arms) < 2 {
			derr := &DegenerateStudyError{Study: study.ID, Arms: len(study.Arms)}
			if policy == PolicySkip {
				logger.Warn("skipping degenerate study",
					"study", study.ID, "arms", len(study.Arms))
				continue
			}
			return nil, nil, derr
		}

		logOdds, variances := armStatistics(study.Arms)

		sc := StudyContrast{
			Study:    study.ID,
			Baseline: study.Arms[0].Treatment,
			Arms:     make([]string, len(study.Arms)-1),
			Effects:  make([]float64, len(study.Arms)-1),
		}
		k := len(study.Arms) - 1
		cov := mat.NewSymDense(k, nil)
		for i := 1; i < len(study.Arms); i++ {
			sc.Arms[i-1] = study.Arms[i].Treatment
			sc.Effects[i-1] = logOdds[i] - logOdds[0]
			for j := i; j < len(study.Arms); j++ {
				if i == j {
					cov.SetSym(i-1, i-1, variances[0]+variances[i])
				} else {
					cov.SetSym(i-1, j-1, variances[0])
				}
			}
		}
		sc.Cov = cov
		studyContrasts = append(studyContrasts, sc)

		// Arms are sorted by treatment, so i < j implies A < B.
		for i := 0; i < len(study.Arms); i++ {
			for j := i + 1; j < len(study.Arms); j++ {
				pairs = append(pairs, PairContrast{
					Study:    study.ID,
					A:        study.Arms[i].Treatment,
					B:        study.Arms[j].Treatment,
					Effect:   logOdds[j] - logOdds[i],
					Variance: variances[i] + variances[j],
				})
			}
		}
	}

	return studyContrasts, pairs, nil
}

// armStatistics returns per-arm log odds and variances after the study's
// continuity correction.
func armStatistics(arms []dataset.ArmRecord) (logOdds, variances []float64) {
	needsCorrection := false
	for _, a := range arms {
		if a.Responders == 0 || a.Responders == a.SampleSize {
			needsCorrection = true
			break
		}
	}

	logOdds = make([]float64, len(arms))
	variances = make([]float64, len(arms))
	for i, a := range arms {
		r := float64(a.Responders)
		n := float64(a.SampleSize)
		if needsCorrection {
			r += 0.5
			n += 1.0
		}
		logOdds[i] = math.Log(r / (n - r))
		variances[i] = 1/r + 1/(n-r)
	}
	return logOdds, variances
}
