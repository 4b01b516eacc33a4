// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bias tests funnel-plot asymmetry for small-study effects.
package bias

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MinComparisons is the smallest comparison count the regression accepts.
// Below three points an asymmetry regression carries no information.
const MinComparisons = 3

// InsufficientComparisonsError reports too few comparisons for the test.
//
// The bias test failing this way never invalidates the rest of a run's
// outputs; it simply has nothing to say.
type InsufficientComparisonsError struct {
	// Got is the number of comparisons supplied.
	Got int
}

// Error implements the error interface.
func (e *InsufficientComparisonsError) Error() string {
	return fmt.Sprintf("funnel asymmetry test needs at least %d comparisons, got %d",
		MinComparisons, e.Got)
}

// Comparison is one effect estimate against the reference treatment.
type Comparison struct {
	// Treatment labels the comparison for display.
	Treatment string

	// Effect is the estimated effect versus the reference.
	Effect float64

	// SE is the standard error of Effect. Must be positive.
	SE float64
}

// Result holds the Egger regression outcome.
type Result struct {
	// Intercept is the regression intercept: the asymmetry estimate.
	// Zero means a symmetric funnel.
	Intercept float64

	// SE is the standard error of Intercept.
	SE float64

	// PValue is the two-sided p-value of Intercept under a Student-t
	// null with k-2 degrees of freedom.
	PValue float64

	// Slope is the fitted precision coefficient, reported for funnel
	// plot overlays.
	Slope float64

	// Ordering echoes the caller-supplied display ordering.
	Ordering []string
}

// Egger runs the funnel asymmetry regression.
//
// Description:
//
//	Regresses the standardized effect (effect/SE) on precision (1/SE) by
//	ordinary least squares; a nonzero intercept indicates small-study
//	asymmetry. The supplied treatment ordering affects display only: the
//	regression is a set-level statistic and its result is invariant to
//	any permutation of the comparisons.
//
// Inputs:
//   - comparisons: Effects and SEs versus a common reference. At least
//     MinComparisons entries with positive SEs.
//   - ordering: Display ordering for downstream tables. May be nil, in
//     which case ascending treatment order is used.
//
// Outputs:
//   - *Result: Intercept, its SE and p-value. Nil on error.
//   - error: *InsufficientComparisonsError or a positivity violation.
func Egger(comparisons []Comparison, ordering []string) (*Result, error) {
	if len(comparisons) < MinComparisons {
		return nil, &InsufficientComparisonsError{Got: len(comparisons)}
	}

	precision := make([]float64, len(comparisons))
	standardized := make([]float64, len(comparisons))
	for i, c := range comparisons {
		if c.SE <= 0 {
			return nil, fmt.Errorf("comparison %s has non-positive standard error %v", c.Treatment, c.SE)
		}
		precision[i] = 1 / c.SE
		standardized[i] = c.Effect / c.SE
	}

	intercept, slope := stat.LinearRegression(precision, standardized, nil, false)

	// Residual variance and the intercept's standard error.
	k := float64(len(comparisons))
	rss := 0.0
	for i := range precision {
		r := standardized[i] - intercept - slope*precision[i]
		rss += r * r
	}
	df := k - 2
	s2 := rss / df

	meanX := stat.Mean(precision, nil)
	sxx := 0.0
	for _, x := range precision {
		sxx += (x - meanX) * (x - meanX)
	}
	seIntercept := math.Sqrt(s2 * (1/k + meanX*meanX/sxx))

	tStat := intercept / seIntercept
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	pValue := 2 * tDist.CDF(-math.Abs(tStat))

	if ordering == nil {
		ordering = make([]string, len(comparisons))
		for i, c := range comparisons {
			ordering[i] = c.Treatment
		}
		sort.Strings(ordering)
	}
	ord := make([]string, len(ordering))
	copy(ord, ordering)

	return &Result{
		Intercept: intercept,
		SE:        seIntercept,
		PValue:    pValue,
		Slope:     slope,
		Ordering:  ord,
	}, nil
}
