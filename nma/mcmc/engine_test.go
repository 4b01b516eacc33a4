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
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallOptions() Options {
	return Options{Chains: 2, Warmup: 200, Samples: 300, Seed: 42}
}

func TestRun_OptionValidation(t *testing.T) {
	m := testModel(t, Consistency)

	_, err := Run(context.Background(), m, Options{Chains: 1, Warmup: 10, Samples: 10})
	assert.ErrorIs(t, err, ErrTooFewChains)

	_, err = Run(context.Background(), m, Options{Chains: 2, Warmup: 0, Samples: 10})
	assert.ErrorIs(t, err, ErrNoIterations)
}

func TestRun_SampleSetShape(t *testing.T) {
	m := testModel(t, Consistency)

	set, err := Run(context.Background(), m, smallOptions())
	require.NoError(t, err)

	assert.Equal(t, 2, set.NumChains())
	assert.Equal(t, 300, set.PerChain())
	assert.Equal(t, 600, set.Len())
	assert.Equal(t, m.BasisNames(), set.BasisNames())

	// Ordered by chain, then iteration; chain identity retained.
	for c := 0; c < set.NumChains(); c++ {
		for i, draw := range set.Chain(c) {
			require.Equal(t, c, draw.Chain)
			require.Equal(t, i, draw.Iteration)
			require.Greater(t, draw.TauSquared, 0.0)
			require.False(t, math.IsNaN(draw.Deviance))
			require.Len(t, draw.Basis, m.NumBasis())
		}
	}
}

func TestRun_Reproducible(t *testing.T) {
	m := testModel(t, Consistency)

	a, err := Run(context.Background(), m, smallOptions())
	require.NoError(t, err)
	b, err := Run(context.Background(), m, smallOptions())
	require.NoError(t, err)

	require.Equal(t, a.Len(), b.Len())
	for i := range a.Samples() {
		assert.Equal(t, a.Samples()[i], b.Samples()[i],
			"equal seeds and options must reproduce the run exactly")
	}
}

func TestRun_SeedChangesDraws(t *testing.T) {
	m := testModel(t, Consistency)

	a, err := Run(context.Background(), m, smallOptions())
	require.NoError(t, err)

	opts := smallOptions()
	opts.Seed = 43
	b, err := Run(context.Background(), m, opts)
	require.NoError(t, err)

	assert.NotEqual(t, a.Samples()[a.Len()-1].Basis, b.Samples()[b.Len()-1].Basis)
}

func TestRun_Cancellation(t *testing.T) {
	m := testModel(t, Consistency)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	set, err := Run(ctx, m, Options{Chains: 2, Warmup: 5000, Samples: 5000, Seed: 1})
	require.Error(t, err)
	assert.Nil(t, set, "aborted runs must not return partial samples")
}

func TestRun_InconsistencyModel(t *testing.T) {
	m := testModel(t, Inconsistency)

	set, err := Run(context.Background(), m, smallOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, len(set.BasisNames()), "one unrelated mean per observed edge")
	assert.False(t, math.IsNaN(set.DIC()))
}

func TestSampleSet_Series(t *testing.T) {
	m := testModel(t, Consistency)
	set, err := Run(context.Background(), m, smallOptions())
	require.NoError(t, err)

	t.Run("tau2 series", func(t *testing.T) {
		series, err := set.Series(TauParameter)
		require.NoError(t, err)
		require.Len(t, series, 2)
		assert.Len(t, series[0], 300)
	})

	t.Run("basis series", func(t *testing.T) {
		series, err := set.Series(set.BasisNames()[0])
		require.NoError(t, err)
		assert.Len(t, series, 2)
	})

	t.Run("unknown parameter", func(t *testing.T) {
		_, err := set.Series("nope")
		assert.ErrorIs(t, err, ErrUnknownParameter)
	})
}

func TestSampleSet_DIC(t *testing.T) {
	m := testModel(t, Consistency)
	set, err := Run(context.Background(), m, smallOptions())
	require.NoError(t, err)

	dic := set.DIC()
	assert.False(t, math.IsNaN(dic))
	assert.Greater(t, dic, 0.0, "residual deviance is non-negative, so DIC must be positive")
}
