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
	"bytes"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/netmeta/nma/dataset"
)

func TestTransform_TwoArmStudy(t *testing.T) {
	store, err := dataset.NewStore([]dataset.ArmRecord{
		{Study: "s1", Treatment: "A", Responders: 30, SampleSize: 60},
		{Study: "s1", Treatment: "B", Responders: 25, SampleSize: 60},
	})
	require.NoError(t, err)

	scs, pairs, err := Transform(store, PolicyAbort, nil)
	require.NoError(t, err)
	require.Len(t, scs, 1)
	require.Len(t, pairs, 1)

	sc := scs[0]
	assert.Equal(t, "A", sc.Baseline, "baseline is lowest treatment id")
	assert.Equal(t, []string{"B"}, sc.Arms)

	// Hand-computed log OR of B vs A: log(25/35) - log(30/30).
	wantEffect := math.Log(25.0/35.0) - math.Log(30.0/30.0)
	assert.InDelta(t, wantEffect, sc.Effects[0], 1e-12)

	wantVar := (1.0/30 + 1.0/30) + (1.0/25 + 1.0/35)
	assert.InDelta(t, wantVar, sc.Cov.At(0, 0), 1e-12)
	assert.InDelta(t, wantVar, pairs[0].Variance, 1e-12)
	assert.InDelta(t, wantEffect, pairs[0].Effect, 1e-12)
}

func TestTransform_ContinuityCorrection(t *testing.T) {
	store, err := dataset.NewStore([]dataset.ArmRecord{
		{Study: "s1", Treatment: "A", Responders: 0, SampleSize: 20},
		{Study: "s1", Treatment: "B", Responders: 5, SampleSize: 20},
	})
	require.NoError(t, err)

	scs, _, err := Transform(store, PolicyAbort, nil)
	require.NoError(t, err)
	require.Len(t, scs, 1)

	// With +0.5/+1.0 applied to both arms: A -> 0.5/21, B -> 5.5/21.
	wantEffect := math.Log(5.5/15.5) - math.Log(0.5/20.5)
	assert.InDelta(t, wantEffect, scs[0].Effects[0], 1e-12)
	assert.False(t, math.IsInf(scs[0].Effects[0], 0), "zero cell must not produce infinity")
	assert.False(t, math.IsInf(scs[0].Cov.At(0, 0), 0))
}

func TestTransform_MultiArmCovariance(t *testing.T) {
	store, err := dataset.NewStore([]dataset.ArmRecord{
		{Study: "s1", Treatment: "A", Responders: 10, SampleSize: 40},
		{Study: "s1", Treatment: "B", Responders: 12, SampleSize: 40},
		{Study: "s1", Treatment: "C", Responders: 14, SampleSize: 40},
	})
	require.NoError(t, err)

	scs, pairs, err := Transform(store, PolicyAbort, nil)
	require.NoError(t, err)
	require.Len(t, scs, 1)
	assert.Len(t, pairs, 3, "3-arm study yields 3 pairwise contrasts")

	sc := scs[0]
	vBase := 1.0/10 + 1.0/30

	// Off-diagonal equals the baseline arm variance.
	assert.InDelta(t, vBase, sc.Cov.At(0, 1), 1e-12)
	assert.InDelta(t, sc.Cov.At(0, 1), sc.Cov.At(1, 0), 1e-15, "covariance block is symmetric")

	// Positive semi-definite: all eigenvalues >= 0.
	var eig mat.EigenSym
	require.True(t, eig.Factorize(sc.Cov, false))
	for _, ev := range eig.Values(nil) {
		assert.GreaterOrEqual(t, ev, -1e-12, "covariance block must be PSD")
	}

	// Derived pairwise B-C contrast equals difference of baseline contrasts.
	var bc PairContrast
	for _, p := range pairs {
		if p.A == "B" && p.B == "C" {
			bc = p
		}
	}
	assert.InDelta(t, sc.Effects[1]-sc.Effects[0], bc.Effect, 1e-12)
}

func TestTransform_DegenerateStudy(t *testing.T) {
	store, err := dataset.NewStore([]dataset.ArmRecord{
		{Study: "s1", Treatment: "A", Responders: 10, SampleSize: 40},
		{Study: "s1", Treatment: "B", Responders: 12, SampleSize: 40},
		{Study: "solo", Treatment: "A", Responders: 5, SampleSize: 10},
	})
	require.NoError(t, err)

	t.Run("abort policy", func(t *testing.T) {
		_, _, err := Transform(store, PolicyAbort, nil)
		require.Error(t, err)

		var derr *DegenerateStudyError
		require.True(t, errors.As(err, &derr))
		assert.Equal(t, "solo", derr.Study)
		assert.Equal(t, 1, derr.Arms)
	})

	t.Run("skip policy warns and continues", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		scs, _, err := Transform(store, PolicySkip, logger)
		require.NoError(t, err)
		assert.Len(t, scs, 1)
		assert.Contains(t, buf.String(), "solo")
	})

	t.Run("skip policy with nil logger uses the wrapper default", func(t *testing.T) {
		scs, _, err := Transform(store, PolicySkip, nil)
		require.NoError(t, err)
		assert.Len(t, scs, 1)
	})
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "abort", PolicyAbort.String())
	assert.Equal(t, "skip", PolicySkip.String())
	assert.Equal(t, "unknown", Policy(7).String())
}
