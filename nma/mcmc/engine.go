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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/netmeta/pkg/logging"
)

// seedStride separates per-chain RNG streams. Chains must be independent,
// so each gets its own source at seed + chain*seedStride.
const seedStride = 0x9E3779B97F4A7C15

// Options configures a sampling run.
type Options struct {
	// Chains is the number of independent chains. Minimum 2; default 4.
	Chains int

	// Warmup is the number of discarded adaptation iterations per chain.
	Warmup int

	// Samples is the number of retained iterations per chain.
	Samples int

	// Seed seeds the per-chain RNG streams. Runs with equal seeds and
	// options are reproducible; there is no process-global RNG state.
	Seed uint64

	// Logger receives run progress. Nil means logging.Default().
	Logger *slog.Logger
}

// DefaultOptions returns sensible defaults: 4 chains, 2000 warmup and
// 5000 sampling iterations.
func DefaultOptions() Options {
	return Options{
		Chains:  4,
		Warmup:  2000,
		Samples: 5000,
		Seed:    1,
	}
}

// Run samples the posterior with independent parallel chains.
//
// Description:
//
//	Each chain is an embarrassingly parallel unit sharing only the
//	read-only Model. Chains run under an errgroup and are joined before
//	the SampleSet is assembled, so diagnostics always see every chain.
//	A chain that diverges or is cancelled fails the whole run; partial
//	chains are discarded wholesale, never returned.
//
// Inputs:
//   - ctx: Context for cancellation/timeout. Must not be nil.
//   - m: Shared read-only model.
//   - opts: Run options; zero-value fields are invalid (use
//     DefaultOptions as a base).
//
// Outputs:
//   - *SampleSet: Joined draws, ordered by chain then iteration.
//   - error: ErrTooFewChains, ErrNoIterations, ctx errors, or
//     *NonConvergentChainError naming the failed chain.
func Run(ctx context.Context, m *Model, opts Options) (*SampleSet, error) {
	if opts.Chains < 2 {
		return nil, ErrTooFewChains
	}
	if opts.Warmup <= 0 || opts.Samples <= 0 {
		return nil, ErrNoIterations
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	ctx, span := tracer.Start(ctx, "mcmc.Run",
		trace.WithAttributes(
			attribute.String("model", m.Kind().String()),
			attribute.Int("chains", opts.Chains),
			attribute.Int("warmup", opts.Warmup),
			attribute.Int("samples", opts.Samples),
		),
	)
	defer span.End()

	if err := initMetrics(); err != nil {
		logger.Warn("metrics init failed", "error", err)
	}

	logger.Info("starting sampling run",
		"model", m.Kind().String(),
		"link", m.Link().String(),
		"chains", opts.Chains,
		"basis_parameters", m.NumBasis(),
		"studies", m.NumStudies())

	start := time.Now()
	perChain := make([][]Sample, opts.Chains)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Chains; i++ {
		i := i
		g.Go(func() error {
			chainStart := time.Now()
			ch := newChain(m, i, opts.Seed+uint64(i)*seedStride, opts.Warmup, opts.Samples)
			draws, err := ch.run(gctx)
			if err != nil {
				return err
			}
			perChain[i] = draws
			attrs := metric.WithAttributes(
				attribute.String("model", m.Kind().String()),
				attribute.Int("chain", i),
			)
			if chainLatency != nil {
				chainLatency.Record(gctx, time.Since(chainStart).Seconds(), attrs)
			}
			if iterationsRun != nil {
				iterationsRun.Add(gctx, int64(opts.Warmup+opts.Samples), attrs)
			}
			logger.Debug("chain finished",
				"chain", i, "duration", time.Since(chainStart))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("sampling run failed", "error", err)
		return nil, err
	}

	if runLatency != nil {
		runLatency.Record(ctx, time.Since(start).Seconds())
	}
	if runTotal != nil {
		runTotal.Add(ctx, 1)
	}

	set := newSampleSet(m.BasisNames(), perChain)
	logger.Info("sampling run complete",
		"model", m.Kind().String(),
		"draws", set.Len(),
		"duration", time.Since(start))
	return set, nil
}
