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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/netmeta/nma/bias"
	"github.com/AleutianAI/netmeta/nma/contrast"
	"github.com/AleutianAI/netmeta/nma/dataset"
	"github.com/AleutianAI/netmeta/nma/diag"
	"github.com/AleutianAI/netmeta/nma/evgraph"
	"github.com/AleutianAI/netmeta/nma/gls"
	"github.com/AleutianAI/netmeta/nma/mcmc"
	"github.com/AleutianAI/netmeta/nma/ranking"
)

var tracer = otel.Tracer("netmeta.analysis")

// NodeSummary describes one treatment node of the evidence network.
type NodeSummary struct {
	// Treatment is the treatment identifier.
	Treatment string

	// SampleSize is the total randomized sample size across all arms.
	SampleSize int

	// Degree is the number of distinct direct comparators.
	Degree int
}

// GraphSummary describes the evidence network for presentation.
type GraphSummary struct {
	// Nodes lists the treatments in ascending order.
	Nodes []NodeSummary

	// Edges lists the direct comparisons with their study counts.
	Edges []evgraph.Edge

	// Studies is the number of studies contributing evidence.
	Studies int
}

// Result is the complete output of one analysis run.
//
// When Run returns a non-nil error alongside a non-nil Result, only the
// fields noted on Run are populated; everything else is nil.
type Result struct {
	// RunID uniquely identifies this run in logs and traces.
	RunID string

	// Reference is the resolved reference treatment.
	Reference string

	// Graph summarizes the evidence network.
	Graph *GraphSummary

	// Frequentist holds the fixed and random-effects solver fits with the
	// heterogeneity statistics.
	Frequentist *gls.Result

	// Consistency is the consistency-model posterior.
	Consistency *mcmc.SampleSet

	// Inconsistency is the unrelated-mean-effects posterior, fitted to
	// probe the consistency assumption.
	Inconsistency *mcmc.SampleSet

	// ConsistencyDIC and InconsistencyDIC are the two models' deviance
	// information criteria. Judging the gap is left to the analyst.
	ConsistencyDIC   float64
	InconsistencyDIC float64

	// Diagnostics holds per-parameter R-hat for the consistency model.
	Diagnostics *diag.Report

	// Ranks is the rank-probability matrix from the consistency posterior.
	Ranks *ranking.RankMatrix

	// SUCRA maps each treatment to its SUCRA score.
	SUCRA map[string]float64

	// LeagueFrequentist and LeagueBayesian are the all-pairs odds ratio
	// tables of the random-effects fit and the consistency posterior.
	LeagueFrequentist *LeagueTable
	LeagueBayesian    *LeagueTable

	// Bias is the funnel asymmetry test on the random-effects comparisons
	// versus the reference. Nil when BiasErr is set.
	Bias *bias.Result

	// BiasErr records a failed bias test. The test is advisory: too few
	// comparisons leaves every other field valid.
	BiasErr error
}

// Run executes a full network meta-analysis.
//
// Description:
//
//	Validates and stores the arm records, builds the evidence graph,
//	derives contrasts, then fits the frequentist solver and both Bayesian
//	models, followed by convergence diagnostics, ranking, league tables
//	and the bias test. The run is self-contained: seed, logger and
//	policies all come from the Config, so concurrent runs never share
//	state.
//
//	A failed sampling run does not discard the frequentist half: on an
//	MCMC error the returned Result still carries RunID, Reference, Graph,
//	Frequentist and LeagueFrequentist, alongside the error. A failed bias
//	test is advisory only and is recorded in Result.BiasErr without
//	failing the run. Every other failure returns a nil Result.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil. A Config.Timeout,
//     when set, bounds the whole run.
//   - records: Arm-level evidence rows.
//   - cfg: Run configuration; start from DefaultConfig.
//
// Outputs:
//   - *Result: See above for partial-result semantics.
//   - error: Validation, connectivity, solver, or sampling failures.
func Run(ctx context.Context, records []dataset.ArmRecord, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	link, err := cfg.link()
	if err != nil {
		return nil, err
	}
	logger := cfg.logger()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Timeout))
		defer cancel()
	}

	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	ctx, span := tracer.Start(ctx, "nma.Run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.Int("records", len(records)),
		),
	)
	defer span.End()

	fail := func(err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("analysis run failed", "error", err)
		return nil, err
	}

	start := time.Now()
	logger.Info("starting analysis run", "records", len(records))

	store, err := dataset.NewStore(records)
	if err != nil {
		return fail(err)
	}
	if cfg.policy() == contrast.PolicySkip {
		store, err = dropDegenerateStudies(store, logger)
		if err != nil {
			return fail(err)
		}
	}
	g, err := evgraph.Build(store)
	if err != nil {
		return fail(err)
	}
	if err := g.RequireConnected(); err != nil {
		return fail(err)
	}

	reference, err := resolveReference(g, cfg.ReferenceTreatment)
	if err != nil {
		return fail(err)
	}

	res := &Result{
		RunID:     runID,
		Reference: reference,
		Graph:     summarize(store, g),
	}
	logger.Info("evidence network built",
		"treatments", len(res.Graph.Nodes),
		"edges", len(res.Graph.Edges),
		"studies", res.Graph.Studies,
		"reference", reference)

	_, pairs, err := contrast.Transform(store, cfg.policy(), logger)
	if err != nil {
		return fail(err)
	}

	res.Frequentist, err = gls.Solve(g, pairs)
	if err != nil {
		return fail(err)
	}
	res.LeagueFrequentist, err = leagueFromFit(res.Frequentist.Random, reference)
	if err != nil {
		return fail(err)
	}
	logger.Info("frequentist fit complete",
		"q", res.Frequentist.Q,
		"df", res.Frequentist.DF,
		"tau2", res.Frequentist.Random.TauSquared)

	opts := mcmc.Options{
		Chains:  cfg.Chains,
		Warmup:  cfg.WarmupIterations,
		Samples: cfg.SamplingIterations,
		Seed:    cfg.Seed,
		Logger:  logger,
	}

	consModel, err := mcmc.NewModel(store, g, mcmc.Consistency, link)
	if err != nil {
		return fail(err)
	}
	res.Consistency, err = mcmc.Run(ctx, consModel, opts)
	if err != nil {
		// The frequentist half stands on its own.
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("consistency sampling failed; returning frequentist results only", "error", err)
		return res, err
	}
	res.ConsistencyDIC = res.Consistency.DIC()

	incModel, err := mcmc.NewModel(store, g, mcmc.Inconsistency, link)
	if err != nil {
		return fail(err)
	}
	incOpts := opts
	incOpts.Seed = cfg.Seed + 1
	res.Inconsistency, err = mcmc.Run(ctx, incModel, incOpts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("inconsistency sampling failed; returning frequentist results only", "error", err)
		res.Consistency = nil
		res.ConsistencyDIC = 0
		return res, err
	}
	res.InconsistencyDIC = res.Inconsistency.DIC()
	logger.Info("sampling complete",
		"consistency_dic", res.ConsistencyDIC,
		"inconsistency_dic", res.InconsistencyDIC)

	res.Diagnostics, err = diag.GelmanRubin(res.Consistency)
	if err != nil {
		return fail(err)
	}
	if flagged := res.Diagnostics.Flagged(diag.ConvergenceThreshold); len(flagged) > 0 {
		logger.Warn("convergence diagnostics flagged parameters", "parameters", flagged)
	}

	res.Ranks, err = ranking.Compute(ctx, res.Consistency, consModel.Tree(), cfg.PreferredDirection, cfg.Workers)
	if err != nil {
		return fail(err)
	}
	res.SUCRA = sucraByTreatment(res.Ranks)

	res.LeagueBayesian, err = leagueFromPosterior(res.Consistency, consModel.Tree(), reference)
	if err != nil {
		return fail(err)
	}

	comparisons, err := res.Frequentist.Random.Comparisons(reference)
	if err != nil {
		return fail(err)
	}
	res.Bias, res.BiasErr = runBiasTest(comparisons)
	if res.BiasErr != nil {
		logger.Warn("bias test unavailable", "error", res.BiasErr)
	}

	logger.Info("analysis run complete", "duration", time.Since(start))
	return res, nil
}

// dropDegenerateStudies rebuilds the store without single-arm studies, so
// the sampler and the graph agree with the contrast transformer on what
// evidence is in play. Returns the original store untouched when nothing
// is degenerate.
func dropDegenerateStudies(store *dataset.Store, logger *slog.Logger) (*dataset.Store, error) {
	var kept []dataset.ArmRecord
	dropped := 0
	for _, study := range store.Studies() {
		if len(study.Arms) < 2 {
			logger.Warn("skipping degenerate study", "study", study.ID, "arms", len(study.Arms))
			dropped++
			continue
		}
		kept = append(kept, study.Arms...)
	}
	if dropped == 0 {
		return store, nil
	}
	return dataset.NewStore(kept)
}

// resolveReference validates the configured reference or defaults to the
// first treatment in ascending order.
func resolveReference(g *evgraph.Graph, configured string) (string, error) {
	nodes := g.Nodes()
	if configured == "" {
		return nodes[0], nil
	}
	if _, err := g.Index(configured); err != nil {
		return "", fmt.Errorf("reference treatment %q: %w", configured, err)
	}
	return configured, nil
}

// summarize captures the network shape for presentation.
func summarize(store *dataset.Store, g *evgraph.Graph) *GraphSummary {
	nodes := g.Nodes()
	summary := &GraphSummary{
		Nodes:   make([]NodeSummary, len(nodes)),
		Edges:   g.Edges(),
		Studies: store.NumStudies(),
	}
	for i, t := range nodes {
		degree, _ := g.Degree(t)
		summary.Nodes[i] = NodeSummary{
			Treatment:  t,
			SampleSize: store.TotalSampleSize(t),
			Degree:     degree,
		}
	}
	return summary
}

// sucraByTreatment keys SUCRA scores by treatment identifier.
func sucraByTreatment(m *ranking.RankMatrix) map[string]float64 {
	treatments := m.Treatments()
	scores := m.SUCRA()
	out := make(map[string]float64, len(treatments))
	for i, t := range treatments {
		out[t] = scores[i]
	}
	return out
}

// runBiasTest maps solver comparisons onto the bias package's input and
// runs the funnel asymmetry regression. Comparisons arrive in ascending
// treatment order already; that order is echoed for display.
func runBiasTest(comparisons []gls.Comparison) (*bias.Result, error) {
	in := make([]bias.Comparison, len(comparisons))
	ordering := make([]string, len(comparisons))
	for i, c := range comparisons {
		in[i] = bias.Comparison{Treatment: c.Treatment, Effect: c.Effect, SE: c.SE}
		ordering[i] = c.Treatment
	}
	return bias.Egger(in, ordering)
}
