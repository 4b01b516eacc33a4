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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for sampling operations.
var (
	tracer = otel.Tracer("netmeta.mcmc")
	meter  = otel.Meter("netmeta.mcmc")
)

// Metrics for posterior sampling runs.
var (
	runLatency    metric.Float64Histogram
	runTotal      metric.Int64Counter
	chainLatency  metric.Float64Histogram
	iterationsRun metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runLatency, err = meter.Float64Histogram(
			"mcmc_run_duration_seconds",
			metric.WithDescription("Duration of full multi-chain sampling runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"mcmc_run_total",
			metric.WithDescription("Total number of sampling runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		chainLatency, err = meter.Float64Histogram(
			"mcmc_chain_duration_seconds",
			metric.WithDescription("Duration of individual chain runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		iterationsRun, err = meter.Int64Counter(
			"mcmc_iterations_total",
			metric.WithDescription("Total iterations executed, warmup included"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}
