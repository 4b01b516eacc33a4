// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nma orchestrates a complete network meta-analysis over
// arm-level binary-outcome evidence.
//
// A run wires the pipeline end to end: record validation and storage
// (dataset), evidence graph construction (evgraph), arm-to-contrast
// transformation (contrast), the frequentist graph-theoretical solver
// (gls), Bayesian consistency and inconsistency models (mcmc),
// convergence diagnostics (diag), rank probabilities and SUCRA
// (ranking), league tables, and the funnel asymmetry bias test (bias).
//
// Runs are self-contained: configuration carries the RNG seed, logger
// and policies, and no package keeps process-global state, so any
// number of analyses may run concurrently in one process.
package nma
