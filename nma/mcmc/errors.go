// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mcmc samples the posterior of the hierarchical binomial
// network-meta-analysis model.
package mcmc

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine configuration.
var (
	// ErrTooFewChains is returned when fewer than two chains are requested.
	// Convergence diagnostics require at least two independent chains.
	ErrTooFewChains = errors.New("at least 2 chains are required")

	// ErrNoIterations is returned when warmup or sampling length is not
	// positive.
	ErrNoIterations = errors.New("warmup and sampling iterations must be positive")

	// ErrUnknownParameter is returned when a sample-set query names a
	// parameter that was not monitored.
	ErrUnknownParameter = errors.New("parameter not monitored")
)

// NonConvergentChainError reports a chain whose sampler diverged.
//
// A run with a diverged chain is rejected wholesale: the Bayesian results
// are unusable, and partial chains are never returned. Frequentist solver
// results are computed independently and remain valid.
type NonConvergentChainError struct {
	// Chain is the zero-based index of the diverged chain.
	Chain int

	// Iteration is the overall iteration (warmup included) at which
	// divergence was detected.
	Iteration int

	// Reason describes the numerical failure.
	Reason string
}

// Error implements the error interface.
func (e *NonConvergentChainError) Error() string {
	return fmt.Sprintf("chain %d diverged at iteration %d: %s", e.Chain, e.Iteration, e.Reason)
}
