// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evgraph builds the evidence graph of a treatment network.
//
// Treatments are nodes; an undirected edge connects two treatments whenever
// at least one study compares them directly, weighted by the number of such
// studies. The graph is an internal adjacency representation (dense
// treatment indices plus an edge list); operations are limited to
// connectivity, degree/weight queries, and spanning-tree extraction, so no
// external graph engine is involved.
//
// # Ownership Model
//
// A Graph is built once from a dataset.Store and is read-only afterwards:
//   - Build performs all construction; there is no incremental mutation
//   - All accessors are safe for concurrent use after Build returns
//   - The graph is owned by the analysis run and discarded with it
package evgraph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for graph construction and queries.
var (
	// ErrUnknownTreatment is returned when a query names a treatment that
	// is not a node of the graph.
	ErrUnknownTreatment = errors.New("treatment not present in evidence graph")

	// ErrEmptyGraph is returned when building from a store with no usable
	// comparisons.
	ErrEmptyGraph = errors.New("evidence graph has no edges")
)

// DisconnectedNetworkError reports that the evidence network splits into
// two or more components.
//
// No relative effect can be identified between treatments in different
// components, so the run is aborted rather than producing a partial fit.
type DisconnectedNetworkError struct {
	// Components holds the treatment sets of each connected component,
	// each sorted ascending, ordered by their smallest member.
	Components [][]string
}

// Error implements the error interface.
func (e *DisconnectedNetworkError) Error() string {
	parts := make([]string, len(e.Components))
	for i, c := range e.Components {
		parts[i] = "{" + strings.Join(c, ",") + "}"
	}
	return fmt.Sprintf("evidence network is disconnected: %d components %s",
		len(e.Components), strings.Join(parts, " "))
}
