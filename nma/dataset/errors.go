// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset holds the normalized arm-level evidence records for one
// analysis run.
//
// # Ownership Model
//
// A Store owns its ArmRecords for the lifetime of one analysis run:
//   - Records are copied in at construction and never mutated afterwards
//   - Accessors return copies; callers cannot reach the internal slices
//   - Nothing persists across runs; discard the Store with the run
//
// # Thread Safety
//
// Store is immutable after NewStore returns and safe for concurrent reads.
package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for record store construction.
var (
	// ErrEmptyDataset is returned when no arm records are supplied.
	ErrEmptyDataset = errors.New("dataset contains no arm records")

	// ErrDuplicateArm is returned when a (study, treatment) pair appears
	// more than once. Arm-level data must be pre-aggregated.
	ErrDuplicateArm = errors.New("duplicate (study, treatment) arm")
)

// RowError describes a single invalid input row.
type RowError struct {
	// Row is the zero-based index of the offending record.
	Row int

	// Record is the offending record as supplied.
	Record ArmRecord

	// Reason is a human-readable description of the violation.
	Reason string
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d (study=%s treatment=%s): %s",
		e.Row, e.Record.Study, e.Record.Treatment, e.Reason)
}

// ValidationError reports every malformed input row at once.
//
// Validation is all-or-nothing: if any row is invalid no computation is
// attempted, and the caller receives the full list of offenders rather
// than failing one row at a time.
type ValidationError struct {
	// Rows lists each offending row with its reason.
	Rows []RowError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "dataset validation failed (%d invalid rows)", len(e.Rows))
	for _, r := range e.Rows {
		sb.WriteString("; ")
		sb.WriteString(r.String())
	}
	return sb.String()
}
