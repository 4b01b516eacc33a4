// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

// ArmRecord is one arm-level observation: a treatment arm of a study with
// a binary outcome count.
//
// Records are immutable once loaded into a Store.
type ArmRecord struct {
	// Study identifies the study this arm belongs to.
	Study string `validate:"required"`

	// Treatment identifies the treatment given in this arm.
	Treatment string `validate:"required"`

	// Responders is the number of subjects with the outcome event.
	Responders int `validate:"gte=0"`

	// SampleSize is the number of subjects in the arm.
	SampleSize int `validate:"gt=0"`
}

// Study groups the arms of a single study, in deterministic order
// (ascending treatment identifier).
type Study struct {
	// ID is the study identifier.
	ID string

	// Arms are the study's arm records, sorted by treatment.
	Arms []ArmRecord
}

// Store is the evidence record store for one analysis run.
type Store struct {
	records    []ArmRecord
	studies    []Study
	treatments []string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewStore validates and loads arm records.
//
// Description:
//
//	Every row is checked (non-empty identifiers, responders >= 0,
//	sample size > 0, responders <= sample size). Any violation aborts
//	construction with a *ValidationError listing all offending rows;
//	no partial store is ever returned.
//
// Inputs:
//   - records: Arm-level observations. Must be non-empty and free of
//     duplicate (study, treatment) pairs.
//
// Outputs:
//   - *Store: Immutable record store. Nil on error.
//   - error: *ValidationError, ErrEmptyDataset, or ErrDuplicateArm.
func NewStore(records []ArmRecord) (*Store, error) {
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}

	var rowErrs []RowError
	for i, r := range records {
		if err := validate.Struct(r); err != nil {
			rowErrs = append(rowErrs, RowError{Row: i, Record: r, Reason: reasonFor(r)})
			continue
		}
		if r.Responders > r.SampleSize {
			rowErrs = append(rowErrs, RowError{
				Row:    i,
				Record: r,
				Reason: fmt.Sprintf("responders %d exceeds sample size %d", r.Responders, r.SampleSize),
			})
		}
	}
	if len(rowErrs) > 0 {
		return nil, &ValidationError{Rows: rowErrs}
	}

	seen := make(map[[2]string]bool, len(records))
	byStudy := make(map[string][]ArmRecord)
	for _, r := range records {
		key := [2]string{r.Study, r.Treatment}
		if seen[key] {
			return nil, fmt.Errorf("%w: study=%s treatment=%s", ErrDuplicateArm, r.Study, r.Treatment)
		}
		seen[key] = true
		byStudy[r.Study] = append(byStudy[r.Study], r)
	}

	studyIDs := make([]string, 0, len(byStudy))
	for id := range byStudy {
		studyIDs = append(studyIDs, id)
	}
	sort.Strings(studyIDs)

	treatSet := make(map[string]bool)
	studies := make([]Study, 0, len(studyIDs))
	for _, id := range studyIDs {
		arms := byStudy[id]
		sort.Slice(arms, func(i, j int) bool { return arms[i].Treatment < arms[j].Treatment })
		studies = append(studies, Study{ID: id, Arms: arms})
		for _, a := range arms {
			treatSet[a.Treatment] = true
		}
	}

	treatments := make([]string, 0, len(treatSet))
	for t := range treatSet {
		treatments = append(treatments, t)
	}
	sort.Strings(treatments)

	stored := make([]ArmRecord, len(records))
	copy(stored, records)

	return &Store{records: stored, studies: studies, treatments: treatments}, nil
}

// reasonFor renders a readable reason for a struct-tag violation.
func reasonFor(r ArmRecord) string {
	switch {
	case r.Study == "":
		return "empty study identifier"
	case r.Treatment == "":
		return "empty treatment identifier"
	case r.SampleSize <= 0:
		return fmt.Sprintf("sample size %d is not positive", r.SampleSize)
	case r.Responders < 0:
		return fmt.Sprintf("responders %d is negative", r.Responders)
	default:
		return "invalid record"
	}
}

// Records returns a copy of all arm records in input order.
func (s *Store) Records() []ArmRecord {
	out := make([]ArmRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Studies returns the studies in ascending study-identifier order, each
// with its arms sorted by treatment.
func (s *Store) Studies() []Study {
	out := make([]Study, len(s.studies))
	for i, st := range s.studies {
		arms := make([]ArmRecord, len(st.Arms))
		copy(arms, st.Arms)
		out[i] = Study{ID: st.ID, Arms: arms}
	}
	return out
}

// Treatments returns the distinct treatment identifiers in ascending order.
// The set of treatments is the union of treatment ids across all records.
func (s *Store) Treatments() []string {
	out := make([]string, len(s.treatments))
	copy(out, s.treatments)
	return out
}

// NumStudies returns the number of distinct studies.
func (s *Store) NumStudies() int { return len(s.studies) }

// NumTreatments returns the number of distinct treatments.
func (s *Store) NumTreatments() int { return len(s.treatments) }

// TotalSampleSize returns the summed sample size of every arm of the given
// treatment. External renderers use this for node sizing.
func (s *Store) TotalSampleSize(treatment string) int {
	total := 0
	for _, r := range s.records {
		if r.Treatment == treatment {
			total += r.SampleSize
		}
	}
	return total
}
