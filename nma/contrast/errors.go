// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contrast converts arm-level counts into study-level pairwise
// contrasts on the log odds ratio scale.
package contrast

import "fmt"

// DegenerateStudyError reports a study that cannot contribute a contrast.
//
// A study needs at least two usable arms after continuity correction to
// define a comparison. Policy on hitting one is the caller's choice
// (abort the run or skip the study with a warning).
type DegenerateStudyError struct {
	// Study is the offending study identifier.
	Study string

	// Arms is the number of usable arms found.
	Arms int
}

// Error implements the error interface.
func (e *DegenerateStudyError) Error() string {
	return fmt.Sprintf("study %s is degenerate: %d usable arm(s), need at least 2", e.Study, e.Arms)
}
