// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package jobs

import (
	"github.com/cardinalhq/wsirunner/internal/bus"
	"github.com/cardinalhq/wsirunner/wsidb"
)

// Status is the saga state, stored on the job row itself.
type Status = wsidb.JobStatus

const (
	StatusPending    = wsidb.JobStatusPending
	StatusProcessing = wsidb.JobStatusProcessing
	StatusCompleted  = wsidb.JobStatusCompleted
	StatusFailed     = wsidb.JobStatusFailed
)

// IsTerminal reports whether s can no longer change.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transition returns the state a job in current moves to on an event of
// kind k, and whether that is a change. It is defined for every pair;
// anything not listed below is a no-op that leaves current in place.
//
//	Pending    + AnalysisRequested -> Processing
//	Pending    + AnalysisCompleted -> Completed
//	Pending    + AnalysisFailed    -> Failed
//	Processing + AnalysisCompleted -> Completed
//	Processing + AnalysisFailed    -> Failed
//
// An outcome may overtake its request on the bus, which is why Pending
// accepts outcomes directly.
func Transition(current Status, k bus.Kind) (Status, bool) {
	switch current {
	case StatusPending:
		switch k {
		case bus.KindAnalysisRequested:
			return StatusProcessing, true
		case bus.KindAnalysisCompleted:
			return StatusCompleted, true
		case bus.KindAnalysisFailed:
			return StatusFailed, true
		}
	case StatusProcessing:
		switch k {
		case bus.KindAnalysisCompleted:
			return StatusCompleted, true
		case bus.KindAnalysisFailed:
			return StatusFailed, true
		}
	}
	return current, false
}
