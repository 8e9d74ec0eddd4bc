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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cardinalhq/wsirunner/internal/bus"
)

func TestTransitionIsTotal(t *testing.T) {
	statuses := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, Status("bogus")}
	kinds := []bus.Kind{bus.KindAnalysisRequested, bus.KindAnalysisCompleted, bus.KindAnalysisFailed, bus.Kind("Other")}

	allowed := map[Status]map[bus.Kind]Status{
		StatusPending: {
			bus.KindAnalysisRequested: StatusProcessing,
			bus.KindAnalysisCompleted: StatusCompleted,
			bus.KindAnalysisFailed:    StatusFailed,
		},
		StatusProcessing: {
			bus.KindAnalysisCompleted: StatusCompleted,
			bus.KindAnalysisFailed:    StatusFailed,
		},
	}

	for _, s := range statuses {
		for _, k := range kinds {
			next, applied := Transition(s, k)
			if want, ok := allowed[s][k]; ok {
				assert.True(t, applied, "%s + %s", s, k)
				assert.Equal(t, want, next, "%s + %s", s, k)
			} else {
				assert.False(t, applied, "%s + %s", s, k)
				assert.Equal(t, s, next, "%s + %s", s, k)
			}
		}
	}
}

func TestTerminalIsFixedPoint(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		assert.True(t, IsTerminal(s))
		for _, k := range []bus.Kind{bus.KindAnalysisRequested, bus.KindAnalysisCompleted, bus.KindAnalysisFailed} {
			next, applied := Transition(s, k)
			assert.False(t, applied)
			assert.Equal(t, s, next)
		}
	}
	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusProcessing))
}
