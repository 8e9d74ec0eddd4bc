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

package bus

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeAndUnmarshal(t *testing.T) {
	jobID := uuid.New()
	tenantID := uuid.New()
	req := AnalysisRequested{
		UploadID:    uuid.New(),
		RequesterID: uuid.New(),
		StorageKey:  "wsi/t/u/id/slide.svs",
	}

	env, err := NewEnvelope(KindAnalysisRequested, jobID, tenantID, req)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.Len(t, env.ID, 26)
	assert.False(t, env.OccurredAt.IsZero())

	raw, err := env.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, jobID, got.JobID)
	assert.Equal(t, tenantID, got.TenantID)

	var decoded AnalysisRequested
	require.NoError(t, got.Decode(&decoded))
	assert.Equal(t, req, decoded)
}

func TestEnvelopeWireNames(t *testing.T) {
	env, err := NewEnvelope(KindAnalysisFailed, uuid.New(), uuid.New(), AnalysisFailed{ErrorMessage: "object not found"})
	require.NoError(t, err)
	raw, err := env.Marshal()
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	for _, k := range []string{"version", "id", "kind", "jobId", "tenantId", "occurredAt", "payload"} {
		assert.Contains(t, m, k)
	}
	assert.JSONEq(t, `{"errorMessage":"object not found"}`, string(m["payload"]))
}

func TestEventIDsIncrease(t *testing.T) {
	a, err := NewEnvelope(KindAnalysisCompleted, uuid.New(), uuid.New(), AnalysisCompleted{})
	require.NoError(t, err)
	b, err := NewEnvelope(KindAnalysisCompleted, uuid.New(), uuid.New(), AnalysisCompleted{})
	require.NoError(t, err)
	assert.Less(t, a.ID, b.ID)
}

func TestUnmarshalRejects(t *testing.T) {
	job := uuid.New().String()
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"future version", `{"version":2,"kind":"AnalysisCompleted","jobId":"` + job + `"}`, ErrUnsupportedVersion},
		{"missing version", `{"kind":"AnalysisCompleted","jobId":"` + job + `"}`, ErrUnsupportedVersion},
		{"unknown kind", `{"version":1,"kind":"AnalysisCancelled","jobId":"` + job + `"}`, ErrUnknownKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Unmarshal([]byte(`{"version":1,"kind":"AnalysisCompleted"}`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewEnvelopeUnknownKind(t *testing.T) {
	_, err := NewEnvelope(Kind("Nope"), uuid.New(), uuid.New(), nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestRouting(t *testing.T) {
	assert.Equal(t, []string{"orchestrator", "worker"}, GroupsFor(KindAnalysisRequested))
	assert.Equal(t, []string{"orchestrator"}, GroupsFor(KindAnalysisCompleted))
	assert.Equal(t, []string{"orchestrator"}, GroupsFor(KindAnalysisFailed))
	assert.False(t, Consumes("worker", KindAnalysisFailed))
	assert.False(t, Consumes("nobody", KindAnalysisRequested))
}
