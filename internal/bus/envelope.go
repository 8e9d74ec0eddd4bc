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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// EnvelopeVersion is the wire version written by this build. Consumers
// reject envelopes with a greater version.
const EnvelopeVersion = 1

type Kind string

const (
	KindAnalysisRequested Kind = "AnalysisRequested"
	KindAnalysisCompleted Kind = "AnalysisCompleted"
	KindAnalysisFailed    Kind = "AnalysisFailed"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAnalysisRequested, KindAnalysisCompleted, KindAnalysisFailed:
		return true
	}
	return false
}

var (
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrUnknownKind        = errors.New("unknown event kind")
)

// Envelope is the unit carried on every transport. JobID is the
// correlation key; TenantID scopes every store access a consumer makes.
type Envelope struct {
	Version    int             `json:"version"`
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	JobID      uuid.UUID       `json:"jobId"`
	TenantID   uuid.UUID       `json:"tenantId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

type AnalysisRequested struct {
	UploadID    uuid.UUID `json:"uploadId"`
	RequesterID uuid.UUID `json:"requesterId"`
	StorageKey  string    `json:"storageKey"`
}

type AnalysisCompleted struct {
	ResultKey string `json:"resultKey"`
}

type AnalysisFailed struct {
	ErrorMessage string `json:"errorMessage"`
}

// NewEnvelope stamps a new event id and time onto payload.
func NewEnvelope(kind Kind, jobID, tenantID uuid.UUID, payload any) (Envelope, error) {
	if !kind.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	id := ulid.Make()
	return Envelope{
		Version:    EnvelopeVersion,
		ID:         id.String(),
		Kind:       kind,
		JobID:      jobID,
		TenantID:   tenantID,
		OccurredAt: ulid.Time(id.Time()).UTC(),
		Payload:    raw,
	}, nil
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes and checks an envelope read off a transport.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Version < 1 || e.Version > EnvelopeVersion {
		return e, fmt.Errorf("%w: %d", ErrUnsupportedVersion, e.Version)
	}
	if !e.Kind.Valid() {
		return e, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.JobID == uuid.Nil {
		return e, errors.New("envelope has no job id")
	}
	return e, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}
