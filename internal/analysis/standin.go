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

package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StandInAnalyzer waits a fixed delay and produces a placeholder document.
// It is used when no inference service is configured.
type StandInAnalyzer struct {
	delay time.Duration
	now   func() time.Time
}

func NewStandInAnalyzer(delay time.Duration) *StandInAnalyzer {
	return &StandInAnalyzer{delay: delay, now: time.Now}
}

func (a *StandInAnalyzer) Name() string { return "stand-in" }

type standInDocument struct {
	Analyzer   string    `json:"analyzer"`
	JobID      string    `json:"jobId"`
	UploadID   string    `json:"uploadId"`
	StorageKey string    `json:"storageKey"`
	AnalyzedAt time.Time `json:"analyzedAt"`
}

func (a *StandInAnalyzer) Analyze(ctx context.Context, req Request) (Result, error) {
	if err := sleep(ctx, a.delay); err != nil {
		return Result{}, err
	}
	doc, err := json.Marshal(standInDocument{
		Analyzer:   a.Name(),
		JobID:      req.JobID.String(),
		UploadID:   req.UploadID.String(),
		StorageKey: req.StorageKey,
		AnalyzedAt: a.now().UTC(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal result: %w", err)
	}
	return Result{Document: doc}, nil
}

// MockAnalyzer always succeeds without touching storage. Development only.
// No result document is written, so result URLs for its jobs are NotFound.
type MockAnalyzer struct {
	delay time.Duration
}

func NewMockAnalyzer(delay time.Duration) *MockAnalyzer {
	return &MockAnalyzer{delay: delay}
}

func (a *MockAnalyzer) Name() string { return "mock" }

func (a *MockAnalyzer) Analyze(ctx context.Context, _ Request) (Result, error) {
	if err := sleep(ctx, a.delay); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}
