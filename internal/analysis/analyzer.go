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

// Package analysis runs whole-slide image analysis for AnalysisRequested
// events and reports the outcome back on the bus.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cardinalhq/wsirunner/config"
	"github.com/cardinalhq/wsirunner/internal/objstore"
)

// Request is what an Analyzer needs to know about one job.
type Request struct {
	JobID      uuid.UUID
	TenantID   uuid.UUID
	UploadID   uuid.UUID
	StorageKey string
}

// Result is the analysis output. A nil Document means nothing is written
// to storage and only the key is reported.
type Result struct {
	Document json.RawMessage
}

// Analyzer performs the work for one job. Implementations must honor ctx
// cancellation, which happens on shutdown.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, req Request) (Result, error)
}

// NewAnalyzer selects the analyzer once at startup:
// mock when enabled, the inference service when a URL is configured,
// the fixed-delay stand-in otherwise.
func NewAnalyzer(cfg *config.Config, gateway objstore.Gateway) (Analyzer, error) {
	wc := cfg.Worker
	switch {
	case wc.Mock:
		if cfg.IsProduction() {
			return nil, fmt.Errorf("mock analyzer is not allowed in the %s environment", cfg.Environment)
		}
		return NewMockAnalyzer(wc.StandInDelay), nil
	case wc.InferenceURL != "":
		return NewInferenceAnalyzer(wc.InferenceURL, wc.InferenceTimeout, gateway)
	default:
		return NewStandInAnalyzer(wc.StandInDelay), nil
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
