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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/cardinalhq/wsirunner/internal/bus"
	"github.com/cardinalhq/wsirunner/internal/logctx"
	"github.com/cardinalhq/wsirunner/wsidb"
)

// OrchestratorStore is the subset of wsidb the orchestrator needs.
type OrchestratorStore interface {
	GetJob(ctx context.Context, arg wsidb.GetJobParams) (wsidb.WsiJob, error)
	SetJobProcessing(ctx context.Context, arg wsidb.SetJobProcessingParams) (int64, error)
	SetJobCompleted(ctx context.Context, arg wsidb.SetJobCompletedParams) (int64, error)
	SetJobFailed(ctx context.Context, arg wsidb.SetJobFailedParams) (int64, error)
}

// Saga is the per-job correlation state. The row's status is
// authoritative; Status here is the last value this process observed.
type Saga struct {
	JobID       uuid.UUID
	TenantID    uuid.UUID
	UploadID    uuid.UUID
	RequesterID uuid.UUID
	StorageKey  string
	Status      Status
}

const (
	sagaTTL      = 24 * time.Hour
	sagaCapacity = 100_000
	// maxApplyAttempts bounds re-reads when a conditional update loses a race.
	maxApplyAttempts = 3
)

// Orchestrator moves jobs through their states in response to bus events.
// It is the only writer of job status after creation. Every update is
// conditional on the status it expects, so duplicate and late events are
// no-ops.
type Orchestrator struct {
	store OrchestratorStore
	sagas *ttlcache.Cache[uuid.UUID, Saga]
	now   func() time.Time
}

func NewOrchestrator(store OrchestratorStore) *Orchestrator {
	o := &Orchestrator{
		store: store,
		sagas: ttlcache.New(
			ttlcache.WithTTL[uuid.UUID, Saga](sagaTTL),
			ttlcache.WithCapacity[uuid.UUID, Saga](sagaCapacity),
		),
		now: time.Now,
	}
	go o.sagas.Start()
	return o
}

// Close stops the saga cache's expiry loop.
func (o *Orchestrator) Close() {
	o.sagas.Stop()
}

// ActiveSagas is the number of jobs with cached correlation state.
func (o *Orchestrator) ActiveSagas() int {
	return o.sagas.Len()
}

type outcome struct {
	resultKey    string
	errorMessage string
}

// Handle applies one event. It returns an error only for store failures,
// which the bus retries.
func (o *Orchestrator) Handle(ctx context.Context, env bus.Envelope) error {
	var out outcome
	saga, cached := o.lookup(env.JobID)

	switch env.Kind {
	case bus.KindAnalysisRequested:
		var req bus.AnalysisRequested
		if err := env.Decode(&req); err != nil {
			logctx.FromContext(ctx).Error("Dropping malformed analysis request", slog.Any("error", err))
			return nil
		}
		if !cached {
			// A fresh request is almost always for a pending job. If not,
			// the conditional update misses and the row is re-read.
			saga = Saga{
				JobID:       env.JobID,
				TenantID:    env.TenantID,
				UploadID:    req.UploadID,
				RequesterID: req.RequesterID,
				StorageKey:  req.StorageKey,
				Status:      StatusPending,
			}
			cached = true
		}
	case bus.KindAnalysisCompleted:
		var done bus.AnalysisCompleted
		if err := env.Decode(&done); err != nil {
			logctx.FromContext(ctx).Error("Dropping malformed completion", slog.Any("error", err))
			return nil
		}
		out.resultKey = done.ResultKey
	case bus.KindAnalysisFailed:
		var failed bus.AnalysisFailed
		if err := env.Decode(&failed); err != nil {
			logctx.FromContext(ctx).Error("Dropping malformed failure", slog.Any("error", err))
			return nil
		}
		out.errorMessage = failed.ErrorMessage
	default:
		return nil
	}

	if cached && saga.TenantID != env.TenantID {
		// Never let an event act on another tenant's job.
		cached = false
	}
	if !cached {
		loaded, found, err := o.load(ctx, env.JobID, env.TenantID)
		if err != nil {
			return err
		}
		if !found {
			logctx.FromContext(ctx).Warn("Job not found for event, ignoring")
			return nil
		}
		saga = loaded
	}

	for range maxApplyAttempts {
		next, applied := Transition(saga.Status, env.Kind)
		if !applied {
			recordTransition(ctx, saga.Status, next, false)
			logctx.FromContext(ctx).Debug("Event does not change job state, ignoring",
				slog.String("status", string(saga.Status)))
			o.remember(saga)
			return nil
		}

		n, err := o.apply(ctx, saga, next, out)
		if err != nil {
			return fmt.Errorf("apply %s -> %s: %w", saga.Status, next, err)
		}
		if n == 1 {
			recordTransition(ctx, saga.Status, next, true)
			logctx.FromContext(ctx).Info("Job transitioned",
				slog.String("from", string(saga.Status)),
				slog.String("to", string(next)))
			saga.Status = next
			o.remember(saga)
			return nil
		}

		// The row was not in the status we expected. Re-read it.
		loaded, found, err := o.load(ctx, env.JobID, env.TenantID)
		if err != nil {
			return err
		}
		if !found {
			o.sagas.Delete(env.JobID)
			logctx.FromContext(ctx).Warn("Job not found for event, ignoring")
			return nil
		}
		saga = loaded
	}
	return fmt.Errorf("job %s changed state on every attempt", env.JobID)
}

func (o *Orchestrator) lookup(jobID uuid.UUID) (Saga, bool) {
	item := o.sagas.Get(jobID)
	if item == nil {
		return Saga{}, false
	}
	return item.Value(), true
}

// remember caches a live saga and finalizes a terminal one.
func (o *Orchestrator) remember(s Saga) {
	if IsTerminal(s.Status) {
		o.sagas.Delete(s.JobID)
		return
	}
	o.sagas.Set(s.JobID, s, ttlcache.DefaultTTL)
}

func (o *Orchestrator) load(ctx context.Context, jobID, tenantID uuid.UUID) (Saga, bool, error) {
	job, err := o.store.GetJob(ctx, wsidb.GetJobParams{ID: jobID, TenantID: tenantID})
	if wsidb.IsNoRows(err) {
		return Saga{}, false, nil
	}
	if err != nil {
		return Saga{}, false, fmt.Errorf("get job: %w", err)
	}
	return Saga{
		JobID:       job.ID,
		TenantID:    job.TenantID,
		UploadID:    job.UploadID,
		RequesterID: job.RequesterID,
		StorageKey:  job.SourceKey,
		Status:      job.Status,
	}, true, nil
}

func (o *Orchestrator) apply(ctx context.Context, s Saga, next Status, out outcome) (int64, error) {
	switch next {
	case StatusProcessing:
		return o.store.SetJobProcessing(ctx, wsidb.SetJobProcessingParams{
			ID:             s.JobID,
			TenantID:       s.TenantID,
			ExpectedStatus: s.Status,
		})
	case StatusCompleted:
		return o.store.SetJobCompleted(ctx, wsidb.SetJobCompletedParams{
			ResultKey:      &out.resultKey,
			CompletedAt:    o.now().UTC(),
			ID:             s.JobID,
			TenantID:       s.TenantID,
			ExpectedStatus: s.Status,
		})
	case StatusFailed:
		return o.store.SetJobFailed(ctx, wsidb.SetJobFailedParams{
			ErrorMessage:   &out.errorMessage,
			CompletedAt:    o.now().UTC(),
			ID:             s.JobID,
			TenantID:       s.TenantID,
			ExpectedStatus: s.Status,
		})
	}
	return 0, fmt.Errorf("no update for status %s", next)
}
