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

// Package jobs owns analysis jobs: creating them on request and driving
// them to a terminal state from bus events.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/wsirunner/internal/bus"
	"github.com/cardinalhq/wsirunner/internal/logctx"
	"github.com/cardinalhq/wsirunner/internal/objstore"
	"github.com/cardinalhq/wsirunner/internal/wsierr"
	"github.com/cardinalhq/wsirunner/wsidb"
)

// RegistryStore is the subset of wsidb the request side needs.
type RegistryStore interface {
	GetUpload(ctx context.Context, arg wsidb.GetUploadParams) (wsidb.WsiUpload, error)
	GetJob(ctx context.Context, arg wsidb.GetJobParams) (wsidb.WsiJob, error)
	ListJobs(ctx context.Context, arg wsidb.ListJobsParams) ([]wsidb.WsiJob, error)
	CreateJobWithOutbox(ctx context.Context, job wsidb.InsertJobParams, event wsidb.InsertOutboxEventParams) (wsidb.WsiJob, error)
	MarkOutboxPublished(ctx context.Context, eventID string) error
	RecordOutboxFailure(ctx context.Context, arg wsidb.RecordOutboxFailureParams) error
}

// DefaultListLimit caps ListJobs.
const DefaultListLimit = 100

var (
	requestedCounter     otelmetric.Int64Counter
	outboxPublishFailure otelmetric.Int64Counter
	transitionCounter    otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/wsirunner/internal/jobs")

	var err error
	requestedCounter, err = meter.Int64Counter(
		"wsirunner.jobs.analysis.requested",
		otelmetric.WithDescription("Analysis jobs created"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create jobs.analysis.requested counter: %w", err))
	}

	outboxPublishFailure, err = meter.Int64Counter(
		"wsirunner.jobs.outbox.publish.failures",
		otelmetric.WithDescription("Request events left in the outbox because the first publish failed"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create jobs.outbox.publish.failures counter: %w", err))
	}

	transitionCounter, err = meter.Int64Counter(
		"wsirunner.jobs.transitions",
		otelmetric.WithDescription("Orchestrator state transitions, applied or ignored"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create jobs.transitions counter: %w", err))
	}
}

func recordTransition(ctx context.Context, from, to Status, applied bool) {
	transitionCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
		attribute.Bool("applied", applied),
	))
}

type Registry struct {
	store     RegistryStore
	publisher bus.Publisher
	gateway   objstore.Gateway
	newID     func() uuid.UUID
}

func NewRegistry(store RegistryStore, publisher bus.Publisher, gateway objstore.Gateway) *Registry {
	return &Registry{
		store:     store,
		publisher: publisher,
		gateway:   gateway,
		newID:     uuid.New,
	}
}

// RequestAnalysis creates a pending job for a ready upload and publishes
// AnalysisRequested. The job and its event are committed together; the
// event is then published once. If that publish fails the call still
// succeeds and the outbox relay delivers the event later.
func (r *Registry) RequestAnalysis(ctx context.Context, uploadID, tenantID, userID uuid.UUID) (wsidb.WsiJob, error) {
	up, err := r.store.GetUpload(ctx, wsidb.GetUploadParams{ID: uploadID, TenantID: tenantID})
	if wsidb.IsNoRows(err) {
		return wsidb.WsiJob{}, wsierr.NotFound("upload")
	}
	if err != nil {
		return wsidb.WsiJob{}, fmt.Errorf("get upload: %w", err)
	}
	if up.Status != wsidb.UploadStatusReady {
		return wsidb.WsiJob{}, wsierr.NewInvalidState("upload", string(up.Status), string(wsidb.UploadStatusReady))
	}

	jobID := r.newID()
	env, err := bus.NewEnvelope(bus.KindAnalysisRequested, jobID, tenantID, bus.AnalysisRequested{
		UploadID:    up.ID,
		RequesterID: userID,
		StorageKey:  up.StorageKey,
	})
	if err != nil {
		return wsidb.WsiJob{}, err
	}
	raw, err := env.Marshal()
	if err != nil {
		return wsidb.WsiJob{}, fmt.Errorf("marshal envelope: %w", err)
	}

	job, err := r.store.CreateJobWithOutbox(ctx,
		wsidb.InsertJobParams{
			ID:          jobID,
			UploadID:    up.ID,
			TenantID:    tenantID,
			RequesterID: userID,
			SourceKey:   up.StorageKey,
		},
		wsidb.InsertOutboxEventParams{
			EventID:  env.ID,
			JobID:    jobID,
			TenantID: tenantID,
			Kind:     string(env.Kind),
			Envelope: raw,
		})
	if err != nil {
		return wsidb.WsiJob{}, fmt.Errorf("create job: %w", err)
	}
	requestedCounter.Add(ctx, 1)

	ll := logctx.FromContext(ctx).With(
		slog.String("job_id", jobID.String()),
		slog.String("event_id", env.ID))

	if err := r.publisher.Publish(ctx, env); err != nil {
		outboxPublishFailure.Add(ctx, 1)
		ll.Error("Failed to publish analysis request, leaving it to the outbox relay", slog.Any("error", err))
		msg := err.Error()
		if rerr := r.store.RecordOutboxFailure(ctx, wsidb.RecordOutboxFailureParams{LastError: &msg, EventID: env.ID}); rerr != nil {
			ll.Error("Failed to record outbox failure", slog.Any("error", rerr))
		}
		return job, nil
	}
	if err := r.store.MarkOutboxPublished(ctx, env.ID); err != nil {
		// The relay will publish it again, which the orchestrator ignores.
		ll.Warn("Failed to mark outbox event published", slog.Any("error", err))
	}
	ll.Info("Analysis requested", slog.String("upload_id", up.ID.String()))
	return job, nil
}

func (r *Registry) GetJob(ctx context.Context, id, tenantID uuid.UUID) (wsidb.WsiJob, error) {
	job, err := r.store.GetJob(ctx, wsidb.GetJobParams{ID: id, TenantID: tenantID})
	if wsidb.IsNoRows(err) {
		return wsidb.WsiJob{}, wsierr.NotFound("job")
	}
	if err != nil {
		return wsidb.WsiJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs the user requested in the tenant, newest first.
func (r *Registry) ListJobs(ctx context.Context, tenantID, userID uuid.UUID, limit int) ([]wsidb.WsiJob, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	jobs, err := r.store.ListJobs(ctx, wsidb.ListJobsParams{
		TenantID:    tenantID,
		RequesterID: userID,
		MaxRows:     int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ResultURL signs a GET for a completed job's result document. A completed
// job whose document was never written, as under the mock analyzer, is
// NotFound rather than a URL that would 404.
func (r *Registry) ResultURL(ctx context.Context, id, tenantID uuid.UUID) (string, error) {
	job, err := r.GetJob(ctx, id, tenantID)
	if err != nil {
		return "", err
	}
	if job.Status != StatusCompleted || job.ResultKey == nil {
		return "", wsierr.NewInvalidState("job", string(job.Status), string(StatusCompleted))
	}
	exists, err := r.gateway.Exists(ctx, *job.ResultKey)
	if err != nil {
		return "", fmt.Errorf("check result: %w", err)
	}
	if !exists {
		return "", wsierr.NotFound("result document")
	}
	url, err := r.gateway.PresignGet(ctx, *job.ResultKey)
	if err != nil {
		return "", fmt.Errorf("presign result: %w", err)
	}
	return url, nil
}
