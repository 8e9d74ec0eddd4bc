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
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/wsirunner/internal/bus"
	"github.com/cardinalhq/wsirunner/internal/logctx"
	"github.com/cardinalhq/wsirunner/internal/objstore"
	"github.com/cardinalhq/wsirunner/internal/wsierr"
)

const resultFileName = "analysis.json"

var (
	tracer         = otel.Tracer("github.com/cardinalhq/wsirunner/internal/analysis")
	outcomeCounter otelmetric.Int64Counter
	durationHist   otelmetric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/wsirunner/internal/analysis")

	var err error
	outcomeCounter, err = meter.Int64Counter(
		"wsirunner.worker.outcomes",
		otelmetric.WithDescription("Analysis outcomes by result"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create worker.outcomes counter: %w", err))
	}

	durationHist, err = meter.Float64Histogram(
		"wsirunner.worker.duration",
		otelmetric.WithDescription("Time spent analyzing one slide"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create worker.duration histogram: %w", err))
	}
}

// ResultKey is where the result document for a job is stored.
func ResultKey(prefix string, tenantID, jobID uuid.UUID) string {
	return path.Join(prefix, tenantID.String(), jobID.String(), resultFileName)
}

// WorkerOptions tunes a Worker.
type WorkerOptions struct {
	// VerifySource checks the slide exists before analysis starts.
	VerifySource bool
	ResultPrefix string
}

// Worker consumes AnalysisRequested events. It keeps no state between
// jobs. Every request ends in exactly one published outcome unless the
// process is shutting down, in which case nothing is published and the
// event is left for redelivery.
type Worker struct {
	analyzer  Analyzer
	gateway   objstore.Gateway
	publisher bus.Publisher
	opts      WorkerOptions
}

func NewWorker(analyzer Analyzer, gateway objstore.Gateway, publisher bus.Publisher, opts WorkerOptions) *Worker {
	if opts.ResultPrefix == "" {
		opts.ResultPrefix = "results"
	}
	return &Worker{
		analyzer:  analyzer,
		gateway:   gateway,
		publisher: publisher,
		opts:      opts,
	}
}

// Handle runs one analysis and publishes its outcome. The returned error
// is non-nil only when the outcome could not be published or ctx ended.
func (w *Worker) Handle(ctx context.Context, env bus.Envelope) error {
	if env.Kind != bus.KindAnalysisRequested {
		return nil
	}
	ctx, ll := logctx.With(ctx, slog.String("analyzer", w.analyzer.Name()))

	var req bus.AnalysisRequested
	if err := env.Decode(&req); err != nil {
		return w.fail(ctx, env, fmt.Errorf("malformed analysis request: %w", err))
	}

	start := time.Now()
	key, err := w.run(ctx, env, req)
	durationHist.Record(ctx, time.Since(start).Seconds(),
		otelmetric.WithAttributes(attribute.String("analyzer", w.analyzer.Name())))

	if ctx.Err() != nil {
		outcomeCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", "cancelled")))
		ll.Info("Analysis interrupted by shutdown, leaving event for redelivery")
		return fmt.Errorf("analysis interrupted: %w", ctx.Err())
	}
	if err != nil {
		return w.fail(ctx, env, err)
	}

	done, err := bus.NewEnvelope(bus.KindAnalysisCompleted, env.JobID, env.TenantID, bus.AnalysisCompleted{ResultKey: key})
	if err != nil {
		return err
	}
	if err := w.publisher.Publish(ctx, done); err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	outcomeCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", "completed")))
	ll.Info("Analysis completed", slog.String("result_key", key))
	return nil
}

// run never panics; a panicking analyzer becomes an error.
func (w *Worker) run(ctx context.Context, env bus.Envelope, req bus.AnalysisRequested) (key string, err error) {
	ctx, span := tracer.Start(ctx, "analysis.run", trace.WithAttributes(
		attribute.String("job_id", env.JobID.String()),
		attribute.String("analyzer", w.analyzer.Name()),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: analyzer panicked: %v", wsierr.ErrWorkerFailure, r)
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if w.opts.VerifySource {
		exists, err := w.gateway.Exists(ctx, req.StorageKey)
		if err != nil {
			return "", fmt.Errorf("check source object: %w", err)
		}
		if !exists {
			return "", fmt.Errorf("object not found: %s", req.StorageKey)
		}
	}

	result, err := w.analyzer.Analyze(ctx, Request{
		JobID:      env.JobID,
		TenantID:   env.TenantID,
		UploadID:   req.UploadID,
		StorageKey: req.StorageKey,
	})
	if err != nil {
		return "", err
	}

	key = ResultKey(w.opts.ResultPrefix, env.TenantID, env.JobID)
	if result.Document != nil {
		if err := w.gateway.Put(ctx, key, "application/json", result.Document); err != nil {
			return "", fmt.Errorf("store result: %w", err)
		}
	}
	return key, nil
}

func (w *Worker) fail(ctx context.Context, env bus.Envelope, cause error) error {
	ll := logctx.FromContext(ctx)
	failed, err := bus.NewEnvelope(bus.KindAnalysisFailed, env.JobID, env.TenantID, bus.AnalysisFailed{
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		return errors.Join(cause, err)
	}
	if err := w.publisher.Publish(ctx, failed); err != nil {
		return fmt.Errorf("publish failure: %w", err)
	}
	outcomeCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", "failed")))
	ll.Warn("Analysis failed", slog.Any("error", cause))
	return nil
}
