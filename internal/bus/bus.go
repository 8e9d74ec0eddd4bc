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

// Package bus is the at-least-once event transport between the API, the
// orchestrator and the analysis worker. Every transport delivers each
// event to every consumer group that consumes its kind; consumers must be
// idempotent.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/wsirunner/config"
	"github.com/cardinalhq/wsirunner/internal/logctx"
)

// Handler processes one event. A nil return acknowledges it; an error asks
// for redelivery.
type Handler func(ctx context.Context, env Envelope) error

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type Bus interface {
	Publisher
	// Subscribe registers the handler for a consumer group. It must be
	// called before Run, at most once per group.
	Subscribe(group string, h Handler) error
	// Run consumes for every subscribed group until ctx is cancelled.
	Run(ctx context.Context) error
	Close() error
}

var ErrAlreadySubscribed = errors.New("group already subscribed")

var groupKinds = map[string][]Kind{
	config.GroupOrchestrator: {KindAnalysisRequested, KindAnalysisCompleted, KindAnalysisFailed},
	config.GroupWorker:       {KindAnalysisRequested},
}

// Consumes reports whether group receives events of kind k.
func Consumes(group string, k Kind) bool {
	for _, gk := range groupKinds[group] {
		if gk == k {
			return true
		}
	}
	return false
}

// GroupsFor returns the consumer groups that receive kind k.
func GroupsFor(k Kind) []string {
	var groups []string
	for _, g := range []string{config.GroupOrchestrator, config.GroupWorker} {
		if Consumes(g, k) {
			groups = append(groups, g)
		}
	}
	return groups
}

func validGroup(group string) error {
	if _, ok := groupKinds[group]; !ok {
		return fmt.Errorf("unknown consumer group %q", group)
	}
	return nil
}

// Options tune delivery for every transport.
type Options struct {
	// MaxAttempts is how many times a handler is tried before the event
	// is logged and dropped.
	MaxAttempts int
	// Concurrency is the number of events handled in parallel per group.
	Concurrency int
	// NewBackOff builds the delay policy between attempts.
	NewBackOff func() backoff.BackOff
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.NewBackOff == nil {
		o.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		}
	}
	return o
}

var (
	tracer = otel.Tracer("github.com/cardinalhq/wsirunner/internal/bus")

	publishedCounter otelmetric.Int64Counter
	publishErrors    otelmetric.Int64Counter
	handledCounter   otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/wsirunner/internal/bus")

	var err error
	publishedCounter, err = meter.Int64Counter(
		"wsirunner.bus.published",
		otelmetric.WithDescription("Events published to the bus"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create bus.published counter: %w", err))
	}

	publishErrors, err = meter.Int64Counter(
		"wsirunner.bus.publish.errors",
		otelmetric.WithDescription("Events that could not be published"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create bus.publish.errors counter: %w", err))
	}

	handledCounter, err = meter.Int64Counter(
		"wsirunner.bus.handled",
		otelmetric.WithDescription("Events delivered to a consumer group, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create bus.handled counter: %w", err))
	}
}

func recordPublish(ctx context.Context, transport string, k Kind, err error) {
	attrs := otelmetric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("kind", string(k)),
	)
	if err != nil {
		publishErrors.Add(ctx, 1, attrs)
		return
	}
	publishedCounter.Add(ctx, 1, attrs)
}

func recordHandled(ctx context.Context, group string, k Kind, outcome string) {
	handledCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("group", group),
		attribute.String("kind", string(k)),
		attribute.String("outcome", outcome),
	))
}

// dispatcher owns redelivery for one consumer group. Transports hand it
// raw message bodies and ack when deliver returns nil.
type dispatcher struct {
	transport string
	group     string
	handler   Handler
	opts      Options
}

// deliver decodes raw and runs the handler, retrying with backoff. It
// returns nil when the message should be acknowledged: handled, not for
// this group, undecodable, or out of attempts. It returns an error only
// when ctx ends first, leaving the message for redelivery.
func (d *dispatcher) deliver(ctx context.Context, raw []byte) error {
	env, err := Unmarshal(raw)
	if err != nil {
		logctx.FromContext(ctx).Error("Dropping undecodable event",
			slog.String("group", d.group),
			slog.Any("error", err))
		recordHandled(ctx, d.group, env.Kind, "undecodable")
		return nil
	}
	if !Consumes(d.group, env.Kind) {
		return nil
	}

	ctx, span := tracer.Start(ctx, "bus.deliver", trace.WithAttributes(
		attribute.String("transport", d.transport),
		attribute.String("group", d.group),
		attribute.String("event_kind", string(env.Kind)),
		attribute.String("job_id", env.JobID.String()),
	))
	defer span.End()

	ctx, ll := logctx.WithJob(ctx, env.JobID, env.TenantID,
		slog.String("group", d.group),
		slog.String("event_id", env.ID),
		slog.String("event_kind", string(env.Kind)))

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, d.handler(ctx, env)
	},
		backoff.WithBackOff(d.opts.NewBackOff()),
		backoff.WithMaxTries(uint(d.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			ll.Warn("Event handler failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", next),
				slog.Any("error", err))
		}),
	)
	if err == nil {
		recordHandled(ctx, d.group, env.Kind, "ok")
		return nil
	}
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "cancelled")
		recordHandled(ctx, d.group, env.Kind, "cancelled")
		return ctx.Err()
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	ll.Error("Event handler exhausted attempts, dropping event",
		slog.Int("attempts", attempt),
		slog.Any("error", err))
	recordHandled(ctx, d.group, env.Kind, "dead_letter")
	return nil
}
