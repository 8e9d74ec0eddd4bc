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

// Package sweeper runs the periodic cleanup loops: reclaiming uploads that
// were never confirmed and relaying outbox events that were never published.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/wsirunner/config"
	"github.com/cardinalhq/wsirunner/internal/bus"
	"github.com/cardinalhq/wsirunner/internal/logctx"
	"github.com/cardinalhq/wsirunner/internal/objstore"
)

var (
	orphanCounter       metric.Int64Counter
	outboxRelayCounter  metric.Int64Counter
	sweepDurationSecond metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/wsirunner/cmd/sweeper")

	var err error
	orphanCounter, err = meter.Int64Counter(
		"wsirunner.sweeper.orphans_reclaimed_total",
		metric.WithDescription("Count of never-confirmed uploads processed by the reclaimer"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create orphans_reclaimed_total counter: %w", err))
	}

	outboxRelayCounter, err = meter.Int64Counter(
		"wsirunner.sweeper.outbox_relayed_total",
		metric.WithDescription("Count of outbox events republished by the relay"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create outbox_relayed_total counter: %w", err))
	}

	sweepDurationSecond, err = meter.Float64Histogram(
		"wsirunner.sweeper.run_duration_seconds",
		metric.WithDescription("Duration of a single sweeper task run in seconds"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create run_duration_seconds histogram: %w", err))
	}
}

// Store is what both sweeper tasks need from wsidb.
type Store interface {
	OrphanStore
	OutboxStore
}

type Sweeper struct {
	store     Store
	gateway   objstore.Gateway
	publisher bus.Publisher
	cfg       config.SweeperConfig
}

func New(store Store, gateway objstore.Gateway, publisher bus.Publisher, cfg config.SweeperConfig) *Sweeper {
	return &Sweeper{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Run drives both loops until doneCtx is cancelled.
func (s *Sweeper) Run(doneCtx context.Context) error {
	ctx, cancel := context.WithCancel(doneCtx)
	defer cancel()

	slog.Info("Starting sweeper",
		slog.Duration("orphanThreshold", s.cfg.OrphanThreshold),
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("outboxInterval", s.cfg.OutboxInterval))

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	// Periodic: orphan upload reclaim
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := periodicLoop(ctx, s.cfg.Interval, "orphans", func(c context.Context) error {
			_, err := ReclaimOrphans(c, s.store, s.gateway, s.cfg.OrphanThreshold, s.cfg.BatchSize)
			return err
		}); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Periodic: outbox relay
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := periodicLoop(ctx, s.cfg.OutboxInterval, "outbox", func(c context.Context) error {
			_, err := RelayOutbox(c, s.store, s.publisher, s.cfg.OutboxMinAge, s.cfg.BatchSize)
			return err
		}); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancel()
		wg.Wait()
		return err
	}
	wg.Wait()
	return ctx.Err()
}

// Runs f immediately, then on a ticker every period. Never more than once per period.
func periodicLoop(ctx context.Context, period time.Duration, task string, f func(context.Context) error) error {
	ctx, ll := logctx.With(ctx, slog.String("task", task))
	run := func() {
		start := time.Now()
		if err := f(ctx); err != nil {
			ll.Error("periodic task error", slog.Any("error", err))
		}
		sweepDurationSecond.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(taskAttr(task)))
	}

	run()

	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			// keep going; periodic tasks should be resilient
			run()
		}
	}
}

func taskAttr(task string) attribute.KeyValue {
	return attribute.String("task", task)
}
