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

package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/wsirunner/internal/bus"
	"github.com/cardinalhq/wsirunner/internal/logctx"
	"github.com/cardinalhq/wsirunner/wsidb"
)

type OutboxStore interface {
	RelayOutbox(ctx context.Context, arg wsidb.ClaimUnpublishedOutboxParams, publish wsidb.OutboxPublishFunc) (int, error)
}

// RelayOutbox republishes outbox events older than minAge that were never
// marked published. Consumers are idempotent, so an event published twice
// is harmless.
func RelayOutbox(ctx context.Context, store OutboxStore, publisher bus.Publisher, minAge time.Duration, batch int) (int, error) {
	n, err := store.RelayOutbox(ctx, wsidb.ClaimUnpublishedOutboxParams{
		Cutoff:  time.Now().Add(-minAge),
		MaxRows: int32(batch),
	}, func(ctx context.Context, row wsidb.WsiOutbox) error {
		env, err := bus.Unmarshal(row.Envelope)
		if err != nil {
			return fmt.Errorf("decode outbox envelope: %w", err)
		}
		if err := publisher.Publish(ctx, env); err != nil {
			outboxRelayCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "failure")))
			return err
		}
		return nil
	})
	if n > 0 {
		outboxRelayCounter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("status", "success")))
		logctx.FromContext(ctx).Info("Relayed outbox events", slog.Int("count", n))
	}
	return n, err
}
