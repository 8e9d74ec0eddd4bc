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
	"context"
	"fmt"
	"log/slog"

	"github.com/cardinalhq/wsirunner/config"
	"github.com/cardinalhq/wsirunner/internal/awsclient"
)

// NewBus builds the transport selected by cfg.Type. awsMgr is only used
// for the sqs transport and may be nil otherwise.
func NewBus(ctx context.Context, cfg config.BusConfig, awsMgr *awsclient.Manager, concurrency int) (Bus, error) {
	opts := Options{
		MaxAttempts: cfg.MaxAttempts,
		Concurrency: concurrency,
	}

	switch cfg.Type {
	case config.BusTypeMemory:
		return NewMemoryBus(opts), nil

	case config.BusTypeKafka:
		kb, err := NewKafkaBus(cfg, opts)
		if err != nil {
			return nil, err
		}
		if err := kb.EnsureTopic(ctx); err != nil {
			slog.Warn("Could not ensure Kafka topic, assuming it is managed externally",
				slog.String("topic", cfg.Kafka.Topic),
				slog.Any("error", err))
		}
		return kb, nil

	case config.BusTypeSQS:
		if awsMgr == nil {
			return nil, fmt.Errorf("sqs bus requires an AWS manager")
		}
		sqsClient, err := awsMgr.GetSQS(ctx,
			awsclient.WithRole(cfg.SQS.RoleARN),
			awsclient.WithRegion(cfg.SQS.Region),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQS client: %w", err)
		}
		return NewSQSBus(sqsClient.Client, cfg.SQS, opts), nil

	case config.BusTypeGCP:
		gb, err := NewGCPBus(ctx, cfg, opts)
		if err != nil {
			return nil, err
		}
		if err := gb.EnsureTopology(ctx); err != nil {
			slog.Warn("Could not ensure Pub/Sub topology, assuming it is managed externally",
				slog.String("topic", cfg.GCP.Topic),
				slog.Any("error", err))
		}
		return gb, nil

	default:
		return nil, fmt.Errorf("unknown bus type %q", cfg.Type)
	}
}
