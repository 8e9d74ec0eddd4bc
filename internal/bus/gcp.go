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
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/cardinalhq/wsirunner/config"
)

// GCPBus publishes to a single Pub/Sub topic. Each consumer group reads
// through its own subscription, named <group_prefix>-<group>.
type GCPBus struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	busCfg config.BusConfig
	opts   Options
	subs   map[string]*dispatcher
}

var _ Bus = (*GCPBus)(nil)

func NewGCPBus(ctx context.Context, busCfg config.BusConfig, opts Options, clientOpts ...option.ClientOption) (*GCPBus, error) {
	cfg := busCfg.GCP
	if cfg.ProjectID == "" {
		return nil, errors.New("gcp bus requires a project id")
	}
	// Only set credentials if explicitly provided (ADC will handle GCE/Cloud Run)
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &GCPBus{
		client: client,
		topic:  client.Topic(cfg.Topic),
		busCfg: busCfg,
		opts:   opts.withDefaults(),
		subs:   map[string]*dispatcher{},
	}, nil
}

func (b *GCPBus) subscriptionID(group string) string {
	return b.busCfg.GroupPrefix + "-" + group
}

// EnsureTopology creates the topic and one subscription per consumer group
// when they are missing.
func (b *GCPBus) EnsureTopology(ctx context.Context) error {
	exists, err := b.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check topic %s: %w", b.topic.ID(), err)
	}
	if !exists {
		if b.topic, err = b.client.CreateTopic(ctx, b.busCfg.GCP.Topic); err != nil {
			return fmt.Errorf("create topic %s: %w", b.busCfg.GCP.Topic, err)
		}
	}
	for _, group := range []string{config.GroupOrchestrator, config.GroupWorker} {
		sub := b.client.Subscription(b.subscriptionID(group))
		ok, err := sub.Exists(ctx)
		if err != nil {
			return fmt.Errorf("check subscription %s: %w", sub.ID(), err)
		}
		if ok {
			continue
		}
		if _, err := b.client.CreateSubscription(ctx, sub.ID(), pubsub.SubscriptionConfig{Topic: b.topic}); err != nil {
			return fmt.Errorf("create subscription %s: %w", sub.ID(), err)
		}
	}
	return nil
}

func (b *GCPBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	res := b.topic.Publish(ctx, &pubsub.Message{
		Data: raw,
		Attributes: map[string]string{
			"kind":   string(env.Kind),
			"job_id": env.JobID.String(),
		},
	})
	_, err = res.Get(ctx)
	recordPublish(ctx, "gcp", env.Kind, err)
	if err != nil {
		return fmt.Errorf("pubsub publish %s: %w", env.Kind, err)
	}
	return nil
}

func (b *GCPBus) Subscribe(group string, h Handler) error {
	if err := validGroup(group); err != nil {
		return err
	}
	if _, ok := b.subs[group]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, group)
	}
	b.subs[group] = &dispatcher{transport: "gcp", group: group, handler: h, opts: b.opts}
	return nil
}

func (b *GCPBus) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for group, d := range b.subs {
		sub := b.client.Subscription(b.subscriptionID(group))
		sub.ReceiveSettings.MaxOutstandingMessages = b.opts.Concurrency
		sub.ReceiveSettings.NumGoroutines = 1
		g.Go(func() error {
			slog.Info("Starting GCP Pub/Sub receive loop", slog.String("subscription", sub.ID()))
			err := sub.Receive(gctx, func(ctx context.Context, msg *pubsub.Message) {
				b.handleMessage(ctx, d, msg)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("GCP Pub/Sub receive error on %s: %w", sub.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *GCPBus) handleMessage(ctx context.Context, d *dispatcher, msg *pubsub.Message) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("message_id", msg.ID))

	if err := d.deliver(ctx, msg.Data); err != nil {
		msg.Nack()
		return
	}
	msg.Ack()
}

func (b *GCPBus) Close() error {
	b.topic.Stop()
	return b.client.Close()
}
