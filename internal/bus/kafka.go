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
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/wsirunner/config"
)

// KafkaBus publishes every event to one topic keyed by job id, so all
// events of a job land on the same partition in publish order. Each
// consumer group reads the whole topic and ignores kinds it does not
// consume.
type KafkaBus struct {
	cfg    config.KafkaConfig
	busCfg config.BusConfig
	opts   Options

	mechanism sasl.Mechanism
	tlsConfig *tls.Config
	writer    *kafka.Writer
	subs      map[string]*dispatcher

	mu      sync.Mutex
	readers []*kafka.Reader
}

var _ Bus = (*KafkaBus)(nil)

func NewKafkaBus(busCfg config.BusConfig, opts Options) (*KafkaBus, error) {
	cfg := busCfg.Kafka
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka bus requires at least one broker")
	}
	b := &KafkaBus{
		cfg:    cfg,
		busCfg: busCfg,
		opts:   opts.withDefaults(),
		subs:   map[string]*dispatcher{},
	}

	if cfg.SASLEnabled {
		mechanism, err := saslMechanism(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create SASL mechanism: %w", err)
		}
		b.mechanism = mechanism
	}
	if cfg.TLSEnabled {
		b.tlsConfig = &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify}
	}

	b.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Transport: &kafka.Transport{
			SASL:        b.mechanism,
			TLS:         b.tlsConfig,
			DialTimeout: b.connectionTimeout(),
		},
	}
	return b, nil
}

func saslMechanism(cfg config.KafkaConfig) (sasl.Mechanism, error) {
	switch cfg.SASLMechanism {
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.SASLUsername, cfg.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.SASLUsername, cfg.SASLPassword)
	case "PLAIN":
		return plain.Mechanism{
			Username: cfg.SASLUsername,
			Password: cfg.SASLPassword,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.SASLMechanism)
	}
}

func (b *KafkaBus) connectionTimeout() time.Duration {
	if b.cfg.ConnectionTimeout == 0 {
		return 10 * time.Second
	}
	return b.cfg.ConnectionTimeout
}

// EnsureTopic creates the bus topic if it does not exist yet.
func (b *KafkaBus) EnsureTopic(ctx context.Context) error {
	client := &kafka.Client{
		Addr:      kafka.TCP(b.cfg.Brokers[0]),
		Transport: b.writer.Transport,
		Timeout:   b.connectionTimeout(),
	}
	partitions := b.cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := b.cfg.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}
	resp, err := client.CreateTopics(ctx, &kafka.CreateTopicsRequest{
		Topics: []kafka.TopicConfig{{
			Topic:             b.cfg.Topic,
			NumPartitions:     partitions,
			ReplicationFactor: replication,
		}},
	})
	if err != nil {
		return fmt.Errorf("create topic %s: %w", b.cfg.Topic, err)
	}
	if terr := resp.Errors[b.cfg.Topic]; terr != nil && !errors.Is(terr, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", b.cfg.Topic, terr)
	}
	return nil
}

func (b *KafkaBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	err = b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.JobID.String()),
		Value: raw,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(env.Kind)},
			{Key: "event_id", Value: []byte(env.ID)},
		},
	})
	recordPublish(ctx, "kafka", env.Kind, err)
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", env.Kind, err)
	}
	return nil
}

func (b *KafkaBus) Subscribe(group string, h Handler) error {
	if err := validGroup(group); err != nil {
		return err
	}
	if _, ok := b.subs[group]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, group)
	}
	b.subs[group] = &dispatcher{transport: "kafka", group: group, handler: h, opts: b.opts}
	return nil
}

// Run starts Concurrency readers per group. Readers in one group share the
// topic's partitions, and each handles its messages serially so a job's
// events are seen in order.
func (b *KafkaBus) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for group, d := range b.subs {
		groupID := b.busCfg.ConsumerGroup(group)
		for range b.opts.Concurrency {
			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:     b.cfg.Brokers,
				Topic:       b.cfg.Topic,
				GroupID:     groupID,
				MinBytes:    1,
				MaxBytes:    10e6,
				MaxWait:     b.cfg.ConsumerMaxWait,
				StartOffset: kafka.FirstOffset,
				Dialer: &kafka.Dialer{
					Timeout:       b.connectionTimeout(),
					SASLMechanism: b.mechanism,
					TLS:           b.tlsConfig,
				},
				CommitInterval: 0,
			})
			b.mu.Lock()
			b.readers = append(b.readers, reader)
			b.mu.Unlock()
			g.Go(func() error {
				return b.consume(gctx, reader, d)
			})
		}
		slog.Info("Kafka consumer group started",
			slog.String("topic", b.cfg.Topic),
			slog.String("groupID", groupID),
			slog.Int("readers", b.opts.Concurrency))
	}
	return g.Wait()
}

func (b *KafkaBus) consume(ctx context.Context, reader *kafka.Reader, d *dispatcher) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to fetch Kafka message",
				slog.String("group", d.group),
				slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := d.deliver(ctx, msg.Value); err != nil {
			// Uncommitted; the group redelivers after rebalance.
			return nil
		}

		// Commit with a fresh context so a shutdown right after a
		// successful handle does not cause a redelivery.
		commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := reader.CommitMessages(commitCtx, msg); err != nil {
			slog.Error("Failed to commit Kafka offset",
				slog.String("group", d.group),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Any("error", err))
		}
		cancel()
	}
}

func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for _, r := range b.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
