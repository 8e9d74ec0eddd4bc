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
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/wsirunner/config"
)

// sqsAPI is the subset of *sqs.Client the bus calls.
type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSBus gives each consumer group its own queue. Publish sends one copy
// of an event to the queue of every group that consumes its kind.
type SQSBus struct {
	client sqsAPI
	cfg    config.SQSConfig
	opts   Options
	subs   map[string]*dispatcher

	// waitSeconds is the long-poll duration.
	waitSeconds int32
}

var _ Bus = (*SQSBus)(nil)

func NewSQSBus(client sqsAPI, cfg config.SQSConfig, opts Options) *SQSBus {
	return &SQSBus{
		client:      client,
		cfg:         cfg,
		opts:        opts.withDefaults(),
		subs:        map[string]*dispatcher{},
		waitSeconds: 20,
	}
}

func (b *SQSBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	body := string(raw)

	for _, group := range GroupsFor(env.Kind) {
		queueURL, err := b.cfg.QueueURL(group)
		if err != nil {
			return err
		}
		in := &sqs.SendMessageInput{
			QueueUrl:    aws.String(queueURL),
			MessageBody: aws.String(body),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"kind": {DataType: aws.String("String"), StringValue: aws.String(string(env.Kind))},
			},
		}
		if strings.HasSuffix(queueURL, ".fifo") {
			in.MessageGroupId = aws.String(env.JobID.String())
			in.MessageDeduplicationId = aws.String(env.ID)
		}
		_, err = b.client.SendMessage(ctx, in)
		recordPublish(ctx, "sqs", env.Kind, err)
		if err != nil {
			return fmt.Errorf("sqs publish %s to %s: %w", env.Kind, group, err)
		}
	}
	return nil
}

func (b *SQSBus) Subscribe(group string, h Handler) error {
	if err := validGroup(group); err != nil {
		return err
	}
	if _, ok := b.subs[group]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, group)
	}
	if _, err := b.cfg.QueueURL(group); err != nil {
		return err
	}
	b.subs[group] = &dispatcher{transport: "sqs", group: group, handler: h, opts: b.opts}
	return nil
}

func (b *SQSBus) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for group, d := range b.subs {
		queueURL, err := b.cfg.QueueURL(group)
		if err != nil {
			return err
		}
		g.Go(func() error {
			b.poll(gctx, queueURL, d)
			return nil
		})
	}
	return g.Wait()
}

func (b *SQSBus) poll(ctx context.Context, queueURL string, d *dispatcher) {
	slog.Info("Starting SQS polling loop",
		slog.String("queueURL", queueURL),
		slog.String("group", d.group))

	for {
		select {
		case <-ctx.Done():
			slog.Info("SQS polling loop stopped", slog.String("group", d.group))
			return
		default:
		}

		maxMessages := int32(min(b.opts.Concurrency, 10))
		result, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: maxMessages,
			WaitTimeSeconds:     b.waitSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to receive messages from SQS", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if len(result.Messages) == 0 {
			continue
		}

		b.processMessages(ctx, queueURL, result.Messages, d)
	}
}

// processMessages handles one receive batch with at most Concurrency
// messages in flight. A message is deleted only when the dispatcher
// acknowledges it; otherwise SQS makes it visible again after the
// visibility timeout.
func (b *SQSBus) processMessages(ctx context.Context, queueURL string, messages []types.Message, d *dispatcher) {
	sem := make(chan struct{}, b.opts.Concurrency)
	var wg sync.WaitGroup

	for _, message := range messages {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(msg types.Message) {
			defer wg.Done()
			defer func() { <-sem }()

			if msg.Body == nil {
				slog.Warn("Received SQS message with nil body")
				b.deleteMessage(queueURL, msg)
				return
			}

			if err := d.deliver(ctx, []byte(*msg.Body)); err != nil {
				return
			}
			b.deleteMessage(queueURL, msg)
		}(message)
	}

	wg.Wait()
}

func (b *SQSBus) deleteMessage(queueURL string, msg types.Message) {
	// Separate context so the delete completes even during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		slog.Error("Failed to delete SQS message",
			slog.Any("error", err),
			slog.String("messageId", aws.ToString(msg.MessageId)))
	}
}

func (b *SQSBus) Close() error {
	return nil
}
