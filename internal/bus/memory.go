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
	"sync"

	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("bus closed")

// MemoryBus delivers events between goroutines of one process. Each
// subscribed group has its own queue, so every group sees every event it
// consumes.
type MemoryBus struct {
	opts Options

	mu     sync.RWMutex
	queues map[string]chan []byte
	subs   map[string]*dispatcher
	closed bool
}

var _ Bus = (*MemoryBus)(nil)

const memoryQueueDepth = 1024

func NewMemoryBus(opts Options) *MemoryBus {
	return &MemoryBus{
		opts:   opts.withDefaults(),
		queues: map[string]chan []byte{},
		subs:   map[string]*dispatcher{},
	}
}

func (b *MemoryBus) Subscribe(group string, h Handler) error {
	if err := validGroup(group); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[group]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, group)
	}
	b.subs[group] = &dispatcher{transport: "memory", group: group, handler: h, opts: b.opts}
	b.queueLocked(group)
	return nil
}

func (b *MemoryBus) queueLocked(group string) chan []byte {
	q, ok := b.queues[group]
	if !ok {
		q = make(chan []byte, memoryQueueDepth)
		b.queues[group] = q
	}
	return q
}

// Publish enqueues env for every group that consumes its kind. It blocks
// while a queue is full.
func (b *MemoryBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		recordPublish(ctx, "memory", env.Kind, ErrClosed)
		return ErrClosed
	}
	var targets []chan []byte
	for _, g := range GroupsFor(env.Kind) {
		targets = append(targets, b.queueLocked(g))
	}
	b.mu.Unlock()

	for _, q := range targets {
		select {
		case q <- raw:
		case <-ctx.Done():
			recordPublish(ctx, "memory", env.Kind, ctx.Err())
			return ctx.Err()
		}
	}
	recordPublish(ctx, "memory", env.Kind, nil)
	return nil
}

func (b *MemoryBus) Run(ctx context.Context) error {
	b.mu.RLock()
	g, gctx := errgroup.WithContext(ctx)
	for group, d := range b.subs {
		q := b.queues[group]
		for range b.opts.Concurrency {
			g.Go(func() error {
				return b.consume(gctx, q, d)
			})
		}
	}
	b.mu.RUnlock()

	<-gctx.Done()
	return g.Wait()
}

func (b *MemoryBus) consume(ctx context.Context, q chan []byte, d *dispatcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw := <-q:
			if err := d.deliver(ctx, raw); err != nil {
				// Shutting down mid-delivery. Put the event back so a
				// later Run in this process can still see it.
				select {
				case q <- raw:
				default:
				}
				return nil
			}
		}
	}
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
