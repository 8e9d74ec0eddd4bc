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
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		MaxAttempts: 3,
		Concurrency: 1,
		NewBackOff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}

type recorder struct {
	mu   sync.Mutex
	seen []Envelope
	ch   chan Envelope
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Envelope, 16)}
}

func (r *recorder) handle(_ context.Context, env Envelope) error {
	r.mu.Lock()
	r.seen = append(r.seen, env)
	r.mu.Unlock()
	r.ch <- env
	return nil
}

func (r *recorder) next(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-r.ch:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Envelope{}
	}
}

func mustEnvelope(t *testing.T, kind Kind, payload any) Envelope {
	t.Helper()
	env, err := NewEnvelope(kind, uuid.New(), uuid.New(), payload)
	require.NoError(t, err)
	return env
}

func runBus(t *testing.T, b Bus) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestMemoryBusFansOutByGroup(t *testing.T) {
	b := NewMemoryBus(testOptions())
	orch := newRecorder()
	worker := newRecorder()
	require.NoError(t, b.Subscribe("orchestrator", orch.handle))
	require.NoError(t, b.Subscribe("worker", worker.handle))
	runBus(t, b)

	req := mustEnvelope(t, KindAnalysisRequested, AnalysisRequested{StorageKey: "k"})
	require.NoError(t, b.Publish(context.Background(), req))
	assert.Equal(t, req.ID, orch.next(t).ID)
	assert.Equal(t, req.ID, worker.next(t).ID)

	done := mustEnvelope(t, KindAnalysisCompleted, AnalysisCompleted{ResultKey: "r"})
	require.NoError(t, b.Publish(context.Background(), done))
	assert.Equal(t, done.ID, orch.next(t).ID)

	select {
	case env := <-worker.ch:
		t.Fatalf("worker received %s", env.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusRetriesUntilSuccess(t *testing.T) {
	b := NewMemoryBus(testOptions())
	var mu sync.Mutex
	calls := 0
	handled := make(chan struct{})
	require.NoError(t, b.Subscribe("orchestrator", func(context.Context, Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		close(handled)
		return nil
	}))
	runBus(t, b)

	require.NoError(t, b.Publish(context.Background(), mustEnvelope(t, KindAnalysisFailed, AnalysisFailed{})))
	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never succeeded")
	}
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestMemoryBusDropsAfterMaxAttempts(t *testing.T) {
	b := NewMemoryBus(testOptions())
	poison := mustEnvelope(t, KindAnalysisCompleted, AnalysisCompleted{})
	good := mustEnvelope(t, KindAnalysisCompleted, AnalysisCompleted{})

	var mu sync.Mutex
	poisonCalls := 0
	rec := newRecorder()
	require.NoError(t, b.Subscribe("orchestrator", func(ctx context.Context, env Envelope) error {
		if env.ID == poison.ID {
			mu.Lock()
			poisonCalls++
			mu.Unlock()
			return errors.New("always fails")
		}
		return rec.handle(ctx, env)
	}))
	runBus(t, b)

	require.NoError(t, b.Publish(context.Background(), poison))
	require.NoError(t, b.Publish(context.Background(), good))

	assert.Equal(t, good.ID, rec.next(t).ID)
	mu.Lock()
	assert.Equal(t, 3, poisonCalls)
	mu.Unlock()
}

func TestMemoryBusSubscribeErrors(t *testing.T) {
	b := NewMemoryBus(testOptions())
	require.NoError(t, b.Subscribe("worker", newRecorder().handle))
	assert.ErrorIs(t, b.Subscribe("worker", newRecorder().handle), ErrAlreadySubscribed)
	assert.Error(t, b.Subscribe("auditor", newRecorder().handle))
}

func TestMemoryBusPublishAfterClose(t *testing.T) {
	b := NewMemoryBus(testOptions())
	require.NoError(t, b.Close())
	err := b.Publish(context.Background(), mustEnvelope(t, KindAnalysisRequested, AnalysisRequested{}))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcherLeavesMessageOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{
		transport: "test",
		group:     "worker",
		opts:      testOptions().withDefaults(),
		handler: func(ctx context.Context, _ Envelope) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		},
	}
	raw, err := mustEnvelope(t, KindAnalysisRequested, AnalysisRequested{}).Marshal()
	require.NoError(t, err)

	assert.ErrorIs(t, d.deliver(ctx, raw), context.Canceled)
}

func TestDispatcherAcksUndecodable(t *testing.T) {
	called := false
	d := &dispatcher{
		group: "orchestrator",
		opts:  testOptions().withDefaults(),
		handler: func(context.Context, Envelope) error {
			called = true
			return nil
		},
	}
	assert.NoError(t, d.deliver(context.Background(), []byte(`{"version":9}`)))
	assert.False(t, called)
}
