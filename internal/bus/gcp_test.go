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
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cardinalhq/wsirunner/config"
)

func newTestGCPBus(t *testing.T) *GCPBus {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	cfg := config.DefaultBusConfig()
	cfg.Type = config.BusTypeGCP
	cfg.GCP.ProjectID = "wsi-test"

	b, err := NewGCPBus(context.Background(), cfg, testOptions(), option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.EnsureTopology(context.Background()))
	return b
}

func TestGCPBusDeliversToEachSubscription(t *testing.T) {
	b := newTestGCPBus(t)
	orch := newRecorder()
	worker := newRecorder()
	require.NoError(t, b.Subscribe("orchestrator", orch.handle))
	require.NoError(t, b.Subscribe("worker", worker.handle))
	runBus(t, b)

	req := mustEnvelope(t, KindAnalysisRequested, AnalysisRequested{StorageKey: "wsi/k"})
	require.NoError(t, b.Publish(context.Background(), req))

	got := orch.next(t)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, req.TenantID, got.TenantID)
	assert.Equal(t, req.ID, worker.next(t).ID)

	// The worker subscription sees outcome events but drops them.
	done := mustEnvelope(t, KindAnalysisCompleted, AnalysisCompleted{ResultKey: "r"})
	require.NoError(t, b.Publish(context.Background(), done))
	assert.Equal(t, done.ID, orch.next(t).ID)
	select {
	case env := <-worker.ch:
		t.Fatalf("worker received %s", env.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGCPBusEnsureTopologyIsIdempotent(t *testing.T) {
	b := newTestGCPBus(t)
	require.NoError(t, b.EnsureTopology(context.Background()))
	assert.Equal(t, "wsirunner-worker", b.subscriptionID("worker"))
}
