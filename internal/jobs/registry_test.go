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

package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/wsirunner/internal/bus"
	"github.com/cardinalhq/wsirunner/internal/objstore/objstoretest"
	"github.com/cardinalhq/wsirunner/internal/wsierr"
	"github.com/cardinalhq/wsirunner/wsidb"
	"github.com/cardinalhq/wsirunner/wsidb/wsidbtest"
)

type capturePublisher struct {
	mu   sync.Mutex
	sent []bus.Envelope
	err  error
}

func (p *capturePublisher) Publish(_ context.Context, env bus.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, env)
	return nil
}

func seedUpload(store *wsidbtest.Store, tenant uuid.UUID, status wsidb.UploadStatus) wsidb.WsiUpload {
	up := wsidb.WsiUpload{
		ID:            uuid.New(),
		TenantID:      tenant,
		UserID:        uuid.New(),
		StorageKey:    "wsi/t/u/id/slide.svs",
		FileName:      "slide.svs",
		ContentType:   "application/octet-stream",
		FileSizeBytes: 100,
		Status:        status,
		CreatedAt:     time.Now(),
	}
	store.PutUpload(up)
	return up
}

func TestRequestAnalysisPublishesAfterCommit(t *testing.T) {
	store := wsidbtest.New()
	pub := &capturePublisher{}
	reg := NewRegistry(store, pub, objstoretest.New())
	tenant, user := uuid.New(), uuid.New()
	up := seedUpload(store, tenant, wsidb.UploadStatusReady)

	job, err := reg.RequestAnalysis(context.Background(), up.ID, tenant, user)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, up.StorageKey, job.SourceKey)

	require.Len(t, pub.sent, 1)
	env := pub.sent[0]
	assert.Equal(t, bus.KindAnalysisRequested, env.Kind)
	assert.Equal(t, job.ID, env.JobID)
	assert.Equal(t, tenant, env.TenantID)

	var req bus.AnalysisRequested
	require.NoError(t, env.Decode(&req))
	assert.Equal(t, up.ID, req.UploadID)
	assert.Equal(t, user, req.RequesterID)
	assert.Equal(t, up.StorageKey, req.StorageKey)

	outbox := store.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, env.ID, outbox[0].EventID)
	assert.NotNil(t, outbox[0].PublishedAt)
}

func TestRequestAnalysisPublishFailureLeavesOutboxRow(t *testing.T) {
	store := wsidbtest.New()
	pub := &capturePublisher{err: errors.New("broker down")}
	reg := NewRegistry(store, pub, objstoretest.New())
	tenant := uuid.New()
	up := seedUpload(store, tenant, wsidb.UploadStatusReady)

	job, err := reg.RequestAnalysis(context.Background(), up.ID, tenant, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)

	outbox := store.Outbox()
	require.Len(t, outbox, 1)
	assert.Nil(t, outbox[0].PublishedAt)
	require.NotNil(t, outbox[0].LastError)
	assert.Equal(t, "broker down", *outbox[0].LastError)
}

func TestRequestAnalysisRequiresReadyUpload(t *testing.T) {
	store := wsidbtest.New()
	pub := &capturePublisher{}
	reg := NewRegistry(store, pub, objstoretest.New())
	tenant := uuid.New()
	up := seedUpload(store, tenant, wsidb.UploadStatusUploading)

	_, err := reg.RequestAnalysis(context.Background(), up.ID, tenant, uuid.New())
	assert.True(t, wsierr.IsInvalidState(err))
	assert.Zero(t, store.JobCount())
	assert.Empty(t, pub.sent)
	assert.Empty(t, store.Outbox())
}

func TestRequestAnalysisOtherTenantIsNotFound(t *testing.T) {
	store := wsidbtest.New()
	reg := NewRegistry(store, &capturePublisher{}, objstoretest.New())
	up := seedUpload(store, uuid.New(), wsidb.UploadStatusReady)

	_, err := reg.RequestAnalysis(context.Background(), up.ID, uuid.New(), uuid.New())
	assert.True(t, wsierr.IsNotFound(err))
	assert.Zero(t, store.JobCount())
}

func TestGetAndListJobs(t *testing.T) {
	store := wsidbtest.New()
	reg := NewRegistry(store, &capturePublisher{}, objstoretest.New())
	tenant, user := uuid.New(), uuid.New()
	up := seedUpload(store, tenant, wsidb.UploadStatusReady)
	ctx := context.Background()

	job, err := reg.RequestAnalysis(ctx, up.ID, tenant, user)
	require.NoError(t, err)

	got, err := reg.GetJob(ctx, job.ID, tenant)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = reg.GetJob(ctx, job.ID, uuid.New())
	assert.True(t, wsierr.IsNotFound(err))

	list, err := reg.ListJobs(ctx, tenant, user, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestResultURL(t *testing.T) {
	store := wsidbtest.New()
	gw := objstoretest.New()
	reg := NewRegistry(store, &capturePublisher{}, gw)
	tenant := uuid.New()
	ctx := context.Background()

	job := wsidb.WsiJob{ID: uuid.New(), TenantID: tenant, Status: StatusProcessing}
	store.PutJob(job)
	_, err := reg.ResultURL(ctx, job.ID, tenant)
	assert.True(t, wsierr.IsInvalidState(err))

	key := "results/t/j/analysis.json"
	now := time.Now()
	job.Status = StatusCompleted
	job.ResultKey = &key
	job.CompletedAt = &now
	store.PutJob(job)

	_, err = reg.ResultURL(ctx, job.ID, tenant)
	assert.True(t, wsierr.IsNotFound(err), "completed without a written document")
	assert.Empty(t, gw.Presigned)

	gw.Store(key, []byte(`{}`))
	url, err := reg.ResultURL(ctx, job.ID, tenant)
	require.NoError(t, err)
	assert.Equal(t, "https://storage.test/get/"+key, url)

	gw.ExistsErr = wsierr.ErrStorageUnavailable
	_, err = reg.ResultURL(ctx, job.ID, tenant)
	assert.True(t, wsierr.IsStorageUnavailable(err))
}
