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

package uploads

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/wsirunner/config"
	"github.com/cardinalhq/wsirunner/internal/objstore"
	"github.com/cardinalhq/wsirunner/internal/objstore/objstoretest"
	"github.com/cardinalhq/wsirunner/internal/wsierr"
	"github.com/cardinalhq/wsirunner/wsidb"
	"github.com/cardinalhq/wsirunner/wsidb/wsidbtest"
)

type fixture struct {
	store   *wsidbtest.Store
	gateway *objstoretest.Fake
	reg     *Registry
	tenant  uuid.UUID
	user    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   wsidbtest.New(),
		gateway: objstoretest.New(),
		tenant:  uuid.New(),
		user:    uuid.New(),
	}
	cfg := config.DefaultConfig().Uploads
	cfg.MaxOutstandingPerUser = 2
	f.reg = NewRegistry(f.store, f.gateway, cfg)
	return f
}

func slideRequest() UploadRequest {
	return UploadRequest{
		FileName:      "slide.svs",
		ContentType:   "application/octet-stream",
		FileSizeBytes: 2 << 30,
	}
}

func TestRequestUpload(t *testing.T) {
	f := newFixture(t)

	ticket, err := f.reg.RequestUpload(context.Background(), f.tenant, f.user, slideRequest())
	require.NoError(t, err)
	assert.Equal(t, StorageKey(f.tenant, f.user, ticket.UploadID, "slide.svs"), ticket.Key)
	assert.Equal(t, "https://storage.test/put/"+ticket.Key, ticket.URL)

	row, ok := f.store.Upload(ticket.UploadID)
	require.True(t, ok)
	assert.Equal(t, wsidb.UploadStatusUploading, row.Status)
	assert.Equal(t, f.tenant, row.TenantID)
	assert.Equal(t, int64(2<<30), row.FileSizeBytes)
}

func TestRequestUploadValidation(t *testing.T) {
	f := newFixture(t)
	req := slideRequest()
	req.FileSizeBytes = config.DefaultConfig().Uploads.MaxFileSizeBytes + 1

	_, err := f.reg.RequestUpload(context.Background(), f.tenant, f.user, req)
	assert.True(t, wsierr.IsValidation(err))
	assert.Zero(t, f.store.UploadCount())
	assert.Empty(t, f.gateway.Presigned)
}

func TestRequestUploadQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 2 {
		_, err := f.reg.RequestUpload(ctx, f.tenant, f.user, slideRequest())
		require.NoError(t, err)
	}
	_, err := f.reg.RequestUpload(ctx, f.tenant, f.user, slideRequest())
	assert.True(t, wsierr.IsQuotaExceeded(err))
	assert.Equal(t, 2, f.store.UploadCount())

	// Another user in the same tenant has their own quota.
	_, err = f.reg.RequestUpload(ctx, f.tenant, uuid.New(), slideRequest())
	assert.NoError(t, err)
}

func TestRequestUploadStorageUnconfigured(t *testing.T) {
	store := wsidbtest.New()
	reg := NewRegistry(store, objstore.Unconfigured{}, config.DefaultConfig().Uploads)

	_, err := reg.RequestUpload(context.Background(), uuid.New(), uuid.New(), slideRequest())
	assert.True(t, wsierr.IsStorageUnavailable(err))
	assert.Zero(t, store.UploadCount())
}

func TestConfirmBeforeObjectExistsDeletesRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket, err := f.reg.RequestUpload(ctx, f.tenant, f.user, slideRequest())
	require.NoError(t, err)

	_, err = f.reg.ConfirmUpload(ctx, ticket.UploadID, f.tenant, f.user)
	assert.True(t, wsierr.IsNotFound(err))

	_, ok := f.store.Upload(ticket.UploadID)
	assert.False(t, ok)
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket, err := f.reg.RequestUpload(ctx, f.tenant, f.user, slideRequest())
	require.NoError(t, err)
	f.gateway.Store(ticket.Key, []byte("slide"))

	first, err := f.reg.ConfirmUpload(ctx, ticket.UploadID, f.tenant, f.user)
	require.NoError(t, err)
	assert.Equal(t, wsidb.UploadStatusReady, first.Status)

	// Removing the object afterwards does not change a ready upload.
	f.gateway.Objects = map[string][]byte{}
	second, err := f.reg.ConfirmUpload(ctx, ticket.UploadID, f.tenant, f.user)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, f.gateway.ExistsCalls, 1)
}

func TestConfirmScopedToTenantAndUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket, err := f.reg.RequestUpload(ctx, f.tenant, f.user, slideRequest())
	require.NoError(t, err)
	f.gateway.Store(ticket.Key, []byte("slide"))

	_, err = f.reg.ConfirmUpload(ctx, ticket.UploadID, uuid.New(), f.user)
	assert.True(t, wsierr.IsNotFound(err))

	_, err = f.reg.ConfirmUpload(ctx, ticket.UploadID, f.tenant, uuid.New())
	assert.True(t, wsierr.IsNotFound(err))

	row, ok := f.store.Upload(ticket.UploadID)
	require.True(t, ok)
	assert.Equal(t, wsidb.UploadStatusUploading, row.Status)
}

func TestConfirmStorageError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket, err := f.reg.RequestUpload(ctx, f.tenant, f.user, slideRequest())
	require.NoError(t, err)
	f.gateway.ExistsErr = errors.New("timeout")

	_, err = f.reg.ConfirmUpload(ctx, ticket.UploadID, f.tenant, f.user)
	assert.ErrorContains(t, err, "timeout")
	_, ok := f.store.Upload(ticket.UploadID)
	assert.True(t, ok)
}

func TestGetAndListScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket, err := f.reg.RequestUpload(ctx, f.tenant, f.user, slideRequest())
	require.NoError(t, err)

	got, err := f.reg.GetUpload(ctx, ticket.UploadID, f.tenant)
	require.NoError(t, err)
	assert.Equal(t, ticket.Key, got.StorageKey)

	_, err = f.reg.GetUpload(ctx, ticket.UploadID, uuid.New())
	assert.True(t, wsierr.IsNotFound(err))

	list, err := f.reg.ListUploads(ctx, f.tenant, f.user)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = f.reg.ListUploads(ctx, uuid.New(), f.user)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDownloadURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket, err := f.reg.RequestUpload(ctx, f.tenant, f.user, slideRequest())
	require.NoError(t, err)

	_, err = f.reg.DownloadURL(ctx, ticket.UploadID, f.tenant)
	assert.True(t, wsierr.IsInvalidState(err))

	f.gateway.Store(ticket.Key, []byte("slide"))
	_, err = f.reg.ConfirmUpload(ctx, ticket.UploadID, f.tenant, f.user)
	require.NoError(t, err)

	url, err := f.reg.DownloadURL(ctx, ticket.UploadID, f.tenant)
	require.NoError(t, err)
	assert.Equal(t, "https://storage.test/get/"+ticket.Key, url)
}
