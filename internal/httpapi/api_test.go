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

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/wsirunner/config"
	"github.com/cardinalhq/wsirunner/internal/bus"
	"github.com/cardinalhq/wsirunner/internal/jobs"
	"github.com/cardinalhq/wsirunner/internal/objstore"
	"github.com/cardinalhq/wsirunner/internal/objstore/objstoretest"
	"github.com/cardinalhq/wsirunner/internal/uploads"
	"github.com/cardinalhq/wsirunner/wsidb/wsidbtest"
)

var testSecret = []byte("test-secret-key-for-jwt-validation")

type capturePublisher struct {
	mu   sync.Mutex
	sent []bus.Envelope
}

func (p *capturePublisher) Publish(_ context.Context, env bus.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, env)
	return nil
}

type apiFixture struct {
	t       *testing.T
	store   *wsidbtest.Store
	gateway *objstoretest.Fake
	pub     *capturePublisher
	handler http.Handler
	tenant  uuid.UUID
	user    uuid.UUID
	token   string
}

func newAPIFixture(t *testing.T) *apiFixture {
	return newAPIFixtureWithGateway(t, objstoretest.New())
}

func newAPIFixtureWithGateway(t *testing.T, gw objstore.Gateway) *apiFixture {
	t.Helper()
	f := &apiFixture{
		t:      t,
		store:  wsidbtest.New(),
		pub:    &capturePublisher{},
		tenant: uuid.New(),
		user:   uuid.New(),
	}
	if fake, ok := gw.(*objstoretest.Fake); ok {
		f.gateway = fake
	}
	cfg := config.DefaultConfig()
	cfg.Uploads.MaxOutstandingPerUser = 2
	f.handler = NewRouter(Deps{
		Uploads:   uploads.NewRegistry(f.store, gw, cfg.Uploads),
		Jobs:      jobs.NewRegistry(f.store, f.pub, gw),
		JWTSecret: testSecret,
	})
	f.token = f.tokenFor(f.tenant, f.user)
	return f
}

func (f *apiFixture) tokenFor(tenant, user uuid.UUID) string {
	tok, err := NewToken(testSecret, tenant, user, time.Hour)
	require.NoError(f.t, err)
	return tok
}

func (f *apiFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	return f.doAs(f.token, method, path, body)
}

func (f *apiFixture) doAs(token, method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *apiFixture) requestUpload(name string) uploadURLResponse {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/wsi/upload-url", uploadURLRequest{
		FileName:      name,
		ContentType:   "application/octet-stream",
		FileSizeBytes: 2 << 30,
	})
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[uploadURLResponse](f.t, rec)
}

func TestUploadAndAnalyzeFlow(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	ticket := f.requestUpload("slide.svs")
	assert.Equal(t, "wsi/"+f.tenant.String()+"/"+f.user.String()+"/"+ticket.UploadID.String()+"/slide.svs", ticket.Key)
	assert.NotEmpty(t, ticket.URL)

	rec := f.do(http.MethodGet, "/wsi/uploads/"+ticket.UploadID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	up := decode[Upload](t, rec)
	assert.Equal(t, "Uploading", up.Status)
	assert.Equal(t, ticket.Key, up.S3Key)

	rec = f.do(http.MethodPost, "/wsi/uploads/"+ticket.UploadID.String()+"/analyze", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "uploading slides cannot be analyzed")
	assert.Zero(t, f.store.JobCount())

	f.gateway.Store(ticket.Key, []byte("slide"))
	rec = f.do(http.MethodPost, "/wsi/uploads/"+ticket.UploadID.String()+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ready", decode[Upload](t, rec).Status)

	rec = f.do(http.MethodPost, "/wsi/uploads/"+ticket.UploadID.String()+"/analyze", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	job := decode[Job](t, rec)
	assert.Equal(t, "Pending", job.Status)
	assert.Equal(t, ticket.UploadID, job.UploadID)
	assert.Nil(t, job.CompletedAt)

	orch := jobs.NewOrchestrator(f.store)
	defer orch.Close()
	require.Len(t, f.pub.sent, 1)
	require.NoError(t, orch.Handle(ctx, f.pub.sent[0]))

	rec = f.do(http.MethodGet, "/wsi/jobs/"+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Processing", decode[Job](t, rec).Status)

	done, err := bus.NewEnvelope(bus.KindAnalysisCompleted, job.ID, f.tenant, bus.AnalysisCompleted{ResultKey: "results/t1/u1/analysis.json"})
	require.NoError(t, err)
	require.NoError(t, orch.Handle(ctx, done))

	rec = f.do(http.MethodGet, "/wsi/jobs/"+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[Job](t, rec)
	assert.Equal(t, "Completed", got.Status)
	require.NotNil(t, got.ResultKey)
	assert.Equal(t, "results/t1/u1/analysis.json", *got.ResultKey)
	assert.NotNil(t, got.CompletedAt)

	rec = f.do(http.MethodGet, "/wsi/jobs/"+job.ID.String()+"/result-url", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no document written yet")

	f.gateway.Store("results/t1/u1/analysis.json", []byte(`{}`))
	rec = f.do(http.MethodGet, "/wsi/jobs/"+job.ID.String()+"/result-url", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://storage.test/get/results/t1/u1/analysis.json", decode[urlResponse](t, rec).URL)

	rec = f.do(http.MethodGet, "/wsi/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]Job](t, rec), 1)
}

func TestFailedJobIsData(t *testing.T) {
	f := newAPIFixture(t)
	ticket := f.requestUpload("slide.svs")
	f.gateway.Store(ticket.Key, []byte("slide"))
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/wsi/uploads/"+ticket.UploadID.String()+"/confirm", nil).Code)
	job := decode[Job](t, f.do(http.MethodPost, "/wsi/uploads/"+ticket.UploadID.String()+"/analyze", nil))

	orch := jobs.NewOrchestrator(f.store)
	defer orch.Close()
	failed, err := bus.NewEnvelope(bus.KindAnalysisFailed, job.ID, f.tenant, bus.AnalysisFailed{ErrorMessage: "object not found"})
	require.NoError(t, err)
	require.NoError(t, orch.Handle(context.Background(), failed))

	rec := f.do(http.MethodGet, "/wsi/jobs/"+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[Job](t, rec)
	assert.Equal(t, "Failed", got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "object not found", *got.ErrorMessage)

	rec = f.do(http.MethodGet, "/wsi/jobs/"+job.ID.String()+"/result-url", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConfirmMissingObject(t *testing.T) {
	f := newAPIFixture(t)
	ticket := f.requestUpload("slide.svs")

	rec := f.do(http.MethodPost, "/wsi/uploads/"+ticket.UploadID.String()+"/confirm", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrNotFound, decode[APIError](t, rec).Code)

	rec = f.do(http.MethodGet, "/wsi/uploads/"+ticket.UploadID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorStatuses(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/wsi/upload-url", uploadURLRequest{FileName: "../x.svs", ContentType: "application/octet-stream", FileSizeBytes: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/wsi/upload-url", uploadURLRequest{FileName: "a.svs", ContentType: "application/octet-stream", FileSizeBytes: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.requestUpload("a.svs")
	f.requestUpload("b.svs")
	rec = f.do(http.MethodPost, "/wsi/upload-url", uploadURLRequest{FileName: "c.svs", ContentType: "application/octet-stream", FileSizeBytes: 1})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 2, f.store.UploadCount())

	rec = f.do(http.MethodGet, "/wsi/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/wsi/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/wsi/uploads/"+uuid.NewString()+"/analyze", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/wsi/jobs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/wsi/upload-url", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+f.token)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStorageUnconfigured(t *testing.T) {
	f := newAPIFixtureWithGateway(t, objstore.Unconfigured{})

	rec := f.do(http.MethodPost, "/wsi/upload-url", uploadURLRequest{
		FileName:      "slide.svs",
		ContentType:   "application/octet-stream",
		FileSizeBytes: 10,
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ErrStorageUnavailable, decode[APIError](t, rec).Code)
}

func TestTenantIsolation(t *testing.T) {
	f := newAPIFixture(t)
	ticket := f.requestUpload("slide.svs")
	other := f.tokenFor(uuid.New(), f.user)

	rec := f.doAs(other, http.MethodGet, "/wsi/uploads/"+ticket.UploadID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.doAs(other, http.MethodGet, "/wsi/uploads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]Upload](t, rec))

	rec = f.do(http.MethodGet, "/wsi/uploads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]Upload](t, rec), 1)
}

func TestAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	expired, err := NewToken(testSecret, f.tenant, f.user, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := NewToken([]byte("other"), f.tenant, f.user, time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing":   "",
		"garbage":   "not-a-valid-jwt-token",
		"expired":   expired,
		"wrong key": wrongKey,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.doAs(token, http.MethodGet, "/wsi/uploads", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestParseToken(t *testing.T) {
	tenant, user := uuid.New(), uuid.New()
	tok, err := NewToken(testSecret, tenant, user, time.Hour)
	require.NoError(t, err)

	p, err := ParseToken(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, Principal{TenantID: tenant, UserID: user}, p)
}
