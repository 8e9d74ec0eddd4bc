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

// Package httpapi is the JSON HTTP surface for uploads and analysis jobs.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cardinalhq/wsirunner/internal/logctx"
	"github.com/cardinalhq/wsirunner/internal/uploads"
	"github.com/cardinalhq/wsirunner/wsidb"
)

// UploadService is the upload registry as seen by the API.
type UploadService interface {
	RequestUpload(ctx context.Context, tenantID, userID uuid.UUID, req uploads.UploadRequest) (uploads.Ticket, error)
	ConfirmUpload(ctx context.Context, id, tenantID, userID uuid.UUID) (wsidb.WsiUpload, error)
	GetUpload(ctx context.Context, id, tenantID uuid.UUID) (wsidb.WsiUpload, error)
	ListUploads(ctx context.Context, tenantID, userID uuid.UUID) ([]wsidb.WsiUpload, error)
	DownloadURL(ctx context.Context, id, tenantID uuid.UUID) (string, error)
}

// JobService is the job registry as seen by the API.
type JobService interface {
	RequestAnalysis(ctx context.Context, uploadID, tenantID, userID uuid.UUID) (wsidb.WsiJob, error)
	GetJob(ctx context.Context, id, tenantID uuid.UUID) (wsidb.WsiJob, error)
	ListJobs(ctx context.Context, tenantID, userID uuid.UUID, limit int) ([]wsidb.WsiJob, error)
	ResultURL(ctx context.Context, id, tenantID uuid.UUID) (string, error)
}

type Deps struct {
	Uploads        UploadService
	Jobs           JobService
	JWTSecret      []byte
	RequestTimeout time.Duration
}

type api struct {
	uploads UploadService
	jobs    JobService
}

// NewRouter builds the handler for every /wsi route.
func NewRouter(deps Deps) http.Handler {
	a := &api{uploads: deps.Uploads, jobs: deps.Jobs}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if deps.RequestTimeout > 0 {
		r.Use(middleware.Timeout(deps.RequestTimeout))
	}

	r.Route("/wsi", func(r chi.Router) {
		r.Use(authenticate(deps.JWTSecret))
		r.Use(requestLogger)

		r.Post("/upload-url", a.handleUploadURL)
		r.Get("/uploads", a.handleListUploads)
		r.Get("/uploads/{id}", a.handleGetUpload)
		r.Post("/uploads/{id}/confirm", a.handleConfirmUpload)
		r.Get("/uploads/{id}/download-url", a.handleDownloadURL)
		r.Post("/uploads/{id}/analyze", a.handleAnalyze)

		r.Get("/jobs", a.handleListJobs)
		r.Get("/jobs/{id}", a.handleGetJob)
		r.Get("/jobs/{id}/result-url", a.handleResultURL)
	})

	return otelhttp.NewHandler(r, "wsirunner.api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// requestLogger puts a logger tagged with the caller and request id into
// the request context.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		args := []any{slog.String("request_id", middleware.GetReqID(r.Context()))}
		if p, ok := PrincipalFromContext(r.Context()); ok {
			args = append(args, slog.String("tenant_id", p.TenantID.String()))
		}
		ctx, ll := logctx.With(r.Context(), args...)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		ll.Debug("Request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)))
	})
}
