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

// Package uploads tracks slide uploads from presigned-URL issuance through
// confirmation in object storage.
package uploads

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/wsirunner/config"
	"github.com/cardinalhq/wsirunner/internal/logctx"
	"github.com/cardinalhq/wsirunner/internal/objstore"
	"github.com/cardinalhq/wsirunner/internal/wsierr"
	"github.com/cardinalhq/wsirunner/wsidb"
)

// Store is the subset of wsidb the registry needs.
type Store interface {
	InsertUploadWithQuota(ctx context.Context, arg wsidb.InsertUploadParams, limit int) (wsidb.WsiUpload, error)
	GetUpload(ctx context.Context, arg wsidb.GetUploadParams) (wsidb.WsiUpload, error)
	ListUploads(ctx context.Context, arg wsidb.ListUploadsParams) ([]wsidb.WsiUpload, error)
	MarkUploadReady(ctx context.Context, arg wsidb.MarkUploadReadyParams) (wsidb.WsiUpload, error)
	DeleteUploadingUpload(ctx context.Context, arg wsidb.DeleteUploadingUploadParams) (int64, error)
}

var (
	requestedCounter otelmetric.Int64Counter
	confirmedCounter otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/wsirunner/internal/uploads")

	var err error
	requestedCounter, err = meter.Int64Counter(
		"wsirunner.uploads.requested",
		otelmetric.WithDescription("Upload URL requests, by result"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create uploads.requested counter: %w", err))
	}

	confirmedCounter, err = meter.Int64Counter(
		"wsirunner.uploads.confirmed",
		otelmetric.WithDescription("Upload confirmations, by result"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create uploads.confirmed counter: %w", err))
	}
}

// UploadRequest is what a client declares before transferring bytes.
type UploadRequest struct {
	FileName      string
	ContentType   string
	FileSizeBytes int64
}

// Ticket is the result of RequestUpload.
type Ticket struct {
	URL      string
	Key      string
	UploadID uuid.UUID
}

type Registry struct {
	store   Store
	gateway objstore.Gateway
	cfg     config.UploadsConfig
	newID   func() uuid.UUID
}

func NewRegistry(store Store, gateway objstore.Gateway, cfg config.UploadsConfig) *Registry {
	return &Registry{
		store:   store,
		gateway: gateway,
		cfg:     cfg,
		newID:   uuid.New,
	}
}

// RequestUpload validates req, signs a PUT URL and records the upload as
// uploading. The row exists from this point on, whether or not the client
// ever transfers the bytes.
func (r *Registry) RequestUpload(ctx context.Context, tenantID, userID uuid.UUID, req UploadRequest) (Ticket, error) {
	ticket, err := r.requestUpload(ctx, tenantID, userID, req)
	requestedCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", resultLabel(err))))
	return ticket, err
}

func (r *Registry) requestUpload(ctx context.Context, tenantID, userID uuid.UUID, req UploadRequest) (Ticket, error) {
	if err := validateFileName(req.FileName, r.cfg.MaxFileNameLength); err != nil {
		return Ticket{}, err
	}
	if err := validateContentType(req.ContentType); err != nil {
		return Ticket{}, err
	}
	if err := validateSize(req.FileSizeBytes, r.cfg.MaxFileSizeBytes); err != nil {
		return Ticket{}, err
	}
	if !r.gateway.Configured() {
		return Ticket{}, wsierr.ErrStorageUnavailable
	}

	id := r.newID()
	key := StorageKey(tenantID, userID, id, req.FileName)

	url, err := r.gateway.PresignPut(ctx, key, req.ContentType, req.FileSizeBytes)
	if err != nil {
		return Ticket{}, fmt.Errorf("presign upload: %w", err)
	}

	_, err = r.store.InsertUploadWithQuota(ctx, wsidb.InsertUploadParams{
		ID:            id,
		TenantID:      tenantID,
		UserID:        userID,
		StorageKey:    key,
		FileName:      req.FileName,
		ContentType:   req.ContentType,
		FileSizeBytes: req.FileSizeBytes,
	}, r.cfg.MaxOutstandingPerUser)
	if err != nil {
		if wsierr.IsQuotaExceeded(err) {
			return Ticket{}, err
		}
		return Ticket{}, fmt.Errorf("record upload: %w", err)
	}

	logctx.FromContext(ctx).Info("Upload URL issued",
		slog.String("upload_id", id.String()),
		slog.String("key", key),
		slog.Int64("size", req.FileSizeBytes))

	return Ticket{URL: url, Key: key, UploadID: id}, nil
}

// ConfirmUpload marks the upload ready once its object exists. Confirming a
// ready upload returns it without touching storage. If the object is
// missing the row is deleted and NotFound is returned. Only the uploading
// user may confirm.
func (r *Registry) ConfirmUpload(ctx context.Context, id, tenantID, userID uuid.UUID) (wsidb.WsiUpload, error) {
	up, err := r.confirmUpload(ctx, id, tenantID, userID)
	confirmedCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", resultLabel(err))))
	return up, err
}

func (r *Registry) confirmUpload(ctx context.Context, id, tenantID, userID uuid.UUID) (wsidb.WsiUpload, error) {
	up, err := r.GetUpload(ctx, id, tenantID)
	if err != nil {
		return wsidb.WsiUpload{}, err
	}
	if up.UserID != userID {
		return wsidb.WsiUpload{}, wsierr.NotFound("upload")
	}
	if up.Status == wsidb.UploadStatusReady {
		return up, nil
	}

	exists, err := r.gateway.Exists(ctx, up.StorageKey)
	if err != nil {
		return wsidb.WsiUpload{}, fmt.Errorf("check upload object: %w", err)
	}

	ll := logctx.FromContext(ctx).With(slog.String("upload_id", id.String()))

	if !exists {
		if _, err := r.store.DeleteUploadingUpload(ctx, wsidb.DeleteUploadingUploadParams{
			ID:       id,
			TenantID: tenantID,
			UserID:   userID,
		}); err != nil {
			return wsidb.WsiUpload{}, fmt.Errorf("delete unconfirmed upload: %w", err)
		}
		ll.Info("Upload object missing at confirm, upload removed", slog.String("key", up.StorageKey))
		return wsidb.WsiUpload{}, wsierr.NotFound("upload")
	}

	ready, err := r.store.MarkUploadReady(ctx, wsidb.MarkUploadReadyParams{
		ID:       id,
		TenantID: tenantID,
		UserID:   userID,
	})
	if wsidb.IsNoRows(err) {
		// A concurrent confirm won; report whatever it left behind.
		return r.GetUpload(ctx, id, tenantID)
	}
	if err != nil {
		return wsidb.WsiUpload{}, fmt.Errorf("mark upload ready: %w", err)
	}
	ll.Info("Upload confirmed")
	return ready, nil
}

func (r *Registry) GetUpload(ctx context.Context, id, tenantID uuid.UUID) (wsidb.WsiUpload, error) {
	up, err := r.store.GetUpload(ctx, wsidb.GetUploadParams{ID: id, TenantID: tenantID})
	if wsidb.IsNoRows(err) {
		return wsidb.WsiUpload{}, wsierr.NotFound("upload")
	}
	if err != nil {
		return wsidb.WsiUpload{}, fmt.Errorf("get upload: %w", err)
	}
	return up, nil
}

// ListUploads returns the user's uploads in the tenant, newest first.
func (r *Registry) ListUploads(ctx context.Context, tenantID, userID uuid.UUID) ([]wsidb.WsiUpload, error) {
	ups, err := r.store.ListUploads(ctx, wsidb.ListUploadsParams{TenantID: tenantID, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return ups, nil
}

// DownloadURL signs a GET for a ready upload's object.
func (r *Registry) DownloadURL(ctx context.Context, id, tenantID uuid.UUID) (string, error) {
	up, err := r.GetUpload(ctx, id, tenantID)
	if err != nil {
		return "", err
	}
	if up.Status != wsidb.UploadStatusReady {
		return "", wsierr.NewInvalidState("upload", string(up.Status), string(wsidb.UploadStatusReady))
	}
	url, err := r.gateway.PresignGet(ctx, up.StorageKey)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return url, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case wsierr.IsValidation(err):
		return "invalid"
	case wsierr.IsQuotaExceeded(err):
		return "quota"
	case wsierr.IsNotFound(err):
		return "not_found"
	case wsierr.IsStorageUnavailable(err):
		return "storage_unavailable"
	default:
		return "error"
	}
}
