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

package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/wsirunner/internal/logctx"
	"github.com/cardinalhq/wsirunner/internal/objstore"
	"github.com/cardinalhq/wsirunner/wsidb"
)

type OrphanStore interface {
	ListTenantsWithOrphanUploads(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	ListOrphanUploads(ctx context.Context, arg wsidb.ListOrphanUploadsParams) ([]wsidb.WsiUpload, error)
	DeleteOrphanUploadBatch(ctx context.Context, batches []wsidb.DeleteOrphanUploadsParams) ([]wsidb.DeleteOrphanUploadsRow, error)
}

// ReclaimOrphans removes uploads still uploading after threshold. Rows are
// deleted first, in one commit, and objects are then deleted best-effort
// only for the rows that commit actually removed. An upload confirmed
// after it was listed keeps both its row and its object. A failed object
// delete is reported but does not stop the sweep. It returns the number of
// rows removed.
func ReclaimOrphans(ctx context.Context, store OrphanStore, gateway objstore.Gateway, threshold time.Duration, batch int) (int, error) {
	ll := logctx.FromContext(ctx)
	cutoff := time.Now().Add(-threshold)

	tenants, err := store.ListTenantsWithOrphanUploads(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list tenants with orphans: %w", err)
	}
	if len(tenants) == 0 {
		return 0, nil
	}

	var errs *multierror.Error
	var batches []wsidb.DeleteOrphanUploadsParams
	remaining := batch
	for _, tenantID := range tenants {
		if remaining <= 0 {
			break
		}
		rows, err := store.ListOrphanUploads(ctx, wsidb.ListOrphanUploadsParams{
			TenantID: tenantID,
			Cutoff:   cutoff,
			MaxRows:  int32(remaining),
		})
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("list orphans for tenant %s: %w", tenantID, err))
			continue
		}
		if len(rows) == 0 {
			continue
		}
		remaining -= len(rows)

		ids := make([]uuid.UUID, 0, len(rows))
		for _, u := range rows {
			ids = append(ids, u.ID)
		}
		batches = append(batches, wsidb.DeleteOrphanUploadsParams{
			TenantID: tenantID,
			Ids:      ids,
			Cutoff:   cutoff,
		})
	}

	if len(batches) == 0 {
		return 0, errs.ErrorOrNil()
	}
	deleted, err := store.DeleteOrphanUploadBatch(ctx, batches)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("delete orphan rows: %w", err))
		return 0, errs.ErrorOrNil()
	}

	for _, row := range deleted {
		if err := deleteObject(ctx, gateway, row); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	n := int64(len(deleted))
	orphanCounter.Add(ctx, n, metric.WithAttributes(attribute.String("status", "deleted")))
	if n > 0 {
		ll.Info("Reclaimed orphan uploads", slog.Int64("count", n), slog.Int("tenants", len(batches)))
	}
	return len(deleted), errs.ErrorOrNil()
}

func deleteObject(ctx context.Context, gateway objstore.Gateway, row wsidb.DeleteOrphanUploadsRow) error {
	if !gateway.Configured() {
		return nil
	}
	if err := gateway.Delete(ctx, row.StorageKey); err != nil {
		orphanCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "object_delete_failed")))
		logctx.FromContext(ctx).Warn("Failed to delete orphan object",
			slog.String("upload_id", row.ID.String()),
			slog.String("key", row.StorageKey),
			slog.Any("error", err))
		return fmt.Errorf("delete object for upload %s: %w", row.ID, err)
	}
	return nil
}
