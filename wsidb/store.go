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

package wsidb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/wsirunner/internal/wsierr"
)

// StoreFull is the full set of operations available on the wsidb store,
// the generated queries plus the multi-statement transactions below.
type StoreFull interface {
	Querier
	InsertUploadWithQuota(ctx context.Context, arg InsertUploadParams, limit int) (WsiUpload, error)
	CreateJobWithOutbox(ctx context.Context, job InsertJobParams, event InsertOutboxEventParams) (WsiJob, error)
	DeleteOrphanUploadBatch(ctx context.Context, batches []DeleteOrphanUploadsParams) ([]DeleteOrphanUploadsRow, error)
	RelayOutbox(ctx context.Context, arg ClaimUnpublishedOutboxParams, publish OutboxPublishFunc) (int, error)
}

// OutboxPublishFunc delivers one outbox row to the bus.
type OutboxPublishFunc func(ctx context.Context, row WsiOutbox) error

// Store provides all functions to execute db queries and transactions
type Store struct {
	*Queries
	connPool *pgxpool.Pool
}

var _ StoreFull = (*Store)(nil)

// NewStore creates a new Store
func NewStore(connPool *pgxpool.Pool) *Store {
	return &Store{
		connPool: connPool,
		Queries:  New(connPool),
	}
}

func (store *Store) Pool() *pgxpool.Pool {
	return store.connPool
}

// Close closes the connection pool.
func (store *Store) Close() {
	if store.connPool != nil {
		store.connPool.Close()
	}
}

// InsertUploadWithQuota inserts a new uploading row unless the user already
// holds limit outstanding uploads. The count and insert run under a
// transaction-scoped advisory lock for the tenant/user pair, so concurrent
// requests cannot both pass the check.
func (store *Store) InsertUploadWithQuota(ctx context.Context, arg InsertUploadParams, limit int) (WsiUpload, error) {
	var row WsiUpload
	err := store.execTx(ctx, func(s *Store) error {
		if err := s.LockUploadQuota(ctx, LockUploadQuotaParams{TenantID: arg.TenantID, UserID: arg.UserID}); err != nil {
			return fmt.Errorf("lock upload quota: %w", err)
		}
		n, err := s.CountOutstandingUploads(ctx, CountOutstandingUploadsParams{TenantID: arg.TenantID, UserID: arg.UserID})
		if err != nil {
			return fmt.Errorf("count outstanding uploads: %w", err)
		}
		if n >= int64(limit) {
			return wsierr.NewQuotaExceeded(limit)
		}
		row, err = s.InsertUpload(ctx, arg)
		if err != nil {
			return fmt.Errorf("insert upload: %w", err)
		}
		return nil
	})
	return row, err
}

// CreateJobWithOutbox inserts the job row and its request event in one
// transaction. Publishing the event is left to the caller and the outbox relay.
func (store *Store) CreateJobWithOutbox(ctx context.Context, job InsertJobParams, event InsertOutboxEventParams) (WsiJob, error) {
	var row WsiJob
	err := store.execTx(ctx, func(s *Store) error {
		var err error
		row, err = s.InsertJob(ctx, job)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if err := s.InsertOutboxEvent(ctx, event); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
		return nil
	})
	return row, err
}

// DeleteOrphanUploadBatch deletes every listed orphan in a single commit
// and returns the rows actually removed. Rows that were confirmed in the
// meantime are skipped by the status guard and are not returned, so their
// objects must be left alone.
func (store *Store) DeleteOrphanUploadBatch(ctx context.Context, batches []DeleteOrphanUploadsParams) ([]DeleteOrphanUploadsRow, error) {
	var deleted []DeleteOrphanUploadsRow
	err := store.execTx(ctx, func(s *Store) error {
		for _, b := range batches {
			if len(b.Ids) == 0 {
				continue
			}
			rows, err := s.DeleteOrphanUploads(ctx, b)
			if err != nil {
				return fmt.Errorf("delete orphans for tenant %s: %w", b.TenantID, err)
			}
			deleted = append(deleted, rows...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// RelayOutbox claims unpublished outbox rows and hands each to publish.
// A failed publish is recorded on its row and does not stop the batch.
// The returned count is the number of rows published.
func (store *Store) RelayOutbox(ctx context.Context, arg ClaimUnpublishedOutboxParams, publish OutboxPublishFunc) (int, error) {
	published := 0
	var errs *multierror.Error
	err := store.execTx(ctx, func(s *Store) error {
		rows, err := s.ClaimUnpublishedOutbox(ctx, arg)
		if err != nil {
			return fmt.Errorf("claim outbox: %w", err)
		}
		for _, row := range rows {
			if perr := publish(ctx, row); perr != nil {
				errs = multierror.Append(errs, fmt.Errorf("publish %s: %w", row.EventID, perr))
				msg := perr.Error()
				if err := s.RecordOutboxFailure(ctx, RecordOutboxFailureParams{LastError: &msg, EventID: row.EventID}); err != nil {
					return fmt.Errorf("record outbox failure: %w", err)
				}
				continue
			}
			if err := s.MarkOutboxPublished(ctx, row.EventID); err != nil {
				return fmt.Errorf("mark outbox published: %w", err)
			}
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, errs.ErrorOrNil()
}

func (store *Store) execTx(ctx context.Context, fn func(*Store) error) (err error) {
	tx, err := store.connPool.Begin(ctx)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Never use the caller ctx for cleanup as it may be cancelled.
		rbCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if rbErr := tx.Rollback(rbCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			if err != nil {
				err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
			} else {
				err = fmt.Errorf("rollback failed: %w", rbErr)
			}
		}
	}()

	txStore := &Store{
		connPool: store.connPool,
		Queries:  New(tx),
	}

	if err = fn(txStore); err != nil {
		return err
	}

	commitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = tx.Commit(commitCtx); err != nil {
		return err
	}
	committed = true
	return nil
}

// IsNoRows reports whether err means a query matched no row.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
