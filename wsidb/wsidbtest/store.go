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

// Package wsidbtest provides an in-memory wsidb.StoreFull with the same
// tenant scoping and conditional-update semantics as the SQL queries.
package wsidbtest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"

	"github.com/cardinalhq/wsirunner/internal/wsierr"
	"github.com/cardinalhq/wsirunner/wsidb"
)

type Store struct {
	mu      sync.Mutex
	uploads map[uuid.UUID]wsidb.WsiUpload
	jobs    map[uuid.UUID]wsidb.WsiJob
	outbox  []wsidb.WsiOutbox

	// Now stamps created/updated times.
	Now func() time.Time
	// FailOn makes the named method return the error.
	FailOn map[string]error
}

var _ wsidb.StoreFull = (*Store)(nil)

func New() *Store {
	return &Store{
		uploads: map[uuid.UUID]wsidb.WsiUpload{},
		jobs:    map[uuid.UUID]wsidb.WsiJob{},
		Now:     time.Now,
		FailOn:  map[string]error{},
	}
}

func (s *Store) fail(op string) error {
	return s.FailOn[op]
}

// PutUpload inserts or replaces an upload row directly.
func (s *Store) PutUpload(u wsidb.WsiUpload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[u.ID] = u
}

// PutJob inserts or replaces a job row directly.
func (s *Store) PutJob(j wsidb.WsiJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
}

// Upload returns a row regardless of tenant.
func (s *Store) Upload(id uuid.UUID) (wsidb.WsiUpload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	return u, ok
}

// Job returns a row regardless of tenant.
func (s *Store) Job(id uuid.UUID) (wsidb.WsiJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *Store) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Store) UploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// Outbox returns a copy of every outbox row.
func (s *Store) Outbox() []wsidb.WsiOutbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.outbox)
}

// AgeOutbox moves every outbox row's creation time back by d.
func (s *Store) AgeOutbox(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		s.outbox[i].CreatedAt = s.outbox[i].CreatedAt.Add(-d)
	}
}

func (s *Store) ClaimUnpublishedOutbox(_ context.Context, arg wsidb.ClaimUnpublishedOutboxParams) ([]wsidb.WsiOutbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ClaimUnpublishedOutbox"); err != nil {
		return nil, err
	}
	var out []wsidb.WsiOutbox
	for _, row := range s.outbox {
		if row.PublishedAt == nil && row.CreatedAt.Before(arg.Cutoff) {
			out = append(out, row)
		}
		if len(out) == int(arg.MaxRows) {
			break
		}
	}
	return out, nil
}

func (s *Store) CountOutstandingUploads(_ context.Context, arg wsidb.CountOutstandingUploadsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countOutstanding(arg.TenantID, arg.UserID), nil
}

func (s *Store) countOutstanding(tenantID, userID uuid.UUID) int64 {
	var n int64
	for _, u := range s.uploads {
		if u.TenantID == tenantID && u.UserID == userID && u.Status == wsidb.UploadStatusUploading {
			n++
		}
	}
	return n
}

func (s *Store) DeleteOrphanUploads(_ context.Context, arg wsidb.DeleteOrphanUploadsParams) ([]wsidb.DeleteOrphanUploadsRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteOrphanUploads"); err != nil {
		return nil, err
	}
	return s.deleteOrphans(arg), nil
}

func (s *Store) deleteOrphans(arg wsidb.DeleteOrphanUploadsParams) []wsidb.DeleteOrphanUploadsRow {
	var deleted []wsidb.DeleteOrphanUploadsRow
	for _, id := range arg.Ids {
		u, ok := s.uploads[id]
		if !ok || u.TenantID != arg.TenantID || u.Status != wsidb.UploadStatusUploading || !u.CreatedAt.Before(arg.Cutoff) {
			continue
		}
		delete(s.uploads, id)
		deleted = append(deleted, wsidb.DeleteOrphanUploadsRow{ID: u.ID, StorageKey: u.StorageKey})
	}
	return deleted
}

func (s *Store) DeleteUploadingUpload(_ context.Context, arg wsidb.DeleteUploadingUploadParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteUploadingUpload"); err != nil {
		return 0, err
	}
	u, ok := s.uploads[arg.ID]
	if !ok || u.TenantID != arg.TenantID || u.UserID != arg.UserID || u.Status != wsidb.UploadStatusUploading {
		return 0, nil
	}
	delete(s.uploads, arg.ID)
	return 1, nil
}

func (s *Store) GetJob(_ context.Context, arg wsidb.GetJobParams) (wsidb.WsiJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetJob"); err != nil {
		return wsidb.WsiJob{}, err
	}
	j, ok := s.jobs[arg.ID]
	if !ok || j.TenantID != arg.TenantID {
		return wsidb.WsiJob{}, pgx.ErrNoRows
	}
	return j, nil
}

func (s *Store) GetUpload(_ context.Context, arg wsidb.GetUploadParams) (wsidb.WsiUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetUpload"); err != nil {
		return wsidb.WsiUpload{}, err
	}
	u, ok := s.uploads[arg.ID]
	if !ok || u.TenantID != arg.TenantID {
		return wsidb.WsiUpload{}, pgx.ErrNoRows
	}
	return u, nil
}

func (s *Store) InsertJob(_ context.Context, arg wsidb.InsertJobParams) (wsidb.WsiJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertJob(arg), nil
}

func (s *Store) insertJob(arg wsidb.InsertJobParams) wsidb.WsiJob {
	now := s.Now()
	j := wsidb.WsiJob{
		ID:          arg.ID,
		UploadID:    arg.UploadID,
		TenantID:    arg.TenantID,
		RequesterID: arg.RequesterID,
		SourceKey:   arg.SourceKey,
		Status:      wsidb.JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[j.ID] = j
	return j
}

func (s *Store) InsertOutboxEvent(_ context.Context, arg wsidb.InsertOutboxEventParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertOutbox(arg)
	return nil
}

func (s *Store) insertOutbox(arg wsidb.InsertOutboxEventParams) {
	s.outbox = append(s.outbox, wsidb.WsiOutbox{
		ID:        int64(len(s.outbox) + 1),
		EventID:   arg.EventID,
		JobID:     arg.JobID,
		TenantID:  arg.TenantID,
		Kind:      arg.Kind,
		Envelope:  arg.Envelope,
		CreatedAt: s.Now(),
	})
}

func (s *Store) InsertUpload(_ context.Context, arg wsidb.InsertUploadParams) (wsidb.WsiUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertUpload(arg), nil
}

func (s *Store) insertUpload(arg wsidb.InsertUploadParams) wsidb.WsiUpload {
	u := wsidb.WsiUpload{
		ID:            arg.ID,
		TenantID:      arg.TenantID,
		UserID:        arg.UserID,
		StorageKey:    arg.StorageKey,
		FileName:      arg.FileName,
		ContentType:   arg.ContentType,
		FileSizeBytes: arg.FileSizeBytes,
		Status:        wsidb.UploadStatusUploading,
		CreatedAt:     s.Now(),
	}
	s.uploads[u.ID] = u
	return u
}

func (s *Store) ListJobs(_ context.Context, arg wsidb.ListJobsParams) ([]wsidb.WsiJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wsidb.WsiJob
	for _, j := range s.jobs {
		if j.TenantID == arg.TenantID && j.RequesterID == arg.RequesterID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if len(out) > int(arg.MaxRows) {
		out = out[:arg.MaxRows]
	}
	return out, nil
}

func (s *Store) ListOrphanUploads(_ context.Context, arg wsidb.ListOrphanUploadsParams) ([]wsidb.WsiUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListOrphanUploads"); err != nil {
		return nil, err
	}
	var out []wsidb.WsiUpload
	for _, u := range s.uploads {
		if u.TenantID == arg.TenantID && u.Status == wsidb.UploadStatusUploading && u.CreatedAt.Before(arg.Cutoff) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if len(out) > int(arg.MaxRows) {
		out = out[:arg.MaxRows]
	}
	return out, nil
}

func (s *Store) ListTenantsWithOrphanUploads(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListTenantsWithOrphanUploads"); err != nil {
		return nil, err
	}
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, u := range s.uploads {
		if u.Status == wsidb.UploadStatusUploading && u.CreatedAt.Before(cutoff) && !seen[u.TenantID] {
			seen[u.TenantID] = true
			out = append(out, u.TenantID)
		}
	}
	return out, nil
}

func (s *Store) ListUploads(_ context.Context, arg wsidb.ListUploadsParams) ([]wsidb.WsiUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wsidb.WsiUpload
	for _, u := range s.uploads {
		if u.TenantID == arg.TenantID && u.UserID == arg.UserID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (s *Store) LockUploadQuota(context.Context, wsidb.LockUploadQuotaParams) error {
	return nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MarkOutboxPublished"); err != nil {
		return err
	}
	now := s.Now()
	for i := range s.outbox {
		if s.outbox[i].EventID == eventID && s.outbox[i].PublishedAt == nil {
			s.outbox[i].PublishedAt = &now
			s.outbox[i].Attempts++
			s.outbox[i].LastError = nil
		}
	}
	return nil
}

func (s *Store) MarkUploadReady(_ context.Context, arg wsidb.MarkUploadReadyParams) (wsidb.WsiUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MarkUploadReady"); err != nil {
		return wsidb.WsiUpload{}, err
	}
	u, ok := s.uploads[arg.ID]
	if !ok || u.TenantID != arg.TenantID || u.UserID != arg.UserID || u.Status != wsidb.UploadStatusUploading {
		return wsidb.WsiUpload{}, pgx.ErrNoRows
	}
	u.Status = wsidb.UploadStatusReady
	s.uploads[u.ID] = u
	return u, nil
}

func (s *Store) RecordOutboxFailure(_ context.Context, arg wsidb.RecordOutboxFailureParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].EventID == arg.EventID && s.outbox[i].PublishedAt == nil {
			s.outbox[i].Attempts++
			s.outbox[i].LastError = arg.LastError
		}
	}
	return nil
}

// setJob applies mutate when the job exists in the tenant with the
// expected status, mirroring the conditional UPDATE.
func (s *Store) setJob(op string, id, tenantID uuid.UUID, expected wsidb.JobStatus, mutate func(*wsidb.WsiJob)) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return 0, err
	}
	j, ok := s.jobs[id]
	if !ok || j.TenantID != tenantID || j.Status != expected {
		return 0, nil
	}
	mutate(&j)
	j.UpdatedAt = s.Now()
	s.jobs[id] = j
	return 1, nil
}

func (s *Store) SetJobCompleted(_ context.Context, arg wsidb.SetJobCompletedParams) (int64, error) {
	return s.setJob("SetJobCompleted", arg.ID, arg.TenantID, arg.ExpectedStatus, func(j *wsidb.WsiJob) {
		j.Status = wsidb.JobStatusCompleted
		j.ResultKey = arg.ResultKey
		completed := arg.CompletedAt
		j.CompletedAt = &completed
	})
}

func (s *Store) SetJobFailed(_ context.Context, arg wsidb.SetJobFailedParams) (int64, error) {
	return s.setJob("SetJobFailed", arg.ID, arg.TenantID, arg.ExpectedStatus, func(j *wsidb.WsiJob) {
		j.Status = wsidb.JobStatusFailed
		j.ErrorMessage = arg.ErrorMessage
		completed := arg.CompletedAt
		j.CompletedAt = &completed
	})
}

func (s *Store) SetJobProcessing(_ context.Context, arg wsidb.SetJobProcessingParams) (int64, error) {
	return s.setJob("SetJobProcessing", arg.ID, arg.TenantID, arg.ExpectedStatus, func(j *wsidb.WsiJob) {
		j.Status = wsidb.JobStatusProcessing
	})
}

func (s *Store) InsertUploadWithQuota(_ context.Context, arg wsidb.InsertUploadParams, limit int) (wsidb.WsiUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertUploadWithQuota"); err != nil {
		return wsidb.WsiUpload{}, err
	}
	if s.countOutstanding(arg.TenantID, arg.UserID) >= int64(limit) {
		return wsidb.WsiUpload{}, wsierr.NewQuotaExceeded(limit)
	}
	return s.insertUpload(arg), nil
}

func (s *Store) CreateJobWithOutbox(_ context.Context, job wsidb.InsertJobParams, event wsidb.InsertOutboxEventParams) (wsidb.WsiJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateJobWithOutbox"); err != nil {
		return wsidb.WsiJob{}, err
	}
	row := s.insertJob(job)
	s.insertOutbox(event)
	return row, nil
}

func (s *Store) DeleteOrphanUploadBatch(_ context.Context, batches []wsidb.DeleteOrphanUploadsParams) ([]wsidb.DeleteOrphanUploadsRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteOrphanUploadBatch"); err != nil {
		return nil, err
	}
	var deleted []wsidb.DeleteOrphanUploadsRow
	for _, b := range batches {
		deleted = append(deleted, s.deleteOrphans(b)...)
	}
	return deleted, nil
}

// RelayOutbox follows the same per-row contract as the SQL store: a failed
// publish is recorded and the batch continues.
func (s *Store) RelayOutbox(ctx context.Context, arg wsidb.ClaimUnpublishedOutboxParams, publish wsidb.OutboxPublishFunc) (int, error) {
	rows, err := s.ClaimUnpublishedOutbox(ctx, arg)
	if err != nil {
		return 0, err
	}
	published := 0
	var errs *multierror.Error
	for _, row := range rows {
		if perr := publish(ctx, row); perr != nil {
			errs = multierror.Append(errs, perr)
			msg := perr.Error()
			_ = s.RecordOutboxFailure(ctx, wsidb.RecordOutboxFailureParams{LastError: &msg, EventID: row.EventID})
			continue
		}
		if err := s.MarkOutboxPublished(ctx, row.EventID); err != nil {
			return 0, err
		}
		published++
	}
	return published, errs.ErrorOrNil()
}
