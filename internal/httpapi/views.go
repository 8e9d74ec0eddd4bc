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
	"time"

	"github.com/google/uuid"

	"github.com/cardinalhq/wsirunner/wsidb"
)

// Upload is the JSON shape of an upload.
type Upload struct {
	ID            uuid.UUID `json:"id"`
	S3Key         string    `json:"s3Key"`
	FileName      string    `json:"fileName"`
	ContentType   string    `json:"contentType"`
	FileSizeBytes int64     `json:"fileSizeBytes"`
	WidthPx       *int32    `json:"widthPx"`
	HeightPx      *int32    `json:"heightPx"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Job is the JSON shape of an analysis job.
type Job struct {
	ID           uuid.UUID  `json:"id"`
	UploadID     uuid.UUID  `json:"uploadId"`
	Status       string     `json:"status"`
	ResultKey    *string    `json:"resultKey"`
	ErrorMessage *string    `json:"errorMessage"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt"`
}

type uploadURLRequest struct {
	FileName      string `json:"fileName"`
	ContentType   string `json:"contentType"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
}

type uploadURLResponse struct {
	URL      string    `json:"url"`
	Key      string    `json:"key"`
	UploadID uuid.UUID `json:"uploadId"`
}

type urlResponse struct {
	URL string `json:"url"`
}

var statusNames = map[string]string{
	string(wsidb.UploadStatusUploading): "Uploading",
	string(wsidb.UploadStatusReady):     "Ready",
	string(wsidb.JobStatusPending):      "Pending",
	string(wsidb.JobStatusProcessing):   "Processing",
	string(wsidb.JobStatusCompleted):    "Completed",
	string(wsidb.JobStatusFailed):       "Failed",
}

func statusName(s string) string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return s
}

func uploadView(u wsidb.WsiUpload) Upload {
	return Upload{
		ID:            u.ID,
		S3Key:         u.StorageKey,
		FileName:      u.FileName,
		ContentType:   u.ContentType,
		FileSizeBytes: u.FileSizeBytes,
		WidthPx:       u.WidthPx,
		HeightPx:      u.HeightPx,
		Status:        statusName(string(u.Status)),
		CreatedAt:     u.CreatedAt,
	}
}

func jobView(j wsidb.WsiJob) Job {
	return Job{
		ID:           j.ID,
		UploadID:     j.UploadID,
		Status:       statusName(string(j.Status)),
		ResultKey:    j.ResultKey,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		CompletedAt:  j.CompletedAt,
	}
}
