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
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cardinalhq/wsirunner/internal/uploads"
	"github.com/cardinalhq/wsirunner/internal/wsierr"
)

const maxRequestBody = 64 * 1024

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, wsierr.NewValidation("id", "must be a UUID")
	}
	return id, nil
}

// caller is always set behind authenticate.
func caller(r *http.Request) Principal {
	p, _ := PrincipalFromContext(r.Context())
	return p
}

func (a *api) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var body uploadURLRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil {
		writeAPIError(w, http.StatusBadRequest, ErrInvalidRequest, "invalid JSON body: "+err.Error())
		return
	}

	p := caller(r)
	ticket, err := a.uploads.RequestUpload(r.Context(), p.TenantID, p.UserID, uploads.UploadRequest{
		FileName:      body.FileName,
		ContentType:   body.ContentType,
		FileSizeBytes: body.FileSizeBytes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadURLResponse{
		URL:      ticket.URL,
		Key:      ticket.Key,
		UploadID: ticket.UploadID,
	})
}

func (a *api) handleConfirmUpload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p := caller(r)
	up, err := a.uploads.ConfirmUpload(r.Context(), id, p.TenantID, p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadView(up))
}

func (a *api) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	up, err := a.uploads.GetUpload(r.Context(), id, caller(r).TenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadView(up))
}

func (a *api) handleListUploads(w http.ResponseWriter, r *http.Request) {
	p := caller(r)
	rows, err := a.uploads.ListUploads(r.Context(), p.TenantID, p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]Upload, 0, len(rows))
	for _, u := range rows {
		out = append(out, uploadView(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	url, err := a.uploads.DownloadURL(r.Context(), id, caller(r).TenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, urlResponse{URL: url})
}

func (a *api) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p := caller(r)
	job, err := a.jobs.RequestAnalysis(r.Context(), id, p.TenantID, p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobView(job))
}

func (a *api) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	job, err := a.jobs.GetJob(r.Context(), id, caller(r).TenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

func (a *api) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, r, wsierr.NewValidation("limit", "must be a positive integer"))
			return
		}
		limit = n
	}
	p := caller(r)
	rows, err := a.jobs.ListJobs(r.Context(), p.TenantID, p.UserID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]Job, 0, len(rows))
	for _, j := range rows {
		out = append(out, jobView(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleResultURL(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	url, err := a.jobs.ResultURL(r.Context(), id, caller(r).TenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, urlResponse{URL: url})
}
