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
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cardinalhq/wsirunner/internal/logctx"
	"github.com/cardinalhq/wsirunner/internal/wsierr"
)

type APIErrorCode string

const (
	ErrInvalidRequest     APIErrorCode = "INVALID_REQUEST"
	ErrQuotaExceeded      APIErrorCode = "QUOTA_EXCEEDED"
	ErrNotFound           APIErrorCode = "NOT_FOUND"
	ErrConflict           APIErrorCode = "INVALID_STATE"
	ErrStorageUnavailable APIErrorCode = "STORAGE_UNAVAILABLE"
	ErrUnauthorized       APIErrorCode = "UNAUTHORIZED"
	ErrInternalError      APIErrorCode = "INTERNAL_ERROR"
	ErrClientClosed       APIErrorCode = "CLIENT_CLOSED"
	ErrTimeout            APIErrorCode = "TIMEOUT"
)

type APIError struct {
	Status  int          `json:"status"`
	Code    APIErrorCode `json:"code"`
	Message string       `json:"message"`
}

// Non-standard but used by many proxies for client disconnects.
const statusClientClosedRequest = 499

func writeAPIError(w http.ResponseWriter, status int, code APIErrorCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{
		Status:  status,
		Code:    code,
		Message: msg,
	})
}

func statusAndCode(err error) (int, APIErrorCode) {
	switch {
	case wsierr.IsValidation(err):
		return http.StatusBadRequest, ErrInvalidRequest
	case wsierr.IsQuotaExceeded(err):
		return http.StatusTooManyRequests, ErrQuotaExceeded
	case wsierr.IsNotFound(err):
		return http.StatusNotFound, ErrNotFound
	case wsierr.IsInvalidState(err):
		return http.StatusConflict, ErrConflict
	case wsierr.IsStorageUnavailable(err):
		return http.StatusServiceUnavailable, ErrStorageUnavailable
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, ErrClientClosed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrTimeout
	}
	return http.StatusInternalServerError, ErrInternalError
}

// writeError maps a domain error to its HTTP status. Internal errors are
// logged and replaced with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusAndCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logctx.FromContext(r.Context()).Error("Request failed", slog.Any("error", err))
		msg = "internal error"
	}
	writeAPIError(w, status, code, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
