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

package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "starting", StatusStarting.String())
	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "unhealthy", StatusUnhealthy.String())
	assert.Equal(t, "unknown", Status(999).String())
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("HEALTH_CHECK_PORT", "")
	assert.Equal(t, DefaultPort, GetConfigFromEnv().Port)

	t.Setenv("HEALTH_CHECK_PORT", "9090")
	assert.Equal(t, 9090, GetConfigFromEnv().Port)

	t.Setenv("HEALTH_CHECK_PORT", "invalid")
	assert.Equal(t, DefaultPort, GetConfigFromEnv().Port)
}

func get(t *testing.T, h http.Handler, path string) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestEndpoints(t *testing.T) {
	s := NewServer(Config{})
	h := s.Handler()

	code, _ := get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code, "starting is not healthy")
	code, _ = get(t, h, "/livez")
	assert.Equal(t, http.StatusOK, code, "starting is alive")

	s.SetStatus(StatusHealthy)
	code, _ = get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)

	s.SetStatus(StatusUnhealthy)
	code, _ = get(t, h, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadinessChecks(t *testing.T) {
	s := NewServer(Config{})
	s.SetStatus(StatusHealthy)
	h := s.Handler()

	code, resp := get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Healthy)

	dbErr := errors.New("connection refused")
	s.AddCheck("database", func(context.Context) error { return dbErr })
	setConsumers := s.Gate("consumers")

	code, resp = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"database": "connection refused", "consumers": "not ready"}, resp.Checks)

	dbErr = nil
	setConsumers(true)
	code, resp = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"database": "ok", "consumers": "ok"}, resp.Checks)

	setConsumers(false)
	ok, _ := s.Ready(context.Background())
	assert.False(t, ok)
}

func TestNotReadyUntilHealthy(t *testing.T) {
	s := NewServer(Config{})
	ok, _ := s.Ready(context.Background())
	assert.False(t, ok)
}
