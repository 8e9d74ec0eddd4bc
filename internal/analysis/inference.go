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

package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cardinalhq/wsirunner/internal/objstore"
)

const (
	// MaxResultSize bounds the inference response body.
	MaxResultSize = 16 * 1024 * 1024

	breakerFailures    = 5
	breakerOpenTimeout = 30 * time.Second
)

// InferenceAnalyzer posts each job to an external inference service and
// uses its JSON response as the result document. The service reads the
// slide through a presigned GET URL.
type InferenceAnalyzer struct {
	endpoint string
	client   *http.Client
	gateway  objstore.Gateway
	breaker  *gobreaker.CircuitBreaker
}

type inferenceRequest struct {
	JobID      string `json:"jobId"`
	TenantID   string `json:"tenantId"`
	UploadID   string `json:"uploadId"`
	StorageKey string `json:"storageKey"`
	SourceURL  string `json:"sourceUrl"`
}

func NewInferenceAnalyzer(endpoint string, timeout time.Duration, gateway objstore.Gateway) (*InferenceAnalyzer, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse inference url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("inference url must be http or https, got %q", endpoint)
	}
	return &InferenceAnalyzer{
		endpoint: endpoint,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		gateway: gateway,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "inference",
			MaxRequests: 1,
			Timeout:     breakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			// Shutdown is not the service's fault.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}, nil
}

func (a *InferenceAnalyzer) Name() string { return "inference" }

func (a *InferenceAnalyzer) Analyze(ctx context.Context, req Request) (Result, error) {
	sourceURL, err := a.gateway.PresignGet(ctx, req.StorageKey)
	if err != nil {
		return Result{}, fmt.Errorf("presign source: %w", err)
	}
	body, err := json.Marshal(inferenceRequest{
		JobID:      req.JobID.String(),
		TenantID:   req.TenantID.String(),
		UploadID:   req.UploadID.String(),
		StorageKey: req.StorageKey,
		SourceURL:  sourceURL,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal inference request: %w", err)
	}

	out, err := a.breaker.Execute(func() (any, error) {
		return a.post(ctx, body)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Document: out.([]byte)}, nil
}

func (a *InferenceAnalyzer) post(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call inference service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResultSize+1))
	if err != nil {
		return nil, fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, truncate(data, 256))
	}
	if len(data) > MaxResultSize {
		return nil, fmt.Errorf("inference result exceeds max size (%d bytes)", MaxResultSize)
	}
	if !json.Valid(data) {
		return nil, errors.New("inference service returned invalid JSON")
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
