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

// Package objstore issues presigned URLs for, and checks the existence of,
// slide and result objects in an S3-compatible bucket.
package objstore

import (
	"context"
	"fmt"

	"github.com/cardinalhq/wsirunner/internal/wsierr"
)

// Gateway is the object-storage surface used by the rest of the pipeline.
// It holds no state beyond its client configuration.
type Gateway interface {
	// Configured reports whether a backing bucket exists. When false every
	// other method fails with wsierr.ErrStorageUnavailable.
	Configured() bool
	PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (string, error)
	PresignGet(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. A missing object is not an error.
	Delete(ctx context.Context, key string) error
	Put(ctx context.Context, key, contentType string, body []byte) error
}

// Unconfigured is the Gateway used when no bucket is configured.
type Unconfigured struct{}

var _ Gateway = Unconfigured{}

func (Unconfigured) Configured() bool { return false }

func (Unconfigured) PresignPut(context.Context, string, string, int64) (string, error) {
	return "", wsierr.ErrStorageUnavailable
}

func (Unconfigured) PresignGet(context.Context, string) (string, error) {
	return "", wsierr.ErrStorageUnavailable
}

func (Unconfigured) Exists(context.Context, string) (bool, error) {
	return false, wsierr.ErrStorageUnavailable
}

func (Unconfigured) Delete(context.Context, string) error {
	return wsierr.ErrStorageUnavailable
}

func (Unconfigured) Put(context.Context, string, string, []byte) error {
	return wsierr.ErrStorageUnavailable
}

func wrap(op, key string, err error) error {
	return fmt.Errorf("%s s3 object %q: %w", op, key, err)
}
