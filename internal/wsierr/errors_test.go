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

package wsierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := NewValidation("fileName", "must not be empty")
	assert.Equal(t, "validation failed: fileName: must not be empty", err.Error())
	assert.True(t, IsValidation(err))
	assert.True(t, IsValidation(fmt.Errorf("request upload: %w", err)))
	assert.False(t, IsNotFound(err))

	var ve ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "fileName", ve.Field)
}

func TestStateError(t *testing.T) {
	err := NewInvalidState("upload", "uploading", "ready")
	assert.Equal(t, "upload is uploading, must be ready", err.Error())
	assert.True(t, IsInvalidState(err))
	assert.False(t, IsValidation(err))
}

func TestQuotaError(t *testing.T) {
	err := NewQuotaExceeded(3)
	assert.True(t, IsQuotaExceeded(err))
	assert.Contains(t, err.Error(), "3")
}

func TestNotFound(t *testing.T) {
	err := NotFound("job")
	assert.Equal(t, "job not found", err.Error())
	assert.True(t, IsNotFound(err))
}

func TestStorageUnavailable(t *testing.T) {
	err := fmt.Errorf("presign: %w", ErrStorageUnavailable)
	assert.True(t, IsStorageUnavailable(err))
	assert.False(t, IsStorageUnavailable(errors.New("other")))
}
