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

package uploads

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/cardinalhq/wsirunner/internal/wsierr"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"slide.svs", "slide.svs"},
		{"my slide (1).svs", "my_slide__1_.svs"},
		{"..", "upload"},
		{".hidden.tiff", "hidden.tiff"},
		{"a/../../b.svs", "a_.._.._b.svs"},
		{`c:\temp\x.ndpi`, "c__temp_x.ndpi"},
		{"über.svs", "_ber.svs"},
		{"%2e%2e", "_2e_2e"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFileName(tt.in), tt.in)
	}
}

func TestStorageKey(t *testing.T) {
	tenant := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	user := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	id := uuid.MustParse("33333333-3333-3333-3333-333333333333")

	key := StorageKey(tenant, user, id, "slide.svs")
	assert.Equal(t, "wsi/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222/33333333-3333-3333-3333-333333333333/slide.svs", key)

	// Hostile names never leave the upload's own prefix.
	key = StorageKey(tenant, user, id, "../../other-tenant/x")
	assert.True(t, strings.HasPrefix(key, "wsi/"+tenant.String()+"/"+user.String()+"/"+id.String()+"/"))
	assert.Equal(t, 5, strings.Count(key, "/")+1)
}

func TestValidateFileName(t *testing.T) {
	assert.NoError(t, validateFileName("slide.svs", 255))

	for _, bad := range []string{"", "   ", "a/b.svs", `a\b.svs`, "..", "bad\x00name", "tab\tname", strings.Repeat("x", 256), "\xff\xfe"} {
		err := validateFileName(bad, 255)
		assert.True(t, wsierr.IsValidation(err), "%q: %v", bad, err)
	}
}

func TestValidateContentType(t *testing.T) {
	assert.NoError(t, validateContentType("application/octet-stream"))
	assert.NoError(t, validateContentType("image/tiff; charset=binary"))
	assert.True(t, wsierr.IsValidation(validateContentType("")))
	assert.True(t, wsierr.IsValidation(validateContentType("not a type")))
}

func TestValidateSize(t *testing.T) {
	assert.NoError(t, validateSize(1, 10))
	assert.NoError(t, validateSize(10, 10))
	assert.True(t, wsierr.IsValidation(validateSize(0, 10)))
	assert.True(t, wsierr.IsValidation(validateSize(-5, 10)))
	assert.True(t, wsierr.IsValidation(validateSize(11, 10)))
}
