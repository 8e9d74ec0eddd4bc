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
	"mime"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cardinalhq/wsirunner/internal/wsierr"
)

// KeyPrefix is the top-level prefix for every slide object.
const KeyPrefix = "wsi"

// SanitizeFileName reduces name to a single key segment made of
// [A-Za-z0-9._-]. Every other rune becomes '_' and leading dots are
// removed, so the result can never name a parent directory.
func SanitizeFileName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "upload"
	}
	return out
}

// StorageKey derives the object key for an upload. The upload id is unique,
// so no two uploads share a key.
func StorageKey(tenantID, userID, uploadID uuid.UUID, fileName string) string {
	return path.Join(KeyPrefix, tenantID.String(), userID.String(), uploadID.String(), SanitizeFileName(fileName))
}

func validateFileName(name string, maxLen int) error {
	if strings.TrimSpace(name) == "" {
		return wsierr.NewValidation("fileName", "is required")
	}
	if !utf8.ValidString(name) {
		return wsierr.NewValidation("fileName", "must be valid UTF-8")
	}
	if utf8.RuneCountInString(name) > maxLen {
		return wsierr.NewValidation("fileName", "is too long")
	}
	if strings.ContainsAny(name, `/\`) {
		return wsierr.NewValidation("fileName", "must not contain path separators")
	}
	if name == "." || name == ".." {
		return wsierr.NewValidation("fileName", "is reserved")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return wsierr.NewValidation("fileName", "must not contain control characters")
		}
	}
	return nil
}

func validateContentType(ct string) error {
	if ct == "" {
		return wsierr.NewValidation("contentType", "is required")
	}
	if _, _, err := mime.ParseMediaType(ct); err != nil {
		return wsierr.NewValidation("contentType", "is not a valid media type")
	}
	return nil
}

func validateSize(size, maxSize int64) error {
	if size <= 0 {
		return wsierr.NewValidation("fileSizeBytes", "must be positive")
	}
	if size > maxSize {
		return wsierr.NewValidation("fileSizeBytes", "exceeds the maximum upload size")
	}
	return nil
}
