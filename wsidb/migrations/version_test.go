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

package migrations

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectedVersionFromEmbeddedFiles(t *testing.T) {
	v, err := ExpectedVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1760000000), v)
}

func TestLatestVersion(t *testing.T) {
	files := fstest.MapFS{
		"1_initial.up.sql":      {Data: []byte("SELECT 1;")},
		"1_initial.down.sql":    {Data: []byte("SELECT 1;")},
		"20_add_thing.up.sql":   {Data: []byte("SELECT 1;")},
		"3_other.up.sql":        {Data: []byte("SELECT 1;")},
		"notes.txt":             {Data: []byte("ignored")},
		"bogus_version.up.sql":  {Data: []byte("SELECT 1;")},
		"20_add_thing.down.sql": {Data: []byte("SELECT 1;")},
	}

	v, err := latestVersion(files)
	require.NoError(t, err)
	assert.Equal(t, uint(20), v)
}

func TestLatestVersionNoFiles(t *testing.T) {
	_, err := latestVersion(fstest.MapFS{"README": {Data: []byte("x")}})
	assert.Error(t, err)
}

func TestCheckOptions(t *testing.T) {
	opts := DefaultCheckOptions()
	assert.Equal(t, CheckModeWait, opts.Mode)

	for _, o := range []CheckOption{
		WithCheckMode(CheckModeWarn),
		WithTimeout(time.Second),
		WithRetryInterval(time.Millisecond),
		WithAllowDirty(true),
	} {
		o(&opts)
	}
	assert.Equal(t, CheckModeWarn, opts.Mode)
	assert.Equal(t, time.Second, opts.Timeout)
	assert.Equal(t, time.Millisecond, opts.RetryInterval)
	assert.True(t, opts.AllowDirty)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("WSIDB_MIGRATION_CHECK_ENABLED", "false")
	t.Setenv("MIGRATION_CHECK_TIMEOUT", "7s")
	t.Setenv("MIGRATION_CHECK_ALLOW_DIRTY", "true")

	opts := DefaultCheckOptions()
	applyEnvironmentOverrides(&opts)

	assert.Equal(t, CheckModeSkip, opts.Mode)
	assert.Equal(t, 7*time.Second, opts.Timeout)
	assert.True(t, opts.AllowDirty)
}
