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
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CheckMode defines how migration version checking should behave
type CheckMode int

const (
	// CheckModeWait waits for migrations to complete, failing if they don't complete within timeout
	CheckModeWait CheckMode = iota
	// CheckModeWarn logs warnings about version mismatches but continues
	CheckModeWarn
	// CheckModeSkip skips migration checking entirely
	CheckModeSkip
)

type CheckOptions struct {
	Mode          CheckMode
	Timeout       time.Duration
	RetryInterval time.Duration
	AllowDirty    bool
}

type CheckOption func(*CheckOptions)

func WithCheckMode(mode CheckMode) CheckOption {
	return func(opts *CheckOptions) {
		opts.Mode = mode
	}
}

func WithTimeout(timeout time.Duration) CheckOption {
	return func(opts *CheckOptions) {
		opts.Timeout = timeout
	}
}

func WithRetryInterval(interval time.Duration) CheckOption {
	return func(opts *CheckOptions) {
		opts.RetryInterval = interval
	}
}

func WithAllowDirty(allow bool) CheckOption {
	return func(opts *CheckOptions) {
		opts.AllowDirty = allow
	}
}

func DefaultCheckOptions() CheckOptions {
	return CheckOptions{
		Mode:          CheckModeWait,
		Timeout:       120 * time.Second,
		RetryInterval: 5 * time.Second,
	}
}

// applyEnvironmentOverrides lets operators tune the check without a redeploy.
func applyEnvironmentOverrides(opts *CheckOptions) {
	if val := os.Getenv("WSIDB_MIGRATION_CHECK_ENABLED"); strings.ToLower(val) == "false" {
		opts.Mode = CheckModeSkip
	}
	if val := os.Getenv("MIGRATION_CHECK_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			opts.Timeout = d
		}
	}
	if val := os.Getenv("MIGRATION_CHECK_RETRY_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			opts.RetryInterval = d
		}
	}
	if val := os.Getenv("MIGRATION_CHECK_ALLOW_DIRTY"); val != "" {
		opts.AllowDirty = strings.ToLower(val) == "true"
	}
}

// ExpectedVersion is the highest migration version embedded in this binary.
func ExpectedVersion() (uint, error) {
	return latestVersion(migrationFiles)
}

// latestVersion extracts the highest version from files named like
// "1760000000_initial.up.sql".
func latestVersion(files fs.ReadDirFS) (uint, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var maxVersion uint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		if uint(version) > maxVersion {
			maxVersion = uint(version)
		}
	}

	if maxVersion == 0 {
		return 0, fmt.Errorf("no valid migration files found")
	}
	return maxVersion, nil
}

// CheckVersion verifies that wsidb is at the migration version this binary
// expects. In wait mode it polls until the migrate job catches up or the
// timeout passes, after which it logs loudly and lets the service start.
func CheckVersion(ctx context.Context, pool *pgxpool.Pool, options ...CheckOption) error {
	opts := DefaultCheckOptions()
	for _, option := range options {
		option(&opts)
	}
	applyEnvironmentOverrides(&opts)

	if opts.Mode == CheckModeSkip {
		slog.Debug("Migration version checking skipped", slog.String("database", dbName))
		return nil
	}

	expected, err := ExpectedVersion()
	if err != nil {
		return fmt.Errorf("failed to extract expected migration version for %s: %w", dbName, err)
	}

	current, dirty, err := CurrentVersion(pool)
	if err != nil {
		return fmt.Errorf("failed to get current migration version for %s: %w", dbName, err)
	}

	if dirty && !opts.AllowDirty {
		if opts.Mode != CheckModeWarn {
			return fmt.Errorf("database %s migration is in dirty state, please fix before proceeding", dbName)
		}
		slog.Warn("Database migration is in dirty state, but continuing anyway", slog.String("database", dbName))
	}

	if current == expected {
		return nil
	}

	logger := slog.With(
		slog.String("database", dbName),
		slog.Uint64("current_version", uint64(current)),
		slog.Uint64("expected_version", uint64(expected)))

	if current > expected {
		if opts.Mode == CheckModeWarn {
			logger.Warn("Database version is newer than expected, but continuing anyway")
			return nil
		}
		return fmt.Errorf("database %s version %d is newer than expected version %d - you may need to update the application",
			dbName, current, expected)
	}

	if opts.Mode == CheckModeWarn {
		logger.Warn("Database version is older than expected, but continuing anyway")
		return nil
	}

	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.RetryInterval)
	defer ticker.Stop()

	for {
		logger.Info("Waiting for migrations to complete", slog.Duration("remaining_timeout", time.Until(deadline)))

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for %s migrations", dbName)
		case <-ticker.C:
		}

		current, _, err = CurrentVersion(pool)
		if err != nil {
			return fmt.Errorf("failed to get current migration version for %s: %w", dbName, err)
		}
		if current == expected {
			slog.Info("Migration version check passed", slog.String("database", dbName), slog.Uint64("version", uint64(current)))
			return nil
		}
		if time.Now().After(deadline) {
			slog.Error("Migration timeout reached; the service will continue but the schema may be inconsistent",
				slog.String("database", dbName),
				slog.Uint64("current_version", uint64(current)),
				slog.Uint64("expected_version", uint64(expected)))
			return nil
		}
	}
}
