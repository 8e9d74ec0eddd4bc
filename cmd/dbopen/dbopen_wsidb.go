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

package dbopen

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/wsirunner/wsidb"
	wsidbmigrations "github.com/cardinalhq/wsirunner/wsidb/migrations"
)

// Options configures database connection behavior
type Options struct {
	MigrationCheckOptions []wsidbmigrations.CheckOption
}

// SkipMigrationCheck returns Options that skip migration checking entirely
func SkipMigrationCheck() Options {
	return Options{
		MigrationCheckOptions: []wsidbmigrations.CheckOption{
			wsidbmigrations.WithCheckMode(wsidbmigrations.CheckModeSkip),
		},
	}
}

// WarnOnMigrationMismatch returns Options that warn on migration mismatches but continue
func WarnOnMigrationMismatch() Options {
	return Options{
		MigrationCheckOptions: []wsidbmigrations.CheckOption{
			wsidbmigrations.WithCheckMode(wsidbmigrations.CheckModeWarn),
		},
	}
}

// ConnectToWSIDB opens a pool from the WSIDB_* environment and checks the
// schema version.
func ConnectToWSIDB(ctx context.Context, opts ...Options) (*pgxpool.Pool, error) {
	connectionString, err := getDatabaseURLFromEnv("WSIDB")
	if err != nil {
		return nil, errors.Join(ErrDatabaseNotConfigured, fmt.Errorf("failed to get WSIDB connection string: %w", err))
	}

	pool, err := wsidb.NewConnectionPool(ctx, connectionString)
	if err != nil {
		return nil, err
	}

	var checkOpts []wsidbmigrations.CheckOption
	for _, o := range opts {
		checkOpts = append(checkOpts, o.MigrationCheckOptions...)
	}
	if err := wsidbmigrations.CheckVersion(ctx, pool, checkOpts...); err != nil {
		pool.Close()
		return nil, fmt.Errorf("WSIDB migration version check failed: %w", err)
	}

	return pool, nil
}

func WSIDBStore(ctx context.Context, opts ...Options) (*wsidb.Store, error) {
	pool, err := ConnectToWSIDB(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return wsidb.NewStore(pool), nil
}
