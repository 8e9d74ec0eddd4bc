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

package testhelpers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/wsirunner/wsidb"
	wsidbmigrations "github.com/cardinalhq/wsirunner/wsidb/migrations"
)

// SetupTestWSIDB creates a clean test wsidb database with migrations applied.
// Returns a connection pool and registers cleanup with t.Cleanup.
func SetupTestWSIDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()
	dbName := fmt.Sprintf("test_wsidb_%d_%d", time.Now().Unix(), rand.Intn(10000))

	host := getEnvOrDefault("WSIDB_HOST", "localhost")
	port := getEnvOrDefault("WSIDB_PORT", "5432")
	user := getEnvOrDefault("WSIDB_USER", os.Getenv("USER"))
	baseDB := getEnvOrDefault("WSIDB_DBNAME", "testing_wsidb")
	password := os.Getenv("WSIDB_PASSWORD")

	basePool, err := pgxpool.New(ctx, connString(user, password, host, port, baseDB))
	if err != nil {
		t.Fatalf("Failed to connect to base database: %v", err)
	}

	if _, err := basePool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		basePool.Close()
		t.Fatalf("Failed to create test database %s: %v", dbName, err)
	}

	testPool, err := wsidb.NewConnectionPool(ctx, connString(user, password, host, port, dbName))
	if err != nil {
		basePool.Close()
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := wsidbmigrations.RunMigrationsUp(ctx, testPool); err != nil {
		testPool.Close()
		basePool.Close()
		t.Fatalf("Failed to run wsidb migrations: %v", err)
	}

	t.Cleanup(func() {
		testPool.Close()

		_, err := basePool.Exec(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbName))
		if err != nil {
			slog.Error("Failed to drop test database", slog.String("dbName", dbName), slog.Any("error", err))
		}
		basePool.Close()
	})

	return testPool
}

// NewTestWSIDBStore creates a new wsidb store connected to a test database.
func NewTestWSIDBStore(t *testing.T) *wsidb.Store {
	t.Helper()
	return wsidb.NewStore(SetupTestWSIDB(t))
}

func connString(user, password, host, port, dbName string) string {
	u := &url.URL{
		Scheme: "postgresql",
		Host:   host + ":" + port,
		Path:   dbName,
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
		u.RawQuery = "sslmode=disable"
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
