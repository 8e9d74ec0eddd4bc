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

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardinalhq/wsirunner/cmd/dbopen"
	"github.com/cardinalhq/wsirunner/config"
	"github.com/cardinalhq/wsirunner/internal/awsclient"
	"github.com/cardinalhq/wsirunner/internal/bus"
	"github.com/cardinalhq/wsirunner/internal/debugging"
	"github.com/cardinalhq/wsirunner/internal/healthcheck"
	"github.com/cardinalhq/wsirunner/internal/objstore"
	"github.com/cardinalhq/wsirunner/wsidb"
)

// services holds what every long-running command shares.
type services struct {
	cfg     *config.Config
	store   *wsidb.Store
	awsMgr  *awsclient.Manager
	gateway objstore.Gateway
	health  *healthcheck.Server
}

// startServices loads configuration, starts the health server and opens
// the database and object storage. The caller must call close.
func startServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	go debugging.RunPprof(ctx)

	health := healthcheck.NewServer(healthcheck.GetConfigFromEnv())
	go func() {
		if err := health.Start(ctx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()

	// Liveness does not depend on the database; readiness does.
	health.SetStatus(healthcheck.StatusHealthy)

	store, err := dbopen.WSIDBStore(ctx)
	if err != nil {
		slog.Error("Failed to connect to wsi database", slog.Any("error", err))
		return nil, fmt.Errorf("failed to connect to wsi database: %w", err)
	}
	health.AddCheck("database", func(ctx context.Context) error {
		return store.Pool().Ping(ctx)
	})

	s := &services{cfg: cfg, store: store, health: health}

	if cfg.Storage.Bucket != "" || cfg.Bus.Type == config.BusTypeSQS {
		s.awsMgr, err = awsclient.NewManager(ctx, awsclient.WithAssumeRoleSessionName("wsirunner"))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create AWS manager: %w", err)
		}
	}

	s.gateway, err = s.newGateway(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// newGateway returns the S3 gateway, or a gateway that fails every call
// with a storage-unavailable error when no bucket is configured.
func (s *services) newGateway(ctx context.Context) (objstore.Gateway, error) {
	if s.cfg.Storage.Bucket == "" {
		slog.Warn("Object storage is not configured; storage operations will fail")
		return objstore.Unconfigured{}, nil
	}
	client, err := s.awsMgr.GetS3ForStorage(ctx, s.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	slog.Info("Object storage configured",
		slog.String("bucket", s.cfg.Storage.Bucket),
		slog.String("region", s.cfg.Storage.Region))
	return objstore.NewS3Gateway(client.Client, s.cfg.Storage.Bucket, s.cfg.Storage.PresignTTL), nil
}

func (s *services) newBus(ctx context.Context, concurrency int) (bus.Bus, error) {
	b, err := bus.NewBus(ctx, s.cfg.Bus, s.awsMgr, concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s bus: %w", s.cfg.Bus.Type, err)
	}
	slog.Info("Event bus ready", slog.String("type", s.cfg.Bus.Type))
	return b, nil
}

// runBus runs b until ctx is done, marking the named readiness gate while
// its consumers are up.
func (s *services) runBus(ctx context.Context, b bus.Bus, gate string) error {
	ready := s.health.Gate(gate)
	ready(true)
	defer ready(false)
	return b.Run(ctx)
}

func (s *services) close() {
	s.health.SetStatus(healthcheck.StatusUnhealthy)
	s.store.Close()
}

func closeBus(b bus.Bus) {
	if err := b.Close(); err != nil {
		slog.Error("Failed to close event bus", slog.Any("error", err))
	}
}
