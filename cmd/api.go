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

	"github.com/spf13/cobra"

	"github.com/cardinalhq/wsirunner/config"
	"github.com/cardinalhq/wsirunner/internal/bus"
	"github.com/cardinalhq/wsirunner/internal/httpapi"
	"github.com/cardinalhq/wsirunner/internal/jobs"
	"github.com/cardinalhq/wsirunner/internal/uploads"
)

func init() {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Serve the upload and job HTTP API",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, doneFx, err := setupTelemetry("wsirunner-api")
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			svc, err := startServices(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			if svc.cfg.Bus.Type == config.BusTypeMemory {
				slog.Warn("The memory bus does not leave this process; use the all command or a shared transport")
			}
			b, err := svc.newBus(ctx, 1)
			if err != nil {
				return err
			}
			defer closeBus(b)

			return runAPI(ctx, svc, b)
		},
	}

	rootCmd.AddCommand(cmd)
}

func runAPI(ctx context.Context, svc *services, publisher bus.Publisher) error {
	if len(svc.cfg.API.JWTSecret) == 0 {
		return fmt.Errorf("api.jwt_secret must be set")
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Uploads:        uploads.NewRegistry(svc.store, svc.gateway, svc.cfg.Uploads),
		Jobs:           jobs.NewRegistry(svc.store, publisher, svc.gateway),
		JWTSecret:      []byte(svc.cfg.API.JWTSecret),
		RequestTimeout: svc.cfg.API.RequestTimeout,
	})
	return httpapi.NewServer(svc.cfg.API.ListenAddr, router).Run(ctx)
}
