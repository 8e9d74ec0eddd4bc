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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/wsirunner/cmd/sweeper"
	"github.com/cardinalhq/wsirunner/config"
	"github.com/cardinalhq/wsirunner/internal/jobs"
)

func init() {
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Run the API, orchestrator, worker and sweeper in one process",
		RunE: func(_ *cobra.Command, _ []string) error {
			doneCtx, doneFx, err := setupTelemetry("wsirunner")
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			svc, err := startServices(doneCtx)
			if err != nil {
				return err
			}
			defer svc.close()

			b, err := svc.newBus(doneCtx, svc.cfg.Worker.Concurrency)
			if err != nil {
				return err
			}
			defer closeBus(b)

			orch := jobs.NewOrchestrator(svc.store)
			defer orch.Close()
			if err := b.Subscribe(config.GroupOrchestrator, orch.Handle); err != nil {
				return err
			}
			if err := subscribeWorker(svc, b); err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(doneCtx)
			g.Go(func() error { return svc.runBus(ctx, b, "bus") })
			g.Go(func() error {
				return sweeper.New(svc.store, svc.gateway, b, svc.cfg.Sweeper).Run(ctx)
			})
			g.Go(func() error { return runAPI(ctx, svc, b) })
			return g.Wait()
		},
	}

	rootCmd.AddCommand(cmd)
}
