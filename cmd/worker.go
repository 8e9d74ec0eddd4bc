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

	"github.com/cardinalhq/wsirunner/config"
	"github.com/cardinalhq/wsirunner/internal/analysis"
	"github.com/cardinalhq/wsirunner/internal/bus"
)

func init() {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run analysis for requested jobs",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, doneFx, err := setupTelemetry("wsirunner-worker")
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

			b, err := svc.newBus(ctx, svc.cfg.Worker.Concurrency)
			if err != nil {
				return err
			}
			defer closeBus(b)

			if err := subscribeWorker(svc, b); err != nil {
				return err
			}
			return svc.runBus(ctx, b, "worker")
		},
	}

	rootCmd.AddCommand(cmd)
}

func subscribeWorker(svc *services, b bus.Bus) error {
	analyzer, err := analysis.NewAnalyzer(svc.cfg, svc.gateway)
	if err != nil {
		return fmt.Errorf("failed to create analyzer: %w", err)
	}
	slog.Info("Analyzer selected", slog.String("analyzer", analyzer.Name()))

	w := analysis.NewWorker(analyzer, svc.gateway, b, analysis.WorkerOptions{
		// The mock analyzer never reads the source, so there is nothing to verify.
		VerifySource: svc.cfg.Worker.VerifySource && !svc.cfg.Worker.Mock,
		ResultPrefix: svc.cfg.Worker.ResultPrefix,
	})
	return b.Subscribe(config.GroupWorker, w.Handle)
}
