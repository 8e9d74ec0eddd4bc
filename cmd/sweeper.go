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

	"github.com/cardinalhq/wsirunner/cmd/sweeper"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sweeper",
		Short: "Reclaim orphaned uploads and relay unpublished events",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, doneFx, err := setupTelemetry("wsirunner-sweeper")
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

			b, err := svc.newBus(ctx, 1)
			if err != nil {
				return err
			}
			defer closeBus(b)

			return sweeper.New(svc.store, svc.gateway, b, svc.cfg.Sweeper).Run(ctx)
		},
	}

	rootCmd.AddCommand(cmd)
}
