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
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/wsirunner/config"
	"github.com/cardinalhq/wsirunner/internal/httpapi"
)

var (
	tokenTenant string
	tokenUser   string
	tokenTTL    time.Duration
)

func init() {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token for development",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.IsProduction() {
				return fmt.Errorf("tokens can only be minted in the %s environment", config.EnvironmentDevelopment)
			}
			if cfg.API.JWTSecret == "" {
				return fmt.Errorf("api.jwt_secret must be set")
			}

			tenantID, err := parseOrNew(tokenTenant)
			if err != nil {
				return fmt.Errorf("invalid tenant: %w", err)
			}
			userID, err := parseOrNew(tokenUser)
			if err != nil {
				return fmt.Errorf("invalid user: %w", err)
			}

			token, err := httpapi.NewToken([]byte(cfg.API.JWTSecret), tenantID, userID, tokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&tokenTenant, "tenant", "", "Tenant id (random when empty)")
	cmd.Flags().StringVar(&tokenUser, "user", "", "User id (random when empty)")
	cmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")

	rootCmd.AddCommand(cmd)
}

func parseOrNew(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}
