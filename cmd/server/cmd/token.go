package cmd

import (
	"fmt"
	"os"

	"github.com/entranthq/server/internal/auth"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenRole    string
)

// tokenCmd mints a signed JWT for testing and operational access. The secret
// comes from the same configuration the server validates against.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a JWT for API access",
	Long: `Mint a signed bearer token for the API.

Examples:
  # Token for a participant
  server token --subject user@example.com

  # Token for an organizer
  server token --subject ops@example.com --role organizer

  # Admin tokens additionally require ADMIN_PASSWORD to match
  # ADMIN_PASSWORD_HASH from the server configuration
  ADMIN_PASSWORD=... server token --subject root@example.com --role admin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSubject == "" {
			return fmt.Errorf("--subject is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}

		if auth.NormalizeRole(tokenRole) == auth.RoleAdmin {
			if err := auth.VerifyPassword(cfg.Auth.AdminPasswordHash, os.Getenv("ADMIN_PASSWORD")); err != nil {
				return fmt.Errorf("admin token refused: %w", err)
			}
		}

		manager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, "entrant")
		token, err := manager.Generate(tokenSubject, tokenRole)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (user id)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "participant", "role claim (participant, organizer, admin)")
}
