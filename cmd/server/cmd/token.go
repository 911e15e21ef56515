package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	var header bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Fetch a client-credentials access token",
		Long: `Fetch an access token from the configured OAuth token endpoint, using
the same client credentials the gateway uses toward storage.

Useful for calling the storage API by hand when STORAGE_AUTH_MODE=jwt.

Examples:
  # Print a raw token
  passvault token

  # Print a ready-to-use header
  passvault token --header`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if cfg.OAuth.TokenURL == "" || cfg.OAuth.ClientID == "" || cfg.OAuth.ClientSecret == "" {
				return fmt.Errorf("OAUTH_TOKEN_URL (or KEYCLOAK_URL and KEYCLOAK_REALM), OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET are required")
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			tok, err := newTokenCache(cfg, zerolog.Nop()).Token(ctx)
			if err != nil {
				return err
			}
			if header {
				fmt.Fprintf(cmd.OutOrStdout(), "Authorization: Bearer %s\n", tok)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), tok)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&header, "header", false, "print an Authorization header line")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "token request timeout")
	return cmd
}
