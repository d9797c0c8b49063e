package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/immich-sync/internal/source"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the source account",
		Long: `Run the source OAuth authorization-code flow (PKCE, loopback
callback server) and persist the resulting refresh token to --auth-token.
'sync' runs this automatically on first use; 'login' lets it be done
ahead of time, or to re-authenticate.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := cliContextFrom(cmd.Context())
			if _, err := source.Login(cmd.Context(), cc.Cfg.ClientSecretPath, cc.Cfg.AuthTokenPath, cc.Logger); err != nil {
				return fmt.Errorf("login: %w", err)
			}
			fmt.Printf("Logged in. Token saved to %s.\n", cc.Cfg.AuthTokenPath)
			return nil
		},
	}
}
