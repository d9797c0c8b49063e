package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/immich-sync/internal/source"
)

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved source authentication token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := cliContextFrom(cmd.Context())
			if err := source.Logout(cc.Cfg.AuthTokenPath, cc.Logger); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			fmt.Println("Logged out.")
			return nil
		},
	}
}
