package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/splitttr/collabhub/internal/auth"
	"github.com/splitttr/collabhub/internal/config"
)

// newTokenCmd mints development tokens against the configured secret, so a
// client can be pointed at a local hub without a real identity provider.
func newTokenCmd() *cobra.Command {
	var (
		configPath string
		user       string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed connection token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("jwt secret is required (JWT_SECRET or jwtSecret in config)")
			}
			if user == "" {
				return errors.New("--user is required")
			}
			token, err := auth.NewVerifier(cfg.JWTSecret).Sign(user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to yaml config file")
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id to embed as the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}
