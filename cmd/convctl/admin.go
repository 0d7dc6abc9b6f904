package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GTDGit/conversion_api/internal/utils"
)

func newAdminCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin credential helpers",
	}

	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin JWT for the dashboard or curl",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.secret == "" {
				return fmt.Errorf("admin secret is required (--secret or ADMIN_JWT_SECRET)")
			}
			jwt, err := utils.GenerateAdminJWT(opts.secret, opts.subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), jwt)
			return nil
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")

	secret := &cobra.Command{
		Use:   "secret",
		Short: "Generate a random value for ADMIN_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := utils.GenerateSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}

	cmd.AddCommand(token, secret)
	return cmd
}
