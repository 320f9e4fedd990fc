package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketconnect/llm-workbench/app/internal/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for local development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if secret == "" {
				return errors.New("a signing secret is required (--secret or JWT_SECRET)")
			}

			token, err := auth.NewAuthenticator(secret).IssueToken(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("secret", os.Getenv("JWT_SECRET"), "HS256 signing secret")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	return cmd
}
