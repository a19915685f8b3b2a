package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"p2plend/config"
	"p2plend/rpc/middleware"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Operator credential helpers",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var (
		subject  string
		scopes   []string
		ttl      time.Duration
		issuer   string
		audience string
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint an operator bearer token from the shared JWT secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := strings.TrimSpace(os.Getenv(config.EnvJWTSecret))
			if secret == "" {
				return fmt.Errorf("%s is not set", config.EnvJWTSecret)
			}
			if strings.TrimSpace(subject) == "" {
				return errors.New("--subject required")
			}
			auth := middleware.NewAuthenticator(middleware.AuthConfig{
				Enabled:    true,
				HMACSecret: secret,
				Issuer:     issuer,
				Audience:   audience,
			}, nil)
			token, err := auth.IssueToken(subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject recorded in operator logs")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{"operator"}, "Granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.Flags().StringVar(&issuer, "issuer", "", "Issuer claim (must match rpc.jwtIssuer)")
	cmd.Flags().StringVar(&audience, "audience", "", "Audience claim (must match rpc.jwtAudience)")
	return cmd
}
