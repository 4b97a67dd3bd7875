package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/upb/sso-audit/middleware"
)

func newTokenCmd() *cobra.Command {
	var (
		secret  string
		issuer  string
		subject string
		roles   []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a service token for the audit API",
		Long: `Issue an HS256 bearer token signed with AUTH_JWT_SECRET. Collectors need
the audit:write role; dashboards and investigators need audit:read.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("a signing secret is required (--secret or AUTH_JWT_SECRET)")
			}
			if subject == "" {
				return errors.New("--subject is required")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}

			now := time.Now()
			signed, err := middleware.IssueToken(secret, issuer, subject, roles, jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			})
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", os.Getenv("AUTH_JWT_SECRET"), "HMAC signing secret")
	cmd.Flags().StringVar(&issuer, "issuer", os.Getenv("AUTH_JWT_ISSUER"), "token issuer")
	cmd.Flags().StringVar(&subject, "subject", "", "client identity, used as the rate limit key")
	cmd.Flags().StringSliceVar(&roles, "role", []string{middleware.RoleWrite}, "granted roles (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
