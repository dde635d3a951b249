package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rfi-copilot/internal/config"
	"rfi-copilot/internal/pkg/jwtutil"
)

var (
	tokenSubject string
	tokenSecret  string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token",
	Long: `Signs a bearer token for the HTTP API. The secret defaults to
auth.jwt_secret from the config file.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "", "client the token is issued to (required)")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "signing secret, overrides the config file")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime, defaults to auth.jwt_expire_minute")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	secret, ttl := tokenSecret, tokenTTL
	if secret == "" || ttl <= 0 {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if secret == "" {
			secret = cfg.Auth.JWTSecret
		}
		if ttl <= 0 {
			ttl = time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute
		}
	}
	if secret == "" {
		return errors.New("no signing secret: set auth.jwt_secret or pass --secret")
	}

	token, err := jwtutil.GenerateToken(secret, tokenSubject, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
