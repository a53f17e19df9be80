package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nest-server/config"
	"nest-server/utils"
)

var (
	tokenUserID string
	tokenEmail  string
	tokenTTL    time.Duration
)

// tokenCmd issues access tokens for local testing against the configured JWT secret.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a signed access token for a profile id",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUserID == "" {
			return errors.New("--user is required")
		}
		signed, err := utils.GenerateToken(config.AppConfig.JWT.Secret, tokenUserID, tokenEmail, tokenTTL)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
		return err
	},
}

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret <secret>",
	Short: "Print a bcrypt hash usable as CRON_SECRET_HASH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := utils.HashSecret(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "CRON_SECRET_HASH=%s\n", hash)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "profile id used as the token subject")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
