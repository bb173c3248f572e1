package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coachpoints/coachpoints/internal/api"
	"github.com/coachpoints/coachpoints/internal/daemon"
	"github.com/coachpoints/coachpoints/internal/domain"
)

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User id (token subject)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "student", "Role: student, teacher or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default auth.token_ttl)")
	tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}

var (
	tokenUser string
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the API",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not set; run 'coachpoints init' first")
	}
	ttl := cfg.Auth.TokenTTL.Duration
	if tokenTTL > 0 {
		ttl = tokenTTL
	}

	signer := api.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl)
	token, exp, err := signer.Sign(domain.Actor{UserID: tokenUser, Role: domain.Role(tokenRole)})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
	return nil
}
