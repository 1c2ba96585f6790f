package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cartCmd "github.com/Alturino/cartsync/cart/cmd"
	"github.com/Alturino/cartsync/internal/config"
)

// newTokenCommand issues a sign in token for local testing against the
// configured secret.
func newTokenCommand() *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a sign in token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(user)
			if err != nil {
				return fmt.Errorf("failed parsing userId=%s with error=%w", user, err)
			}

			filename, _ := cmd.Flags().GetString("config")
			cfg, err := config.InitConfig(cmd.Context(), filename)
			if err != nil {
				return fmt.Errorf("failed initializing config with error=%w", err)
			}

			token, err := cartCmd.IssueToken([]byte(cfg.Application.SecretKey), userID, time.Now(), ttl)
			if err != nil {
				return fmt.Errorf("failed issuing token with error=%w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "userId the token is issued for")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
