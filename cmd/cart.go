package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	cartCmd "github.com/Alturino/cartsync/cart/cmd"
	"github.com/Alturino/cartsync/internal/config"
)

func newCartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cart",
		Short: "Run the cart session service",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cmd.Context()
			filename, _ := cmd.Flags().GetString("config")
			cfg, err := config.InitConfig(c, filename)
			if err != nil {
				return fmt.Errorf("failed initializing config with error=%w", err)
			}

			cartCmd.RunCartService(c, cfg)
			return nil
		},
	}
}
