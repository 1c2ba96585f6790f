package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Alturino/cartsync/internal/config"
	"github.com/Alturino/cartsync/internal/constants"
	"github.com/Alturino/cartsync/internal/infra"
	"github.com/Alturino/cartsync/internal/log"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or revert the cart table migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{infra.MigrationUp, infra.MigrationDown},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cmd.Context()
			logger := zerolog.Ctx(c).
				With().
				Str(log.KeyAppName, constants.APP_CART_MIGRATOR).
				Str(log.KeyTag, "main migrate").
				Logger()

			logger = logger.With().Str(log.KeyProcess, "init config").Logger()
			logger.Info().Msg("initializing config")
			c = logger.WithContext(c)
			filename, _ := cmd.Flags().GetString("config")
			cfg, err := config.InitConfig(c, filename)
			if err != nil {
				return fmt.Errorf("failed initializing config with error=%w", err)
			}
			logger.Info().Msg("initialized config")

			logger = logger.With().Str(log.KeyProcess, "initializing database").Logger()
			logger.Info().Msg("initializing database")
			c = logger.WithContext(c)
			db := infra.NewDatabaseClient(c, cfg.Database)
			defer db.Close()
			logger.Info().Msg("initialized database")

			return infra.Migrate(c, db, cfg.Database, args[0])
		},
	}
}
