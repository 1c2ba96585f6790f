package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Alturino/cartsync/internal/constants"
	"github.com/Alturino/cartsync/internal/log"
)

// Start runs the root command. The logger is configured before any config
// file is read, so it takes its file path and level from the environment.
func Start() {
	logger := log.InitLogger(os.Getenv("APPLICATION_LOG_PATH"), os.Getenv("APPLICATION_ENV")).
		With().
		Str(log.KeyAppName, constants.APP_CARTSYNC).
		Str(log.KeyTag, "main Start").
		Logger()

	logger.Info().Msg("adding listener for SIGINT and SIGTERM")
	c, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info().Msg("added listener for SIGINT and SIGTERM")

	c = logger.WithContext(c)

	rootCmd := &cobra.Command{
		Use:          constants.APP_CARTSYNC,
		Short:        "Local first shopping cart kept in sync with a remote store",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().
		StringP("config", "c", constants.APP_CART_SERVICE, "config file name under ./env without extension")
	rootCmd.AddCommand(newCartCommand(), newMigrateCommand(), newTokenCommand())
	if err := rootCmd.ExecuteContext(c); err != nil {
		logger.Fatal().Err(err).Msgf("error when executing command=%s", err.Error())
	}
}
