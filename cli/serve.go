package cli

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/capsulehq/capsule/engine/infra/server"
	"github.com/capsulehq/capsule/pkg/config"
	"github.com/capsulehq/capsule/pkg/logger"
)

func ServeCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Capsule HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logLevel, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
			if err != nil {
				return err
			}
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("failed to load env file %s: %w", envFile, err)
				}
			} else {
				// A missing default .env is fine.
				_ = godotenv.Load()
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel == "" {
				logLevel = cfg.LogLevel
			}
			logger.SetupLogger(logLevel, logJSON || cfg.LogJSON, logSource)

			ctx := logger.ContextWithLogger(cmd.Context(), logger.GetDefault())
			srv, err := server.NewServer(ctx, cfg)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "path to an env file loaded before configuration")
	return cmd
}
