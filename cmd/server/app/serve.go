package app

import (
	"github.com/KevinKickass/OpenFacilityCore/cmd/server/app/options"
	"github.com/KevinKickass/OpenFacilityCore/internal/system"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("Config loaded successfully",
				zap.String("path", opts.ConfigPath),
				zap.String("database", cfg.Database.Driver))

			lifecycle := system.NewLifecycleManager(cfg, logger)
			if err := lifecycle.Run(cmd.Context()); err != nil {
				logger.Error("OpenFacilityCore stopped with error", zap.Error(err))
				return err
			}

			logger.Info("OpenFacilityCore stopped successfully")
			return nil
		},
	}
}
