// Package app builds the ofcd command tree.
package app

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenFacilityCore/cmd/server/app/options"
	"github.com/KevinKickass/OpenFacilityCore/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewRootCommand(ctx context.Context) *cobra.Command {
	opts := options.NewOptions()
	cmd := &cobra.Command{
		Use:          "ofcd",
		Short:        "OpenFacilityCore firmware lifecycle service",
		Long:         "ofcd registers facility sensors, stores their firmware and rolls updates out to them.",
		SilenceUsage: true,
	}
	cmd.SetContext(ctx)
	opts.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newTokenCommand(opts),
	)
	return cmd
}

// setup loads the config and builds the logger every subcommand uses.
func setup(opts *options.Options) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = level
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
