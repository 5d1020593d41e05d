package app

import (
	"fmt"

	"github.com/KevinKickass/OpenFacilityCore/cmd/server/app/options"
	"github.com/KevinKickass/OpenFacilityCore/internal/system"
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrate needs the postgres driver, got %q", cfg.Database.Driver)
			}

			cfg.Database.MigrateOnStart = true
			store, err := system.OpenStore(cmd.Context(), cfg.Database, logger)
			if err != nil {
				return err
			}
			store.Close()
			return nil
		},
	}
}
