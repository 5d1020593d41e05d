package app

import (
	"fmt"

	"github.com/KevinKickass/OpenFacilityCore/cmd/server/app/options"
	"github.com/KevinKickass/OpenFacilityCore/internal/auth"
	"github.com/KevinKickass/OpenFacilityCore/internal/system"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTokenCommand(opts *options.Options) *cobra.Command {
	tokenOpts := options.NewTokenOptions()
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue access tokens for operators and automation",
	}

	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a user access token with the configured JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			userID := uuid.New()
			if tokenOpts.UserID != "" {
				if userID, err = uuid.Parse(tokenOpts.UserID); err != nil {
					return fmt.Errorf("invalid --user-id: %w", err)
				}
			}

			token, err := auth.NewJWTHandler(cfg.Auth.GetJWTSecret(), cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL).
				GenerateAccessToken(userID, tokenOpts.Username, tokenOpts.Role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenOpts.AddUserFlags(issue.Flags())

	machine := &cobra.Command{
		Use:   "machine",
		Short: "Create a machine token in the database and print it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := system.OpenStore(cmd.Context(), cfg.Database, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			authService := auth.NewAuthService(store, cfg.Auth, logger)
			token, machineToken, err := authService.CreateMachineToken(cmd.Context(), tokenOpts.Name, tokenOpts.Permissions, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id:    %s\ntoken: %s\n", machineToken.ID, token)
			return nil
		},
	}
	tokenOpts.AddMachineFlags(machine.Flags())

	cmd.AddCommand(issue, machine)
	return cmd
}
