// Command circlesctl holds operator tasks that do not need a running server.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/circles/internal/adapters/auth"
	"github.com/dkeye/circles/internal/config"
	"github.com/dkeye/circles/internal/domain"
	"github.com/dkeye/circles/internal/storage/postgres"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	root := &cobra.Command{
		Use:           "circlesctl",
		Short:         "Circles operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildTokenCmd(), buildMigrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildTokenCmd() *cobra.Command {
	var configPath, userID, username string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for a user",
		Long: `Mint a JWT signed with auth.secret.

The token works as a Bearer header, as ?token= on WebSocket URLs,
or as the Bearer header of POST /api/session to open a cookie session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if username == "" {
				username = userID
			}
			user, err := domain.NewUser(domain.UserID(userID), username)
			if err != nil {
				return err
			}
			tok, err := auth.NewJWTResolver(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenExpiry).Issue(*user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default config/config.<CONFIG_ENV>.yaml)")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id (token subject)")
	cmd.Flags().StringVarP(&username, "name", "n", "", "Display name")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Storage.PostgresDSN == "" {
				return fmt.Errorf("storage.postgres_dsn is not set")
			}
			return postgres.RunMigrations(cfg.Storage.PostgresDSN)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}
