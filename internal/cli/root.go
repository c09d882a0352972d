// Package cli wires the engine's subcommands: serve runs the server, migrate
// applies the schema.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	var configPath string

	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Live session engine for map-bound quizzes and polls",
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to config file")
	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newMigrateCmd(&configPath))
	return cmd
}
