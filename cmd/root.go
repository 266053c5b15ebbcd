// Package cmd holds the command line entry points of the chat service.
package cmd

import (
	"github.com/spf13/cobra"

	"campus-market/internal/config"
)

const serviceName = "chat-service"

var v = config.New()

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Buyer/seller chat and sale confirmation for the campus market",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String(config.KeyAppEnv, "dev", "Environment name (dev, local, staging, prod)")
	flags.String(config.KeyDBDSN, "", "Postgres connection string")
	bindPersistent(rootCmd, config.KeyAppEnv, config.KeyDBDSN)

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func bindPersistent(command *cobra.Command, keys ...string) {
	for _, key := range keys {
		if err := v.BindPFlag(key, command.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}
}

func bindLocal(command *cobra.Command, keys ...string) {
	for _, key := range keys {
		if err := v.BindPFlag(key, command.Flags().Lookup(key)); err != nil {
			panic(err)
		}
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(v)
}
