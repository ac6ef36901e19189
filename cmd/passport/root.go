// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/passport/internal/config"
	"github.com/holomush/passport/internal/xdg"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the passport CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "passport",
		Short: "passport - credential and session service",
		Long: `passport registers users, authenticates them with argon2id password
hashes, issues signed session tokens and runs the forgot/reset password flow.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/passport/passport.yaml if present)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before reading the environment")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewWorkerCmd())

	return cmd
}

// loadConfig reads settings for cmd from the global sources and its flags.
// Without --config, the XDG config file is used when it exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		found, err := xdg.FindConfigFile()
		if err != nil {
			return nil, err //nolint:wrapcheck // xdg errors carry their own codes
		}
		path = found
	}
	//nolint:wrapcheck // config errors carry their own codes
	return config.Load(cmd.Flags(), config.Sources{File: path, EnvFile: envFile})
}
