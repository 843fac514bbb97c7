// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/stashbin/stashbin/pkg/utils"
)

var rootCmd = &cobra.Command{
	Use:   "stashbin",
	Short: "Stashbin - chunked upload service",
	Long: `Stashbin accepts large files as chunked upload sessions, assembles the
chunks into blob storage in the background, and serves the finished objects
back out. Sessions are tracked in a durable store and reclaimed by a janitor
when they expire or go stale.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
