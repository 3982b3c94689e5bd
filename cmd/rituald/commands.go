// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "rituald",
		Short: "The Whisperboard ritual engine daemon",
		Long: `rituald runs the curse behind the board: it tracks every
visitor's descent, fires behavioral triggers, generates anomalies, and
corrupts content on its way to the screen.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the ritual engine server",
		Run:   runServe, // Defined in serve.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the rituald version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("rituald", Version)
		},
	}
)

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"path to a rituald.yaml config file (defaults + RITUAL_* env otherwise)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
