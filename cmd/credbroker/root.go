// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// appName is the application name used in CLI output and help text.
const appName = "credbroker"

var v = viper.New()

// rootCmd is the entry point for the credbroker CLI. It carries no action
// of its own; serveCmd does the work.
var rootCmd = &cobra.Command{
	Use:   appName,
	Short: appName + " - human-in-the-loop credential broker",
	Long: appName + `

Brokers third-party website credentials to an autonomous agent, releasing
them only after an explicit human approval at a vault password prompt.`,
}

func init() {
	rootCmd.PersistentFlags().String("bind-addr", "", "loopback address to listen on (default 127.0.0.1:5000)")
	rootCmd.PersistentFlags().String("mode", "", "operating mode: local or remote (default remote)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (default warn)")

	_ = v.BindPFlag("bind_addr", rootCmd.PersistentFlags().Lookup("bind-addr"))
	_ = v.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode"))
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command; cobra has already printed any usage error
// by the time this returns non-nil.
func Execute() error {
	return rootCmd.Execute()
}
