// Copyright 2025 Stacklok, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package app wires together the authbrokerd command-line surface: the
// root command, its persistent flags, and the serve subcommand.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/mcp-oauth-broker/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:               "authbrokerd",
	DisableAutoGenTag: true,
	Short:             "OAuth 2.1 identity broker for MCP clients",
	Long: `authbrokerd runs an OAuth 2.1 authorization server that brokers login
through upstream identity providers (Google, Microsoft) on behalf of MCP
clients. It speaks RFC 6749 authorization code grant with mandatory PKCE,
RFC 7591 dynamic client registration, and RFC 8414 discovery metadata,
while delegating actual end-user authentication upstream.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorw("failed to display help", "error", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize(viper.GetBool("debug"))
	},
}

// NewRootCmd builds the authbrokerd root command.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorw("failed to bind debug flag", "error", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the authbrokerd configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorw("failed to bind config flag", "error", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}
