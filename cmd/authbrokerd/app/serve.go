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

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/mcp-oauth-broker/internal/logger"
	"github.com/stacklok/mcp-oauth-broker/pkg/authserver"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the OAuth identity broker HTTP server",
		Long: `Start the OAuth identity broker, reading its configuration (issuer,
signing key, pre-registered clients, upstream providers) from the file
given by --config.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", ":8080", "Address to listen on")
	if err := viper.BindPFlag("address", cmd.Flags().Lookup("address")); err != nil {
		logger.Errorw("failed to bind address flag", "error", err)
	}

	return cmd
}

func runServe(_ *cobra.Command, _ []string) error {
	configPath := viper.GetString("config")
	if configPath == "" {
		return fmt.Errorf("no configuration file specified, use --config/-c")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	srv, err := authserver.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build authorization server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			logger.Errorw("error closing authorization server", "error", closeErr)
		}
	}()

	address := viper.GetString("address")
	httpServer := &http.Server{
		Addr:         address,
		Handler:      srv.Handler,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Infow("identity broker listening", "address", address, "issuer", cfg.Issuer)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("server exited unexpectedly", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infow("shutting down identity broker")

	ctx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Infow("identity broker shutdown complete")
	return nil
}
