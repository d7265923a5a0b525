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

// Command authbrokerd runs the OAuth 2.1 identity broker as a standalone
// HTTP server.
package main

import (
	"os"

	"github.com/stacklok/mcp-oauth-broker/cmd/authbrokerd/app"
	"github.com/stacklok/mcp-oauth-broker/internal/logger"
)

func main() {
	logger.Initialize(false)

	if err := app.NewRootCmd().Execute(); err != nil {
		logger.Errorw("authbrokerd exited with error", "error", err)
		os.Exit(1)
	}
}
