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

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the broker's full HTTP surface: the /oauth/* endpoints
// served by coordinator, the /.well-known/* discovery documents and
// jwks_uri served by publisher and jwks, and a Prometheus /metrics
// endpoint.
func NewRouter(coordinator *Coordinator, publisher *MetadataPublisher, jwks *JWKSHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/authorize", coordinator.HandleAuthorize)
		r.Post("/token", coordinator.HandleToken)
		r.Post("/register", coordinator.HandleRegister)
		r.Get("/callback/{provider}", coordinator.HandleCallback)
		r.Get("/jwks", jwks.ServeHTTP)
	})

	r.Route("/.well-known", func(r chi.Router) {
		r.Get("/oauth-authorization-server", publisher.ServeHTTP)
		r.Get("/openid-configuration", publisher.ServeHTTP)
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
