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

// Package authserver provides an OAuth 2.1 authorization server that acts
// as an identity broker in front of upstream identity providers (Google,
// Microsoft): it exposes a standards-compliant OAuth surface to MCP
// clients while delegating user authentication upstream, then mints its
// own access and refresh tokens bound to a locally resolved user
// identity.
//
// # Usage
//
// New builds the full server from a resolved Config:
//
//	srv, err := authserver.New(cfg)
//	if err != nil {
//	    return err
//	}
//	http.ListenAndServe(addr, srv.Handler)
//
// # Storage
//
// Session state (PKCE sessions, state correlation, authorization codes,
// refresh tokens) lives in a storage.Cache. Config.Redis selects the
// Redis-backed implementation for multi-instance deployments; the
// in-process MemoryCache is used otherwise.
package authserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/clients"
	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/server"
	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/storage"
	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/tokens"
	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/upstream"
	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/users"
)

// Server is the fully wired authorization server: an http.Handler plus
// the resources it owns and must close on shutdown.
type Server struct {
	Handler http.Handler
	cache   storage.Cache
	redis   *redis.Client
}

// Close releases resources held by the server (the cache's background
// janitor goroutine, or the Redis client New created for it).
func (s *Server) Close() error {
	err := s.cache.Close()
	if s.redis != nil {
		if closeErr := s.redis.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// New builds a Server from cfg, wiring C1-C8 together: the client
// registry, upstream provider registry, token service, user resolver,
// and the coordinator/metadata handlers that sit on top of them.
func New(cfg Config) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid authserver config: %w", err)
	}

	cache, redisClient, err := newCache(cfg)
	if err != nil {
		return nil, err
	}

	preRegistered := make([]*clients.RegisteredClient, 0, len(cfg.Clients))
	for _, c := range cfg.Clients {
		client, err := registeredClientFromConfig(c)
		if err != nil {
			_ = cache.Close()
			return nil, err
		}
		preRegistered = append(preRegistered, client)
	}
	clientRegistry := clients.NewRegistry(clients.Config{
		EnableDynamicRegistration: cfg.EnableDynamicClientRegistration,
		DefaultScopes:             cfg.ScopesSupported,
	}, preRegistered...)

	upstreamRegistry, err := buildUpstreamRegistry(cfg.Providers)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	tokenService, err := tokens.NewJWTService(tokens.Config{
		SigningKey:        cfg.SigningKey.Key,
		Algorithm:         cfg.SigningKey.JOSEAlgorithm(),
		KeyID:             cfg.SigningKey.KeyID,
		Issuer:            cfg.Issuer,
		Audience:          cfg.Issuer,
		AccessTokenTTL:    cfg.AccessTokenLifespan,
		RefreshTokenTTL:   cfg.RefreshTokenLifespan,
		Cache:             cache,
		UpstreamRefresher: &upstreamRefresher{registry: upstreamRegistry},
	})
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("failed to build token service: %w", err)
	}

	coordinator := server.NewCoordinator(
		server.CoordinatorConfig{
			PKCESessionTTL: cfg.PKCESessionLifespan,
			AuthCodeTTL:    cfg.AuthCodeLifespan,
			DefaultScopes:  cfg.ScopesSupported,
		},
		clientRegistry,
		cache,
		upstreamRegistry,
		users.NewInMemoryResolver(),
		tokenService,
		server.NewMetricsForRegisterer(prometheus.DefaultRegisterer),
	)

	publisher := server.NewMetadataPublisher(server.MetadataConfig{
		Issuer:                            cfg.Issuer,
		ScopesSupported:                   cfg.ScopesSupported,
		EnableDynamicClientRegistration:   cfg.EnableDynamicClientRegistration,
		ClientIDMetadataDocumentSupported: cfg.ClientIDMetadataDocumentSupported,
		IDTokenSigningAlgValuesSupported:  []string{cfg.SigningKey.Algorithm},
	})

	jwksHandler := server.NewJWKSHandler(tokenService.JWKS())

	return &Server{
		Handler: server.NewRouter(coordinator, publisher, jwksHandler),
		cache:   cache,
		redis:   redisClient,
	}, nil
}

// upstreamRefresher adapts an upstream.Registry to tokens.UpstreamRefresher,
// so the token service can rotate a client's bound upstream credential on
// refresh without importing the upstream package itself.
type upstreamRefresher struct {
	registry *upstream.Registry
}

func (u *upstreamRefresher) RefreshUpstreamToken(ctx context.Context, providerName, refreshToken string) (*tokens.UpstreamRefreshResult, error) {
	provider, ok := u.registry.Get(upstream.Name(providerName))
	if !ok {
		return nil, nil
	}
	result, err := provider.RefreshUpstreamToken(ctx, refreshToken)
	if err != nil || result == nil {
		return nil, err
	}
	return &tokens.UpstreamRefreshResult{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}, nil
}

func newCache(cfg Config) (storage.Cache, *redis.Client, error) {
	if cfg.Redis == nil {
		return storage.NewMemoryCache(), nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return storage.NewRedisCache(client), client, nil
}

func registeredClientFromConfig(c ClientConfig) (*clients.RegisteredClient, error) {
	authMethod := clients.AuthMethodClientSecretPost
	var secretHash []byte
	if c.Public {
		authMethod = clients.AuthMethodNone
	} else {
		hash, err := hashSecret(c.Secret)
		if err != nil {
			return nil, fmt.Errorf("client %q: %w", c.ID, err)
		}
		secretHash = hash
	}

	return &clients.RegisteredClient{
		ClientID:              c.ID,
		ClientSecretHash:      secretHash,
		RedirectURIs:          c.RedirectURIs,
		GrantTypes:            []string{"authorization_code", "refresh_token"},
		Scopes:                c.Scopes,
		TokenEndpointAuthMeth: authMethod,
		CreatedAt:             time.Now(),
	}, nil
}

func hashSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret is required for confidential clients")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash client secret: %w", err)
	}
	return hash, nil
}

func buildUpstreamRegistry(providers map[string]ProviderConfig) (*upstream.Registry, error) {
	built := make(map[upstream.Name]upstream.Provider, len(providers))
	for name, p := range providers {
		cfg := upstream.ProviderConfig{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			AuthURL:      p.AuthorizeURL,
			TokenURL:     p.TokenURL,
			UserInfoURL:  p.UserInfoURL,
			Scopes:       p.Scopes,
		}
		switch upstream.Name(name) {
		case upstream.Google:
			built[upstream.Google] = upstream.NewGoogleProvider(cfg)
		case upstream.Microsoft:
			built[upstream.Microsoft] = upstream.NewMicrosoftProvider(cfg)
		default:
			return nil, fmt.Errorf("unsupported upstream provider %q", name)
		}
	}
	return upstream.NewRegistry(built), nil
}
