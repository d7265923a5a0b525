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

package authserver

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/stacklok/mcp-oauth-broker/internal/logger"
)

// MinRSAKeyBits is the minimum required size for RSA keys in bits.
// 2048 bits is required per NIST SP 800-57 recommendations.
const MinRSAKeyBits = 2048

// Config is the pure configuration for the OAuth authorization server.
// All values must be fully resolved (no file paths, no env vars) —
// translating a config file or flags into this shape is cmd/authbrokerd's
// job, not this package's.
type Config struct {
	// Issuer is the issuer identifier for this authorization server
	// (spec.md §6 server_url), included in the "iss" claim of issued
	// tokens and used to build every endpoint URL in the discovery
	// document. Any trailing slash is stripped by applyDefaults.
	Issuer string

	// SigningKey signs minted access tokens.
	SigningKey SigningKey

	// ScopesSupported is advertised at discovery and used as the default
	// scope set when /authorize omits `scope`.
	ScopesSupported []string

	// EnableDynamicClientRegistration toggles RFC 7591 POST /oauth/register.
	EnableDynamicClientRegistration bool

	// ClientIDMetadataDocumentSupported is passed through to the
	// discovery document; see SPEC_FULL.md's supplemented features.
	ClientIDMetadataDocumentSupported bool

	// AccessTokenLifespan is the duration that access tokens are valid.
	// If zero, defaults to 1 hour.
	AccessTokenLifespan time.Duration

	// RefreshTokenLifespan is the duration that refresh tokens are valid.
	// If zero, defaults to 7 days.
	RefreshTokenLifespan time.Duration

	// AuthCodeLifespan is the duration that authorization codes are
	// valid. If zero, defaults to 5 minutes (spec.md §3).
	AuthCodeLifespan time.Duration

	// PKCESessionLifespan bounds an in-flight /authorize attempt.
	// If zero, defaults to 10 minutes (spec.md §3).
	PKCESessionLifespan time.Duration

	// Clients is the list of pre-registered OAuth clients.
	Clients []ClientConfig

	// Providers configures the supported upstream identity providers,
	// keyed by name ("google", "microsoft"). At least one must be set.
	Providers map[string]ProviderConfig

	// Redis, if set, backs the PersistedCache with github.com/redis/go-redis
	// instead of the in-process MemoryCache. Use this for any deployment
	// running more than one broker instance.
	Redis *RedisConfig
}

// ProviderConfig is the resolved, per-provider upstream configuration
// (spec.md §6's "per-provider {client_id, client_secret, authorize_url,
// token_url, userinfo_url, scopes}").
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

// RedisConfig is the connection configuration for the Redis-backed cache.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// SigningKey represents a key used for signing JWT access tokens.
type SigningKey struct {
	// KeyID is the unique identifier for this key, used in the JWT "kid"
	// header.
	KeyID string

	// Algorithm specifies the signing algorithm (e.g., "RS256", "ES256").
	Algorithm string

	// Key is the actual private key. Must implement crypto.Signer.
	Key crypto.Signer
}

// JOSEAlgorithm maps Algorithm to the go-jose signature algorithm
// constant, after Validate has confirmed it is supported.
func (k *SigningKey) JOSEAlgorithm() jose.SignatureAlgorithm {
	return jose.SignatureAlgorithm(k.Algorithm)
}

// ClientConfig defines a pre-registered OAuth client.
type ClientConfig struct {
	// ID is the unique identifier for this client.
	ID string

	// Secret is the client secret. Required for confidential clients.
	// For public clients, this should be empty.
	Secret string

	// RedirectURIs is the list of allowed redirect URIs for this client.
	RedirectURIs []string

	// Public indicates whether this is a public client (e.g., native app,
	// CLI). Public clients do not have a secret.
	Public bool

	// Scopes is the set of scopes this client may request.
	Scopes []string
}

// Validate checks that the Config is valid, applying no defaults — call
// applyDefaults first if defaults are wanted.
func (c *Config) Validate() error {
	logger.Debugw("validating authserver config", "issuer", c.Issuer)

	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}

	if err := c.SigningKey.Validate(); err != nil {
		return fmt.Errorf("signing key: %w", err)
	}

	for i, client := range c.Clients {
		if err := client.Validate(); err != nil {
			return fmt.Errorf("client %d: %w", i, err)
		}
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one upstream provider must be configured")
	}
	for name, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", name, err)
		}
	}

	logger.Debugw("authserver config validation passed",
		"issuer", c.Issuer,
		"clientCount", len(c.Clients),
		"providerCount", len(c.Providers),
	)
	return nil
}

// Validate checks that the ProviderConfig is usable.
func (p *ProviderConfig) Validate() error {
	if p.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if p.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	return nil
}

// Validate checks that the SigningKey configuration is valid.
func (k *SigningKey) Validate() error {
	logger.Debugw("validating signing key", "keyID", k.KeyID, "algorithm", k.Algorithm)

	if k.KeyID == "" {
		return fmt.Errorf("key ID is required")
	}
	if k.Algorithm == "" {
		return fmt.Errorf("algorithm is required")
	}
	if k.Key == nil {
		return fmt.Errorf("key is required")
	}

	switch k.Algorithm {
	case "RS256", "RS384", "RS512":
		rsaKey, ok := k.Key.(*rsa.PrivateKey)
		if !ok {
			return fmt.Errorf("RSA algorithm requires *rsa.PrivateKey, got %T", k.Key)
		}
		if rsaKey.N.BitLen() < MinRSAKeyBits {
			return fmt.Errorf("RSA key must be at least %d bits, got %d", MinRSAKeyBits, rsaKey.N.BitLen())
		}
		logger.Debugw("RSA signing key validated", "keyID", k.KeyID, "keyBits", rsaKey.N.BitLen())
	case "ES256", "ES384", "ES512":
		ecdsaKey, ok := k.Key.(*ecdsa.PrivateKey)
		if !ok {
			return fmt.Errorf("ECDSA algorithm requires *ecdsa.PrivateKey, got %T", k.Key)
		}
		expectedCurves := map[string]string{
			"ES256": "P-256",
			"ES384": "P-384",
			"ES512": "P-521",
		}
		expectedCurve := expectedCurves[k.Algorithm]
		if ecdsaKey.Curve.Params().Name != expectedCurve {
			return fmt.Errorf("algorithm %s requires curve %s, got %s",
				k.Algorithm, expectedCurve, ecdsaKey.Curve.Params().Name)
		}
		logger.Debugw("ECDSA signing key validated", "keyID", k.KeyID, "curve", ecdsaKey.Curve.Params().Name)
	default:
		return fmt.Errorf("unsupported algorithm: %s", k.Algorithm)
	}

	return nil
}

// Validate checks that the ClientConfig is valid.
func (c *ClientConfig) Validate() error {
	logger.Debugw("validating client config", "clientID", c.ID, "public", c.Public)

	if c.ID == "" {
		return fmt.Errorf("client id is required")
	}

	if len(c.RedirectURIs) == 0 {
		return fmt.Errorf("at least one redirect_uri is required")
	}

	if !c.Public && c.Secret == "" {
		return fmt.Errorf("secret is required for confidential clients")
	}

	logger.Debugw("client config validated", "clientID", c.ID, "redirectURICount", len(c.RedirectURIs))
	return nil
}

// applyDefaults applies default values to the config where not set.
func (c *Config) applyDefaults() {
	logger.Debug("applying default values to authserver config")

	c.Issuer = strings.TrimSuffix(c.Issuer, "/")

	if len(c.ScopesSupported) == 0 {
		c.ScopesSupported = []string{"openid", "profile", "email", "mcp:tools"}
	}
	if c.AccessTokenLifespan == 0 {
		c.AccessTokenLifespan = time.Hour
	}
	if c.RefreshTokenLifespan == 0 {
		c.RefreshTokenLifespan = 24 * time.Hour * 7 // 7 days
	}
	if c.AuthCodeLifespan == 0 {
		c.AuthCodeLifespan = 5 * time.Minute
	}
	if c.PKCESessionLifespan == 0 {
		c.PKCESessionLifespan = 10 * time.Minute
	}
}
