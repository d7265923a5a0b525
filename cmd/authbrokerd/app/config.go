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
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/stacklok/mcp-oauth-broker/pkg/authserver"
)

// fileConfig is the on-disk shape of an authbrokerd configuration file. It
// is a thin, serializable mirror of authserver.Config: paths and durations
// as strings instead of crypto.Signer and time.Duration, since those can't
// round-trip through YAML directly.
type fileConfig struct {
	Issuer                            string                         `mapstructure:"issuer"`
	SigningKey                        fileSigningKey                 `mapstructure:"signing_key"`
	ScopesSupported                   []string                       `mapstructure:"scopes_supported"`
	EnableDynamicClientRegistration   bool                           `mapstructure:"enable_dynamic_client_registration"`
	ClientIDMetadataDocumentSupported bool                           `mapstructure:"client_id_metadata_document_supported"`
	AccessTokenLifespan               string                         `mapstructure:"access_token_lifespan"`
	RefreshTokenLifespan              string                         `mapstructure:"refresh_token_lifespan"`
	AuthCodeLifespan                  string                         `mapstructure:"auth_code_lifespan"`
	PKCESessionLifespan               string                         `mapstructure:"pkce_session_lifespan"`
	Clients                           []fileClientConfig             `mapstructure:"clients"`
	Providers                         map[string]fileProviderConfig  `mapstructure:"providers"`
	Redis                             *fileRedisConfig               `mapstructure:"redis"`
}

type fileSigningKey struct {
	KeyID          string `mapstructure:"key_id"`
	Algorithm      string `mapstructure:"algorithm"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
}

type fileClientConfig struct {
	ID           string   `mapstructure:"id"`
	Secret       string   `mapstructure:"secret"`
	RedirectURIs []string `mapstructure:"redirect_uris"`
	Public       bool     `mapstructure:"public"`
	Scopes       []string `mapstructure:"scopes"`
}

type fileProviderConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	AuthorizeURL string   `mapstructure:"authorize_url"`
	TokenURL     string   `mapstructure:"token_url"`
	UserInfoURL  string   `mapstructure:"userinfo_url"`
	Scopes       []string `mapstructure:"scopes"`
}

type fileRedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// loadConfig reads and decodes the YAML file at path, then resolves it
// into an authserver.Config (loading the signing key from disk).
func loadConfig(path string) (authserver.Config, error) {
	var fc fileConfig

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return authserver.Config{}, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := v.Unmarshal(&fc); err != nil {
		return authserver.Config{}, fmt.Errorf("failed to decode config file %q: %w", path, err)
	}

	signingKey, err := loadSigningKey(fc.SigningKey)
	if err != nil {
		return authserver.Config{}, fmt.Errorf("signing_key: %w", err)
	}

	cfg := authserver.Config{
		Issuer:                            fc.Issuer,
		SigningKey:                        signingKey,
		ScopesSupported:                   fc.ScopesSupported,
		EnableDynamicClientRegistration:   fc.EnableDynamicClientRegistration,
		ClientIDMetadataDocumentSupported: fc.ClientIDMetadataDocumentSupported,
		Clients:                           make([]authserver.ClientConfig, 0, len(fc.Clients)),
		Providers:                         make(map[string]authserver.ProviderConfig, len(fc.Providers)),
	}

	if cfg.AccessTokenLifespan, err = parseDuration(fc.AccessTokenLifespan); err != nil {
		return authserver.Config{}, fmt.Errorf("access_token_lifespan: %w", err)
	}
	if cfg.RefreshTokenLifespan, err = parseDuration(fc.RefreshTokenLifespan); err != nil {
		return authserver.Config{}, fmt.Errorf("refresh_token_lifespan: %w", err)
	}
	if cfg.AuthCodeLifespan, err = parseDuration(fc.AuthCodeLifespan); err != nil {
		return authserver.Config{}, fmt.Errorf("auth_code_lifespan: %w", err)
	}
	if cfg.PKCESessionLifespan, err = parseDuration(fc.PKCESessionLifespan); err != nil {
		return authserver.Config{}, fmt.Errorf("pkce_session_lifespan: %w", err)
	}

	for _, c := range fc.Clients {
		cfg.Clients = append(cfg.Clients, authserver.ClientConfig{
			ID:           c.ID,
			Secret:       c.Secret,
			RedirectURIs: c.RedirectURIs,
			Public:       c.Public,
			Scopes:       c.Scopes,
		})
	}

	for name, p := range fc.Providers {
		cfg.Providers[name] = authserver.ProviderConfig{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			AuthorizeURL: p.AuthorizeURL,
			TokenURL:     p.TokenURL,
			UserInfoURL:  p.UserInfoURL,
			Scopes:       p.Scopes,
		}
	}

	if fc.Redis != nil {
		cfg.Redis = &authserver.RedisConfig{
			Addr:     fc.Redis.Addr,
			Username: fc.Redis.Username,
			Password: fc.Redis.Password,
			DB:       fc.Redis.DB,
		}
	}

	return cfg, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// loadSigningKey reads a PEM-encoded PKCS#8 private key from disk and
// returns it as the crypto.Signer the authorization server signs access
// tokens with.
func loadSigningKey(fsk fileSigningKey) (authserver.SigningKey, error) {
	if fsk.PrivateKeyPath == "" {
		return authserver.SigningKey{}, fmt.Errorf("private_key_path is required")
	}

	raw, err := os.ReadFile(fsk.PrivateKeyPath)
	if err != nil {
		return authserver.SigningKey{}, fmt.Errorf("failed to read private key file: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return authserver.SigningKey{}, fmt.Errorf("no PEM block found in %q", fsk.PrivateKeyPath)
	}

	signer, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return authserver.SigningKey{}, fmt.Errorf("failed to parse private key: %w", err)
	}

	return authserver.SigningKey{
		KeyID:     fsk.KeyID,
		Algorithm: fsk.Algorithm,
		Key:       signer,
	}, nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("PKCS#8 key of type %T does not implement crypto.Signer", key)
		}
		return signer, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key encoding")
}
