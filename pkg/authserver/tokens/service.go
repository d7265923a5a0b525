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

package tokens

import (
	"context"
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	josejwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/go-jose/go-jose/v4"

	"github.com/stacklok/mcp-oauth-broker/internal/logger"
	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/storage"
)

// refreshTokenByteLength matches the authorization code / state entropy
// requirement of spec.md §9 (at least 128 bits).
const refreshTokenByteLength = 32

// refreshRecord is what Service stores per live refresh token so that
// Refresh can rebuild the claims it re-issues without a database lookup.
type refreshRecord struct {
	Claims Claims `json:"claims"`
}

// JWTService is the default Service: RSA- or ECDSA-signed JWT access
// tokens via go-jose, and opaque refresh tokens tracked for exactly-once
// redemption in a storage.Cache.
type JWTService struct {
	signer            jose.Signer
	keyID             string
	algorithm         jose.SignatureAlgorithm
	publicKey         crypto.PublicKey
	issuer            string
	audience          string
	cache             storage.Cache
	lifespans         lifespans
	upstreamRefresher UpstreamRefresher
}

// Config configures a JWTService.
type Config struct {
	// SigningKey is the private key used to sign access tokens with
	// Algorithm; any key and algorithm pair go-jose accepts works
	// (authserver.SigningKey admits RS256/384/512 and ES256/384/512).
	SigningKey any
	Algorithm  jose.SignatureAlgorithm
	KeyID      string

	Issuer   string
	Audience string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Cache backs refresh token storage and must support atomic
	// compare-and-delete via TryConsume for rotation to be exactly-once.
	Cache storage.Cache

	// UpstreamRefresher rotates the upstream credential bound to a
	// refresh token on each refresh cycle. Optional: nil skips upstream
	// rotation and carries the prior upstream tokens forward unchanged.
	UpstreamRefresher UpstreamRefresher
}

// NewJWTService builds a JWTService from cfg.
func NewJWTService(cfg Config) (*JWTService, error) {
	signerOpts := (&jose.SignerOptions{}).WithHeader("kid", cfg.KeyID).WithType("JWT")
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: cfg.Algorithm, Key: cfg.SigningKey}, signerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWT signer: %w", err)
	}

	var publicKey crypto.PublicKey
	if signingKey, ok := cfg.SigningKey.(crypto.Signer); ok {
		publicKey = signingKey.Public()
	}

	return &JWTService{
		signer:            signer,
		keyID:             cfg.KeyID,
		algorithm:         cfg.Algorithm,
		publicKey:         publicKey,
		issuer:            cfg.Issuer,
		audience:          cfg.Audience,
		cache:             cfg.Cache,
		upstreamRefresher: cfg.UpstreamRefresher,
		lifespans: lifespans{
			accessTokenTTL:  cfg.AccessTokenTTL,
			refreshTokenTTL: cfg.RefreshTokenTTL,
		},
	}, nil
}

// JWKS implements Service, publishing the public half of the signing key
// for resource servers to verify issued access tokens against.
func (s *JWTService) JWKS() jose.JSONWebKeySet {
	if s.publicKey == nil {
		return jose.JSONWebKeySet{}
	}
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       s.publicKey,
				KeyID:     s.keyID,
				Algorithm: string(s.algorithm),
				Use:       "sig",
			},
		},
	}
}

// IssueAccessToken implements Service.
func (s *JWTService) IssueAccessToken(ctx context.Context, claims Claims) (*IssuedTokens, error) {
	accessToken, err := s.sign(claims)
	if err != nil {
		return nil, err
	}

	refreshToken, err := generateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	if err := s.storeRefreshToken(ctx, refreshToken, claims); err != nil {
		return nil, err
	}

	return &IssuedTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.lifespans.accessTokenTTL.Seconds()),
		Scope:        strings.Join(claims.Scopes, " "),
	}, nil
}

// Refresh implements Service. It atomically consumes refreshToken —
// rotation means the token presented here can never be redeemed again,
// regardless of whether the caller successfully receives this response
// (spec.md §9).
func (s *JWTService) Refresh(ctx context.Context, refreshToken, clientID string) (*IssuedTokens, error) {
	var record refreshRecord
	if err := s.cache.TryConsume(ctx, refreshCacheKey(refreshToken), &record); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	if record.Claims.ClientID != clientID {
		return nil, ErrInvalidRefreshToken
	}

	claims := record.Claims
	if s.upstreamRefresher != nil && claims.UpstreamRefreshToken != "" {
		result, err := s.upstreamRefresher.RefreshUpstreamToken(ctx, claims.Provider, claims.UpstreamRefreshToken)
		if err != nil {
			logger.Warnw("upstream token refresh failed, keeping previous upstream credential",
				"error", err, "provider", claims.Provider)
		} else if result != nil {
			claims.UpstreamAccessToken = result.AccessToken
			if result.RefreshToken != "" {
				claims.UpstreamRefreshToken = result.RefreshToken
			}
		}
	}

	return s.IssueAccessToken(ctx, claims)
}

func (s *JWTService) sign(claims Claims) (string, error) {
	now := time.Now()
	builder := josejwt.Signed(s.signer).Claims(josejwt.Claims{
		Issuer:    s.issuer,
		Subject:   claims.Sub,
		Audience:  josejwt.Audience{s.audience},
		IssuedAt:  josejwt.NewNumericDate(now),
		Expiry:    josejwt.NewNumericDate(now.Add(s.lifespans.accessTokenTTL)),
		NotBefore: josejwt.NewNumericDate(now),
	}).Claims(map[string]any{
		"email":       claims.Email,
		"name":        claims.Name,
		"given_name":  claims.GivenName,
		"family_name": claims.FamilyName,
		"picture":     claims.Picture,
		"provider":    claims.Provider,
		"client_id":   claims.ClientID,
		"scope":       strings.Join(claims.Scopes, " "),
	})

	token, err := builder.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return token, nil
}

func (s *JWTService) storeRefreshToken(ctx context.Context, refreshToken string, claims Claims) error {
	record := refreshRecord{Claims: claims}
	if err := s.cache.Set(ctx, refreshCacheKey(refreshToken), record, s.lifespans.refreshTokenTTL); err != nil {
		return fmt.Errorf("failed to persist refresh token: %w", err)
	}
	return nil
}

func refreshCacheKey(token string) string {
	return "refresh_token:" + token
}

func generateOpaqueToken() (string, error) {
	buf := make([]byte, refreshTokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
