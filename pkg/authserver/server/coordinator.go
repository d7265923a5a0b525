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
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/mcp-oauth-broker/internal/logger"
	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/clients"
	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/crypto"
	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/storage"
	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/tokens"
	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/upstream"
	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/users"
)

const (
	stateCachePrefix = "oauth_upstream_state_"
	codeCachePrefix  = "oauth_auth_code_"
	pkceCachePrefix  = "oauth_pkce_session_"
)

// CoordinatorConfig configures an AuthFlowCoordinator at construction
// time.
type CoordinatorConfig struct {
	// PKCESessionTTL bounds how long a /authorize attempt may remain
	// unredeemed before the cache entries self-expire (spec.md §3: 10m).
	PKCESessionTTL time.Duration
	// AuthCodeTTL bounds the lifetime of a minted broker authorization
	// code (spec.md §3: 5m).
	AuthCodeTTL time.Duration
	// DefaultScopes backs requests that omit `scope` entirely.
	DefaultScopes []string
}

// Coordinator implements AuthFlowCoordinator (spec.md C7): the
// /authorize, /callback/{provider}, and /token handlers, threading the
// PKCE, client registry, upstream provider, user resolver, and token
// service collaborators through the three-legged state machine.
type Coordinator struct {
	cfg       CoordinatorConfig
	clients   *clients.Registry
	cache     storage.Cache
	upstreams *upstream.Registry
	users     users.Resolver
	tokens    tokens.Service
	metrics   *metrics
}

// NewCoordinator wires a Coordinator from its collaborators.
func NewCoordinator(
	cfg CoordinatorConfig,
	clientRegistry *clients.Registry,
	cache storage.Cache,
	upstreamRegistry *upstream.Registry,
	userResolver users.Resolver,
	tokenService tokens.Service,
	m *metrics,
) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		clients:   clientRegistry,
		cache:     cache,
		upstreams: upstreamRegistry,
		users:     userResolver,
		tokens:    tokenService,
		metrics:   m,
	}
}

// HandleAuthorize implements GET /oauth/authorize: NEW -> AWAITING_UPSTREAM.
// Validation follows the fixed, fail-fast order spec.md §4.7 mandates.
func (c *Coordinator) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if rt := q.Get("response_type"); rt != "code" {
		c.metrics.observeAuthorize("unsupported_response_type")
		writeError(w, ErrUnsupportedResponseType, "response_type must be \"code\"")
		return
	}

	if ccm := q.Get("code_challenge_method"); ccm != crypto.MethodS256 {
		c.metrics.observeAuthorize("invalid_request")
		writeError(w, ErrInvalidRequest, "code_challenge_method must be \"S256\"")
		return
	}

	codeChallenge := q.Get("code_challenge")
	clientState := q.Get("state")
	if codeChallenge == "" || clientState == "" {
		c.metrics.observeAuthorize("invalid_request")
		writeError(w, ErrInvalidRequest, "code_challenge and state are required")
		return
	}

	clientID := q.Get("client_id")
	client, ok := c.clients.Validate(r.Context(), clientID)
	if !ok {
		c.metrics.observeAuthorize("invalid_client")
		writeError(w, ErrInvalidClient, "unknown client_id")
		return
	}

	redirectURI := q.Get("redirect_uri")
	if !c.clients.ValidateRedirectURI(r.Context(), clientID, redirectURI) {
		c.metrics.observeAuthorize("invalid_request")
		writeError(w, ErrInvalidRequest, "Invalid redirect_uri")
		return
	}

	providerName := upstream.Name(q.Get("provider"))
	if providerName == "" {
		providerName = upstream.DefaultProvider
	}
	provider, ok := c.upstreams.Get(providerName)
	if !ok {
		c.metrics.observeAuthorize("invalid_request")
		writeError(w, ErrInvalidRequest, "unsupported provider")
		return
	}

	scopes := strings.Fields(q.Get("scope"))
	if len(scopes) == 0 {
		scopes = c.cfg.DefaultScopes
	} else if len(client.Scopes) > 0 {
		for _, requested := range scopes {
			if !client.HasScope(requested) {
				c.metrics.observeAuthorize("invalid_scope")
				writeError(w, ErrInvalidScope, fmt.Sprintf("scope %q is not registered for this client", requested))
				return
			}
		}
	}

	upstreamState, err := crypto.GenerateState()
	if err != nil {
		c.metrics.observeAuthorize("server_error")
		writeError(w, ErrServerError, "failed to start authorization")
		return
	}
	upstreamVerifier, err := crypto.GeneratePKCEVerifier()
	if err != nil {
		c.metrics.observeAuthorize("server_error")
		writeError(w, ErrServerError, "failed to start authorization")
		return
	}
	upstreamChallenge := crypto.ComputePKCEChallenge(upstreamVerifier)

	ctx := r.Context()
	session := pkceSession{
		UpstreamVerifier:    upstreamVerifier,
		ClientCodeChallenge: codeChallenge,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scopes:              scopes,
		Provider:            string(providerName),
		CreatedAt:           time.Now(),
	}
	if err := c.cache.Set(ctx, pkceCachePrefix+clientState, session, c.cfg.PKCESessionTTL); err != nil {
		c.metrics.observeAuthorize("server_error")
		writeError(w, ErrServerError, "failed to persist session")
		return
	}
	if err := c.cache.Set(ctx, stateCachePrefix+upstreamState, stateMapping{ClientState: clientState}, c.cfg.PKCESessionTTL); err != nil {
		c.metrics.observeAuthorize("server_error")
		writeError(w, ErrServerError, "failed to persist session")
		return
	}

	callbackURL := callbackRedirectURI(r, providerName)
	upstreamAuthURL := provider.AuthorizationURL(upstreamState, upstreamChallenge, callbackURL, scopes)

	c.metrics.observeAuthorize("redirect")
	http.Redirect(w, r, upstreamAuthURL, http.StatusFound)
}

// HandleCallback implements GET /oauth/callback/{provider}:
// AWAITING_UPSTREAM -> AWAITING_REDEMPTION.
func (c *Coordinator) HandleCallback(w http.ResponseWriter, r *http.Request) {
	providerName := upstream.Name(chi.URLParam(r, "provider"))
	provider, ok := c.upstreams.Get(providerName)
	if !ok {
		c.metrics.observeCallback(string(providerName), "invalid_request")
		writeError(w, ErrInvalidRequest, "unsupported provider")
		return
	}

	q := r.URL.Query()
	ctx := r.Context()

	if upstreamErr := q.Get("error"); upstreamErr != "" {
		c.handleUpstreamError(w, r, providerName, q)
		return
	}

	code := q.Get("code")
	upstreamState := q.Get("state")
	if code == "" || upstreamState == "" {
		c.metrics.observeCallback(string(providerName), "invalid_request")
		writeError(w, ErrInvalidRequest, "Invalid or expired state")
		return
	}

	var mapping stateMapping
	if err := c.cache.TryConsume(ctx, stateCachePrefix+upstreamState, &mapping); err != nil {
		c.metrics.observeCallback(string(providerName), "invalid_request")
		writeError(w, ErrInvalidRequest, "Invalid or expired state")
		return
	}

	var session pkceSession
	if err := c.cache.TryConsume(ctx, pkceCachePrefix+mapping.ClientState, &session); err != nil {
		c.metrics.observeCallback(string(providerName), "invalid_request")
		writeError(w, ErrInvalidRequest, "Invalid or expired state")
		return
	}

	callbackURL := callbackRedirectURI(r, providerName)
	result, err := provider.ExchangeCode(ctx, code, session.UpstreamVerifier, callbackURL)
	if err != nil || result == nil {
		c.metrics.observeCallback(string(providerName), "invalid_grant")
		c.redirectOrDirectError(w, r, session, ErrInvalidGrant, "failed to exchange upstream authorization code")
		return
	}

	claims := []claim{
		{Type: claimNameIdentifier, Value: result.UserInfo.ID},
		{Type: claimEmail, Value: result.UserInfo.Email},
		{Type: claimName, Value: result.UserInfo.Name},
		{Type: claimGivenName, Value: result.UserInfo.GivenName},
		{Type: claimSurname, Value: result.UserInfo.FamilyName},
		{Type: claimPicture, Value: result.UserInfo.Picture},
		{Type: claimProvider, Value: string(providerName)},
	}

	if result.UserInfo.Email != "" {
		record, err := c.users.Resolve(ctx, users.Identity{
			Provider:      string(providerName),
			UpstreamSubID: result.UserInfo.ID,
			Email:         result.UserInfo.Email,
			Name:          result.UserInfo.Name,
			GivenName:     result.UserInfo.GivenName,
			FamilyName:    result.UserInfo.FamilyName,
			Picture:       result.UserInfo.Picture,
		})
		switch {
		case err != nil:
			logger.Errorw("user resolution failed", "error", err, "provider", providerName)
		case record != nil:
			claims = replaceClaim(claims, claimNameIdentifier, fmt.Sprintf("%d", record.ID))
		}
	}

	code, err = crypto.GenerateAuthorizationCode()
	if err != nil {
		c.metrics.observeCallback(string(providerName), "server_error")
		writeError(w, ErrServerError, "failed to complete authorization")
		return
	}

	now := time.Now()
	authCode := authorizationCode{
		Claims:               claims,
		UpstreamAccessToken:  result.AccessToken,
		UpstreamRefreshToken: result.RefreshToken,
		Scopes:               session.Scopes,
		CodeChallenge:        session.ClientCodeChallenge,
		RedirectURI:          session.RedirectURI,
		ClientID:             session.ClientID,
		Provider:             string(providerName),
		CreatedAt:            now,
		ExpiresAt:            now.Add(c.cfg.AuthCodeTTL),
	}
	if err := c.cache.Set(ctx, codeCachePrefix+code, authCode, c.cfg.AuthCodeTTL); err != nil {
		c.metrics.observeCallback(string(providerName), "server_error")
		writeError(w, ErrServerError, "failed to complete authorization")
		return
	}

	c.metrics.observeCallback(string(providerName), "redirect")
	redirectTo := session.RedirectURI + "?" + url.Values{
		"code":  {code},
		"state": {mapping.ClientState},
	}.Encode()
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

// handleUpstreamError surfaces an upstream `error` callback parameter as
// access_denied, redirecting to the client's own redirect_uri when the
// original session can still be located (spec.md §4.7 step 1, resolving
// §9's Open Question in favor of a redirect when possible).
func (c *Coordinator) handleUpstreamError(w http.ResponseWriter, r *http.Request, providerName upstream.Name, q url.Values) {
	c.metrics.observeCallback(string(providerName), "access_denied")
	description := q.Get("error_description")
	if description == "" {
		description = "the upstream provider denied the request"
	}

	upstreamState := q.Get("state")
	if upstreamState == "" {
		writeError(w, ErrAccessDenied, description)
		return
	}

	ctx := r.Context()
	var mapping stateMapping
	if err := c.cache.TryConsume(ctx, stateCachePrefix+upstreamState, &mapping); err != nil {
		writeError(w, ErrAccessDenied, description)
		return
	}
	var session pkceSession
	if err := c.cache.TryConsume(ctx, pkceCachePrefix+mapping.ClientState, &session); err != nil {
		writeError(w, ErrAccessDenied, description)
		return
	}

	c.redirectOrDirectError(w, r, session, ErrAccessDenied, description)
}

// redirectOrDirectError redirects to session's redirect_uri with an
// error query per RFC 6749 §4.1.2.1 when one is known, else falls back
// to a direct JSON error response.
func (c *Coordinator) redirectOrDirectError(w http.ResponseWriter, r *http.Request, session pkceSession, code, description string) {
	if session.RedirectURI == "" {
		writeError(w, code, description)
		return
	}
	redirectTo := session.RedirectURI + "?" + url.Values{
		"error":             {code},
		"error_description": {description},
	}.Encode()
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

// HandleToken implements POST /oauth/token:
// AWAITING_REDEMPTION -> COMPLETED/FAILED.
func (c *Coordinator) HandleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		c.metrics.observeToken("", "invalid_request")
		writeError(w, ErrInvalidRequest, "failed to parse request body")
		return
	}

	clientID, clientSecret, hasBasic := r.BasicAuth()
	if !hasBasic {
		clientID = r.PostFormValue("client_id")
		clientSecret = r.PostFormValue("client_secret")
	}
	clientRecord, ok := c.clients.ValidateSecret(r.Context(), clientID, clientSecret)
	if !ok {
		c.metrics.observeToken(r.PostFormValue("grant_type"), "invalid_client")
		writeError(w, ErrInvalidClient, "client authentication failed")
		return
	}

	grantType := r.PostFormValue("grant_type")
	switch grantType {
	case string(clients.GrantAuthorizationCode), string(clients.GrantRefreshToken):
		if !clientRecord.HasGrantType(grantType) {
			c.metrics.observeToken(grantType, "unauthorized_client")
			writeError(w, ErrUnauthorizedClient, fmt.Sprintf("client is not authorized for grant_type %q", grantType))
			return
		}
	default:
		c.metrics.observeToken(grantType, "unsupported_grant_type")
		writeError(w, ErrUnsupportedGrantType, fmt.Sprintf("unsupported grant_type %q", grantType))
		return
	}

	switch grantType {
	case string(clients.GrantAuthorizationCode):
		c.handleAuthorizationCodeGrant(w, r, clientRecord)
	case string(clients.GrantRefreshToken):
		c.handleRefreshTokenGrant(w, r, clientRecord)
	}
}

func (c *Coordinator) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, client *clients.RegisteredClient) {
	code := r.PostFormValue("code")
	redirectURI := r.PostFormValue("redirect_uri")
	verifier := r.PostFormValue("code_verifier")
	if code == "" || redirectURI == "" || verifier == "" {
		c.metrics.observeToken("authorization_code", "invalid_request")
		writeError(w, ErrInvalidRequest, "code, redirect_uri, and code_verifier are required")
		return
	}

	var authCode authorizationCode
	if err := c.cache.TryConsume(r.Context(), codeCachePrefix+code, &authCode); err != nil {
		c.metrics.observeToken("authorization_code", "invalid_grant")
		writeError(w, ErrInvalidGrant, "Invalid or expired authorization code")
		return
	}

	if authCode.ClientID != client.ClientID {
		c.metrics.observeToken("authorization_code", "invalid_grant")
		writeError(w, ErrInvalidGrant, "authorization code was not issued to this client")
		return
	}

	if !redirectURIEqual(authCode.RedirectURI, redirectURI) {
		c.metrics.observeToken("authorization_code", "invalid_grant")
		writeError(w, ErrInvalidGrant, "redirect_uri does not match the original request")
		return
	}

	if !crypto.ValidateVerifier(verifier, authCode.CodeChallenge) {
		c.metrics.observeToken("authorization_code", "invalid_grant")
		writeError(w, ErrInvalidGrant, "PKCE verification failed")
		return
	}

	sub, _ := findClaim(authCode.Claims, claimNameIdentifier)
	email, _ := findClaim(authCode.Claims, claimEmail)
	name, _ := findClaim(authCode.Claims, claimName)
	givenName, _ := findClaim(authCode.Claims, claimGivenName)
	familyName, _ := findClaim(authCode.Claims, claimSurname)
	picture, _ := findClaim(authCode.Claims, claimPicture)

	issued, err := c.tokens.IssueAccessToken(r.Context(), tokens.Claims{
		Sub:                  sub,
		Email:                email,
		Name:                 name,
		GivenName:            givenName,
		FamilyName:           familyName,
		Picture:              picture,
		Provider:             authCode.Provider,
		ClientID:             client.ClientID,
		Scopes:               authCode.Scopes,
		UpstreamAccessToken:  authCode.UpstreamAccessToken,
		UpstreamRefreshToken: authCode.UpstreamRefreshToken,
	})
	if err != nil {
		logger.Errorw("failed to issue access token", "error", err)
		c.metrics.observeToken("authorization_code", "server_error")
		writeError(w, ErrServerError, "failed to issue tokens")
		return
	}

	c.metrics.observeToken("authorization_code", "success")
	writeJSON(w, http.StatusOK, tokenResponse(issued))
}

func (c *Coordinator) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, client *clients.RegisteredClient) {
	refreshToken := r.PostFormValue("refresh_token")
	if refreshToken == "" {
		c.metrics.observeToken("refresh_token", "invalid_request")
		writeError(w, ErrInvalidRequest, "refresh_token is required")
		return
	}

	issued, err := c.tokens.Refresh(r.Context(), refreshToken, client.ClientID)
	if err != nil {
		if errors.Is(err, tokens.ErrInvalidRefreshToken) {
			c.metrics.observeToken("refresh_token", "invalid_grant")
			writeError(w, ErrInvalidGrant, "invalid or expired refresh_token")
			return
		}
		logger.Errorw("failed to refresh tokens", "error", err)
		c.metrics.observeToken("refresh_token", "server_error")
		writeError(w, ErrServerError, "failed to refresh tokens")
		return
	}

	c.metrics.observeToken("refresh_token", "success")
	writeJSON(w, http.StatusOK, tokenResponse(issued))
}

// HandleRegister implements POST /oauth/register (RFC 7591).
func (c *Coordinator) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req clients.RegistrationRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, ErrInvalidRequest, "failed to parse registration request")
		return
	}

	resp, err := c.clients.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, clients.ErrRegistrationDisabled) {
			writeError(w, ErrRegistrationNotSupport, "dynamic client registration is disabled")
			return
		}
		if errors.Is(err, clients.ErrInvalidRedirectURIs) {
			writeError(w, ErrInvalidRequest, err.Error())
			return
		}
		logger.Errorw("client registration failed", "error", err)
		writeError(w, ErrServerError, "failed to register client")
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

type tokenResponseBody struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func tokenResponse(issued *tokens.IssuedTokens) tokenResponseBody {
	return tokenResponseBody{
		AccessToken:  issued.AccessToken,
		TokenType:    issued.TokenType,
		ExpiresIn:    issued.ExpiresIn,
		RefreshToken: issued.RefreshToken,
		Scope:        issued.Scope,
	}
}

func replaceClaim(claims []claim, claimType, value string) []claim {
	out := make([]claim, len(claims))
	copy(out, claims)
	for i, c := range out {
		if c.Type == claimType {
			out[i].Value = value
			return out
		}
	}
	return append(out, claim{Type: claimType, Value: value})
}

// redirectURIEqual implements spec.md §3's redirect_uri match rule:
// scheme and host compare case-insensitively, path and query exactly.
// Unparsable values fall back to a literal comparison.
func redirectURIEqual(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) &&
		strings.EqualFold(ua.Host, ub.Host) &&
		ua.Path == ub.Path &&
		ua.RawQuery == ub.RawQuery
}

// callbackRedirectURI builds the broker's own /oauth/callback/{provider}
// URL, the redirect_uri the upstream exchange must match. Derived from
// the inbound request so the coordinator works behind any configured
// issuer host without a separate base-URL setting duplicating it.
func callbackRedirectURI(r *http.Request, providerName upstream.Name) string {
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}
	return fmt.Sprintf("%s://%s/oauth/callback/%s", scheme, host, providerName)
}
