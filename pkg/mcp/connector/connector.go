// Copyright 2026 ERPilot, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package connector manages tenant-registered remote tool servers: auth,
// token refresh, session pooling, and result normalization.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erpilot/erpilot/pkg/core"
	"github.com/erpilot/erpilot/pkg/mcp/client"
	"github.com/erpilot/erpilot/pkg/mcp/protocol"
	"github.com/erpilot/erpilot/pkg/mcp/transport"
	"github.com/erpilot/erpilot/pkg/tools"
)

// AuthMode is how a connector authenticates to its server.
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthBearer AuthMode = "bearer"
	AuthAPIKey AuthMode = "api_key"
	AuthOAuth2 AuthMode = "oauth2"
)

// Connector statuses.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// RefreshWindow is how close to expiry an OAuth token gets refreshed.
const RefreshWindow = 60 * time.Second

// Connector is a tenant-owned remote tool server descriptor with its
// credentials already opened by the vault.
type Connector struct {
	ID          string
	TenantID    string
	Label       string
	Endpoint    string
	AuthMode    AuthMode
	Credentials map[string]string
	TokenExpiry time.Time
	Status      string
	Tools       []protocol.Tool
}

// Store loads connectors scoped to the tenant bound in ctx and persists
// refreshed tokens and discovered tool descriptors.
type Store interface {
	Get(ctx context.Context, connectorID string) (*Connector, error)
	UpdateTokens(ctx context.Context, connectorID, accessToken, refreshToken string, expiry time.Time) error
	UpdateToolCache(ctx context.Context, connectorID string, descriptors []protocol.Tool) error
}

// Session is the subset of the client a registry call needs.
type Session interface {
	ListTools(ctx context.Context) ([]protocol.Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*protocol.CallToolResult, error)
	Close() error
}

// Dialer opens a session against a connector. Overridable in tests.
type Dialer func(ctx context.Context, conn *Connector) (Session, error)

// Registry resolves connectors for the current tenant and forwards remote
// tool calls. It implements the dispatcher's RemoteInvoker.
type Registry struct {
	store      Store
	logger     *zap.Logger
	dial       Dialer
	httpClient *http.Client
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]Session
}

// NewRegistry creates a connector registry.
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		store:      store,
		logger:     logger,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
		sessions:   make(map[string]Session),
	}
	r.dial = r.dialSSE
	return r
}

// Invoke forwards one tool call to the connector, refreshing OAuth tokens
// when inside the pre-expiry window.
func (r *Registry) Invoke(ctx context.Context, connectorID, toolName string, params map[string]interface{}) (*tools.Result, error) {
	conn, err := r.resolve(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	session, err := r.sessionFor(ctx, conn)
	if err != nil {
		return nil, core.WrapError(core.KindUpstreamFailure, "opening connector session", err)
	}

	result, err := session.CallTool(ctx, toolName, params)
	if err != nil {
		r.dropSession(conn)
		return nil, core.WrapError(core.KindUpstreamFailure, "remote tool call", err)
	}

	return ParseCallResult(result), nil
}

// DiscoverTools lists the connector's tools, refreshes the cached
// descriptors, and returns them. The discovery worker calls this on a
// schedule; the chat path reads the cache.
func (r *Registry) DiscoverTools(ctx context.Context, connectorID string) ([]protocol.Tool, error) {
	conn, err := r.resolve(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	session, err := r.sessionFor(ctx, conn)
	if err != nil {
		return nil, core.WrapError(core.KindUpstreamFailure, "opening connector session", err)
	}

	descriptors, err := session.ListTools(ctx)
	if err != nil {
		r.dropSession(conn)
		return nil, core.WrapError(core.KindUpstreamFailure, "listing connector tools", err)
	}

	if err := r.store.UpdateToolCache(ctx, connectorID, descriptors); err != nil {
		return nil, err
	}
	return descriptors, nil
}

// Close tears down every pooled session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, session := range r.sessions {
		if err := session.Close(); err != nil {
			r.logger.Warn("closing connector session", zap.String("session", key), zap.Error(err))
		}
		delete(r.sessions, key)
	}
}

func (r *Registry) resolve(ctx context.Context, connectorID string) (*Connector, error) {
	if _, err := core.RequireTenant(ctx); err != nil {
		return nil, err
	}

	conn, err := r.store.Get(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	if conn.Status != StatusActive {
		return nil, core.Errorf(core.KindForbidden, "connector %s is %s", connectorID, conn.Status)
	}

	if err := r.ensureFreshToken(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// ensureFreshToken refreshes an OAuth2 access token that expires within
// RefreshWindow and persists the new token pair.
func (r *Registry) ensureFreshToken(ctx context.Context, conn *Connector) error {
	if conn.AuthMode != AuthOAuth2 || !needsRefresh(conn.TokenExpiry, r.now()) {
		return nil
	}

	tokenURL := conn.Credentials["token_url"]
	refreshToken := conn.Credentials["refresh_token"]
	if tokenURL == "" || refreshToken == "" {
		return core.Errorf(core.KindUpstreamFailure, "connector %s has no refresh credentials", conn.ID)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {conn.Credentials["client_id"]},
		"client_secret": {conn.Credentials["client_secret"]},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return core.WrapError(core.KindUpstreamFailure, "token refresh", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return core.Errorf(core.KindUpstreamFailure, "token refresh returned %d", resp.StatusCode)
	}

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return core.WrapError(core.KindUpstreamFailure, "decoding token response", err)
	}
	if token.AccessToken == "" {
		return core.Errorf(core.KindUpstreamFailure, "token refresh returned no access token")
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	expiry := r.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	if err := r.store.UpdateTokens(ctx, conn.ID, token.AccessToken, token.RefreshToken, expiry); err != nil {
		return err
	}

	conn.Credentials["access_token"] = token.AccessToken
	conn.Credentials["refresh_token"] = token.RefreshToken
	conn.TokenExpiry = expiry

	// Stale session carries the old Authorization header.
	r.dropSession(conn)

	r.logger.Info("refreshed connector token",
		zap.String("connector_id", conn.ID),
		zap.Time("expiry", expiry))
	return nil
}

// needsRefresh reports whether a token expiring at expiry is inside the
// pre-expiry refresh window at time now. Zero expiry means a static token.
func needsRefresh(expiry, now time.Time) bool {
	if expiry.IsZero() {
		return false
	}
	return expiry.Sub(now) <= RefreshWindow
}

func (r *Registry) sessionFor(ctx context.Context, conn *Connector) (Session, error) {
	key := conn.TenantID + "\x00" + conn.ID

	r.mu.Lock()
	session, ok := r.sessions[key]
	r.mu.Unlock()
	if ok {
		return session, nil
	}

	session, err := r.dial(ctx, conn)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		_ = session.Close()
		return existing, nil
	}
	r.sessions[key] = session
	r.mu.Unlock()
	return session, nil
}

func (r *Registry) dropSession(conn *Connector) {
	key := conn.TenantID + "\x00" + conn.ID
	r.mu.Lock()
	session, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if ok {
		_ = session.Close()
	}
}

// dialSSE opens a streaming HTTP session with the connector's auth headers
// and runs the handshake.
func (r *Registry) dialSSE(ctx context.Context, conn *Connector) (Session, error) {
	headers := map[string]string{}
	switch conn.AuthMode {
	case AuthBearer:
		headers["Authorization"] = "Bearer " + conn.Credentials["token"]
	case AuthAPIKey:
		headers["X-API-Key"] = conn.Credentials["api_key"]
	case AuthOAuth2:
		headers["Authorization"] = "Bearer " + conn.Credentials["access_token"]
	}

	trans, err := transport.NewSSETransport(transport.SSEConfig{
		Endpoint: conn.Endpoint,
		Headers:  headers,
		Logger:   r.logger.With(zap.String("connector_id", conn.ID)),
	})
	if err != nil {
		return nil, err
	}

	c := client.NewClient(client.Config{
		Transport: trans,
		Logger:    r.logger.With(zap.String("connector_id", conn.ID)),
	})
	if err := c.Initialize(ctx, protocol.Implementation{Name: "erpilot", Version: "1.0"}); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// ParseCallResult normalizes a remote tool result. Text content parses as
// JSON when possible; otherwise it is wrapped as {"result": text}.
func ParseCallResult(result *protocol.CallToolResult) *tools.Result {
	if result.IsError {
		msg := "remote tool error"
		if len(result.Content) > 0 && result.Content[0].Type == "text" && result.Content[0].Text != "" {
			msg = result.Content[0].Text
		}
		return &tools.Result{
			Success: false,
			Error:   &tools.Error{Code: "remote_error", Message: msg},
		}
	}

	if len(result.StructuredContent) > 0 {
		return &tools.Result{Success: true, Data: result.StructuredContent}
	}

	for _, block := range result.Content {
		if block.Type != "text" {
			continue
		}
		var parsed interface{}
		if err := json.Unmarshal([]byte(block.Text), &parsed); err == nil {
			return &tools.Result{Success: true, Data: parsed}
		}
		return &tools.Result{Success: true, Data: map[string]interface{}{"result": block.Text}}
	}

	return &tools.Result{Success: true, Data: map[string]interface{}{}}
}

// SyntheticName exposes a connector tool under the dispatcher's remote
// naming scheme.
func SyntheticName(connectorID, toolName string) string {
	return fmt.Sprintf("ext__%s__%s", connectorID, toolName)
}
