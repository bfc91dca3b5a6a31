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
package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpilot/erpilot/pkg/core"
	"github.com/erpilot/erpilot/pkg/mcp/protocol"
)

func TestParseCallResult(t *testing.T) {
	t.Run("text parses as JSON", func(t *testing.T) {
		result := ParseCallResult(&protocol.CallToolResult{
			Content: []protocol.Content{{Type: "text", Text: `{"rows": 3}`}},
		})
		require.True(t, result.Success)
		assert.Equal(t, map[string]interface{}{"rows": float64(3)}, result.Data)
	})

	t.Run("plain text wraps as result", func(t *testing.T) {
		result := ParseCallResult(&protocol.CallToolResult{
			Content: []protocol.Content{{Type: "text", Text: "all good"}},
		})
		require.True(t, result.Success)
		assert.Equal(t, map[string]interface{}{"result": "all good"}, result.Data)
	})

	t.Run("structured content wins", func(t *testing.T) {
		result := ParseCallResult(&protocol.CallToolResult{
			StructuredContent: map[string]interface{}{"total": 10},
			Content:           []protocol.Content{{Type: "text", Text: "ignored"}},
		})
		require.True(t, result.Success)
		assert.Equal(t, map[string]interface{}{"total": 10}, result.Data)
	})

	t.Run("isError becomes failure", func(t *testing.T) {
		result := ParseCallResult(&protocol.CallToolResult{
			IsError: true,
			Content: []protocol.Content{{Type: "text", Text: "record not found"}},
		})
		require.False(t, result.Success)
		assert.Equal(t, "record not found", result.Error.Message)
	})

	t.Run("empty content", func(t *testing.T) {
		result := ParseCallResult(&protocol.CallToolResult{})
		require.True(t, result.Success)
		assert.Equal(t, map[string]interface{}{}, result.Data)
	})
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Now()
	assert.False(t, needsRefresh(time.Time{}, now), "static tokens never refresh")
	assert.False(t, needsRefresh(now.Add(5*time.Minute), now))
	assert.True(t, needsRefresh(now.Add(30*time.Second), now), "inside the 60s window")
	assert.True(t, needsRefresh(now.Add(-time.Minute), now), "already expired")
}

type fakeStore struct {
	conn         *Connector
	accessToken  string
	refreshToken string
	expiry       time.Time
	toolCache    []protocol.Tool
}

func (f *fakeStore) Get(ctx context.Context, connectorID string) (*Connector, error) {
	if f.conn == nil || f.conn.ID != connectorID {
		return nil, core.Errorf(core.KindUnknown, "connector not found: %s", connectorID)
	}
	return f.conn, nil
}

func (f *fakeStore) UpdateTokens(ctx context.Context, connectorID, accessToken, refreshToken string, expiry time.Time) error {
	f.accessToken = accessToken
	f.refreshToken = refreshToken
	f.expiry = expiry
	return nil
}

func (f *fakeStore) UpdateToolCache(ctx context.Context, connectorID string, descriptors []protocol.Tool) error {
	f.toolCache = descriptors
	return nil
}

type fakeSession struct {
	tools    []protocol.Tool
	result   *protocol.CallToolResult
	lastTool string
	closed   bool
}

func (f *fakeSession) ListTools(ctx context.Context) ([]protocol.Tool, error) { return f.tools, nil }

func (f *fakeSession) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*protocol.CallToolResult, error) {
	f.lastTool = name
	return f.result, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func tenantCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, err := core.BindTenant(context.Background(), "t1")
	require.NoError(t, err)
	return ctx
}

func TestInvoke(t *testing.T) {
	session := &fakeSession{result: &protocol.CallToolResult{
		Content: []protocol.Content{{Type: "text", Text: `{"hits": 2}`}},
	}}
	store := &fakeStore{conn: &Connector{
		ID: "conn1", TenantID: "t1", Endpoint: "http://example.test",
		AuthMode: AuthNone, Status: StatusActive,
	}}

	r := NewRegistry(store, nil)
	r.dial = func(ctx context.Context, conn *Connector) (Session, error) { return session, nil }

	result, err := r.Invoke(tenantCtx(t), "conn1", "search_docs", map[string]interface{}{"q": "po"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "search_docs", session.lastTool)
	assert.Equal(t, map[string]interface{}{"hits": float64(2)}, result.Data)
}

func TestInvokeRevokedConnector(t *testing.T) {
	store := &fakeStore{conn: &Connector{ID: "conn1", TenantID: "t1", Status: StatusRevoked}}
	r := NewRegistry(store, nil)

	_, err := r.Invoke(tenantCtx(t), "conn1", "search_docs", nil)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindForbidden))
}

func TestInvokeRequiresTenant(t *testing.T) {
	r := NewRegistry(&fakeStore{}, nil)
	_, err := r.Invoke(context.Background(), "conn1", "search_docs", nil)
	assert.Error(t, err)
}

func TestOAuthRefreshInsideWindow(t *testing.T) {
	var tokenRequests int
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tokenRequests++
		require.NoError(t, req.ParseForm())
		assert.Equal(t, "refresh_token", req.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", req.Form.Get("refresh_token"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "new-access",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	now := time.Now()
	store := &fakeStore{conn: &Connector{
		ID: "conn1", TenantID: "t1", Endpoint: "http://example.test",
		AuthMode: AuthOAuth2, Status: StatusActive,
		TokenExpiry: now.Add(30 * time.Second),
		Credentials: map[string]string{
			"access_token":  "old-access",
			"refresh_token": "old-refresh",
			"token_url":     tokenServer.URL,
			"client_id":     "cid",
			"client_secret": "cs",
		},
	}}

	session := &fakeSession{result: &protocol.CallToolResult{}}
	r := NewRegistry(store, nil)
	r.now = func() time.Time { return now }
	r.dial = func(ctx context.Context, conn *Connector) (Session, error) { return session, nil }

	_, err := r.Invoke(tenantCtx(t), "conn1", "ping", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, tokenRequests)
	assert.Equal(t, "new-access", store.accessToken)
	// Missing refresh_token in the response keeps the old one.
	assert.Equal(t, "old-refresh", store.refreshToken)
	assert.Equal(t, "new-access", store.conn.Credentials["access_token"])
	assert.WithinDuration(t, now.Add(time.Hour), store.expiry, time.Second)
}

func TestOAuthNoRefreshOutsideWindow(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		t.Fatal("token endpoint must not be called")
	}))
	defer tokenServer.Close()

	store := &fakeStore{conn: &Connector{
		ID: "conn1", TenantID: "t1", Endpoint: "http://example.test",
		AuthMode: AuthOAuth2, Status: StatusActive,
		TokenExpiry: time.Now().Add(time.Hour),
		Credentials: map[string]string{
			"access_token": "ok", "refresh_token": "r", "token_url": tokenServer.URL,
		},
	}}

	session := &fakeSession{result: &protocol.CallToolResult{}}
	r := NewRegistry(store, nil)
	r.dial = func(ctx context.Context, conn *Connector) (Session, error) { return session, nil }

	_, err := r.Invoke(tenantCtx(t), "conn1", "ping", nil)
	require.NoError(t, err)
	assert.Empty(t, store.accessToken)
}

func TestDiscoverToolsUpdatesCache(t *testing.T) {
	descriptors := []protocol.Tool{{Name: "search_docs", Description: "search"}}
	session := &fakeSession{tools: descriptors}
	store := &fakeStore{conn: &Connector{
		ID: "conn1", TenantID: "t1", Status: StatusActive, AuthMode: AuthNone,
	}}

	r := NewRegistry(store, nil)
	r.dial = func(ctx context.Context, conn *Connector) (Session, error) { return session, nil }

	got, err := r.DiscoverTools(tenantCtx(t), "conn1")
	require.NoError(t, err)
	assert.Equal(t, descriptors, got)
	assert.Equal(t, descriptors, store.toolCache)
}

func TestSyntheticName(t *testing.T) {
	assert.Equal(t, "ext__conn1__search_docs", SyntheticName("conn1", "search_docs"))
}
