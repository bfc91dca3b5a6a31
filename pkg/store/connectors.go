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
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erpilot/erpilot/pkg/mcp/connector"
	"github.com/erpilot/erpilot/pkg/mcp/protocol"
	"github.com/erpilot/erpilot/pkg/vault"
)

// Connector kinds. ERP connections and MCP connectors share the table but
// count against separate plan quotas.
const (
	ConnectorKindERP = "erp"
	ConnectorKindMCP = "mcp"
)

// ConnectorStore persists connector rows with vault-encrypted credentials.
type ConnectorStore struct {
	pool  *pgxpool.Pool
	vault *vault.Vault
}

// Get loads one connector and decrypts its credentials.
func (s *ConnectorStore) Get(ctx context.Context, connectorID string) (*connector.Connector, error) {
	var c connector.Connector
	var credentialsEnc string
	var toolCache []byte
	var tokenExpiry *time.Time
	err := db(ctx, s.pool).QueryRow(ctx, `
		SELECT id, tenant_id, label, endpoint, auth_mode, credentials_enc, token_expiry, status, tool_cache
		FROM connector
		WHERE id = $1`, connectorID).
		Scan(&c.ID, &c.TenantID, &c.Label, &c.Endpoint, &c.AuthMode,
			&credentialsEnc, &tokenExpiry, &c.Status, &toolCache)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("connector %s not found", connectorID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading connector %s: %w", connectorID, err)
	}

	if tokenExpiry != nil {
		c.TokenExpiry = *tokenExpiry
	}
	if credentialsEnc != "" {
		creds, err := s.vault.Decrypt(credentialsEnc)
		if err != nil {
			return nil, fmt.Errorf("decrypting credentials for %s: %w", connectorID, err)
		}
		c.Credentials = creds
	}
	if err := json.Unmarshal(toolCache, &c.Tools); err != nil {
		return nil, fmt.Errorf("decoding tool cache for %s: %w", connectorID, err)
	}
	return &c, nil
}

// Create inserts a connector, encrypting credentials at rest, and returns
// its ID.
func (s *ConnectorStore) Create(ctx context.Context, kind string, c *connector.Connector) (string, error) {
	credentialsEnc := ""
	if len(c.Credentials) > 0 {
		enc, err := s.vault.Encrypt(c.Credentials)
		if err != nil {
			return "", fmt.Errorf("encrypting credentials: %w", err)
		}
		credentialsEnc = enc
	}

	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := db(ctx, s.pool).Exec(ctx, `
		INSERT INTO connector (id, tenant_id, kind, label, endpoint, auth_mode, credentials_enc, status)
		VALUES ($1, `+currentTenant+`, $2, $3, $4, $5, $6, $7)`,
		id, kind, c.Label, c.Endpoint, string(c.AuthMode), credentialsEnc, connector.StatusActive)
	if err != nil {
		return "", fmt.Errorf("creating connector: %w", err)
	}
	return id, nil
}

// UpdateTokens merges refreshed OAuth tokens into the stored credentials and
// re-encrypts under the current primary key.
func (s *ConnectorStore) UpdateTokens(ctx context.Context, connectorID, accessToken, refreshToken string, expiry time.Time) error {
	c, err := s.Get(ctx, connectorID)
	if err != nil {
		return err
	}

	creds := c.Credentials
	if creds == nil {
		creds = map[string]string{}
	}
	creds["access_token"] = accessToken
	if refreshToken != "" {
		creds["refresh_token"] = refreshToken
	}

	credentialsEnc, err := s.vault.Encrypt(creds)
	if err != nil {
		return fmt.Errorf("encrypting refreshed tokens: %w", err)
	}

	_, err = db(ctx, s.pool).Exec(ctx, `
		UPDATE connector
		SET credentials_enc = $2, token_expiry = $3, updated_at = now()
		WHERE id = $1`, connectorID, credentialsEnc, expiry)
	if err != nil {
		return fmt.Errorf("updating tokens for %s: %w", connectorID, err)
	}
	return nil
}

// UpdateToolCache replaces the cached tool descriptors discovered from the
// remote server.
func (s *ConnectorStore) UpdateToolCache(ctx context.Context, connectorID string, descriptors []protocol.Tool) error {
	if descriptors == nil {
		descriptors = []protocol.Tool{}
	}
	cache, err := json.Marshal(descriptors)
	if err != nil {
		return err
	}
	_, err = db(ctx, s.pool).Exec(ctx, `
		UPDATE connector SET tool_cache = $2, updated_at = now() WHERE id = $1`,
		connectorID, cache)
	if err != nil {
		return fmt.Errorf("updating tool cache for %s: %w", connectorID, err)
	}
	return nil
}

// PrimaryERP returns the ID of the tenant's active ERP connector, oldest
// first when several exist.
func (s *ConnectorStore) PrimaryERP(ctx context.Context) (string, error) {
	var id string
	err := db(ctx, s.pool).QueryRow(ctx, `
		SELECT id FROM connector
		WHERE kind = $1 AND status = $2
		ORDER BY created_at
		LIMIT 1`, ConnectorKindERP, connector.StatusActive).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("tenant has no active ERP connection")
	}
	if err != nil {
		return "", fmt.Errorf("resolving ERP connection: %w", err)
	}
	return id, nil
}

// Revoke marks a connector unusable without destroying its audit trail.
func (s *ConnectorStore) Revoke(ctx context.Context, connectorID string) error {
	_, err := db(ctx, s.pool).Exec(ctx, `
		UPDATE connector SET status = $2, updated_at = now() WHERE id = $1`,
		connectorID, connector.StatusRevoked)
	return err
}

var _ connector.Store = (*ConnectorStore)(nil)
