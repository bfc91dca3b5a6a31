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
// Package store implements the Postgres persistence layer. Every
// tenant-scoped table carries a tenant_id column guarded by row-level
// security; stores resolve the transaction bound by pgxdriver.WithTenant
// from the context, so callers never pass one explicitly.
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erpilot/erpilot/internal/pgxdriver"
	"github.com/erpilot/erpilot/pkg/vault"
)

// currentTenant is the SQL expression for the RLS-bound tenant. Inserts
// use it so the tenant column can never disagree with the session binding.
const currentTenant = "current_setting('app.current_tenant')"

// Stores bundles every store over one pool.
type Stores struct {
	Sessions   *SessionStore
	Vernacular *VernacularStore
	Wallets    *WalletStore
	Policies   *PolicyStore
	Chunks     *ChunkStore
	Connectors *ConnectorStore
	Audit      *AuditStore
	Jobs       *JobStore
	Drafts     *DraftStore
	Tenants    *TenantStore
	Users      *UserStore
}

// New creates all stores over pool. The vault decrypts connector
// credentials at rest.
func New(pool *pgxpool.Pool, v *vault.Vault) *Stores {
	return &Stores{
		Sessions:   &SessionStore{pool: pool},
		Vernacular: &VernacularStore{pool: pool},
		Wallets:    &WalletStore{pool: pool},
		Policies:   &PolicyStore{pool: pool},
		Chunks:     &ChunkStore{pool: pool},
		Connectors: &ConnectorStore{pool: pool, vault: v},
		Audit:      &AuditStore{pool: pool},
		Jobs:       &JobStore{pool: pool},
		Drafts:     &DraftStore{pool: pool},
		Tenants:    &TenantStore{pool: pool},
		Users:      &UserStore{pool: pool},
	}
}

func db(ctx context.Context, pool *pgxpool.Pool) pgxdriver.Querier {
	return pgxdriver.QuerierFrom(ctx, pool)
}
