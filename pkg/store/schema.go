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
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the full DDL. RLS policies allow a tenant to see its own rows;
// doc_chunk additionally shares rows owned by the system tenant. Applied
// idempotently at startup.
const Schema = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS tenant (
    id          text PRIMARY KEY,
    name        text NOT NULL DEFAULT '',
    plan        text NOT NULL DEFAULT 'starter',
    active      boolean NOT NULL DEFAULT true,
    created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat_session (
    id          uuid PRIMARY KEY,
    tenant_id   text NOT NULL REFERENCES tenant(id),
    title       text NOT NULL DEFAULT '',
    created_at  timestamptz NOT NULL DEFAULT now(),
    updated_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat_message (
    id          uuid PRIMARY KEY,
    tenant_id   text NOT NULL REFERENCES tenant(id),
    session_id  uuid NOT NULL REFERENCES chat_session(id),
    role        text NOT NULL,
    content     text NOT NULL,
    tool_calls  jsonb NOT NULL DEFAULT '[]',
    citations   jsonb NOT NULL DEFAULT '[]',
    tokens      integer NOT NULL DEFAULT 0,
    created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS chat_message_session_idx ON chat_message (session_id, created_at);

CREATE TABLE IF NOT EXISTS tenant_entity_mapping (
    id           uuid PRIMARY KEY,
    tenant_id    text NOT NULL REFERENCES tenant(id),
    natural_name text NOT NULL,
    script_id    text NOT NULL,
    entity_type  text NOT NULL,
    created_at   timestamptz NOT NULL DEFAULT now(),
    updated_at   timestamptz NOT NULL DEFAULT now(),
    UNIQUE (tenant_id, entity_type, script_id)
);
CREATE INDEX IF NOT EXISTS tenant_entity_mapping_trgm_idx
    ON tenant_entity_mapping USING gin (natural_name gin_trgm_ops);

CREATE TABLE IF NOT EXISTS learned_rule (
    id          uuid PRIMARY KEY,
    tenant_id   text NOT NULL REFERENCES tenant(id),
    description text NOT NULL,
    category    text NOT NULL DEFAULT '',
    active      boolean NOT NULL DEFAULT true,
    created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS wallet (
    tenant_id                   text PRIMARY KEY REFERENCES tenant(id),
    period_start                timestamptz NOT NULL,
    period_end                  timestamptz NOT NULL,
    base_credits_remaining      bigint NOT NULL DEFAULT 0,
    metered_credits_used        bigint NOT NULL DEFAULT 0,
    last_synced_metered_credits bigint NOT NULL DEFAULT 0,
    meter_customer_id           text NOT NULL DEFAULT '',
    meter_subscription_item_id  text NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS policy_profile (
    id                   uuid PRIMARY KEY,
    tenant_id            text NOT NULL REFERENCES tenant(id),
    version              integer NOT NULL,
    active               boolean NOT NULL DEFAULT false,
    locked               boolean NOT NULL DEFAULT false,
    read_only            boolean NOT NULL DEFAULT false,
    allowed_record_types jsonb NOT NULL DEFAULT '[]',
    blocked_fields       jsonb NOT NULL DEFAULT '[]',
    tool_allow_list      jsonb NOT NULL DEFAULT '[]',
    max_rows_per_query   integer NOT NULL DEFAULT 0,
    require_row_limit    boolean NOT NULL DEFAULT false,
    custom_rules         jsonb NOT NULL DEFAULT '[]',
    created_at           timestamptz NOT NULL DEFAULT now(),
    UNIQUE (tenant_id, version)
);

CREATE TABLE IF NOT EXISTS doc_chunk (
    id          uuid PRIMARY KEY,
    tenant_id   text NOT NULL REFERENCES tenant(id),
    source_path text NOT NULL,
    title       text NOT NULL DEFAULT '',
    content     text NOT NULL,
    embedding   jsonb,
    created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS doc_chunk_path_idx ON doc_chunk (tenant_id, source_path);

CREATE TABLE IF NOT EXISTS connector (
    id              uuid PRIMARY KEY,
    tenant_id       text NOT NULL REFERENCES tenant(id),
    kind            text NOT NULL DEFAULT 'erp',
    label           text NOT NULL DEFAULT '',
    endpoint        text NOT NULL,
    auth_mode       text NOT NULL DEFAULT 'none',
    credentials_enc text NOT NULL DEFAULT '',
    token_expiry    timestamptz,
    status          text NOT NULL DEFAULT 'active',
    tool_cache      jsonb NOT NULL DEFAULT '[]',
    created_at      timestamptz NOT NULL DEFAULT now(),
    updated_at      timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_event (
    id             text PRIMARY KEY,
    tenant_id      text NOT NULL,
    ts             timestamptz NOT NULL,
    actor          text NOT NULL DEFAULT '',
    actor_type     text NOT NULL DEFAULT '',
    category       text NOT NULL,
    action         text NOT NULL,
    resource_type  text NOT NULL DEFAULT '',
    resource_id    text NOT NULL DEFAULT '',
    correlation_id text NOT NULL DEFAULT '',
    job_id         text NOT NULL DEFAULT '',
    payload        jsonb NOT NULL DEFAULT '{}',
    status         text NOT NULL,
    error          text NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_event_tenant_idx ON audit_event (tenant_id, id DESC);

CREATE TABLE IF NOT EXISTS job (
    id          uuid PRIMARY KEY,
    tenant_id   text NOT NULL,
    name        text NOT NULL,
    status      text NOT NULL DEFAULT 'running',
    started_at  timestamptz NOT NULL DEFAULT now(),
    finished_at timestamptz,
    error       text NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS app_user (
    id           uuid PRIMARY KEY,
    tenant_id    text NOT NULL REFERENCES tenant(id),
    email        text NOT NULL,
    display_name text NOT NULL DEFAULT '',
    role         text NOT NULL DEFAULT 'member',
    active       boolean NOT NULL DEFAULT true,
    created_at   timestamptz NOT NULL DEFAULT now(),
    UNIQUE (tenant_id, email)
);

CREATE TABLE IF NOT EXISTS patch_draft (
    id          uuid PRIMARY KEY,
    tenant_id   text NOT NULL REFERENCES tenant(id),
    path        text NOT NULL,
    description text NOT NULL DEFAULT '',
    diff        text NOT NULL,
    status      text NOT NULL DEFAULT 'pending_review',
    created_at  timestamptz NOT NULL DEFAULT now()
);
`

// rlsTables get the standard own-tenant policy. doc_chunk is handled
// separately to include system-tenant sharing.
var rlsTables = []string{
	"chat_session", "chat_message", "tenant_entity_mapping", "learned_rule",
	"wallet", "policy_profile", "connector", "audit_event", "patch_draft",
	"app_user",
}

// Migrate applies the schema and row-level-security policies, and seeds
// the system tenant that owns shared document chunks.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	// Shared doc_chunk rows reference this tenant; without it the first
	// shared insert fails the FK.
	if _, err := pool.Exec(ctx, `
		INSERT INTO tenant (id, name) VALUES ('system', 'system')
		ON CONFLICT (id) DO NOTHING`); err != nil {
		return fmt.Errorf("seeding system tenant: %w", err)
	}

	for _, table := range rlsTables {
		stmts := []string{
			fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table),
			fmt.Sprintf("DROP POLICY IF EXISTS %s_tenant_isolation ON %s", table, table),
			fmt.Sprintf(`CREATE POLICY %s_tenant_isolation ON %s
				USING (tenant_id = current_setting('app.current_tenant', true))`, table, table),
		}
		for _, stmt := range stmts {
			if _, err := pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("applying RLS to %s: %w", table, err)
			}
		}
	}

	chunkStmts := []string{
		"ALTER TABLE doc_chunk ENABLE ROW LEVEL SECURITY",
		"DROP POLICY IF EXISTS doc_chunk_tenant_isolation ON doc_chunk",
		`CREATE POLICY doc_chunk_tenant_isolation ON doc_chunk
			USING (tenant_id = current_setting('app.current_tenant', true) OR tenant_id = 'system')`,
	}
	for _, stmt := range chunkStmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying RLS to doc_chunk: %w", err)
		}
	}

	return nil
}
