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

//go:build integration

// Integration tests require a live Postgres, pointed at by
// ERPILOT_TEST_DSN. The role must be a non-owner so row-level security
// applies. Run with: go test -tags integration ./pkg/store/...
package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpilot/erpilot/internal/pgxdriver"
	"github.com/erpilot/erpilot/pkg/audit"
	"github.com/erpilot/erpilot/pkg/billing"
	"github.com/erpilot/erpilot/pkg/core"
	"github.com/erpilot/erpilot/pkg/retrieval"
	"github.com/erpilot/erpilot/pkg/turn"
	"github.com/erpilot/erpilot/pkg/vault"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("ERPILOT_TEST_DSN")
	if dsn == "" {
		t.Skip("ERPILOT_TEST_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxdriver.NewPool(ctx, pgxdriver.Config{DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func testStores(t *testing.T, pool *pgxpool.Pool) *Stores {
	t.Helper()
	v, err := vault.New(map[int]string{1: "QUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUE="}, 1)
	require.NoError(t, err)

	stores := New(pool, v)
	ctx := context.Background()
	require.NoError(t, stores.Tenants.Create(ctx, "itest-a", "Tenant A", "team"))
	require.NoError(t, stores.Tenants.Create(ctx, "itest-b", "Tenant B", "team"))
	return stores
}

func asTenant(t *testing.T, pool *pgxpool.Pool, tenantID string, fn func(ctx context.Context) error) error {
	t.Helper()
	ctx, err := core.BindTenant(context.Background(), tenantID)
	require.NoError(t, err)
	return pgxdriver.WithTenant(ctx, pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx)
	})
}

func TestRLSIsolatesChatMessages(t *testing.T) {
	pool := testPool(t)
	stores := testStores(t, pool)

	var sessionID string
	require.NoError(t, asTenant(t, pool, "itest-a", func(ctx context.Context) error {
		var err error
		sessionID, err = stores.Sessions.CreateSession(ctx)
		if err != nil {
			return err
		}
		return stores.Sessions.SaveMessage(ctx, &turn.ChatMessage{
			SessionID: sessionID, Role: "user", Content: "show open orders",
		})
	}))

	// Tenant B must not see tenant A's session contents.
	require.NoError(t, asTenant(t, pool, "itest-b", func(ctx context.Context) error {
		messages, err := stores.Sessions.History(ctx, sessionID, 10)
		if err != nil {
			return err
		}
		assert.Empty(t, messages)
		return nil
	}))

	require.NoError(t, asTenant(t, pool, "itest-a", func(ctx context.Context) error {
		messages, err := stores.Sessions.History(ctx, sessionID, 10)
		if err != nil {
			return err
		}
		assert.Len(t, messages, 1)
		return nil
	}))
}

func TestMigrateSeedsSystemTenant(t *testing.T) {
	pool := testPool(t)
	stores := testStores(t, pool)

	var exists bool
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT EXISTS (SELECT 1 FROM tenant WHERE id = 'system')`).Scan(&exists))
	assert.True(t, exists)

	// Shared chunks are owned by the system tenant; the seed makes the FK
	// hold for the first import.
	require.NoError(t, asTenant(t, pool, "system", func(ctx context.Context) error {
		return stores.Chunks.ReplaceSource(ctx, "docs/shared-glossary.md", []retrieval.Chunk{
			{Title: "Shared Glossary", Content: "SuiteQL is the ERP query dialect."},
		}, nil)
	}))

	require.NoError(t, asTenant(t, pool, "itest-a", func(ctx context.Context) error {
		chunks, err := stores.Chunks.KeywordSearch(ctx, []string{"suiteql", "dialect"}, "", 5)
		if err != nil {
			return err
		}
		assert.NotEmpty(t, chunks)
		return nil
	}))
}

func TestWalletDeductionUnderConcurrency(t *testing.T) {
	pool := testPool(t)
	stores := testStores(t, pool)

	now := time.Now().UTC()
	require.NoError(t, asTenant(t, pool, "itest-a", func(ctx context.Context) error {
		return stores.Wallets.Provision(ctx, billing.Wallet{
			TenantID:             "itest-a",
			PeriodStart:          now,
			PeriodEnd:            now.AddDate(0, 1, 0),
			BaseCreditsRemaining: 10,
		})
	}))

	// 20 concurrent unit charges against 10 base credits: the row lock
	// must serialize them into exactly 10 spilled credits.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = asTenant(t, pool, "itest-a", func(ctx context.Context) error {
				_, err := stores.Wallets.ApplyDeduction(ctx, 1)
				return err
			})
		}()
	}
	wg.Wait()

	require.NoError(t, asTenant(t, pool, "itest-a", func(ctx context.Context) error {
		w, err := stores.Wallets.Get(ctx)
		if err != nil {
			return err
		}
		require.NotNil(t, w)
		assert.Equal(t, int64(0), w.BaseCreditsRemaining)
		assert.Equal(t, int64(10), w.MeteredCreditsUsed)
		return nil
	}))
}

func TestAuditListPaginatesNewestFirst(t *testing.T) {
	pool := testPool(t)
	stores := testStores(t, pool)

	require.NoError(t, asTenant(t, pool, "itest-a", func(ctx context.Context) error {
		for i := 0; i < 5; i++ {
			event := audit.Prepare(ctx, audit.Event{
				Category: audit.CategoryChat,
				Action:   audit.ActionChatTurn,
			})
			if err := stores.Audit.Append(ctx, event); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, asTenant(t, pool, "itest-a", func(ctx context.Context) error {
		page1, err := stores.Audit.List(ctx, 3, 0)
		if err != nil {
			return err
		}
		page2, err := stores.Audit.List(ctx, 3, 3)
		if err != nil {
			return err
		}
		require.Len(t, page1, 3)
		require.GreaterOrEqual(t, len(page2), 2)
		// UUIDv7 IDs sort by time; newest first means descending IDs.
		assert.Greater(t, page1[0].ID, page1[1].ID)
		assert.Greater(t, page1[2].ID, page2[0].ID)
		return nil
	}))
}
