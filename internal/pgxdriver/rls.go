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
package pgxdriver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erpilot/erpilot/pkg/core"
)

// SetRLSContext sets the current tenant for row-level security policies.
// Must be called within a transaction; set_config with is_local=true is
// equivalent to SET LOCAL (SET does not accept bind parameters), so the
// setting is cleared automatically when the transaction ends.
func SetRLSContext(ctx context.Context, tx pgx.Tx, tenantID string) error {
	if tenantID == "" {
		return core.NewError(core.KindInvariantViolation, "tenant ID required for RLS context")
	}
	_, err := tx.Exec(ctx, "SELECT pg_catalog.set_config('app.current_tenant', $1, true)", tenantID)
	if err != nil {
		return fmt.Errorf("failed to set RLS context: %w", err)
	}
	return nil
}

// WithTenant begins a transaction with RLS context bound to the tenant in
// ctx, executes fn, and commits. The transaction is rolled back when fn
// returns an error. All tenant-scoped SQL must run through here: filtering
// happens at the storage engine, not in WHERE clauses.
func WithTenant(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tenantID, err := core.RequireTenant(ctx)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is no-op

	if err := SetRLSContext(ctx, tx, tenantID); err != nil {
		return err
	}

	if err := fn(WithQuerier(ctx, tx), tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// WithoutRLS executes fn in a transaction with no RLS context. Use only for
// operations that legitimately bypass tenancy: schema migrations and the
// reconciliation sweep over all wallets.
func WithoutRLS(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(WithQuerier(ctx, tx), tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
