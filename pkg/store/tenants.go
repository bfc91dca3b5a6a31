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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erpilot/erpilot/pkg/billing"
	"github.com/erpilot/erpilot/pkg/core"
)

// TenantStore resolves tenant plan state for entitlement checks and manages
// tenant rows. The tenant table itself is not under RLS; reads key on the
// tenant bound in ctx.
type TenantStore struct {
	pool *pgxpool.Pool
}

// TenantPlan returns the plan and active flag of the tenant bound in ctx.
func (s *TenantStore) TenantPlan(ctx context.Context) (*billing.TenantPlan, error) {
	tenantID, err := core.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	var plan billing.TenantPlan
	err = db(ctx, s.pool).QueryRow(ctx,
		`SELECT plan, active FROM tenant WHERE id = $1`, tenantID).
		Scan(&plan.Plan, &plan.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.Errorf(core.KindForbidden, "unknown tenant %s", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant %s: %w", tenantID, err)
	}
	return &plan, nil
}

// CountFeatureRows counts the live rows a quota feature is charged against.
func (s *TenantStore) CountFeatureRows(ctx context.Context, feature string) (int64, error) {
	var kind string
	switch feature {
	case billing.FeatureConnections:
		kind = ConnectorKindERP
	case billing.FeatureMcpConnectors:
		kind = ConnectorKindMCP
	default:
		return 0, core.Errorf(core.KindInvariantViolation, "feature %s has no row count", feature)
	}

	var count int64
	err := db(ctx, s.pool).QueryRow(ctx, `
		SELECT count(*) FROM connector WHERE kind = $1 AND status = 'active'`, kind).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting %s rows: %w", feature, err)
	}
	return count, nil
}

// ListActive returns the IDs of active tenants, excluding the shared
// system tenant. Used by cross-tenant background sweeps.
func (s *TenantStore) ListActive(ctx context.Context) ([]string, error) {
	rows, err := db(ctx, s.pool).Query(ctx,
		`SELECT id FROM tenant WHERE active AND id <> 'system' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Create inserts a tenant row. Used by provisioning and bootstrap.
func (s *TenantStore) Create(ctx context.Context, id, name, plan string) error {
	_, err := db(ctx, s.pool).Exec(ctx, `
		INSERT INTO tenant (id, name, plan) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`, id, name, plan)
	if err != nil {
		return fmt.Errorf("creating tenant %s: %w", id, err)
	}
	return nil
}

// SetActive toggles a tenant on or off. Inactive tenants fail every
// entitlement check.
func (s *TenantStore) SetActive(ctx context.Context, id string, active bool) error {
	_, err := db(ctx, s.pool).Exec(ctx,
		`UPDATE tenant SET active = $2 WHERE id = $1`, id, active)
	return err
}

var _ billing.EntitlementStore = (*TenantStore)(nil)
