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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erpilot/erpilot/pkg/memory"
	"github.com/erpilot/erpilot/pkg/vernacular"
)

// VernacularStore persists tenant entity mappings and learned rules. Lookups
// lean on the pg_trgm index over natural_name.
type VernacularStore struct {
	pool *pgxpool.Pool
}

// FindBestMatch returns the mapping closest to candidate by trigram
// similarity, or nil when nothing clears the operator threshold.
func (s *VernacularStore) FindBestMatch(ctx context.Context, candidate string) (*vernacular.Mapping, error) {
	var m vernacular.Mapping
	err := db(ctx, s.pool).QueryRow(ctx, `
		SELECT id, tenant_id, natural_name, script_id, entity_type, similarity(natural_name, $1)
		FROM tenant_entity_mapping
		WHERE natural_name % $1
		ORDER BY similarity(natural_name, $1) DESC
		LIMIT 1`, candidate).
		Scan(&m.ID, &m.TenantID, &m.NaturalName, &m.ScriptID, &m.EntityType, &m.Similarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matching %q: %w", candidate, err)
	}
	return &m, nil
}

// ListNaturalNames returns the tenant's known natural names.
func (s *VernacularStore) ListNaturalNames(ctx context.Context) ([]string, error) {
	rows, err := db(ctx, s.pool).Query(ctx,
		`SELECT natural_name FROM tenant_entity_mapping ORDER BY natural_name`)
	if err != nil {
		return nil, fmt.Errorf("listing natural names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ListActiveRules returns the tenant's active learned rules, oldest first so
// the rendered context block reads in the order they were taught.
func (s *VernacularStore) ListActiveRules(ctx context.Context) ([]vernacular.Rule, error) {
	rows, err := db(ctx, s.pool).Query(ctx, `
		SELECT id, tenant_id, description, category, active
		FROM learned_rule
		WHERE active
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer rows.Close()

	var rules []vernacular.Rule
	for rows.Next() {
		var r vernacular.Rule
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Description, &r.Category, &r.Active); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// UpsertMapping inserts the mapping, replacing the natural name when the
// tenant already maps (entity_type, script_id).
func (s *VernacularStore) UpsertMapping(ctx context.Context, m vernacular.Mapping) error {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := db(ctx, s.pool).Exec(ctx, `
		INSERT INTO tenant_entity_mapping (id, tenant_id, natural_name, script_id, entity_type)
		VALUES ($1, `+currentTenant+`, $2, $3, $4)
		ON CONFLICT (tenant_id, entity_type, script_id)
		DO UPDATE SET natural_name = EXCLUDED.natural_name, updated_at = now()`,
		id, m.NaturalName, m.ScriptID, m.EntityType)
	if err != nil {
		return fmt.Errorf("upserting mapping %s/%s: %w", m.EntityType, m.ScriptID, err)
	}
	return nil
}

// AppendRule adds a learned rule row.
func (s *VernacularStore) AppendRule(ctx context.Context, r vernacular.Rule) error {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := db(ctx, s.pool).Exec(ctx, `
		INSERT INTO learned_rule (id, tenant_id, description, category, active)
		VALUES ($1, `+currentTenant+`, $2, $3, true)`,
		id, r.Description, r.Category)
	if err != nil {
		return fmt.Errorf("appending rule: %w", err)
	}
	return nil
}

// DeactivateRule retires a rule without deleting its history.
func (s *VernacularStore) DeactivateRule(ctx context.Context, ruleID string) error {
	_, err := db(ctx, s.pool).Exec(ctx,
		`UPDATE learned_rule SET active = false WHERE id = $1`, ruleID)
	return err
}

var (
	_ vernacular.MappingStore = (*VernacularStore)(nil)
	_ memory.Store            = (*VernacularStore)(nil)
)
