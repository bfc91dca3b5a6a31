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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erpilot/erpilot/pkg/policy"
	"github.com/erpilot/erpilot/pkg/tools/dispatch"
)

// PolicyStore loads and versions tenant policy profiles.
type PolicyStore struct {
	pool *pgxpool.Pool
}

// PolicyFor returns the tenant's active profile at its highest version, or
// nil when the tenant has no policy. Nil is permissive by contract.
func (s *PolicyStore) PolicyFor(ctx context.Context) (*policy.Profile, error) {
	var p policy.Profile
	var recordTypes, blockedFields, allowList, customRules []byte
	err := db(ctx, s.pool).QueryRow(ctx, `
		SELECT version, locked, read_only, allowed_record_types, blocked_fields,
			tool_allow_list, max_rows_per_query, require_row_limit, custom_rules
		FROM policy_profile
		WHERE active
		ORDER BY version DESC
		LIMIT 1`).
		Scan(&p.Version, &p.Locked, &p.ReadOnly, &recordTypes, &blockedFields,
			&allowList, &p.MaxRowsPerQuery, &p.RequireRowLimit, &customRules)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}

	for _, pair := range []struct {
		raw []byte
		dst *[]string
	}{
		{recordTypes, &p.AllowedRecordTypes},
		{blockedFields, &p.BlockedFields},
		{allowList, &p.ToolAllowList},
		{customRules, &p.CustomRules},
	} {
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("decoding policy: %w", err)
		}
	}
	return &p, nil
}

// SaveProfile writes a new policy version and activates it, deactivating
// all prior versions in the same statement batch. The version is assigned
// as max + 1 so concurrent saves conflict on the unique index rather than
// silently overwriting each other.
func (s *PolicyStore) SaveProfile(ctx context.Context, p *policy.Profile) (int, error) {
	q := db(ctx, s.pool)

	recordTypes, err := json.Marshal(orEmpty(p.AllowedRecordTypes))
	if err != nil {
		return 0, err
	}
	blockedFields, err := json.Marshal(orEmpty(p.BlockedFields))
	if err != nil {
		return 0, err
	}
	allowList, err := json.Marshal(orEmpty(p.ToolAllowList))
	if err != nil {
		return 0, err
	}
	customRules, err := json.Marshal(orEmpty(p.CustomRules))
	if err != nil {
		return 0, err
	}

	if _, err := q.Exec(ctx, `UPDATE policy_profile SET active = false WHERE active`); err != nil {
		return 0, fmt.Errorf("deactivating prior policy: %w", err)
	}

	var version int
	err = q.QueryRow(ctx, `
		INSERT INTO policy_profile (id, tenant_id, version, active, locked, read_only,
			allowed_record_types, blocked_fields, tool_allow_list,
			max_rows_per_query, require_row_limit, custom_rules)
		SELECT $1, `+currentTenant+`, COALESCE(MAX(version), 0) + 1, true, $2, $3, $4, $5, $6, $7, $8, $9
		FROM policy_profile
		RETURNING version`,
		uuid.NewString(), p.Locked, p.ReadOnly, recordTypes, blockedFields,
		allowList, p.MaxRowsPerQuery, p.RequireRowLimit, customRules).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("saving policy: %w", err)
	}
	return version, nil
}

var _ dispatch.PolicySource = (*PolicyStore)(nil)
