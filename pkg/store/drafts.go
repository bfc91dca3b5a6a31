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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erpilot/erpilot/pkg/tools/builtin"
)

// DraftStore persists workspace patch proposals. Agents never write files;
// every proposed change lands here as a pending_review row.
type DraftStore struct {
	pool *pgxpool.Pool
}

// SaveDraft inserts a patch draft, assigning an ID when the caller left it
// empty.
func (s *DraftStore) SaveDraft(ctx context.Context, draft *builtin.PatchDraft) error {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	_, err := db(ctx, s.pool).Exec(ctx, `
		INSERT INTO patch_draft (id, tenant_id, path, description, diff)
		VALUES ($1, `+currentTenant+`, $2, $3, $4)`,
		draft.ID, draft.Path, draft.Description, draft.Diff)
	if err != nil {
		return fmt.Errorf("saving patch draft: %w", err)
	}
	return nil
}

// ListPending returns drafts awaiting review, oldest first.
func (s *DraftStore) ListPending(ctx context.Context) ([]builtin.PatchDraft, error) {
	rows, err := db(ctx, s.pool).Query(ctx, `
		SELECT id, path, description, diff
		FROM patch_draft
		WHERE status = 'pending_review'
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	defer rows.Close()

	var drafts []builtin.PatchDraft
	for rows.Next() {
		var d builtin.PatchDraft
		if err := rows.Scan(&d.ID, &d.Path, &d.Description, &d.Diff); err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// SetStatus moves a draft through review (approved, rejected).
func (s *DraftStore) SetStatus(ctx context.Context, draftID, status string) error {
	_, err := db(ctx, s.pool).Exec(ctx,
		`UPDATE patch_draft SET status = $2 WHERE id = $1`, draftID, status)
	return err
}

var _ builtin.DraftStore = (*DraftStore)(nil)
