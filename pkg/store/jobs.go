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

	"github.com/erpilot/erpilot/pkg/core"
)

// Job statuses.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobStore tracks background job executions. Scheduled jobs run outside any
// tenant binding; tenant-scoped jobs record the tenant that triggered them.
type JobStore struct {
	pool *pgxpool.Pool
}

// Start records a job beginning and returns its ID.
func (s *JobStore) Start(ctx context.Context, name string) (string, error) {
	tenantID := core.TenantFromContext(ctx)
	if tenantID == "" {
		tenantID = "system"
	}

	id := uuid.NewString()
	_, err := db(ctx, s.pool).Exec(ctx, `
		INSERT INTO job (id, tenant_id, name, status) VALUES ($1, $2, $3, $4)`,
		id, tenantID, name, JobRunning)
	if err != nil {
		return "", fmt.Errorf("starting job %s: %w", name, err)
	}
	return id, nil
}

// Complete marks a job finished.
func (s *JobStore) Complete(ctx context.Context, jobID string) error {
	_, err := db(ctx, s.pool).Exec(ctx, `
		UPDATE job SET status = $2, finished_at = now() WHERE id = $1`,
		jobID, JobCompleted)
	return err
}

// Fail marks a job failed with its error message.
func (s *JobStore) Fail(ctx context.Context, jobID, errMsg string) error {
	_, err := db(ctx, s.pool).Exec(ctx, `
		UPDATE job SET status = $2, finished_at = now(), error = $3 WHERE id = $1`,
		jobID, JobFailed, errMsg)
	return err
}
