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
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erpilot/erpilot/internal/pgxdriver"
	"github.com/erpilot/erpilot/pkg/audit"
)

// AuditStore persists audit events. Writes join the transaction carried in
// ctx when one is present, so an event and the mutation it describes commit
// or roll back together.
type AuditStore struct {
	pool *pgxpool.Pool
}

// Append writes one event.
func (s *AuditStore) Append(ctx context.Context, event audit.Event) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding audit payload: %w", err)
	}

	_, err = db(ctx, s.pool).Exec(ctx, `
		INSERT INTO audit_event (id, tenant_id, ts, actor, actor_type, category, action,
			resource_type, resource_id, correlation_id, job_id, payload, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		event.ID, event.TenantID, event.Timestamp, event.Actor, string(event.ActorType),
		event.Category, event.Action, event.ResourceType, event.ResourceID,
		event.CorrelationID, event.JobID, raw, string(event.Status), event.Error)
	if err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// List returns the tenant's events newest first. UUIDv7 IDs sort by time,
// so ordering by id descending is ordering by recency.
func (s *AuditStore) List(ctx context.Context, limit, offset int) ([]audit.Event, error) {
	rows, err := db(ctx, s.pool).Query(ctx, `
		SELECT id, tenant_id, ts, actor, actor_type, category, action,
			resource_type, resource_id, correlation_id, job_id, payload, status, error
		FROM audit_event
		ORDER BY id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		var actorType, status string
		var payload []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Timestamp, &e.Actor, &actorType,
			&e.Category, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.CorrelationID, &e.JobID, &payload, &status, &e.Error); err != nil {
			return nil, err
		}
		e.ActorType = audit.ActorType(actorType)
		e.Status = audit.Status(status)
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decoding audit payload: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteOlderThan removes events with timestamps before cutoff, in batches,
// across all tenants. Returns the number deleted. The retention sweep runs
// without RLS.
func (s *AuditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	var total int64
	for {
		var deleted int64
		err := pgxdriver.WithoutRLS(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				DELETE FROM audit_event
				WHERE id IN (
					SELECT id FROM audit_event WHERE ts < $1 ORDER BY id LIMIT $2
				)`, cutoff, batchSize)
			if err != nil {
				return err
			}
			deleted = tag.RowsAffected()
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("deleting expired audit events: %w", err)
		}
		total += deleted
		if deleted < int64(batchSize) {
			return total, nil
		}
	}
}

var (
	_ audit.Recorder = (*AuditStore)(nil)
	_ audit.Reader   = (*AuditStore)(nil)
)
