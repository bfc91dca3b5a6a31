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

	"github.com/erpilot/erpilot/pkg/core"
	"github.com/erpilot/erpilot/pkg/tools/builtin"
)

// User roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// rolePermissions maps a role to the admin-gated permissions it grants.
// Members get no admin permissions; read paths are not permission-gated.
var rolePermissions = map[string][]string{
	RoleAdmin: {
		"metadata.discover",
		"policy.edit",
		"connector.manage",
	},
}

// roleAllows reports whether role grants permission.
func roleAllows(role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// User is a tenant member.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
	Active      bool
}

// UserStore manages tenant members and answers permission checks for
// admin-gated tools. Rows are under RLS.
type UserStore struct {
	pool *pgxpool.Pool
}

// Create inserts a user under the tenant bound in ctx and returns its ID.
func (s *UserStore) Create(ctx context.Context, email, displayName, role string) (string, error) {
	if role != RoleAdmin && role != RoleMember {
		return "", core.Errorf(core.KindInvariantViolation, "unknown role %s", role)
	}

	id := uuid.New().String()
	_, err := db(ctx, s.pool).Exec(ctx, `
		INSERT INTO app_user (id, tenant_id, email, display_name, role)
		VALUES ($1, `+currentTenant+`, $2, $3, $4)`,
		id, email, displayName, role)
	if err != nil {
		return "", fmt.Errorf("creating user %s: %w", email, err)
	}
	return id, nil
}

// Get returns a user by ID, or nil when no visible row matches.
func (s *UserStore) Get(ctx context.Context, id string) (*User, error) {
	var u User
	err := db(ctx, s.pool).QueryRow(ctx, `
		SELECT id, email, display_name, role, active
		FROM app_user WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", id, err)
	}
	return &u, nil
}

// SetRole changes a user's role.
func (s *UserStore) SetRole(ctx context.Context, id, role string) error {
	if role != RoleAdmin && role != RoleMember {
		return core.Errorf(core.KindInvariantViolation, "unknown role %s", role)
	}
	_, err := db(ctx, s.pool).Exec(ctx,
		`UPDATE app_user SET role = $2 WHERE id = $1`, id, role)
	return err
}

// Can reports whether the actor bound in ctx holds permission. Fails
// closed: no actor, no matching row, or a query error all deny. Worker
// and system actors carry no user row and are not permission-gated here.
func (s *UserStore) Can(ctx context.Context, permission string) bool {
	actorID := core.ActorFromContext(ctx)
	if actorID == "" {
		return false
	}

	var role string
	var active bool
	err := db(ctx, s.pool).QueryRow(ctx,
		`SELECT role, active FROM app_user WHERE id = $1`, actorID).
		Scan(&role, &active)
	if err != nil || !active {
		return false
	}
	return roleAllows(role, permission)
}

var _ builtin.PermissionChecker = (*UserStore)(nil)
