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
package core

import (
	"context"

	"github.com/google/uuid"
)

// SystemTenantID is the well-known tenant that owns shared document chunks.
// The retriever unions it into every tenant-scoped search.
const SystemTenantID = "system"

type tenantIDKey struct{}

type actorIDKey struct{}

type correlationIDKey struct{}

// BindTenant binds a tenant ID to the context for the lifetime of a logical
// unit of work (one request, one job, one scheduled task). Re-binding the
// same tenant is a no-op; re-binding a different tenant is forbidden.
func BindTenant(ctx context.Context, tenantID string) (context.Context, error) {
	if tenantID == "" {
		return nil, NewError(KindInvariantViolation, "tenant ID must not be empty")
	}
	if bound := TenantFromContext(ctx); bound != "" && bound != tenantID {
		return nil, Errorf(KindInvariantViolation, "context already bound to tenant %s, cannot rebind to %s", bound, tenantID)
	}
	return context.WithValue(ctx, tenantIDKey{}, tenantID), nil
}

// TenantFromContext extracts the bound tenant ID, or "" if none is bound.
func TenantFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantIDKey{}).(string); ok {
		return v
	}
	return ""
}

// RequireTenant extracts the bound tenant ID or errors when none is bound.
// Every tenant-scoped read must pass through this before touching storage.
func RequireTenant(ctx context.Context) (string, error) {
	tenantID := TenantFromContext(ctx)
	if tenantID == "" {
		return "", NewError(KindInvariantViolation, "no tenant bound in context")
	}
	return tenantID, nil
}

// WithActor injects the acting principal (user ID or worker name).
func WithActor(ctx context.Context, actorID string) context.Context {
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorIDKey{}, actorID)
}

// ActorFromContext extracts the acting principal, or "" if unset.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithCorrelationID injects a correlation ID into the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationFromContext extracts the correlation ID, or "" if unset.
func CorrelationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return v
	}
	return ""
}

// EnsureCorrelationID returns the context's correlation ID, generating and
// attaching one when the caller supplied none.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.New().String()
	return context.WithValue(ctx, correlationIDKey{}, id), id
}

// NewEventID returns a time-sortable identifier for persisted events.
// UUIDv7 embeds a millisecond timestamp so ORDER BY id matches time order.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 generation only fails when the entropy source does; fall back
		// to random rather than failing an audit write.
		return uuid.New().String()
	}
	return id.String()
}
