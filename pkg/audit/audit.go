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
// Package audit defines the append-only, tenant-scoped event stream.
//
// Events flush within the caller's transaction so the audit record and the
// business state either both commit or both roll back. Event IDs are
// time-sortable UUIDv7 tokens generated client-side.
package audit

import (
	"context"
	"time"

	"github.com/erpilot/erpilot/pkg/core"
)

// ActorType identifies what kind of principal performed an action.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorAgent  ActorType = "agent"
	ActorWorker ActorType = "worker"
	ActorSystem ActorType = "system"
)

// Status is the outcome recorded on an event.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusDenied    Status = "denied"
	StatusTimeout   Status = "timeout"
	StatusError     Status = "error"
	StatusFatal     Status = "fatal"
	StatusCancelled Status = "cancelled"
)

// Event categories and actions used by the core.
const (
	CategoryChat   = "chat"
	CategoryTool   = "tool"
	CategoryPolicy = "policy"
	CategoryMemory = "memory"
	CategoryJob    = "job"

	ActionChatTurn     = "chat.turn"
	ActionToolCall     = "tool.call"
	ActionPolicyDenied = "policy.denied"
	ActionMemoryUpdate = "memory.update"
	ActionJobStart     = "job.start"
	ActionJobComplete  = "job.complete"
	ActionJobFailed    = "job.failed"
)

// Event is one append-only audit record.
type Event struct {
	ID            string
	TenantID      string
	Timestamp     time.Time
	Actor         string
	ActorType     ActorType
	Category      string
	Action        string
	ResourceType  string
	ResourceID    string
	CorrelationID string
	JobID         string
	Payload       map[string]interface{}
	Status        Status
	Error         string
}

// Recorder appends audit events. The Postgres implementation writes within
// the transaction carried in ctx when one is present.
type Recorder interface {
	Append(ctx context.Context, event Event) error
}

// Reader lists events for operators. Reads are tenant-scoped and paginated,
// newest first (UUIDv7 IDs sort by time).
type Reader interface {
	List(ctx context.Context, limit, offset int) ([]Event, error)
}

// Prepare fills the fields every event needs: ID, timestamp, tenant,
// correlation ID and actor drawn from the context when unset.
func Prepare(ctx context.Context, event Event) Event {
	if event.ID == "" {
		event.ID = core.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.TenantID == "" {
		event.TenantID = core.TenantFromContext(ctx)
	}
	if event.CorrelationID == "" {
		event.CorrelationID = core.CorrelationFromContext(ctx)
	}
	if event.Actor == "" {
		if actor := core.ActorFromContext(ctx); actor != "" {
			event.Actor = actor
		} else {
			event.Actor = string(ActorSystem)
			event.ActorType = ActorSystem
		}
	}
	if event.Status == "" {
		event.Status = StatusSuccess
	}
	return event
}
