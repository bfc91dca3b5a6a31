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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erpilot/erpilot/pkg/turn"
)

// SessionStore persists chat sessions and messages.
type SessionStore struct {
	pool *pgxpool.Pool
}

// CreateSession opens a new session and returns its ID.
func (s *SessionStore) CreateSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := db(ctx, s.pool).Exec(ctx,
		`INSERT INTO chat_session (id, tenant_id) VALUES ($1, `+currentTenant+`)`, id)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return id, nil
}

// History returns the session's most recent messages, oldest first.
func (s *SessionStore) History(ctx context.Context, sessionID string, limit int) ([]turn.ChatMessage, error) {
	rows, err := db(ctx, s.pool).Query(ctx, `
		SELECT id, session_id, role, content, tool_calls, citations, tokens, created_at
		FROM chat_message
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var messages []turn.ChatMessage
	for rows.Next() {
		var m turn.ChatMessage
		var toolCalls, citations []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &toolCalls, &citations, &m.Tokens, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("decoding tool calls: %w", err)
		}
		if err := json.Unmarshal(citations, &m.Citations); err != nil {
			return nil, fmt.Errorf("decoding citations: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the index; callers want oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SaveMessage appends one message to the session.
func (s *SessionStore) SaveMessage(ctx context.Context, msg *turn.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	toolCalls, err := json.Marshal(orEmpty(msg.ToolCalls))
	if err != nil {
		return fmt.Errorf("encoding tool calls: %w", err)
	}
	citations, err := json.Marshal(orEmpty(msg.Citations))
	if err != nil {
		return fmt.Errorf("encoding citations: %w", err)
	}

	_, err = db(ctx, s.pool).Exec(ctx, `
		INSERT INTO chat_message (id, tenant_id, session_id, role, content, tool_calls, citations, tokens, created_at)
		VALUES ($1, `+currentTenant+`, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, toolCalls, citations, msg.Tokens, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}

	_, err = db(ctx, s.pool).Exec(ctx,
		`UPDATE chat_session SET updated_at = now() WHERE id = $1`, msg.SessionID)
	return err
}

// EnsureTitle sets the session title only when it is still empty.
func (s *SessionStore) EnsureTitle(ctx context.Context, sessionID, title string) error {
	_, err := db(ctx, s.pool).Exec(ctx,
		`UPDATE chat_session SET title = $2 WHERE id = $1 AND title = ''`, sessionID, title)
	return err
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

var _ turn.Store = (*SessionStore)(nil)
