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
// Package turn drives one chat turn end to end: sanitize, resolve
// vernacular, compact, coordinate, persist, learn, bill, audit. Callers
// run it inside a tenant-bound transaction so every write commits or
// rolls back together.
package turn

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erpilot/erpilot/pkg/agents"
	"github.com/erpilot/erpilot/pkg/audit"
	"github.com/erpilot/erpilot/pkg/billing"
	"github.com/erpilot/erpilot/pkg/coordinator"
	"github.com/erpilot/erpilot/pkg/core"
	"github.com/erpilot/erpilot/pkg/history"
	"github.com/erpilot/erpilot/pkg/llm"
	"github.com/erpilot/erpilot/pkg/memory"
	"github.com/erpilot/erpilot/pkg/observability"
	"github.com/erpilot/erpilot/pkg/vernacular"
)

const (
	// DefaultHistoryPairs is how many user/assistant pairs load by default.
	DefaultHistoryPairs = 10
	// MaxHistoryPairs caps the configurable history window.
	MaxHistoryPairs = 20
	// DefaultBudget is the outer wall-clock budget for one turn.
	DefaultBudget = 3 * time.Minute
	// TitleLength is how much of the first message becomes the session title.
	TitleLength = 100

	timedOutText = "Sorry, this request took too long and timed out. Try narrowing the question."
)

// ChatMessage is one persisted conversation message.
type ChatMessage struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	ToolCalls []agents.ToolInvocation
	Citations []string
	Tokens    int
	CreatedAt time.Time
}

// Store persists sessions and messages. Implementations write through the
// transaction carried in ctx.
type Store interface {
	// History returns the session's most recent messages, oldest first.
	History(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error)

	// SaveMessage appends one message.
	SaveMessage(ctx context.Context, msg *ChatMessage) error

	// EnsureTitle sets the session title only when it is still empty.
	EnsureTitle(ctx context.Context, sessionID, title string) error
}

// Input is one turn request.
type Input struct {
	SessionID string
	Message   string
	// Model is the model identifier billed for this turn.
	Model string
}

// Output is the finished turn.
type Output struct {
	Text          string
	Intent        coordinator.Intent
	TokensUsed    int
	CorrelationID string
	TimedOut      bool
	MemoryUpdated bool
}

// Options wires a Runner.
type Options struct {
	Store       Store
	Coordinator *coordinator.Coordinator
	Resolver    *vernacular.Resolver // optional
	Compactor   *history.Compactor   // optional
	Memory      *memory.Updater      // optional
	Ledger      *billing.Ledger      // optional
	Recorder    audit.Recorder
	Tracer      observability.Tracer
	Logger      *zap.Logger

	HistoryPairs int
	Budget       time.Duration
}

// Runner executes chat turns.
type Runner struct {
	opts Options
}

// NewRunner creates a turn runner.
func NewRunner(opts Options) *Runner {
	if opts.Tracer == nil {
		opts.Tracer = observability.NewNoOpTracer()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HistoryPairs <= 0 {
		opts.HistoryPairs = DefaultHistoryPairs
	}
	if opts.HistoryPairs > MaxHistoryPairs {
		opts.HistoryPairs = MaxHistoryPairs
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	return &Runner{opts: opts}
}

// Run executes one turn. The user message is flushed before the
// coordinator starts; billing only happens after the assistant message
// flushed; the chat.turn audit event goes last so it commits with
// everything else.
func (r *Runner) Run(ctx context.Context, input Input) (*Output, error) {
	if _, err := core.RequireTenant(ctx); err != nil {
		return nil, err
	}
	ctx, correlationID := core.EnsureCorrelationID(ctx)

	ctx, span := r.opts.Tracer.StartSpan(ctx, observability.SpanChatTurn,
		observability.WithAttribute("session.id", input.SessionID))
	defer r.opts.Tracer.EndSpan(span)
	start := time.Now()

	sanitized := Sanitize(input.Message)
	if sanitized == "" {
		return nil, core.NewError(core.KindInvariantViolation, "empty message after sanitization")
	}

	priorMessages, err := r.opts.Store.History(ctx, input.SessionID, r.opts.HistoryPairs*2)
	if err != nil {
		return nil, err
	}

	userMsg := &ChatMessage{
		ID:        uuid.NewString(),
		SessionID: input.SessionID,
		Role:      llm.RoleUser,
		Content:   sanitized,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.opts.Store.SaveMessage(ctx, userMsg); err != nil {
		return nil, err
	}
	if len(priorMessages) == 0 {
		if err := r.opts.Store.EnsureTitle(ctx, input.SessionID, truncate(sanitized, TitleLength)); err != nil {
			r.opts.Logger.Warn("setting session title failed", zap.Error(err))
		}
	}

	vernacularBlock := ""
	if r.opts.Resolver != nil {
		if block, err := r.opts.Resolver.Resolve(ctx, sanitized); err == nil {
			vernacularBlock = block
		}
	}

	llmHistory := toLLMMessages(priorMessages)
	if r.opts.Compactor != nil {
		llmHistory = r.opts.Compactor.Compact(ctx, llmHistory)
	}

	turnCtx, cancel := context.WithTimeout(ctx, r.opts.Budget)
	defer cancel()

	outcome, coordErr := r.opts.Coordinator.Handle(turnCtx, sanitized, llmHistory, vernacularBlock)

	if coordErr != nil {
		if ctx.Err() != nil {
			// The caller cancelled mid-turn: no assistant flush, no
			// billing. The audit record flushes on a rescue context.
			r.auditTurn(context.WithoutCancel(ctx), input, nil, audit.StatusCancelled, coordErr)
			return nil, core.WrapError(core.KindCancelled, "turn cancelled", coordErr)
		}
		if errors.Is(turnCtx.Err(), context.DeadlineExceeded) {
			// Out of budget: answer with a timeout note, skip billing.
			outcome = &coordinator.Outcome{Text: timedOutText}
			return r.finish(ctx, input, outcome, correlationID, start, true)
		}
		r.auditTurn(ctx, input, nil, audit.StatusError, coordErr)
		return nil, coordErr
	}

	return r.finish(ctx, input, outcome, correlationID, start, false)
}

// finish persists the assistant message and runs the post-answer steps:
// memory, billing, audit, metrics.
func (r *Runner) finish(ctx context.Context, input Input, outcome *coordinator.Outcome, correlationID string, start time.Time, timedOut bool) (*Output, error) {
	assistantMsg := &ChatMessage{
		ID:        uuid.NewString(),
		SessionID: input.SessionID,
		Role:      llm.RoleAssistant,
		Content:   outcome.Text,
		ToolCalls: outcome.ToolCalls(),
		Citations: outcome.Citations(),
		Tokens:    outcome.TokensUsed,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.opts.Store.SaveMessage(ctx, assistantMsg); err != nil {
		return nil, err
	}

	output := &Output{
		Text:          outcome.Text,
		Intent:        outcome.Intent,
		TokensUsed:    outcome.TokensUsed,
		CorrelationID: correlationID,
		TimedOut:      timedOut,
	}

	if r.opts.Memory != nil && !timedOut {
		output.MemoryUpdated = r.opts.Memory.ProcessTurn(ctx, Sanitize(input.Message))
	}

	if r.opts.Ledger != nil && !timedOut {
		if _, err := r.opts.Ledger.Charge(ctx, input.Model); err != nil {
			// Billing trouble must not lose the answer; reconciliation
			// picks up the drift.
			r.opts.Logger.Error("wallet charge failed", zap.Error(err))
		}
	}

	status := audit.StatusSuccess
	if timedOut {
		status = audit.StatusTimeout
	}
	r.auditTurn(ctx, input, outcome, status, nil)

	r.opts.Tracer.RecordMetric(observability.MetricTurnDuration,
		float64(time.Since(start).Milliseconds()), nil)

	return output, nil
}

func (r *Runner) auditTurn(ctx context.Context, input Input, outcome *coordinator.Outcome, status audit.Status, turnErr error) {
	if r.opts.Recorder == nil {
		return
	}

	payload := map[string]interface{}{
		"session_id": input.SessionID,
	}
	if outcome != nil {
		var toolNames []string
		for _, call := range outcome.ToolCalls() {
			toolNames = append(toolNames, call.Tool)
		}
		payload["route"] = string(outcome.Intent)
		payload["tools"] = toolNames
		payload["retrieved_docs"] = len(outcome.Citations())
		payload["tokens"] = outcome.TokensUsed
	}

	event := audit.Prepare(ctx, audit.Event{
		Category:     audit.CategoryChat,
		Action:       audit.ActionChatTurn,
		ResourceType: "session",
		ResourceID:   input.SessionID,
		Status:       status,
		Payload:      payload,
	})
	if turnErr != nil {
		event.Error = turnErr.Error()
	}

	auditCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.opts.Recorder.Append(auditCtx, event); err != nil {
		r.opts.Logger.Error("chat.turn audit append failed", zap.Error(err))
	}
}

func toLLMMessages(messages []ChatMessage) []llm.Message {
	var out []llm.Message
	for _, m := range messages {
		switch m.Role {
		case llm.RoleUser:
			out = append(out, llm.NewUserMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, llm.NewAssistantMessage(llm.TextBlock(m.Content)))
		}
	}
	return out
}

func truncate(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n])
}
