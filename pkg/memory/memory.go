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
// Package memory learns tenant vernacular from user corrections. A cheap
// regex gate decides whether a message looks like a correction at all;
// only gated messages cost an LLM call.
package memory

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/erpilot/erpilot/pkg/audit"
	"github.com/erpilot/erpilot/pkg/llm"
	"github.com/erpilot/erpilot/pkg/vernacular"
)

// correctionSignals match messages that plausibly correct the assistant
// or state a durable preference. Matching is case-insensitive.
var correctionSignals = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*no,`),
	regexp.MustCompile(`(?i)^\s*actually,`),
	regexp.MustCompile(`(?i)\bremember that\b`),
	regexp.MustCompile(`(?i)\balways\b`),
	regexp.MustCompile(`(?i)\bnever\b`),
	regexp.MustCompile(`(?i)\bfrom now on\b`),
	regexp.MustCompile(`(?i)\bdon'?t use\b`),
	regexp.MustCompile(`(?i)\bthe field for\b.+\bis\b`),
	regexp.MustCompile(`(?i)\bcustomrecord_\w+`),
	regexp.MustCompile(`(?i)\bcustbody_\w+`),
}

// HasCorrectionSignal reports whether the message clears the fast gate.
func HasCorrectionSignal(message string) bool {
	for _, re := range correctionSignals {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// EntityCorrection is a learned natural-name to script-id mapping.
type EntityCorrection struct {
	NaturalName string `json:"natural_name"`
	ScriptID    string `json:"script_id"`
	EntityType  string `json:"entity_type"`
}

// LearnedRule is a durable behavioral preference.
type LearnedRule struct {
	Description string `json:"description"`
	Category    string `json:"category"`
}

// extraction is the JSON shape the LLM returns. Both fields optional.
type extraction struct {
	EntityCorrection *EntityCorrection `json:"entity_correction"`
	Rule             *LearnedRule      `json:"rule"`
}

// Store persists what the updater learns. Implementations scope writes to
// the tenant bound on the context.
type Store interface {
	// UpsertMapping inserts or updates on conflict of (entity_type, script_id).
	UpsertMapping(ctx context.Context, m vernacular.Mapping) error

	// AppendRule adds a learned rule row.
	AppendRule(ctx context.Context, r vernacular.Rule) error
}

// Updater extracts corrections from chat turns and persists them.
type Updater struct {
	provider llm.Provider
	store    Store
	recorder audit.Recorder
	model    string
	logger   *zap.Logger
}

// NewUpdater creates an updater. model selects the extraction model; empty
// uses the provider default.
func NewUpdater(provider llm.Provider, store Store, recorder audit.Recorder, model string, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{provider: provider, store: store, recorder: recorder, model: model, logger: logger}
}

const extractionSystemPrompt = `The user message below corrects the assistant or states a durable preference for how their ERP data should be handled. Extract at most one entity correction and at most one rule.

Respond with JSON only:
{"entity_correction": {"natural_name": "...", "script_id": "...", "entity_type": "..."} | null,
 "rule": {"description": "...", "category": "..."} | null}

Respond with {"entity_correction": null, "rule": null} if the message contains neither.`

// ProcessTurn inspects the user message and persists anything learned.
// Returns true only when something was stored. All failures, including
// LLM and parse errors, return false without surfacing an error; memory
// is best-effort.
func (u *Updater) ProcessTurn(ctx context.Context, userMessage string) bool {
	if !HasCorrectionSignal(userMessage) {
		return false
	}

	resp, err := u.provider.CreateMessage(ctx, llm.Request{
		Model:     u.model,
		System:    extractionSystemPrompt,
		Messages:  []llm.Message{llm.NewUserMessage(userMessage)},
		MaxTokens: 512,
	})
	if err != nil {
		u.logger.Warn("memory extraction failed", zap.Error(err))
		return false
	}

	var extracted extraction
	if err := json.Unmarshal([]byte(stripFences(resp.Text())), &extracted); err != nil {
		u.logger.Warn("memory extraction returned non-JSON", zap.String("text", resp.Text()))
		return false
	}
	if extracted.EntityCorrection == nil && extracted.Rule == nil {
		return false
	}

	payload := map[string]interface{}{}

	if ec := extracted.EntityCorrection; ec != nil {
		if ec.NaturalName == "" || ec.ScriptID == "" {
			u.logger.Warn("dropping incomplete entity correction")
		} else {
			err := u.store.UpsertMapping(ctx, vernacular.Mapping{
				NaturalName: ec.NaturalName,
				ScriptID:    ec.ScriptID,
				EntityType:  ec.EntityType,
			})
			if err != nil {
				u.logger.Warn("persisting entity correction failed", zap.Error(err))
				return false
			}
			payload["entity_correction"] = ec.NaturalName + " -> " + ec.ScriptID
		}
	}

	if rule := extracted.Rule; rule != nil && rule.Description != "" {
		err := u.store.AppendRule(ctx, vernacular.Rule{
			Description: rule.Description,
			Category:    rule.Category,
			Active:      true,
		})
		if err != nil {
			u.logger.Warn("persisting learned rule failed", zap.Error(err))
			return false
		}
		payload["rule"] = rule.Description
	}

	if len(payload) == 0 {
		return false
	}

	event := audit.Prepare(ctx, audit.Event{
		Category: audit.CategoryMemory,
		Action:   audit.ActionMemoryUpdate,
		Payload:  payload,
	})
	if err := u.recorder.Append(ctx, event); err != nil {
		u.logger.Warn("memory audit append failed", zap.Error(err))
	}
	return true
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}
