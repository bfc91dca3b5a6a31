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
// Package vernacular grounds user messages in tenant-specific identifiers.
// A fast LLM extracts candidate entity names, each candidate is matched
// against the tenant's trigram-indexed mapping table, and the matches plus
// the tenant's learned rules are rendered as a context block for agents.
package vernacular

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"

	"github.com/erpilot/erpilot/pkg/llm"
)

// Mapping is one natural-name to script-id translation owned by a tenant.
type Mapping struct {
	ID          string
	TenantID    string
	NaturalName string
	ScriptID    string
	EntityType  string
	Similarity  float64
}

// Rule is one learned behavioral rule for a tenant.
type Rule struct {
	ID          string
	TenantID    string
	Description string
	Category    string
	Active      bool
}

// MappingStore looks up tenant mappings and rules. Implementations scope
// all queries to the tenant bound on the context.
type MappingStore interface {
	// FindBestMatch returns the closest mapping by trigram similarity, or
	// nil when nothing clears the similarity threshold.
	FindBestMatch(ctx context.Context, candidate string) (*Mapping, error)

	// ListNaturalNames returns the tenant's known natural names, used to
	// pre-rank LLM candidates before the SQL lookup.
	ListNaturalNames(ctx context.Context) ([]string, error)

	// ListActiveRules returns the tenant's active learned rules.
	ListActiveRules(ctx context.Context) ([]Rule, error)
}

// Resolver extracts and resolves tenant vernacular for one message.
type Resolver struct {
	provider llm.Provider
	store    MappingStore
	model    string
	logger   *zap.Logger
}

// NewResolver creates a resolver. model selects the fast extraction model;
// empty uses the provider default.
func NewResolver(provider llm.Provider, store MappingStore, model string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{provider: provider, store: store, model: model, logger: logger}
}

const extractionPrompt = `Extract tenant-specific entity names from the user message: custom record names, custom field names, tenant-specific status values, and saved-search names. Skip generic ERP vocabulary such as "invoice", "sales order", "customer", "item".

Respond with a JSON array of strings and nothing else. Respond with [] if there are none.`

// Resolve returns the tenant vernacular block for the message, or the
// empty string when there is nothing to inject. Extraction and lookup
// failures degrade to an empty block; the turn is never blocked here.
func (r *Resolver) Resolve(ctx context.Context, message string) (string, error) {
	candidates := r.extract(ctx, message)
	mappings := r.lookup(ctx, candidates)

	rules, err := r.store.ListActiveRules(ctx)
	if err != nil {
		r.logger.Warn("loading learned rules failed", zap.Error(err))
	}

	return RenderBlock(mappings, rules), nil
}

// extract asks the fast LLM for candidate entity names.
func (r *Resolver) extract(ctx context.Context, message string) []string {
	resp, err := r.provider.CreateMessage(ctx, llm.Request{
		Model:     r.model,
		System:    extractionPrompt,
		Messages:  []llm.Message{llm.NewUserMessage(message)},
		MaxTokens: 512,
	})
	if err != nil {
		r.logger.Warn("entity extraction failed", zap.Error(err))
		return nil
	}

	var candidates []string
	if err := json.Unmarshal([]byte(stripFences(resp.Text())), &candidates); err != nil {
		r.logger.Warn("entity extraction returned non-JSON", zap.String("text", resp.Text()))
		return nil
	}
	return candidates
}

// lookup resolves each candidate against the mapping table. Candidates
// that fuzzy-match a known natural name are tried first; the SQL trigram
// lookup stays authoritative.
func (r *Resolver) lookup(ctx context.Context, candidates []string) []Mapping {
	if len(candidates) == 0 {
		return nil
	}

	known, err := r.store.ListNaturalNames(ctx)
	if err != nil {
		r.logger.Warn("listing natural names failed", zap.Error(err))
	}

	var mappings []Mapping
	seen := make(map[string]bool)
	for _, candidate := range rankCandidates(candidates, known) {
		mapping, err := r.store.FindBestMatch(ctx, candidate)
		if err != nil {
			r.logger.Warn("mapping lookup failed", zap.String("candidate", candidate), zap.Error(err))
			continue
		}
		if mapping == nil || seen[mapping.ScriptID] {
			continue
		}
		seen[mapping.ScriptID] = true
		mappings = append(mappings, *mapping)
	}
	return mappings
}

// rankCandidates orders candidates so that those fuzzy-matching a known
// natural name come first. With no known names the order is unchanged.
func rankCandidates(candidates, known []string) []string {
	if len(known) == 0 {
		return candidates
	}

	var hits, misses []string
	for _, candidate := range candidates {
		if len(fuzzy.Find(strings.ToLower(candidate), lowered(known))) > 0 {
			hits = append(hits, candidate)
		} else {
			misses = append(misses, candidate)
		}
	}
	return append(hits, misses...)
}

func lowered(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.ToLower(n)
	}
	return out
}

// stripFences removes a markdown code fence around the payload, which
// small models add despite instructions.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}
