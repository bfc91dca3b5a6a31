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
// Package retrieval searches the per-tenant document corpus. Vector search
// is used when an embedder is available; otherwise it falls back to keyword
// scoring over case-folded tokens.
package retrieval

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// MaxTopK caps how many chunks a single search may return.
const MaxTopK = 30

// DefaultTopK is used when the caller asks for zero results.
const DefaultTopK = 8

// MinTokenLength is the shortest token the keyword fallback considers.
const MinTokenLength = 3

// Chunk is one retrieved document fragment. Tenant-owned chunks and
// system-shared chunks come back through the same shape.
type Chunk struct {
	ID         string
	TenantID   string
	SourcePath string
	Title      string
	Content    string
	Score      float64
}

// Embedder is the optional embedding capability. Implementations call an
// embedding model; absence switches the retriever to keyword search.
type Embedder interface {
	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore searches the chunk table. Implementations scope rows to the
// current tenant union the system tenant.
type ChunkStore interface {
	// VectorSearch orders chunks by distance to the query vector.
	VectorSearch(ctx context.Context, vector []float32, pathPrefix string, topK int) ([]Chunk, error)

	// KeywordSearch scores chunks one point per matched token and orders
	// by score descending.
	KeywordSearch(ctx context.Context, tokens []string, pathPrefix string, topK int) ([]Chunk, error)
}

// Retriever runs tenant-scoped corpus searches.
type Retriever struct {
	store    ChunkStore
	embedder Embedder
	logger   *zap.Logger
}

// NewRetriever creates a retriever. embedder may be nil.
func NewRetriever(store ChunkStore, embedder Embedder, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, embedder: embedder, logger: logger}
}

// Search returns the topK best chunks for the query. pathPrefix optionally
// narrows results to sources under that prefix.
func (r *Retriever) Search(ctx context.Context, query, pathPrefix string, topK int) ([]Chunk, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	if r.embedder != nil {
		vector, err := r.embedder.EmbedQuery(ctx, query)
		if err == nil {
			return r.store.VectorSearch(ctx, vector, pathPrefix, topK)
		}
		// Embedding trouble degrades to keyword search rather than
		// failing the turn.
		r.logger.Warn("embedding failed, falling back to keyword search", zap.Error(err))
	}

	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	return r.store.KeywordSearch(ctx, tokens, pathPrefix, topK)
}

// Tokenize case-folds the query and returns its distinct tokens of at
// least MinTokenLength characters, in first-seen order.
func Tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	seen := make(map[string]bool, len(fields))
	var tokens []string
	for _, f := range fields {
		if len(f) < MinTokenLength || seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	return tokens
}

// ScoreContent counts how many of the tokens appear in the content,
// case-insensitively. One point per distinct matched token. In-memory
// twin of the store's OR-of-LIKEs scoring, used by tests and small
// in-process corpora.
func ScoreContent(content string, tokens []string) int {
	folded := strings.ToLower(content)
	score := 0
	for _, tok := range tokens {
		if strings.Contains(folded, tok) {
			score++
		}
	}
	return score
}
