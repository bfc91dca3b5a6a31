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
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erpilot/erpilot/pkg/retrieval"
)

// vectorCandidateLimit caps how many embedded chunks one vector search pulls
// into memory for scoring.
const vectorCandidateLimit = 2000

// ChunkStore persists and searches document chunks. The RLS policy on
// doc_chunk exposes the tenant's own rows union the shared system corpus.
type ChunkStore struct {
	pool *pgxpool.Pool
}

// KeywordSearch scores chunks one point per matched token, descending.
// Chunks matching no token are excluded.
func (s *ChunkStore) KeywordSearch(ctx context.Context, tokens []string, pathPrefix string, topK int) ([]retrieval.Chunk, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	rows, err := db(ctx, s.pool).Query(ctx, `
		SELECT id, tenant_id, source_path, title, content, score FROM (
			SELECT id, tenant_id, source_path, title, content,
				(SELECT count(*) FROM unnest($1::text[]) AS tok
				 WHERE content ILIKE '%' || tok || '%') AS score
			FROM doc_chunk
			WHERE source_path LIKE $2 || '%'
		) scored
		WHERE score > 0
		ORDER BY score DESC, id
		LIMIT $3`, tokens, pathPrefix, topK)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var chunks []retrieval.Chunk
	for rows.Next() {
		var c retrieval.Chunk
		var score int64
		if err := rows.Scan(&c.ID, &c.TenantID, &c.SourcePath, &c.Title, &c.Content, &score); err != nil {
			return nil, err
		}
		c.Score = float64(score)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// VectorSearch ranks embedded chunks by cosine similarity to the query
// vector. Embeddings live in a jsonb column and similarity is computed here
// rather than in SQL; corpora are bounded per tenant and this keeps the
// schema free of extension dependencies beyond pg_trgm.
func (s *ChunkStore) VectorSearch(ctx context.Context, vector []float32, pathPrefix string, topK int) ([]retrieval.Chunk, error) {
	rows, err := db(ctx, s.pool).Query(ctx, `
		SELECT id, tenant_id, source_path, title, content, embedding
		FROM doc_chunk
		WHERE embedding IS NOT NULL AND source_path LIKE $1 || '%'
		LIMIT $2`, pathPrefix, vectorCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var chunks []retrieval.Chunk
	for rows.Next() {
		var c retrieval.Chunk
		var raw []byte
		if err := rows.Scan(&c.ID, &c.TenantID, &c.SourcePath, &c.Title, &c.Content, &raw); err != nil {
			return nil, err
		}
		var embedding []float32
		if err := json.Unmarshal(raw, &embedding); err != nil {
			continue
		}
		c.Score = cosineSimilarity(vector, embedding)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks, nil
}

// ReplaceSource atomically swaps the chunks of one source document: prior
// chunks for the path are removed and the new set inserted.
func (s *ChunkStore) ReplaceSource(ctx context.Context, sourcePath string, chunks []retrieval.Chunk, embeddings [][]float32) error {
	q := db(ctx, s.pool)

	if _, err := q.Exec(ctx, `
		DELETE FROM doc_chunk
		WHERE source_path = $1 AND tenant_id = `+currentTenant, sourcePath); err != nil {
		return fmt.Errorf("clearing chunks for %s: %w", sourcePath, err)
	}

	for i, c := range chunks {
		var embedding []byte
		if i < len(embeddings) && len(embeddings[i]) > 0 {
			raw, err := json.Marshal(embeddings[i])
			if err != nil {
				return err
			}
			embedding = raw
		}
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := q.Exec(ctx, `
			INSERT INTO doc_chunk (id, tenant_id, source_path, title, content, embedding)
			VALUES ($1, `+currentTenant+`, $2, $3, $4, $5)`,
			id, sourcePath, c.Title, c.Content, embedding)
		if err != nil {
			return fmt.Errorf("inserting chunk for %s: %w", sourcePath, err)
		}
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ retrieval.ChunkStore = (*ChunkStore)(nil)
