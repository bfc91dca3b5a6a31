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
package builtin

import (
	"context"

	"github.com/erpilot/erpilot/pkg/retrieval"
	"github.com/erpilot/erpilot/pkg/tools"
)

// RAGSearchTool searches the tenant's document corpus.
type RAGSearchTool struct {
	retriever *retrieval.Retriever
	topK      int
}

// NewRAGSearchTool creates the rag_search tool. topK zero uses the
// retriever default.
func NewRAGSearchTool(retriever *retrieval.Retriever, topK int) *RAGSearchTool {
	return &RAGSearchTool{retriever: retriever, topK: topK}
}

func (t *RAGSearchTool) Name() string {
	return "rag_search"
}

func (t *RAGSearchTool) Description() string {
	return "Search the tenant's documentation and knowledge base. Returns the most relevant passages with their source paths."
}

func (t *RAGSearchTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("Document search parameters", map[string]*tools.JSONSchema{
		"query":       tools.NewStringSchema("What to search for."),
		"path_prefix": tools.NewStringSchema("Optional source path prefix to narrow the search."),
	}, []string{"query"})
}

func (t *RAGSearchTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
	query, _ := params["query"].(string)
	pathPrefix, _ := params["path_prefix"].(string)

	chunks, err := t.retriever.Search(ctx, query, pathPrefix, t.topK)
	if err != nil {
		return &tools.Result{Success: false, Error: &tools.Error{
			Code:      "search_failed",
			Message:   err.Error(),
			Retryable: true,
		}}, nil
	}

	var passages []interface{}
	var citations []interface{}
	seen := make(map[string]bool)
	for _, c := range chunks {
		passages = append(passages, map[string]interface{}{
			"source_path": c.SourcePath,
			"title":       c.Title,
			"content":     c.Content,
			"score":       c.Score,
		})
		if c.SourcePath != "" && !seen[c.SourcePath] {
			seen[c.SourcePath] = true
			citations = append(citations, c.SourcePath)
		}
	}

	return &tools.Result{Success: true, Data: map[string]interface{}{
		"chunks":    passages,
		"citations": citations,
		"count":     len(passages),
	}}, nil
}

var _ tools.Tool = (*RAGSearchTool)(nil)
