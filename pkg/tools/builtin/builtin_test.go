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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpilot/erpilot/pkg/retrieval"
)

type fakeExecutor struct {
	rows []map[string]interface{}
	err  error
}

func (e *fakeExecutor) Execute(ctx context.Context, query string) ([]string, []map[string]interface{}, error) {
	if e.err != nil {
		return nil, nil, e.err
	}
	return []string{"id", "amount"}, e.rows, nil
}

func TestSuiteQLToolSuccess(t *testing.T) {
	tool := NewSuiteQLTool(&fakeExecutor{rows: []map[string]interface{}{
		{"id": 1, "amount": 40},
	}}, 0)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "SELECT id, amount FROM transaction FETCH FIRST 10 ROWS ONLY",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, 1, data["row_count"])
	assert.Equal(t, false, data["truncated"])
}

func TestSuiteQLToolQueryErrorIsRetryable(t *testing.T) {
	tool := NewSuiteQLTool(&fakeExecutor{err: errors.New("unknown field foo")}, 0)

	result, err := tool.Execute(context.Background(), map[string]interface{}{"query": "SELECT foo"})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.True(t, result.Error.Retryable)
	assert.Contains(t, result.Error.Message, "unknown field")
	assert.NotEmpty(t, result.Error.Suggestion)
}

func TestSuiteQLToolTruncatesRows(t *testing.T) {
	rows := make([]map[string]interface{}, 5)
	for i := range rows {
		rows[i] = map[string]interface{}{"id": i}
	}
	tool := NewSuiteQLTool(&fakeExecutor{rows: rows}, 3)

	result, err := tool.Execute(context.Background(), map[string]interface{}{"query": "SELECT 1"})
	require.NoError(t, err)

	data := result.Data.(map[string]interface{})
	assert.Equal(t, 3, data["row_count"])
	assert.Equal(t, true, data["truncated"])
}

type fakePinger struct{ err error }

func (p *fakePinger) Ping(ctx context.Context) error { return p.err }

func TestConnectivityTool(t *testing.T) {
	ok, err := NewConnectivityTool(&fakePinger{}).Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, ok.Data.(map[string]interface{})["connected"])

	// Connection failure is still a successful check, reporting false.
	down, err := NewConnectivityTool(&fakePinger{err: errors.New("401")}).Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, down.Success)
	assert.Equal(t, false, down.Data.(map[string]interface{})["connected"])
}

type fakeDiscoverer struct{}

func (d *fakeDiscoverer) Discover(ctx context.Context) (int, int, error) { return 12, 340, nil }

type denyAll struct{}

func (denyAll) Can(ctx context.Context, permission string) bool { return false }

func TestMetadataToolPermissionGate(t *testing.T) {
	gated := NewMetadataTool(&fakeDiscoverer{}, denyAll{})
	result, err := gated.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "forbidden", result.Error.Code)

	open := NewMetadataTool(&fakeDiscoverer{}, nil)
	result, err = open.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 12, result.Data.(map[string]interface{})["record_types"])
}

type fakeChunkStore struct {
	chunks []retrieval.Chunk
}

func (s *fakeChunkStore) VectorSearch(ctx context.Context, vector []float32, pathPrefix string, topK int) ([]retrieval.Chunk, error) {
	return s.chunks, nil
}

func (s *fakeChunkStore) KeywordSearch(ctx context.Context, tokens []string, pathPrefix string, topK int) ([]retrieval.Chunk, error) {
	return s.chunks, nil
}

func TestRAGSearchToolEmitsCitations(t *testing.T) {
	store := &fakeChunkStore{chunks: []retrieval.Chunk{
		{SourcePath: "docs/billing.md", Content: "billing works like this", Score: 2},
		{SourcePath: "docs/billing.md", Content: "more billing", Score: 1},
		{SourcePath: "docs/refunds.md", Content: "refunds", Score: 1},
	}}
	tool := NewRAGSearchTool(retrieval.NewRetriever(store, nil, nil), 0)

	result, err := tool.Execute(context.Background(), map[string]interface{}{"query": "billing refunds"})
	require.NoError(t, err)

	data := result.Data.(map[string]interface{})
	assert.Equal(t, 3, data["count"])
	// Citations deduplicate by source path.
	assert.Equal(t, []interface{}{"docs/billing.md", "docs/refunds.md"}, data["citations"])
}

type fakeWorkspace struct {
	files map[string]*WorkspaceFile
}

func (w *fakeWorkspace) ListFiles(ctx context.Context, pathPrefix string) ([]WorkspaceFile, error) {
	var out []WorkspaceFile
	for _, f := range w.files {
		if strings.HasPrefix(f.Path, pathPrefix) {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (w *fakeWorkspace) ReadFile(ctx context.Context, path string) (*WorkspaceFile, error) {
	f, ok := w.files[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return f, nil
}

func (w *fakeWorkspace) SearchFiles(ctx context.Context, query string) ([]WorkspaceFile, error) {
	var out []WorkspaceFile
	for _, f := range w.files {
		if strings.Contains(f.Content, query) {
			out = append(out, *f)
		}
	}
	return out, nil
}

func TestReadFileToolSkipsOversizedAndBinary(t *testing.T) {
	ws := &fakeWorkspace{files: map[string]*WorkspaceFile{
		"big.js":    {Path: "big.js", Size: MaxWorkspaceFileSize + 1, Content: "x"},
		"bin.dat":   {Path: "bin.dat", Size: 10, Content: string([]byte{0xff, 0xfe, 0x00})},
		"script.js": {Path: "script.js", Size: 20, Content: "function f() {}"},
	}}
	tool := NewReadFileTool(ws)

	for _, path := range []string{"big.js", "bin.dat"} {
		result, err := tool.Execute(context.Background(), map[string]interface{}{"path": path})
		require.NoError(t, err)
		assert.False(t, result.Success, path)
		assert.Equal(t, "unreadable_file", result.Error.Code)
	}

	result, err := tool.Execute(context.Background(), map[string]interface{}{"path": "script.js"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "function f() {}", result.Data.(map[string]interface{})["content"])
}

type fakeDrafts struct {
	drafts []*PatchDraft
}

func (d *fakeDrafts) SaveDraft(ctx context.Context, draft *PatchDraft) error {
	draft.ID = "d1"
	d.drafts = append(d.drafts, draft)
	return nil
}

func TestProposePatchToolSavesDraft(t *testing.T) {
	drafts := &fakeDrafts{}
	tool := NewProposePatchTool(drafts)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":        "scripts/validate.js",
		"description": "fix null check",
		"diff":        "--- a\n+++ b\n",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "pending_review", result.Data.(map[string]interface{})["status"])
	require.Len(t, drafts.drafts, 1)
	assert.Equal(t, "scripts/validate.js", drafts.drafts[0].Path)
}

func TestSnippet(t *testing.T) {
	content := strings.Repeat("a", 200) + "NEEDLE" + strings.Repeat("b", 200)
	s := snippet(content, "needle")
	assert.Contains(t, s, "NEEDLE")
	assert.LessOrEqual(t, len(s), 126)
}

func TestToolNamesMatchAgentAllowLists(t *testing.T) {
	names := []string{
		NewSuiteQLTool(nil, 0).Name(),
		NewConnectivityTool(nil).Name(),
		NewMetadataTool(nil, nil).Name(),
		NewRAGSearchTool(nil, 0).Name(),
		NewListFilesTool(nil).Name(),
		NewReadFileTool(nil).Name(),
		NewSearchFilesTool(nil).Name(),
		NewProposePatchTool(nil).Name(),
	}
	assert.Equal(t, []string{
		"run_suiteql", "check_connectivity", "discover_metadata", "rag_search",
		"list_files", "read_file", "search_files", "propose_patch",
	}, names)
}
