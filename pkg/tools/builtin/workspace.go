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
	"strings"
	"unicode/utf8"

	"github.com/erpilot/erpilot/pkg/tools"
)

// MaxWorkspaceFileSize is the largest file the workspace tools will read
// or index. Larger files and binary files are skipped.
const MaxWorkspaceFileSize = 256 * 1024

// WorkspaceFile is one file in the tenant's customisation workspace.
type WorkspaceFile struct {
	Path    string
	Size    int64
	Content string
}

// Workspace reads the tenant's script and customisation files. All
// implementations are read-only; changes leave the system only as drafts.
type Workspace interface {
	ListFiles(ctx context.Context, pathPrefix string) ([]WorkspaceFile, error)
	ReadFile(ctx context.Context, path string) (*WorkspaceFile, error)
	SearchFiles(ctx context.Context, query string) ([]WorkspaceFile, error)
}

// PatchDraft is a proposed change awaiting human review.
type PatchDraft struct {
	ID          string
	Path        string
	Description string
	Diff        string
}

// DraftStore persists patch proposals.
type DraftStore interface {
	SaveDraft(ctx context.Context, draft *PatchDraft) error
}

// ReadableFile reports whether a file is small enough and textual enough
// for the model to consume.
func ReadableFile(f *WorkspaceFile) bool {
	if f.Size > MaxWorkspaceFileSize {
		return false
	}
	return utf8.ValidString(f.Content)
}

// ListFilesTool lists workspace files.
type ListFilesTool struct {
	workspace Workspace
}

// NewListFilesTool creates the list_files tool.
func NewListFilesTool(workspace Workspace) *ListFilesTool {
	return &ListFilesTool{workspace: workspace}
}

func (t *ListFilesTool) Name() string        { return "list_files" }
func (t *ListFilesTool) Description() string { return "List files in the tenant workspace." }

func (t *ListFilesTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("Listing parameters", map[string]*tools.JSONSchema{
		"path_prefix": tools.NewStringSchema("Optional path prefix to list under."),
	}, nil)
}

func (t *ListFilesTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
	pathPrefix, _ := params["path_prefix"].(string)

	files, err := t.workspace.ListFiles(ctx, pathPrefix)
	if err != nil {
		return workspaceError(err), nil
	}

	var listing []interface{}
	for _, f := range files {
		listing = append(listing, map[string]interface{}{
			"path": f.Path,
			"size": f.Size,
		})
	}
	return &tools.Result{Success: true, Data: map[string]interface{}{"files": listing}}, nil
}

// ReadFileTool reads one workspace file.
type ReadFileTool struct {
	workspace Workspace
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(workspace Workspace) *ReadFileTool {
	return &ReadFileTool{workspace: workspace}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of one workspace file." }

func (t *ReadFileTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("Read parameters", map[string]*tools.JSONSchema{
		"path": tools.NewStringSchema("The file path to read."),
	}, []string{"path"})
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
	path, _ := params["path"].(string)

	file, err := t.workspace.ReadFile(ctx, path)
	if err != nil {
		return workspaceError(err), nil
	}
	if !ReadableFile(file) {
		return &tools.Result{Success: false, Error: &tools.Error{
			Code:    "unreadable_file",
			Message: "file is too large or not text",
		}}, nil
	}

	return &tools.Result{Success: true, Data: map[string]interface{}{
		"path":    file.Path,
		"content": file.Content,
	}}, nil
}

// SearchFilesTool greps the workspace.
type SearchFilesTool struct {
	workspace Workspace
}

// NewSearchFilesTool creates the search_files tool.
func NewSearchFilesTool(workspace Workspace) *SearchFilesTool {
	return &SearchFilesTool{workspace: workspace}
}

func (t *SearchFilesTool) Name() string { return "search_files" }
func (t *SearchFilesTool) Description() string {
	return "Search workspace files for a string and return matching paths with a snippet."
}

func (t *SearchFilesTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("Search parameters", map[string]*tools.JSONSchema{
		"query": tools.NewStringSchema("The text to search for."),
	}, []string{"query"})
}

func (t *SearchFilesTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
	query, _ := params["query"].(string)

	files, err := t.workspace.SearchFiles(ctx, query)
	if err != nil {
		return workspaceError(err), nil
	}

	var matches []interface{}
	for _, f := range files {
		file := f
		if !ReadableFile(&file) {
			continue
		}
		matches = append(matches, map[string]interface{}{
			"path":    f.Path,
			"snippet": snippet(f.Content, query),
		})
	}
	return &tools.Result{Success: true, Data: map[string]interface{}{"matches": matches}}, nil
}

// ProposePatchTool records a draft change for human review. This is the
// only path out of the read-only workspace.
type ProposePatchTool struct {
	drafts DraftStore
}

// NewProposePatchTool creates the propose_patch tool.
func NewProposePatchTool(drafts DraftStore) *ProposePatchTool {
	return &ProposePatchTool{drafts: drafts}
}

func (t *ProposePatchTool) Name() string { return "propose_patch" }
func (t *ProposePatchTool) Description() string {
	return "Propose a change to a workspace file as a unified diff. The change is saved as a draft for human approval; nothing is applied directly."
}

func (t *ProposePatchTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("Patch proposal", map[string]*tools.JSONSchema{
		"path":        tools.NewStringSchema("The file the patch applies to."),
		"description": tools.NewStringSchema("What the change does and why."),
		"diff":        tools.NewStringSchema("The unified diff."),
	}, []string{"path", "diff"})
}

func (t *ProposePatchTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
	path, _ := params["path"].(string)
	description, _ := params["description"].(string)
	diff, _ := params["diff"].(string)

	draft := &PatchDraft{Path: path, Description: description, Diff: diff}
	if err := t.drafts.SaveDraft(ctx, draft); err != nil {
		return workspaceError(err), nil
	}

	return &tools.Result{Success: true, Data: map[string]interface{}{
		"draft_id": draft.ID,
		"status":   "pending_review",
	}}, nil
}

func workspaceError(err error) *tools.Result {
	return &tools.Result{Success: false, Error: &tools.Error{
		Code:    "workspace_error",
		Message: err.Error(),
	}}
}

// snippet returns a window of content around the first occurrence of query.
func snippet(content, query string) string {
	idx := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if idx < 0 {
		if len(content) > 160 {
			return content[:160]
		}
		return content
	}
	start := idx - 60
	if start < 0 {
		start = 0
	}
	end := idx + len(query) + 60
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}

var (
	_ tools.Tool = (*ListFilesTool)(nil)
	_ tools.Tool = (*ReadFileTool)(nil)
	_ tools.Tool = (*SearchFilesTool)(nil)
	_ tools.Tool = (*ProposePatchTool)(nil)
)
