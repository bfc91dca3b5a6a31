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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) *DirWorkspace {
	t.Helper()
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "scripts"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scripts", "approval.js"),
		[]byte("function onApprove(rec) { return rec.getValue('custbody_region'); }"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"),
		[]byte("Deployment notes for the approval workflow."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"),
		[]byte("ref: refs/heads/main"), 0o644))

	return NewDirWorkspace(root)
}

func TestDirWorkspaceListsWithPrefix(t *testing.T) {
	w := newTestWorkspace(t)

	all, err := w.ListFiles(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 2, "dotted directories are skipped")

	scripts, err := w.ListFiles(context.Background(), "scripts/")
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, "scripts/approval.js", scripts[0].Path)
	assert.Greater(t, scripts[0].Size, int64(0))
	assert.Empty(t, scripts[0].Content)
}

func TestDirWorkspaceReadsFile(t *testing.T) {
	w := newTestWorkspace(t)

	f, err := w.ReadFile(context.Background(), "scripts/approval.js")
	require.NoError(t, err)
	assert.Contains(t, f.Content, "custbody_region")
	assert.True(t, ReadableFile(f))
}

func TestDirWorkspaceRejectsEscapingPaths(t *testing.T) {
	w := newTestWorkspace(t)

	_, err := w.ReadFile(context.Background(), "../etc/passwd")
	assert.Error(t, err)
	_, err = w.ReadFile(context.Background(), "/etc/passwd")
	assert.Error(t, err)
}

func TestDirWorkspaceSearch(t *testing.T) {
	w := newTestWorkspace(t)

	matches, err := w.SearchFiles(context.Background(), "APPROVAL")
	require.NoError(t, err)
	require.Len(t, matches, 2)

	none, err := w.SearchFiles(context.Background(), "nonexistent needle")
	require.NoError(t, err)
	assert.Empty(t, none)
}
