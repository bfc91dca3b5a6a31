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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirWorkspace serves a tenant's synced file tree from a local directory.
// Paths are slash-separated and relative to the root; traversal outside the
// root is rejected.
type DirWorkspace struct {
	root string
}

// NewDirWorkspace creates a read-only workspace over root.
func NewDirWorkspace(root string) *DirWorkspace {
	return &DirWorkspace{root: filepath.Clean(root)}
}

// ListFiles returns files under pathPrefix with sizes but no content.
func (w *DirWorkspace) ListFiles(ctx context.Context, pathPrefix string) ([]WorkspaceFile, error) {
	var files []WorkspaceFile
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != w.root {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if pathPrefix != "" && !strings.HasPrefix(rel, pathPrefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, WorkspaceFile{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing workspace files: %w", err)
	}
	return files, nil
}

// ReadFile returns one file with content. Reads are capped at the
// workspace size limit plus one byte so oversized files are detectable
// without loading them whole.
func (w *DirWorkspace) ReadFile(ctx context.Context, path string) (*WorkspaceFile, error) {
	full, err := w.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	file := &WorkspaceFile{Path: filepath.ToSlash(path), Size: info.Size()}
	if info.Size() > MaxWorkspaceFileSize {
		return file, nil
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	file.Content = string(content)
	return file, nil
}

// SearchFiles returns readable files whose content contains query,
// case-insensitively.
func (w *DirWorkspace) SearchFiles(ctx context.Context, query string) ([]WorkspaceFile, error) {
	if query == "" {
		return nil, nil
	}
	needle := strings.ToLower(query)

	all, err := w.ListFiles(ctx, "")
	if err != nil {
		return nil, err
	}

	var matches []WorkspaceFile
	for _, f := range all {
		if f.Size > MaxWorkspaceFileSize {
			continue
		}
		file, err := w.ReadFile(ctx, f.Path)
		if err != nil {
			return nil, err
		}
		if !ReadableFile(file) {
			continue
		}
		if strings.Contains(strings.ToLower(file.Content), needle) {
			matches = append(matches, *file)
		}
	}
	return matches, nil
}

func (w *DirWorkspace) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("path %s escapes the workspace", path)
	}
	return filepath.Join(w.root, clean), nil
}

var _ Workspace = (*DirWorkspace)(nil)
