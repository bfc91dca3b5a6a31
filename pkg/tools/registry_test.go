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
package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&MockTool{ToolName: "suiteql"})
	r.Register(&MockTool{ToolName: "rag_search"})

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"rag_search", "suiteql"}, r.List())

	tool, ok := r.Get("suiteql")
	require.True(t, ok)
	assert.Equal(t, "suiteql", tool.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	r.Unregister("suiteql")
	assert.Equal(t, 1, r.Count())
}

func TestRegistrySelectPreservesAllowListOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&MockTool{ToolName: "a"})
	r.Register(&MockTool{ToolName: "b"})

	selected := r.Select([]string{"b", "missing", "a"})
	require.Len(t, selected, 2)
	assert.Equal(t, "b", selected[0].Name())
	assert.Equal(t, "a", selected[1].Name())
}

func TestValidateParams(t *testing.T) {
	schema := NewObjectSchema("query params", map[string]*JSONSchema{
		"query": NewStringSchema("SuiteQL query text"),
	}, []string{"query"})

	tool := &MockTool{ToolName: "suiteql", Schema: schema}

	require.NoError(t, ValidateParams(tool, map[string]interface{}{"query": "SELECT 1"}))

	err := ValidateParams(tool, map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suiteql")

	err = ValidateParams(tool, map[string]interface{}{"query": 42})
	assert.Error(t, err)
}

func TestValidateParamsNoSchema(t *testing.T) {
	assert.NoError(t, ValidateParams(&MockTool{ToolName: "anything"}, map[string]interface{}{"x": 1}))
}
