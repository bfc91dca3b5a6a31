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

import "context"

// MockTool is a configurable Tool for tests.
type MockTool struct {
	ToolName        string
	ToolDescription string
	Schema          *JSONSchema
	ExecuteFunc     func(ctx context.Context, params map[string]interface{}) (*Result, error)
	Calls           int
}

func (m *MockTool) Name() string { return m.ToolName }

func (m *MockTool) Description() string {
	if m.ToolDescription == "" {
		return "mock tool"
	}
	return m.ToolDescription
}

func (m *MockTool) InputSchema() *JSONSchema { return m.Schema }

func (m *MockTool) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	m.Calls++
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, params)
	}
	return &Result{Success: true, Data: "ok"}, nil
}
