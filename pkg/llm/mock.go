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
package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider replays scripted responses in order. Used across the
// orchestration tests to drive agents without a network.
type MockProvider struct {
	ProviderName string
	Responses    []*Response
	Fail         error

	mu       sync.Mutex
	Requests []Request
}

// NewMockProvider creates a mock that returns the given responses in order.
func NewMockProvider(responses ...*Response) *MockProvider {
	return &MockProvider{Responses: responses}
}

// TextResponse builds an end-turn response with one text block.
func TextResponse(text string) *Response {
	return &Response{
		Blocks:     []ContentBlock{TextBlock(text)},
		StopReason: StopEndTurn,
	}
}

// ToolUseResponse builds a response invoking one tool.
func ToolUseResponse(id, name string, input map[string]interface{}) *Response {
	return &Response{
		Blocks: []ContentBlock{{
			Type: BlockToolUse, ID: id, Name: name, Input: input,
		}},
		StopReason: StopToolUse,
	}
}

func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// CreateMessage records the request and pops the next scripted response.
func (m *MockProvider) CreateMessage(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.Fail != nil {
		return nil, m.Fail
	}
	if len(m.Requests) > len(m.Responses) {
		return nil, fmt.Errorf("mock provider exhausted after %d responses", len(m.Responses))
	}
	return m.Responses[len(m.Requests)-1], nil
}

// CallCount returns how many requests the mock has served.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

var _ Provider = (*MockProvider)(nil)
