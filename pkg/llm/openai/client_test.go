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
package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpilot/erpilot/pkg/llm"
)

func TestConvertRequestSplitsToolResults(t *testing.T) {
	c := NewClient(Config{APIKey: "k"})

	req := llm.Request{
		System: "be terse",
		Messages: []llm.Message{
			llm.NewUserMessage("list invoices"),
			llm.NewAssistantMessage(llm.ContentBlock{
				Type: llm.BlockToolUse, ID: "call_1", Name: "run_query",
				Input: map[string]interface{}{"query": "SELECT 1"},
			}),
			llm.NewToolResultMessage("call_1", `{"rows":[]}`, false),
		},
	}

	wireReq, err := c.convertRequest(req)
	require.NoError(t, err)

	// system, user, assistant with tool_calls, tool
	require.Len(t, wireReq.Messages, 4)
	assert.Equal(t, "system", wireReq.Messages[0].Role)
	assert.Equal(t, "user", wireReq.Messages[1].Role)

	assistant := wireReq.Messages[2]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "run_query", assistant.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"query":"SELECT 1"}`, assistant.ToolCalls[0].Function.Arguments)

	assert.Equal(t, "tool", wireReq.Messages[3].Role)
	assert.Equal(t, "call_1", wireReq.Messages[3].ToolCallID)
}

func TestCreateMessageToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"model": "gpt-4.1",
			"choices": [{
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"tool_calls": [{"id": "call_1", "type": "function",
						"function": {"name": "run_query", "arguments": "{\"query\":\"SELECT 1\"}"}}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 6}
		}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", Endpoint: server.URL})
	resp, err := c.CreateMessage(context.Background(), llm.Request{
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	assert.Equal(t, llm.StopToolUse, resp.StopReason)
	require.Len(t, resp.ToolUses(), 1)
	use := resp.ToolUses()[0]
	assert.Equal(t, "call_1", use.ID)
	assert.Equal(t, "SELECT 1", use.Input["query"])
	assert.Equal(t, 18, resp.Usage.Total())
}

func TestCreateMessageError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad key"}}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", Endpoint: server.URL})
	_, err := c.CreateMessage(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}
