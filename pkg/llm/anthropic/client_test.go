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
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpilot/erpilot/pkg/core"
	"github.com/erpilot/erpilot/pkg/llm"
)

func TestConvertRequest(t *testing.T) {
	c := NewClient(Config{APIKey: "k"})

	req := llm.Request{
		System: "be terse",
		Messages: []llm.Message{
			llm.NewUserMessage("list invoices"),
			llm.NewAssistantMessage(llm.ContentBlock{
				Type: llm.BlockToolUse, ID: "tu_1", Name: "run_query",
			}),
			llm.NewToolResultMessage("tu_1", `{"rows":[]}`, false),
		},
		Tools: []llm.ToolSpec{{Name: "run_query"}},
	}

	wireReq := c.convertRequest(req)

	require.Len(t, wireReq.Messages, 3)
	assert.Equal(t, "be terse", wireReq.System)
	assert.Equal(t, DefaultModel, wireReq.Model)
	assert.Equal(t, DefaultMaxTokens, wireReq.MaxTokens)

	// nil tool_use input must serialize as an object, not null.
	assert.NotNil(t, wireReq.Messages[1].Content[0].Input)

	assert.Equal(t, "tool_result", wireReq.Messages[2].Content[0].Type)
	assert.Equal(t, "tu_1", wireReq.Messages[2].Content[0].ToolUseID)

	// Tools without schemas get an empty object schema.
	require.Len(t, wireReq.Tools, 1)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(wireReq.Tools[0].InputSchema))
}

func TestCreateMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		_ = json.NewEncoder(w).Encode(messagesResponse{
			Model:      "claude-sonnet-4-5",
			StopReason: "tool_use",
			Content: []wireBlock{
				{Type: "text", Text: "running a query"},
				{Type: "tool_use", ID: "tu_1", Name: "run_query", Input: map[string]interface{}{"query": "SELECT 1"}},
			},
			Usage: wireUsage{InputTokens: 10, OutputTokens: 5},
		})
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", Endpoint: server.URL})
	resp, err := c.CreateMessage(context.Background(), llm.Request{
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	assert.Equal(t, llm.StopToolUse, resp.StopReason)
	assert.Equal(t, "running a query", resp.Text())
	require.Len(t, resp.ToolUses(), 1)
	assert.Equal(t, "run_query", resp.ToolUses()[0].Name)
	assert.Equal(t, 15, resp.Usage.Total())
}

func TestCreateMessageAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", Endpoint: server.URL})
	_, err := c.CreateMessage(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindUpstreamFailure))
	assert.Contains(t, err.Error(), "slow down")
}
