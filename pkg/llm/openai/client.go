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
// Package openai implements the llm.Provider interface over the OpenAI
// Chat Completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/erpilot/erpilot/pkg/core"
	"github.com/erpilot/erpilot/pkg/llm"
)

const (
	// DefaultModel is the default model.
	DefaultModel = "gpt-4.1"
	// DefaultEndpoint is the Chat Completions endpoint.
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	// DefaultTimeout is the HTTP timeout.
	DefaultTimeout = 120 * time.Second
)

// Client calls the OpenAI Chat Completions API.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// NewClient creates an OpenAI client.
func NewClient(config Config) *Client {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	return &Client{
		apiKey:     config.APIKey,
		endpoint:   config.Endpoint,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "openai"
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_completion_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function functionSpec `json:"function"`
}

type functionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateMessage sends one request and returns the parsed response.
func (c *Client) CreateMessage(ctx context.Context, req llm.Request) (*llm.Response, error) {
	wireReq, err := c.convertRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.WrapError(core.KindUpstreamFailure, "openai request", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, core.WrapError(core.KindUpstreamFailure, "reading openai response", err)
	}

	var wireResp chatResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, core.Errorf(core.KindUpstreamFailure, "openai status %d: %s", httpResp.StatusCode, respBody)
	}
	if httpResp.StatusCode != http.StatusOK {
		if wireResp.Error != nil {
			return nil, core.Errorf(core.KindUpstreamFailure, "openai %s: %s", wireResp.Error.Type, wireResp.Error.Message)
		}
		return nil, core.Errorf(core.KindUpstreamFailure, "openai status %d: %s", httpResp.StatusCode, respBody)
	}
	if len(wireResp.Choices) == 0 {
		return nil, core.Errorf(core.KindUpstreamFailure, "openai returned no choices")
	}

	return convertResponse(&wireResp)
}

func (c *Client) convertRequest(req llm.Request) (*chatRequest, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	wireReq := &chatRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	if req.System != "" {
		wireReq.Messages = append(wireReq.Messages, chatMessage{Role: "system", Content: req.System})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleAssistant:
			wireMsg := chatMessage{Role: "assistant"}
			for _, block := range msg.Blocks {
				switch block.Type {
				case llm.BlockText:
					wireMsg.Content += block.Text
				case llm.BlockToolUse:
					args, err := json.Marshal(block.Input)
					if err != nil {
						return nil, fmt.Errorf("marshaling tool input: %w", err)
					}
					wireMsg.ToolCalls = append(wireMsg.ToolCalls, toolCall{
						ID:   block.ID,
						Type: "function",
						Function: functionCall{
							Name:      block.Name,
							Arguments: string(args),
						},
					})
				}
			}
			wireReq.Messages = append(wireReq.Messages, wireMsg)

		case llm.RoleUser:
			// Tool results become tool-role messages; text stays user-role.
			var text string
			for _, block := range msg.Blocks {
				switch block.Type {
				case llm.BlockText:
					text += block.Text
				case llm.BlockToolResult:
					wireReq.Messages = append(wireReq.Messages, chatMessage{
						Role:       "tool",
						Content:    block.Content,
						ToolCallID: block.ToolUseID,
					})
				}
			}
			if text != "" {
				wireReq.Messages = append(wireReq.Messages, chatMessage{Role: "user", Content: text})
			}
		}
	}

	for _, tool := range req.Tools {
		params := tool.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		wireReq.Tools = append(wireReq.Tools, chatTool{
			Type: "function",
			Function: functionSpec{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	return wireReq, nil
}

func convertResponse(wireResp *chatResponse) (*llm.Response, error) {
	choice := wireResp.Choices[0]

	resp := &llm.Response{
		Model: wireResp.Model,
		Usage: llm.Usage{
			InputTokens:  wireResp.Usage.PromptTokens,
			OutputTokens: wireResp.Usage.CompletionTokens,
		},
	}

	switch choice.FinishReason {
	case "tool_calls":
		resp.StopReason = llm.StopToolUse
	case "length":
		resp.StopReason = llm.StopMaxTokens
	default:
		resp.StopReason = llm.StopEndTurn
	}

	if choice.Message.Content != "" {
		resp.Blocks = append(resp.Blocks, llm.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
			return nil, core.Errorf(core.KindUpstreamFailure, "openai tool arguments for %s are not valid JSON", tc.Function.Name)
		}
		resp.Blocks = append(resp.Blocks, llm.ContentBlock{
			Type: llm.BlockToolUse, ID: tc.ID, Name: tc.Function.Name, Input: input,
		})
	}

	return resp, nil
}

var _ llm.Provider = (*Client)(nil)
