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
// Package anthropic implements the llm.Provider interface over the
// Anthropic Messages API.
package anthropic

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
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5"
	// DefaultEndpoint is the Messages API endpoint.
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens caps the response when the request does not.
	DefaultMaxTokens = 4096
	// DefaultTimeout is the HTTP timeout.
	DefaultTimeout = 120 * time.Second

	apiVersion = "2023-06-01"
)

// Client calls the Anthropic Messages API.
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

// NewClient creates an Anthropic client.
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
	return "anthropic"
}

// CreateMessage sends one request and returns the parsed response.
func (c *Client) CreateMessage(ctx context.Context, req llm.Request) (*llm.Response, error) {
	wireReq := c.convertRequest(req)

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.WrapError(core.KindUpstreamFailure, "anthropic request", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, core.WrapError(core.KindUpstreamFailure, "reading anthropic response", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, core.Errorf(core.KindUpstreamFailure, "anthropic %s: %s", apiErr.Error.Type, apiErr.Error.Message)
		}
		return nil, core.Errorf(core.KindUpstreamFailure, "anthropic status %d: %s", httpResp.StatusCode, respBody)
	}

	var wireResp messagesResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, core.WrapError(core.KindUpstreamFailure, "parsing anthropic response", err)
	}

	return convertResponse(&wireResp), nil
}

func (c *Client) convertRequest(req llm.Request) *messagesRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	wireReq := &messagesRequest{
		Model:       model,
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	for _, msg := range req.Messages {
		wireMsg := wireMessage{Role: msg.Role}
		for _, block := range msg.Blocks {
			switch block.Type {
			case llm.BlockText:
				wireMsg.Content = append(wireMsg.Content, wireBlock{Type: "text", Text: block.Text})
			case llm.BlockToolUse:
				input := block.Input
				if input == nil {
					// The API rejects null tool_use input.
					input = map[string]interface{}{}
				}
				wireMsg.Content = append(wireMsg.Content, wireBlock{
					Type: "tool_use", ID: block.ID, Name: block.Name, Input: input,
				})
			case llm.BlockToolResult:
				wireMsg.Content = append(wireMsg.Content, wireBlock{
					Type:      "tool_result",
					ToolUseID: block.ToolUseID,
					Content:   block.Content,
					IsError:   block.IsError,
				})
			}
		}
		if len(wireMsg.Content) > 0 {
			wireReq.Messages = append(wireReq.Messages, wireMsg)
		}
	}

	for _, tool := range req.Tools {
		schema := tool.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		wireReq.Tools = append(wireReq.Tools, wireTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	return wireReq
}

func convertResponse(wireResp *messagesResponse) *llm.Response {
	resp := &llm.Response{
		Model:      wireResp.Model,
		StopReason: wireResp.StopReason,
		Usage: llm.Usage{
			InputTokens:  wireResp.Usage.InputTokens,
			OutputTokens: wireResp.Usage.OutputTokens,
		},
	}

	for _, block := range wireResp.Content {
		switch block.Type {
		case "text":
			resp.Blocks = append(resp.Blocks, llm.TextBlock(block.Text))
		case "tool_use":
			resp.Blocks = append(resp.Blocks, llm.ContentBlock{
				Type: llm.BlockToolUse, ID: block.ID, Name: block.Name, Input: block.Input,
			})
		}
	}

	return resp
}

var _ llm.Provider = (*Client)(nil)
