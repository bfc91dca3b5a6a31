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
// Package gemini implements the llm.Provider interface over the Google
// Gemini generateContent API.
package gemini

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
	DefaultModel = "gemini-2.5-flash"
	// DefaultBaseURL is the Generative Language API base.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultTimeout is the HTTP timeout.
	DefaultTimeout = 120 * time.Second
)

// Client calls the Gemini generateContent API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a Gemini client.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	return &Client{
		apiKey:     config.APIKey,
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "gemini"
}

// CreateMessage sends one request and returns the parsed response.
func (c *Client) CreateMessage(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	wireReq, err := convertRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.WrapError(core.KindUpstreamFailure, "gemini request", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, core.WrapError(core.KindUpstreamFailure, "reading gemini response", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, core.Errorf(core.KindUpstreamFailure, "gemini %s: %s", apiErr.Error.Status, apiErr.Error.Message)
		}
		return nil, core.Errorf(core.KindUpstreamFailure, "gemini status %d: %s", httpResp.StatusCode, respBody)
	}

	var wireResp generateResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, core.WrapError(core.KindUpstreamFailure, "parsing gemini response", err)
	}
	if len(wireResp.Candidates) == 0 {
		return nil, core.Errorf(core.KindUpstreamFailure, "gemini returned no candidates")
	}

	return convertResponse(model, &wireResp), nil
}

func convertRequest(req llm.Request) (*generateRequest, error) {
	wireReq := &generateRequest{}

	if req.System != "" {
		wireReq.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		wireReq.GenerationConfig = &generationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}

	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "model"
		}
		wireContent := content{Role: role}
		for _, block := range msg.Blocks {
			switch block.Type {
			case llm.BlockText:
				wireContent.Parts = append(wireContent.Parts, part{Text: block.Text})
			case llm.BlockToolUse:
				args := block.Input
				if args == nil {
					args = map[string]interface{}{}
				}
				wireContent.Parts = append(wireContent.Parts, part{
					FunctionCall: &functionCall{Name: block.Name, Args: args},
				})
			case llm.BlockToolResult:
				// Gemini correlates tool results by function name, which is
				// what our tool_use IDs carry for this provider.
				wireContent.Parts = append(wireContent.Parts, part{
					FunctionResponse: &functionResponse{
						Name:     block.ToolUseID,
						Response: map[string]interface{}{"result": block.Content},
					},
				})
			}
		}
		if len(wireContent.Parts) > 0 {
			wireReq.Contents = append(wireReq.Contents, wireContent)
		}
	}

	if len(req.Tools) > 0 {
		var decls []functionDeclaration
		for _, tool := range req.Tools {
			decl := functionDeclaration{Name: tool.Name, Description: tool.Description}
			if len(tool.InputSchema) > 0 {
				var params map[string]interface{}
				if err := json.Unmarshal(tool.InputSchema, &params); err != nil {
					return nil, fmt.Errorf("tool %s schema is not valid JSON: %w", tool.Name, err)
				}
				// The API rejects unknown schema keywords.
				delete(params, "additionalProperties")
				delete(params, "$schema")
				decl.Parameters = params
			}
			decls = append(decls, decl)
		}
		wireReq.Tools = []toolDeclarations{{FunctionDeclarations: decls}}
	}

	return wireReq, nil
}

func convertResponse(model string, wireResp *generateResponse) *llm.Response {
	candidate := wireResp.Candidates[0]

	resp := &llm.Response{
		Model: model,
		Usage: llm.Usage{
			InputTokens:  wireResp.UsageMetadata.PromptTokenCount,
			OutputTokens: wireResp.UsageMetadata.CandidatesTokenCount,
		},
	}

	hasToolUse := false
	for _, p := range candidate.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			hasToolUse = true
			// No call IDs on the wire; the function name serves as one.
			resp.Blocks = append(resp.Blocks, llm.ContentBlock{
				Type:  llm.BlockToolUse,
				ID:    p.FunctionCall.Name,
				Name:  p.FunctionCall.Name,
				Input: p.FunctionCall.Args,
			})
		case p.Text != "":
			resp.Blocks = append(resp.Blocks, llm.TextBlock(p.Text))
		}
	}

	switch {
	case hasToolUse:
		resp.StopReason = llm.StopToolUse
	case candidate.FinishReason == "MAX_TOKENS":
		resp.StopReason = llm.StopMaxTokens
	default:
		resp.StopReason = llm.StopEndTurn
	}

	return resp
}

var _ llm.Provider = (*Client)(nil)
