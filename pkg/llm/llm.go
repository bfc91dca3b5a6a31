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
// Package llm defines the provider-neutral message types and the Provider
// interface the orchestration core speaks. Provider subpackages translate
// these types to each vendor's wire format.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Stop reasons.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ContentBlock is one unit of a message: text, a tool invocation, or a
// tool result.
type ContentBlock struct {
	Type string

	// Text for BlockText.
	Text string

	// ID, Name, Input for BlockToolUse.
	ID    string
	Name  string
	Input map[string]interface{}

	// ToolUseID, Content, IsError for BlockToolResult.
	ToolUseID string
	Content   string
	IsError   bool
}

// Message is one turn of a conversation.
type Message struct {
	Role   string
	Blocks []ContentBlock
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request is one model invocation.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

// Usage is the token accounting a provider reports. Zero values mean the
// provider did not report and callers may estimate.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Response is a model's reply.
type Response struct {
	Blocks     []ContentBlock
	StopReason string
	Model      string
	Usage      Usage
}

// Text concatenates the response's text blocks.
func (r *Response) Text() string {
	var out string
	for _, b := range r.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the response's tool invocation blocks.
func (r *Response) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range r.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// Provider is a chat-completion backend.
type Provider interface {
	// Name returns the provider identifier ("anthropic", "openai", "gemini").
	Name() string

	// CreateMessage sends one request and returns the complete response.
	CreateMessage(ctx context.Context, req Request) (*Response, error)
}

// StreamEvent is one frame of a streamed response: a text delta, the
// terminal response, or an error. Exactly one field is set.
type StreamEvent struct {
	Text     string
	Response *Response
	Err      error
}

// StreamingProvider streams text deltas as they are generated.
type StreamingProvider interface {
	Provider
	StreamMessage(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Stream adapts any provider to the streaming shape. Native streamers are
// used directly; others emit their full text as one chunk followed by the
// terminal response.
func Stream(ctx context.Context, p Provider, req Request) (<-chan StreamEvent, error) {
	if sp, ok := p.(StreamingProvider); ok {
		return sp.StreamMessage(ctx, req)
	}

	ch := make(chan StreamEvent, 2)
	go func() {
		defer close(ch)
		resp, err := p.CreateMessage(ctx, req)
		if err != nil {
			ch <- StreamEvent{Err: err}
			return
		}
		if text := resp.Text(); text != "" {
			ch <- StreamEvent{Text: text}
		}
		ch <- StreamEvent{Response: resp}
	}()
	return ch, nil
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// NewUserMessage builds a user message with one text block.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Blocks: []ContentBlock{TextBlock(text)}}
}

// NewAssistantMessage builds an assistant message from blocks.
func NewAssistantMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleAssistant, Blocks: blocks}
}

// NewToolResultMessage builds the user-role message that carries a tool
// result back to the model.
func NewToolResultMessage(toolUseID, content string, isError bool) Message {
	return Message{Role: RoleUser, Blocks: []ContentBlock{{
		Type:      BlockToolResult,
		ToolUseID: toolUseID,
		Content:   content,
		IsError:   isError,
	}}}
}
