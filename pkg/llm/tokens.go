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
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token counts with tiktoken's cl100k_base encoding,
// a close approximation for all three provider families. Used when a
// provider reports no usage.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

// NewTokenCounter creates a counter. When the encoding cannot be loaded the
// counter falls back to a chars/4 estimate.
func NewTokenCounter() *TokenCounter {
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{encoder: encoder}
}

// Count returns the token count of text.
func (tc *TokenCounter) Count(text string) int {
	if tc.encoder == nil {
		return len(text) / 4
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoder.Encode(text, nil, nil))
}

// EstimateRequest approximates the input token cost of a request, with a
// small per-message overhead for role framing.
func (tc *TokenCounter) EstimateRequest(req Request) int {
	total := tc.Count(req.System)
	for _, msg := range req.Messages {
		total += 10
		for _, block := range msg.Blocks {
			switch block.Type {
			case BlockText:
				total += tc.Count(block.Text)
			case BlockToolUse:
				total += tc.Count(block.Name) + tc.Count(fmt.Sprintf("%v", block.Input))
			case BlockToolResult:
				total += tc.Count(block.Content)
			}
		}
	}
	for _, tool := range req.Tools {
		total += tc.Count(tool.Name) + tc.Count(tool.Description) + tc.Count(string(tool.InputSchema))
	}
	return total
}

// EstimateResponse approximates the output token cost of a response.
func (tc *TokenCounter) EstimateResponse(resp *Response) int {
	total := 0
	for _, block := range resp.Blocks {
		switch block.Type {
		case BlockText:
			total += tc.Count(block.Text)
		case BlockToolUse:
			total += tc.Count(block.Name) + tc.Count(fmt.Sprintf("%v", block.Input))
		}
	}
	return total
}
