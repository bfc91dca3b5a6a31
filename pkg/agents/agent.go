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
// Package agents runs specialist LLM agents as bounded tool-use loops.
// Each agent carries its own prompt, step budget, and tool allow-list;
// every tool call goes through the governed dispatcher.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/erpilot/erpilot/pkg/llm"
	"github.com/erpilot/erpilot/pkg/tools"
	"github.com/erpilot/erpilot/pkg/tools/dispatch"
)

// Agent is a specialist definition. Definitions are static; per-turn state
// lives in the Runner.
type Agent struct {
	Name         string
	SystemPrompt string
	AllowList    []string
	MaxSteps     int

	// ExtraTools are specs for tools not in the local registry, such as
	// connector tools exposed under their synthetic names. Names must
	// also appear in AllowList or the dispatcher will refuse them.
	ExtraTools []llm.ToolSpec
}

// ToolInvocation is one dispatched tool call, recorded for the turn log.
type ToolInvocation struct {
	Tool    string
	Success bool
}

// Result is what an agent's loop produced.
type Result struct {
	AgentName  string
	Success    bool
	Data       string
	TokensUsed int
	ToolCalls  []ToolInvocation
	Citations  []string
}

// Runner executes agent loops against one provider and dispatcher.
type Runner struct {
	provider   llm.Provider
	registry   *tools.Registry
	dispatcher *dispatch.Dispatcher
	model      string
	logger     *zap.Logger
}

// NewRunner creates an agent runner. model selects the agent model; empty
// uses the provider default.
func NewRunner(provider llm.Provider, registry *tools.Registry, dispatcher *dispatch.Dispatcher, model string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		provider:   provider,
		registry:   registry,
		dispatcher: dispatcher,
		model:      model,
		logger:     logger,
	}
}

// Run executes the agent's loop over the given messages. contextBlock, when
// non-empty, is appended to the agent's system prompt (tenant vernacular,
// upstream agent output). The loop ends when the model stops calling tools
// or the step budget runs out.
func (r *Runner) Run(ctx context.Context, agent Agent, messages []llm.Message, contextBlock string) (*Result, error) {
	system := agent.SystemPrompt
	if contextBlock != "" {
		system += "\n\n" + contextBlock
	}

	specs, err := r.toolSpecs(agent.AllowList)
	if err != nil {
		return nil, err
	}
	specs = append(specs, agent.ExtraTools...)

	result := &Result{AgentName: agent.Name}
	history := append([]llm.Message(nil), messages...)

	for step := 0; step < agent.MaxSteps; step++ {
		resp, err := r.provider.CreateMessage(ctx, llm.Request{
			Model:    r.model,
			System:   system,
			Messages: history,
			Tools:    specs,
		})
		if err != nil {
			return nil, err
		}
		result.TokensUsed += resp.Usage.Total()

		uses := resp.ToolUses()
		if len(uses) == 0 {
			result.Success = true
			result.Data = resp.Text()
			return result, nil
		}

		resultBlocks := r.fanOut(ctx, agent, uses, result)

		history = append(history,
			llm.NewAssistantMessage(resp.Blocks...),
			llm.Message{Role: llm.RoleUser, Blocks: resultBlocks})
	}

	result.Success = false
	result.Data = fmt.Sprintf("Agent %s reached its step limit (%d) before finishing.", agent.Name, agent.MaxSteps)
	return result, nil
}

// fanOut dispatches one step's tool calls concurrently and returns the
// tool-result blocks in the same order as the uses.
func (r *Runner) fanOut(ctx context.Context, agent Agent, uses []llm.ContentBlock, result *Result) []llm.ContentBlock {
	blocks := make([]llm.ContentBlock, len(uses))

	var wg sync.WaitGroup
	var mu sync.Mutex
	for i, use := range uses {
		wg.Add(1)
		go func(i int, use llm.ContentBlock) {
			defer wg.Done()

			toolResult, err := r.dispatcher.Dispatch(ctx, dispatch.Call{
				ToolName:  use.Name,
				Params:    use.Input,
				AllowList: agent.AllowList,
				AgentName: agent.Name,
			})

			content, isError := renderToolResult(toolResult, err)
			blocks[i] = llm.ContentBlock{
				Type:      llm.BlockToolResult,
				ToolUseID: use.ID,
				Content:   content,
				IsError:   isError,
			}

			mu.Lock()
			result.ToolCalls = append(result.ToolCalls, ToolInvocation{Tool: use.Name, Success: !isError})
			if toolResult != nil {
				result.Citations = append(result.Citations, extractCitations(toolResult)...)
			}
			mu.Unlock()
		}(i, use)
	}
	wg.Wait()

	return blocks
}

// renderToolResult flattens a dispatch outcome into the text the model
// sees. Errors are reported back to the model rather than ending the loop;
// the model decides whether to retry or answer without the tool.
func renderToolResult(result *tools.Result, err error) (content string, isError bool) {
	if err != nil {
		return err.Error(), true
	}
	if !result.Success {
		msg := "tool failed"
		if result.Error != nil {
			msg = result.Error.Message
			if result.Error.Suggestion != "" {
				msg += ". " + result.Error.Suggestion
			}
		}
		return msg, true
	}

	data, marshalErr := json.Marshal(result.Data)
	if marshalErr != nil {
		return fmt.Sprintf("%v", result.Data), false
	}
	return string(data), false
}

// extractCitations pulls source references that retrieval-backed tools
// attach under a "citations" key.
func extractCitations(result *tools.Result) []string {
	data, ok := result.Data.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := data["citations"].([]interface{})
	if !ok {
		return nil
	}
	var citations []string
	for _, c := range raw {
		if s, ok := c.(string); ok {
			citations = append(citations, s)
		}
	}
	return citations
}

func (r *Runner) toolSpecs(allowList []string) ([]llm.ToolSpec, error) {
	var specs []llm.ToolSpec
	for _, tool := range r.registry.Select(allowList) {
		var schema json.RawMessage
		if s := tool.InputSchema(); s != nil {
			raw, err := s.ToJSON()
			if err != nil {
				return nil, fmt.Errorf("serialising schema for tool %s: %w", tool.Name(), err)
			}
			schema = raw
		}
		specs = append(specs, llm.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: schema,
		})
	}
	return specs, nil
}
