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
// Package coordinator turns a classified user message into a final answer
// by routing it to specialist agents and synthesising their outputs.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/erpilot/erpilot/pkg/agents"
	"github.com/erpilot/erpilot/pkg/llm"
)

// Outcome is the coordinator's product for one turn.
type Outcome struct {
	Text         string
	Intent       Intent
	AgentResults []agents.Result
	TokensUsed   int
}

// ToolCalls flattens the tool invocations of every agent, in run order.
func (o *Outcome) ToolCalls() []agents.ToolInvocation {
	var calls []agents.ToolInvocation
	for _, r := range o.AgentResults {
		calls = append(calls, r.ToolCalls...)
	}
	return calls
}

// Citations flattens the citations of every agent.
func (o *Outcome) Citations() []string {
	var citations []string
	for _, r := range o.AgentResults {
		citations = append(citations, r.Citations...)
	}
	return citations
}

// Coordinator routes messages through the specialist agents.
type Coordinator struct {
	runner    *agents.Runner
	provider  llm.Provider
	catalogue map[string]agents.Agent
	routes    map[Intent]Route
	model     string
	logger    *zap.Logger
}

// NewCoordinator creates a coordinator. provider serves the ambiguous-intent
// fallback and the synthesis pass; model selects its model, empty uses the
// provider default.
func NewCoordinator(runner *agents.Runner, provider llm.Provider, model string, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		runner:    runner,
		provider:  provider,
		catalogue: agents.Catalogue(),
		routes:    Routes(),
		model:     model,
		logger:    logger,
	}
}

// Handle routes and answers one user message. history is the prior
// conversation; vernacularBlock is injected into every agent's context.
func (c *Coordinator) Handle(ctx context.Context, userMessage string, history []llm.Message, vernacularBlock string) (*Outcome, error) {
	intent := Classify(userMessage)
	if intent == IntentAmbiguous {
		intent = c.classifyWithLLM(ctx, userMessage)
	}

	route, ok := c.routes[intent]
	if !ok {
		return nil, fmt.Errorf("no route for intent %s", intent)
	}

	messages := append(append([]llm.Message(nil), history...), llm.NewUserMessage(userMessage))

	results, err := c.runRoute(ctx, route, messages, userMessage, vernacularBlock)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Intent: intent, AgentResults: results}
	for _, r := range results {
		outcome.TokensUsed += r.TokensUsed
	}

	if text, ok := passThrough(results); ok {
		outcome.Text = text
		return outcome, nil
	}

	text, tokens, err := c.synthesise(ctx, userMessage, history, results)
	if err != nil {
		return nil, err
	}
	outcome.Text = text
	outcome.TokensUsed += tokens
	return outcome, nil
}

// runRoute executes the route's agents: concurrently for parallel routes,
// otherwise in order with each agent's data handed to the next.
func (c *Coordinator) runRoute(ctx context.Context, route Route, messages []llm.Message, userMessage, vernacularBlock string) ([]agents.Result, error) {
	if route.Parallel && len(route.Agents) > 1 {
		return c.runParallel(ctx, route.Agents, messages, vernacularBlock)
	}

	var results []agents.Result
	var carried string
	for i, name := range route.Agents {
		agent, ok := c.catalogue[name]
		if !ok {
			return nil, fmt.Errorf("unknown agent %s", name)
		}

		agentMessages := messages
		if i > 0 {
			// Downstream agents see the user question plus the data the
			// previous agent gathered.
			agentMessages = []llm.Message{llm.NewUserMessage(
				fmt.Sprintf("%s\n\nData gathered so far:\n%s", userMessage, carried))}
		}

		result, err := c.runner.Run(ctx, agent, agentMessages, vernacularBlock)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
		carried = result.Data
	}
	return results, nil
}

func (c *Coordinator) runParallel(ctx context.Context, names []string, messages []llm.Message, vernacularBlock string) ([]agents.Result, error) {
	results := make([]agents.Result, len(names))
	errs := make([]error, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		agent, ok := c.catalogue[name]
		if !ok {
			return nil, fmt.Errorf("unknown agent %s", name)
		}
		wg.Add(1)
		go func(i int, agent agents.Agent) {
			defer wg.Done()
			result, err := c.runner.Run(ctx, agent, messages, vernacularBlock)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = *result
		}(i, agent)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

const routerPrompt = `Classify the user message into exactly one intent:
DATA_QUERY - asking for live business data (records, transactions, balances)
WORKSPACE_DEV - working with files, scripts, patches, or customisation code
DOCUMENTATION - asking how something works or for an explanation
ANALYSIS - asking to compare, trend, or interpret data

Respond with the intent name only.`

// classifyWithLLM resolves an ambiguous message with one fast LLM call.
// Any failure falls back to DATA_QUERY, the platform's dominant intent.
func (c *Coordinator) classifyWithLLM(ctx context.Context, message string) Intent {
	resp, err := c.provider.CreateMessage(ctx, llm.Request{
		Model:     c.model,
		System:    routerPrompt,
		Messages:  []llm.Message{llm.NewUserMessage(message)},
		MaxTokens: 16,
	})
	if err != nil {
		c.logger.Warn("llm intent fallback failed", zap.Error(err))
		return IntentDataQuery
	}

	answer := strings.ToUpper(strings.TrimSpace(resp.Text()))
	for _, intent := range []Intent{IntentDataQuery, IntentWorkspaceDev, IntentDocumentation, IntentAnalysis} {
		if strings.Contains(answer, string(intent)) {
			return intent
		}
	}
	c.logger.Warn("llm intent fallback returned unknown intent", zap.String("answer", answer))
	return IntentDataQuery
}
