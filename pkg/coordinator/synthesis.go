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
package coordinator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/erpilot/erpilot/pkg/agents"
	"github.com/erpilot/erpilot/pkg/llm"
)

var (
	scaffoldingPattern = regexp.MustCompile(`(?is)<(reasoning|function_calls)>.*?</(reasoning|function_calls)>`)
	markdownTableRow   = regexp.MustCompile(`(?m)^\s*\|.+\|\s*$`)
	noResultsPattern   = regexp.MustCompile(`(?i)\b(no (results|records|rows|matches|data)|nothing (found|matched)|found no|did not (find|return))\b`)
)

const shortResultLimit = 300

// passThrough decides whether synthesis can be skipped: exactly one agent
// produced a non-trivial result, and that result is either a markdown
// table or a short no-results statement. The agent's own words go out
// verbatim, minus scaffolding.
func passThrough(results []agents.Result) (string, bool) {
	var candidate *agents.Result
	for i := range results {
		if strings.TrimSpace(results[i].Data) == "" {
			continue
		}
		if candidate != nil {
			return "", false
		}
		candidate = &results[i]
	}
	if candidate == nil || !candidate.Success {
		return "", false
	}

	text := StripScaffolding(candidate.Data)
	if markdownTableRow.MatchString(text) {
		return text, true
	}
	if len(text) <= shortResultLimit && noResultsPattern.MatchString(text) {
		return text, true
	}
	return "", false
}

// StripScaffolding removes <reasoning> and <function_calls> blocks an
// agent may have leaked into its answer.
func StripScaffolding(text string) string {
	return strings.TrimSpace(scaffoldingPattern.ReplaceAllString(text, ""))
}

const synthesisPrompt = `You are the final voice of an ERP assistant. Combine the specialist outputs below into one coherent answer to the user's question.

Keep tables intact. Do not mention the specialists or the orchestration. If the outputs conflict, prefer the one grounded in retrieved data and say what is uncertain.`

// synthesise combines multiple or non-trivial agent outputs with one
// LLM call.
func (c *Coordinator) synthesise(ctx context.Context, userMessage string, history []llm.Message, results []agents.Result) (string, int, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "User question: %s\n", userMessage)
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "incomplete"
		}
		fmt.Fprintf(&b, "\n--- %s (%s) ---\n%s\n", r.AgentName, status, StripScaffolding(r.Data))
	}

	messages := append(append([]llm.Message(nil), history...), llm.NewUserMessage(b.String()))
	resp, err := c.provider.CreateMessage(ctx, llm.Request{
		Model:    c.model,
		System:   synthesisPrompt,
		Messages: messages,
	})
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(resp.Text()), resp.Usage.Total(), nil
}
