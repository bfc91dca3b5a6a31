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
	"regexp"
	"strings"
)

// Intent is the routed category of a user message.
type Intent string

const (
	IntentDataQuery     Intent = "DATA_QUERY"
	IntentWorkspaceDev  Intent = "WORKSPACE_DEV"
	IntentDocumentation Intent = "DOCUMENTATION"
	IntentAnalysis      Intent = "ANALYSIS"
	IntentAmbiguous     Intent = "AMBIGUOUS"
)

var (
	// Bare numerics and document numbers like SO12345, INV-1001, #4521.
	recordIDPattern = regexp.MustCompile(`(?i)^\s*#?(so|inv|po|tr|cust)?[-_]?\d{3,}\s*$`)

	dataQueryPattern = regexp.MustCompile(`(?i)\b(show|list|find|count|how many|select|open|outstanding|overdue)\b.*\b(invoice|order|transaction|record|customer|vendor|item|sale|payment|balance)s?\b`)

	workspacePattern = regexp.MustCompile(`(?i)\b(file|files|patch|script|suitescript|deploy|refactor|unit test|tests?|bundle|code)\b`)

	documentationPattern = regexp.MustCompile(`(?i)\b(how do i|how to|what is|what are|explain|documentation|docs|guide|difference between)\b`)

	analysisPattern = regexp.MustCompile(`(?i)\b(compare|month[- ]over[- ]month|year[- ]over[- ]year|trend|top \d+|average|breakdown|versus|vs\.?)\b`)
)

// Classify runs the lexical classifier over the message. Categories are
// checked in priority order; a miss on all of them is AMBIGUOUS, which the
// coordinator resolves with an LLM call.
func Classify(message string) Intent {
	trimmed := strings.TrimSpace(message)
	switch {
	case recordIDPattern.MatchString(trimmed) || dataQueryPattern.MatchString(trimmed):
		return IntentDataQuery
	case workspacePattern.MatchString(trimmed):
		return IntentWorkspaceDev
	case documentationPattern.MatchString(trimmed):
		return IntentDocumentation
	case analysisPattern.MatchString(trimmed):
		return IntentAnalysis
	default:
		return IntentAmbiguous
	}
}

// Route is an ordered agent list for one intent.
type Route struct {
	Agents   []string
	Parallel bool
}

// Routes maps each resolvable intent to its agents. Sequential routes feed
// each agent's output to the next.
func Routes() map[Intent]Route {
	return map[Intent]Route{
		IntentDocumentation: {Agents: []string{"rag"}},
		IntentDataQuery:     {Agents: []string{"suiteql"}},
		IntentWorkspaceDev:  {Agents: []string{"workspace"}},
		IntentAnalysis:      {Agents: []string{"suiteql", "analysis"}},
	}
}
