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
// Package policy evaluates a tenant's declarative policy against pending
// tool calls and redacts blocked fields from tool results.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Profile is a tenant's policy. Versioned and optionally locked upstream;
// only the fields the core enforces appear here. A nil Profile is permissive.
type Profile struct {
	Version            int
	Locked             bool
	ReadOnly           bool
	AllowedRecordTypes []string
	BlockedFields      []string
	ToolAllowList      []string
	MaxRowsPerQuery    int
	RequireRowLimit    bool
	CustomRules        []string
}

// Decision is the outcome of evaluating a tool call.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the permissive decision.
var Allow = Decision{Allowed: true}

// rowCapPattern recognises the row caps SuiteQL accepts: ANSI FETCH FIRST
// and the LIMIT shorthand.
var rowCapPattern = regexp.MustCompile(`(?i)(FETCH\s+FIRST\s+(\d+)\s+ROWS?\s+ONLY|LIMIT\s+(\d+))`)

// EvaluateToolCall checks a pending tool invocation against the profile.
// Absence of a profile is permissive for the core.
func EvaluateToolCall(profile *Profile, toolName string, params map[string]interface{}) Decision {
	if profile == nil {
		return Allow
	}

	query, _ := params["query"].(string)

	if len(profile.BlockedFields) > 0 && query != "" {
		lower := strings.ToLower(query)
		for _, field := range profile.BlockedFields {
			if field == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(field)) {
				return Decision{Reason: fmt.Sprintf("query references blocked field %q", field)}
			}
		}
	}

	if profile.RequireRowLimit && query != "" {
		maxRows := profile.MaxRowsPerQuery
		if maxRows <= 0 {
			maxRows = 1000
		}
		cap, ok := extractRowCap(query)
		if !ok {
			return Decision{Reason: fmt.Sprintf("query must include a row limit of at most %d (FETCH FIRST n ROWS ONLY or LIMIT n)", maxRows)}
		}
		if cap > maxRows {
			return Decision{Reason: fmt.Sprintf("row limit %d exceeds the policy maximum %d", cap, maxRows)}
		}
	}

	return Allow
}

func extractRowCap(query string) (int, bool) {
	m := rowCapPattern.FindStringSubmatch(query)
	if m == nil {
		return 0, false
	}
	for _, g := range m[2:] {
		if g != "" {
			n := 0
			fmt.Sscanf(g, "%d", &n)
			return n, true
		}
	}
	return 0, false
}

// RedactOutput recursively strips keys matching the profile's blocked
// fields (case-insensitive) from maps and lists. Idempotent. The input is
// not mutated; a redacted copy is returned.
func RedactOutput(profile *Profile, result interface{}) interface{} {
	if profile == nil || len(profile.BlockedFields) == 0 {
		return result
	}
	blocked := make(map[string]bool, len(profile.BlockedFields))
	for _, f := range profile.BlockedFields {
		blocked[strings.ToLower(f)] = true
	}
	return redact(result, blocked)
}

func redact(v interface{}, blocked map[string]bool) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if blocked[strings.ToLower(k)] {
				continue
			}
			out[k] = redact(inner, blocked)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = redact(inner, blocked)
		}
		return out
	default:
		return v
	}
}
