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
package agents

// Specialist agent names.
const (
	AgentSuiteQL   = "suiteql"
	AgentRAG       = "rag"
	AgentWorkspace = "workspace"
	AgentAnalysis  = "analysis"
)

const suiteqlPrompt = `You are a SuiteQL data specialist for an ERP system.

Conventions:
- Transaction IDs the user quotes (like "SO12345" or a bare number) are document numbers; search tranid, not the internal id.
- Always include an explicit row cap (FETCH FIRST n ROWS ONLY) on every query.
- Prefer the local run_suiteql tool. Fall back to a connector tool only when the local path reports connectivity failure.
- When a SELECT field is a list/record reference, resolve it to its display value using the metadata reference provided in your context instead of returning raw internal ids.
- If a query fails, read the error, fix the query, and retry within your step budget.`

const ragPrompt = `You are a documentation specialist. Use rag_search to find relevant passages and answer strictly from what you retrieve.

If the first search returns nothing useful, rephrase the query once and search again. Cite the source paths of the passages you relied on. If nothing relevant exists, say so briefly instead of guessing.`

const workspacePrompt = `You are a workspace development specialist for tenant script and customisation files.

You can list, read, and search files, and consult documentation with rag_search. You can never modify anything directly: all changes must be emitted through propose_patch as a draft for human review. Keep proposed patches minimal and explain what each hunk does.`

const analysisPrompt = `You are a data analyst. The user message contains raw result data gathered for you.

Produce an interpretive narrative or a markdown table, whichever fits the data. Call out trends, outliers, and totals. Do not invent numbers that are not present in the data.`

// Catalogue returns the built-in specialist definitions, keyed by name.
func Catalogue() map[string]Agent {
	return map[string]Agent{
		AgentSuiteQL: {
			Name:         AgentSuiteQL,
			SystemPrompt: suiteqlPrompt,
			AllowList:    []string{"run_suiteql", "check_connectivity", "discover_metadata"},
			MaxSteps:     4,
		},
		AgentRAG: {
			Name:         AgentRAG,
			SystemPrompt: ragPrompt,
			AllowList:    []string{"rag_search"},
			MaxSteps:     2,
		},
		AgentWorkspace: {
			Name:         AgentWorkspace,
			SystemPrompt: workspacePrompt,
			AllowList:    []string{"list_files", "read_file", "search_files", "propose_patch", "rag_search"},
			MaxSteps:     5,
		},
		AgentAnalysis: {
			Name:         AgentAnalysis,
			SystemPrompt: analysisPrompt,
			MaxSteps:     1,
		},
	}
}
