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
package vernacular

import (
	"fmt"
	"strings"
)

// RenderBlock serialises resolved mappings and learned rules into the
// context block agents splice into their system prompt. Returns the empty
// string when there is nothing to say.
func RenderBlock(mappings []Mapping, rules []Rule) string {
	if len(mappings) == 0 && len(rules) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<tenant_vernacular>\n")
	b.WriteString("  <instruction_context>This tenant uses the following custom identifiers and conventions. Prefer the script IDs below over guessing.</instruction_context>\n")

	if len(mappings) > 0 {
		b.WriteString("  <resolved_entities>\n")
		for _, m := range mappings {
			fmt.Fprintf(&b, "    <entity natural_name=\"%s\" script_id=\"%s\" type=\"%s\"/>\n",
				escape(m.NaturalName), escape(m.ScriptID), escape(m.EntityType))
		}
		b.WriteString("  </resolved_entities>\n")
	}

	if len(rules) > 0 {
		b.WriteString("  <learned_rules>\n")
		for _, r := range rules {
			fmt.Fprintf(&b, "    <rule category=\"%s\">%s</rule>\n",
				escape(r.Category), escape(r.Description))
		}
		b.WriteString("  </learned_rules>\n")
	}

	b.WriteString("</tenant_vernacular>")
	return b.String()
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func escape(s string) string {
	return escaper.Replace(s)
}
