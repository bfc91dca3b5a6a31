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
package turn

import (
	"regexp"
	"strings"
)

// Tag pairs users may paste to smuggle instructions into agent prompts.
var injectionTags = regexp.MustCompile(`(?is)<(system|instructions|prompt|context|tool_call)>.*?</(system|instructions|prompt|context|tool_call)>`)

// Sanitize strips prompt-injection tag pairs from a user message and trims
// surrounding whitespace. Unpaired tags are left alone; they carry no
// hidden payload.
func Sanitize(message string) string {
	return strings.TrimSpace(injectionTags.ReplaceAllString(message, ""))
}
