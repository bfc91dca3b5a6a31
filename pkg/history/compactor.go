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
// Package history compacts long conversation histories before they reach
// the coordinator, trading older turns for a dense summary.
package history

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/erpilot/erpilot/pkg/llm"
)

const (
	// CompactionThreshold is the history length that triggers compaction.
	CompactionThreshold = 12
	// KeepRecent is how many trailing messages survive verbatim.
	KeepRecent = 4
)

const summaryPrompt = `Summarise the conversation below into one dense paragraph. Preserve entity names, script IDs, record types, numbers, and any decisions made. Omit pleasantries.`

// Compactor summarises all but the most recent messages of an
// over-threshold history.
type Compactor struct {
	provider llm.Provider
	model    string
	logger   *zap.Logger
}

// NewCompactor creates a compactor. model selects the summariser model;
// empty uses the provider default.
func NewCompactor(provider llm.Provider, model string, logger *zap.Logger) *Compactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compactor{provider: provider, model: model, logger: logger}
}

// Compact returns the history, compacted if it exceeds the threshold.
// Summarisation failure returns the history unchanged; compaction never
// blocks a turn.
func (c *Compactor) Compact(ctx context.Context, messages []llm.Message) []llm.Message {
	if len(messages) <= CompactionThreshold {
		return messages
	}

	head := messages[:len(messages)-KeepRecent]
	tail := messages[len(messages)-KeepRecent:]

	summary, err := c.summarise(ctx, head)
	if err != nil || summary == "" {
		c.logger.Warn("history compaction failed, keeping full history",
			zap.Int("messages", len(messages)), zap.Error(err))
		return messages
	}

	compacted := make([]llm.Message, 0, KeepRecent+2)
	compacted = append(compacted,
		llm.NewUserMessage(fmt.Sprintf("<compacted_history>\n%s\n</compacted_history>", summary)),
		llm.NewAssistantMessage(llm.TextBlock("Understood. Continuing from that context.")))
	compacted = append(compacted, tail...)
	return compacted
}

func (c *Compactor) summarise(ctx context.Context, messages []llm.Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range messages {
		for _, block := range msg.Blocks {
			if block.Type == llm.BlockText && block.Text != "" {
				fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, block.Text)
			}
		}
	}

	resp, err := c.provider.CreateMessage(ctx, llm.Request{
		Model:     c.model,
		System:    summaryPrompt,
		Messages:  []llm.Message{llm.NewUserMessage(transcript.String())},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}
