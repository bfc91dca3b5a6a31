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
// Package factory builds configured LLM providers.
package factory

import (
	"fmt"
	"strings"
	"time"

	"github.com/erpilot/erpilot/pkg/llm"
	"github.com/erpilot/erpilot/pkg/llm/anthropic"
	"github.com/erpilot/erpilot/pkg/llm/gemini"
	"github.com/erpilot/erpilot/pkg/llm/openai"
	"github.com/erpilot/erpilot/pkg/observability"
)

// Config selects and tunes a provider.
type Config struct {
	// Provider is one of "anthropic", "openai", "gemini".
	Provider string
	APIKey   string
	Endpoint string
	Timeout  time.Duration

	// RequestsPerSecond throttles outbound calls. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// New builds the provider named by config, wrapped with request pacing
// and span/token instrumentation.
func New(config Config, tracer observability.Tracer) (llm.Provider, error) {
	var provider llm.Provider

	switch strings.ToLower(config.Provider) {
	case "anthropic", "":
		provider = anthropic.NewClient(anthropic.Config{
			APIKey:   config.APIKey,
			Endpoint: config.Endpoint,
			Timeout:  config.Timeout,
		})
	case "openai":
		provider = openai.NewClient(openai.Config{
			APIKey:   config.APIKey,
			Endpoint: config.Endpoint,
			Timeout:  config.Timeout,
		})
	case "gemini":
		provider = gemini.NewClient(gemini.Config{
			APIKey:  config.APIKey,
			BaseURL: config.Endpoint,
			Timeout: config.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
	}

	if config.RequestsPerSecond > 0 {
		provider = llm.NewPacedProvider(provider, config.RequestsPerSecond, config.Burst)
	}
	return llm.NewInstrumentedProvider(provider, tracer), nil
}
