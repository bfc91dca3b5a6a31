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
package llm

import (
	"context"

	"github.com/erpilot/erpilot/pkg/observability"
)

// InstrumentedProvider wraps a provider with spans and token metrics.
// Providers that report no usage get a tiktoken estimate instead, so the
// per-turn token totals never read zero.
type InstrumentedProvider struct {
	provider Provider
	tracer   observability.Tracer
	counter  *TokenCounter
}

// NewInstrumentedProvider creates an instrumented provider.
func NewInstrumentedProvider(provider Provider, tracer observability.Tracer) *InstrumentedProvider {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &InstrumentedProvider{
		provider: provider,
		tracer:   tracer,
		counter:  NewTokenCounter(),
	}
}

// Name returns the wrapped provider's name.
func (p *InstrumentedProvider) Name() string {
	return p.provider.Name()
}

// CreateMessage delegates with a llm.call span around the request.
func (p *InstrumentedProvider) CreateMessage(ctx context.Context, req Request) (*Response, error) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanLLMCall,
		observability.WithAttribute(observability.AttrLLMProvider, p.provider.Name()),
		observability.WithAttribute(observability.AttrLLMModel, req.Model))
	defer p.tracer.EndSpan(span)

	resp, err := p.provider.CreateMessage(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if resp.Usage.InputTokens == 0 {
		resp.Usage.InputTokens = p.counter.EstimateRequest(req)
	}
	if resp.Usage.OutputTokens == 0 {
		resp.Usage.OutputTokens = p.counter.EstimateResponse(resp)
	}

	labels := map[string]string{
		observability.AttrLLMProvider: p.provider.Name(),
		observability.AttrLLMModel:    req.Model,
	}
	p.tracer.RecordMetric(observability.MetricLLMTokensInput, float64(resp.Usage.InputTokens), labels)
	p.tracer.RecordMetric(observability.MetricLLMTokensOutput, float64(resp.Usage.OutputTokens), labels)

	span.SetAttribute("llm.stop_reason", resp.StopReason)
	span.SetAttribute("llm.tokens.input", resp.Usage.InputTokens)
	span.SetAttribute("llm.tokens.output", resp.Usage.OutputTokens)

	return resp, nil
}

var _ Provider = (*InstrumentedProvider)(nil)
