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

	"golang.org/x/time/rate"
)

// PacedProvider wraps a provider with a token-bucket pacer so concurrent
// agents cannot burst past the vendor's requests-per-second ceiling.
type PacedProvider struct {
	provider Provider
	limiter  *rate.Limiter
}

// NewPacedProvider paces provider at requestsPerSecond with the given
// burst. Zero or negative requestsPerSecond disables pacing.
func NewPacedProvider(provider Provider, requestsPerSecond float64, burst int) *PacedProvider {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return &PacedProvider{provider: provider, limiter: limiter}
}

// Name returns the wrapped provider's name.
func (p *PacedProvider) Name() string {
	return p.provider.Name()
}

// CreateMessage waits for a pacer slot, then delegates.
func (p *PacedProvider) CreateMessage(ctx context.Context, req Request) (*Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return p.provider.CreateMessage(ctx, req)
}

var _ Provider = (*PacedProvider)(nil)
