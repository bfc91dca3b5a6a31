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
package dispatch

import (
	"sync"
	"time"
)

// DefaultRateLimit is the per-minute ceiling for tools without an explicit
// limit.
const DefaultRateLimit = 10

// RateLimiter is a per-process sliding-window counter keyed by
// (tenant, tool). The window is one minute. Advisory only: no persistence,
// counts reset on restart.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limits map[string]int
	calls  map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter creates a limiter with per-tool limits. Tools absent from
// limits use DefaultRateLimit.
func NewRateLimiter(limits map[string]int) *RateLimiter {
	return &RateLimiter{
		window: time.Minute,
		limits: limits,
		calls:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records an attempt for (tenant, tool) and reports whether it is
// within the window limit. The limit-th call within a window is allowed;
// the next is not.
func (rl *RateLimiter) Allow(tenantID, toolName string) bool {
	limit := rl.limits[toolName]
	if limit <= 0 {
		limit = DefaultRateLimit
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := tenantID + "\x00" + toolName
	now := rl.now()
	cutoff := now.Add(-rl.window)

	recent := rl.calls[key][:0]
	for _, t := range rl.calls[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= limit {
		rl.calls[key] = recent
		return false
	}

	rl.calls[key] = append(recent, now)
	return true
}
