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
// Package billing implements the credit tollbooth: per-call cost tiers, the
// wallet ledger with base-to-overage spillover, entitlement checks, and
// asynchronous reconciliation to an external meter.
package billing

import (
	"strings"
)

// Credit costs per model tier.
const (
	TierSmallCost    int64 = 1
	TierStandardCost int64 = 2
	TierPremiumCost  int64 = 3
)

var (
	premiumKeys  = []string{"opus"}
	standardKeys = []string{"sonnet", "pro"}
	smallKeys    = []string{"haiku", "flash", "nano", "mini", "lite"}
)

// CalculateCost maps a model identifier to its credit cost. Pure function.
//
// Tiers are evaluated premium → standard → small so a hypothetical
// "opus-mini" costs 3. The hyphen/underscore token pass runs before the
// substring fallback, which keeps "gemini" from matching "mini": by the
// time the substring pass could see it, the model already fell through to
// the default small-tier cost anyway.
func CalculateCost(model string) int64 {
	tokens := tokenize(model)
	if anyToken(tokens, premiumKeys) {
		return TierPremiumCost
	}
	if anyToken(tokens, standardKeys) {
		return TierStandardCost
	}
	if anyToken(tokens, smallKeys) {
		return TierSmallCost
	}

	lower := strings.ToLower(model)
	if anySubstring(lower, premiumKeys) {
		return TierPremiumCost
	}
	if anySubstring(lower, standardKeys) {
		return TierStandardCost
	}

	// Unknown models charge the small tier.
	return TierSmallCost
}

func tokenize(model string) map[string]bool {
	parts := strings.FieldsFunc(strings.ToLower(model), func(r rune) bool {
		return r == '-' || r == '_'
	})
	set := make(map[string]bool, len(parts))
	for _, p := range parts {
		set[p] = true
	}
	return set
}

func anyToken(tokens map[string]bool, keys []string) bool {
	for _, k := range keys {
		if tokens[k] {
			return true
		}
	}
	return false
}

func anySubstring(lower string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
