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
package billing

import (
	"context"

	"github.com/erpilot/erpilot/pkg/core"
)

// Feature names checked by the entitlement evaluator.
const (
	FeatureConnections   = "connections"
	FeatureMcpConnectors = "mcp_connectors"
	FeatureByokModels    = "byok_models"
	FeatureWorkspace     = "workspace"
)

// PlanLimits holds the concrete limits of one plan tier. Quota features
// count live rows against a limit; boolean features map directly.
type PlanLimits struct {
	Quotas map[string]int64
	Flags  map[string]bool
}

// DefaultPlans is the plan catalogue. Site config may override it.
var DefaultPlans = map[string]PlanLimits{
	"starter": {
		Quotas: map[string]int64{FeatureConnections: 1, FeatureMcpConnectors: 0},
		Flags:  map[string]bool{FeatureByokModels: false, FeatureWorkspace: false},
	},
	"team": {
		Quotas: map[string]int64{FeatureConnections: 3, FeatureMcpConnectors: 3},
		Flags:  map[string]bool{FeatureByokModels: true, FeatureWorkspace: true},
	},
	"enterprise": {
		Quotas: map[string]int64{FeatureConnections: 25, FeatureMcpConnectors: 25},
		Flags:  map[string]bool{FeatureByokModels: true, FeatureWorkspace: true},
	},
}

// TenantPlan is the subset of tenant state entitlements need.
type TenantPlan struct {
	Plan   string
	Active bool
}

// EntitlementStore resolves the tenant's plan and counts quota-limited rows.
type EntitlementStore interface {
	TenantPlan(ctx context.Context) (*TenantPlan, error)
	CountFeatureRows(ctx context.Context, feature string) (int64, error)
}

// Entitlements evaluates (tenant, feature) → allow/deny.
type Entitlements struct {
	store EntitlementStore
	plans map[string]PlanLimits
}

// NewEntitlements creates an entitlement evaluator. Pass nil plans to use
// the default catalogue.
func NewEntitlements(store EntitlementStore, plans map[string]PlanLimits) *Entitlements {
	if plans == nil {
		plans = DefaultPlans
	}
	return &Entitlements{store: store, plans: plans}
}

// Check returns nil when the tenant bound in ctx may use feature, or a
// classified error explaining the denial.
func (e *Entitlements) Check(ctx context.Context, feature string) error {
	plan, err := e.store.TenantPlan(ctx)
	if err != nil {
		return err
	}
	if !plan.Active {
		return core.NewError(core.KindForbidden, "tenant is inactive")
	}

	limits, ok := e.plans[plan.Plan]
	if !ok {
		return core.Errorf(core.KindForbidden, "unknown plan %q", plan.Plan)
	}

	if limit, quotaed := limits.Quotas[feature]; quotaed {
		used, err := e.store.CountFeatureRows(ctx, feature)
		if err != nil {
			return err
		}
		if used >= limit {
			return core.Errorf(core.KindQuotaExceeded, "feature %s at plan limit %d", feature, limit)
		}
		return nil
	}

	if allowed, boolean := limits.Flags[feature]; boolean {
		if !allowed {
			return core.Errorf(core.KindForbidden, "feature %s not included in plan %s", feature, plan.Plan)
		}
		return nil
	}

	// Features the plan does not mention are allowed; limits are opt-in.
	return nil
}
