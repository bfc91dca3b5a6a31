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
	"time"

	"go.uber.org/zap"

	"github.com/erpilot/erpilot/pkg/core"
	"github.com/erpilot/erpilot/pkg/observability"
)

// Wallet is a snapshot of a tenant's credit ledger row.
// Invariant: MeteredCreditsUsed >= LastSyncedMeteredCredits >= 0.
type Wallet struct {
	TenantID                 string
	PeriodStart              time.Time
	PeriodEnd                time.Time
	BaseCreditsRemaining     int64
	MeteredCreditsUsed       int64
	LastSyncedMeteredCredits int64
	MeterCustomerID          string
	MeterSubscriptionItemID  string
}

// Deduction is the result of one credit charge.
type Deduction struct {
	BaseRemaining int64
	MeteredUsed   int64
	Cost          int64
}

// Spill applies a charge to (base, metered) with base→overage spillover.
// Pure function; the row lock around it lives in the store.
func Spill(base, metered, cost int64) (newBase, newMetered int64) {
	if base >= cost {
		return base - cost, metered
	}
	return 0, metered + (cost - base)
}

// WalletStore applies deductions under a row lock on the wallet row
// (SELECT ... FOR UPDATE). A missing wallet row means the tenant is not
// charged; implementations return (nil, nil) in that case.
type WalletStore interface {
	ApplyDeduction(ctx context.Context, cost int64) (*Deduction, error)
}

// Ledger is the credit tollbooth invoked once per chat turn.
type Ledger struct {
	store  WalletStore
	tracer observability.Tracer
	logger *zap.Logger
}

// NewLedger creates a wallet ledger.
func NewLedger(store WalletStore, tracer observability.Tracer, logger *zap.Logger) *Ledger {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, tracer: tracer, logger: logger}
}

// Charge deducts the credit cost of one call with the given model from the
// tenant bound in ctx. Tenants without a wallet row are not charged and get
// a nil deduction.
func (l *Ledger) Charge(ctx context.Context, model string) (*Deduction, error) {
	tenantID, err := core.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	cost := CalculateCost(model)
	deduction, err := l.store.ApplyDeduction(ctx, cost)
	if err != nil {
		return nil, err
	}
	if deduction == nil {
		l.logger.Debug("no wallet row, skipping charge",
			zap.String("tenant_id", tenantID),
			zap.String("model", model))
		return nil, nil
	}

	l.tracer.RecordMetric(observability.MetricWalletCreditsCharged, float64(cost), map[string]string{
		"tenant_id": tenantID,
	})
	l.logger.Debug("charged wallet",
		zap.String("tenant_id", tenantID),
		zap.Int64("cost", cost),
		zap.Int64("base_remaining", deduction.BaseRemaining),
		zap.Int64("metered_used", deduction.MeteredUsed))

	return deduction, nil
}
