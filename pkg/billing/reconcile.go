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

	"go.uber.org/zap"
)

// Meter reports usage increments to the external billing meter.
// Delta is always positive.
type Meter interface {
	ReportUsage(ctx context.Context, subscriptionItemID string, delta int64) error
}

// WalletSync describes a wallet whose metered usage is ahead of the
// last-synced watermark.
type WalletSync struct {
	TenantID                string
	MeterSubscriptionItemID string
	Delta                   int64
}

// WalletSyncStore iterates wallets needing reconciliation. For each wallet
// the store locks the row, computes the delta, invokes report, and advances
// the watermark in the same transaction. A failed report leaves the
// watermark untouched and the next run retries.
type WalletSyncStore interface {
	ForEachUnsyncedWallet(ctx context.Context, report func(ctx context.Context, ws WalletSync) error) (synced int, err error)
}

// Reconciler pushes unreported metered usage to the external meter.
type Reconciler struct {
	store  WalletSyncStore
	meter  Meter
	logger *zap.Logger
}

// NewReconciler creates a billing reconciler.
func NewReconciler(store WalletSyncStore, meter Meter, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, meter: meter, logger: logger}
}

// Run reconciles every eligible wallet once. Per-wallet failures are logged
// and skipped; they do not abort the sweep.
func (r *Reconciler) Run(ctx context.Context) error {
	synced, err := r.store.ForEachUnsyncedWallet(ctx, func(ctx context.Context, ws WalletSync) error {
		if err := r.meter.ReportUsage(ctx, ws.MeterSubscriptionItemID, ws.Delta); err != nil {
			r.logger.Warn("meter report failed, watermark left untouched",
				zap.String("tenant_id", ws.TenantID),
				zap.Int64("delta", ws.Delta),
				zap.Error(err))
			return err
		}
		r.logger.Info("reported metered usage",
			zap.String("tenant_id", ws.TenantID),
			zap.Int64("delta", ws.Delta))
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("billing reconciliation complete", zap.Int("wallets_synced", synced))
	return nil
}
