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
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erpilot/erpilot/internal/pgxdriver"
	"github.com/erpilot/erpilot/pkg/billing"
)

// WalletStore applies credit deductions and drives the metered-usage
// reconciliation sweep.
type WalletStore struct {
	pool *pgxpool.Pool
}

// ApplyDeduction charges cost against the tenant's wallet under a row lock.
// Base credits drain first; the remainder spills into metered usage. A
// tenant without a wallet row is not charged and gets a nil deduction.
func (s *WalletStore) ApplyDeduction(ctx context.Context, cost int64) (*billing.Deduction, error) {
	q := db(ctx, s.pool)

	var base, metered int64
	err := q.QueryRow(ctx, `
		SELECT base_credits_remaining, metered_credits_used
		FROM wallet
		WHERE tenant_id = `+currentTenant+`
		FOR UPDATE`).Scan(&base, &metered)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("locking wallet: %w", err)
	}

	newBase, newMetered := billing.Spill(base, metered, cost)
	_, err = q.Exec(ctx, `
		UPDATE wallet
		SET base_credits_remaining = $1, metered_credits_used = $2
		WHERE tenant_id = `+currentTenant, newBase, newMetered)
	if err != nil {
		return nil, fmt.Errorf("updating wallet: %w", err)
	}

	return &billing.Deduction{BaseRemaining: newBase, MeteredUsed: newMetered, Cost: cost}, nil
}

// Provision creates or resets the tenant's wallet for a billing period.
func (s *WalletStore) Provision(ctx context.Context, w billing.Wallet) error {
	_, err := db(ctx, s.pool).Exec(ctx, `
		INSERT INTO wallet (tenant_id, period_start, period_end, base_credits_remaining,
			metered_credits_used, last_synced_metered_credits, meter_customer_id, meter_subscription_item_id)
		VALUES (`+currentTenant+`, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO UPDATE SET
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			base_credits_remaining = EXCLUDED.base_credits_remaining,
			metered_credits_used = EXCLUDED.metered_credits_used,
			last_synced_metered_credits = EXCLUDED.last_synced_metered_credits,
			meter_customer_id = EXCLUDED.meter_customer_id,
			meter_subscription_item_id = EXCLUDED.meter_subscription_item_id`,
		w.PeriodStart, w.PeriodEnd, w.BaseCreditsRemaining,
		w.MeteredCreditsUsed, w.LastSyncedMeteredCredits,
		w.MeterCustomerID, w.MeterSubscriptionItemID)
	if err != nil {
		return fmt.Errorf("provisioning wallet: %w", err)
	}
	return nil
}

// Get returns the tenant's wallet snapshot, or nil when none exists.
func (s *WalletStore) Get(ctx context.Context) (*billing.Wallet, error) {
	var w billing.Wallet
	err := db(ctx, s.pool).QueryRow(ctx, `
		SELECT tenant_id, period_start, period_end, base_credits_remaining,
			metered_credits_used, last_synced_metered_credits,
			meter_customer_id, meter_subscription_item_id
		FROM wallet
		WHERE tenant_id = `+currentTenant).
		Scan(&w.TenantID, &w.PeriodStart, &w.PeriodEnd, &w.BaseCreditsRemaining,
			&w.MeteredCreditsUsed, &w.LastSyncedMeteredCredits,
			&w.MeterCustomerID, &w.MeterSubscriptionItemID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading wallet: %w", err)
	}
	return &w, nil
}

// ForEachUnsyncedWallet visits every wallet whose metered usage is ahead of
// the sync watermark. Each wallet is handled in its own transaction: the row
// is locked, report is invoked with the delta, and the watermark advances
// only when report succeeds. Per-wallet failures are skipped, not fatal.
// Runs without RLS; the sweep crosses tenants.
func (s *WalletStore) ForEachUnsyncedWallet(ctx context.Context, report func(ctx context.Context, ws billing.WalletSync) error) (int, error) {
	var tenantIDs []string
	err := pgxdriver.WithoutRLS(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT tenant_id FROM wallet
			WHERE metered_credits_used > last_synced_metered_credits
			AND meter_subscription_item_id <> ''
			ORDER BY tenant_id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			tenantIDs = append(tenantIDs, id)
		}
		return rows.Err()
	})
	if err != nil {
		return 0, fmt.Errorf("listing unsynced wallets: %w", err)
	}

	synced := 0
	for _, tenantID := range tenantIDs {
		err := pgxdriver.WithoutRLS(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
			var used, lastSynced int64
			var itemID string
			err := tx.QueryRow(ctx, `
				SELECT metered_credits_used, last_synced_metered_credits, meter_subscription_item_id
				FROM wallet WHERE tenant_id = $1
				FOR UPDATE`, tenantID).Scan(&used, &lastSynced, &itemID)
			if err != nil {
				return err
			}

			delta := used - lastSynced
			if delta <= 0 {
				return nil
			}

			if err := report(ctx, billing.WalletSync{
				TenantID:                tenantID,
				MeterSubscriptionItemID: itemID,
				Delta:                   delta,
			}); err != nil {
				return err
			}

			_, err = tx.Exec(ctx,
				`UPDATE wallet SET last_synced_metered_credits = $2 WHERE tenant_id = $1`,
				tenantID, used)
			return err
		})
		if err != nil {
			// The rollback left the watermark untouched; the next sweep
			// retries this wallet.
			continue
		}
		synced++
	}
	return synced, nil
}

// ResetPeriod rolls a wallet into a new billing period, zeroing usage.
func (s *WalletStore) ResetPeriod(ctx context.Context, start, end time.Time, baseCredits int64) error {
	_, err := db(ctx, s.pool).Exec(ctx, `
		UPDATE wallet
		SET period_start = $1, period_end = $2, base_credits_remaining = $3,
			metered_credits_used = 0, last_synced_metered_credits = 0
		WHERE tenant_id = `+currentTenant, start, end, baseCredits)
	return err
}

var (
	_ billing.WalletStore     = (*WalletStore)(nil)
	_ billing.WalletSyncStore = (*WalletStore)(nil)
)
