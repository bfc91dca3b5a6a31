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
package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpilot/erpilot/pkg/audit"
	"github.com/erpilot/erpilot/pkg/core"
	"github.com/erpilot/erpilot/pkg/llm"
	"github.com/erpilot/erpilot/pkg/vernacular"
)

type fakeStore struct {
	mappings []vernacular.Mapping
	rules    []vernacular.Rule
	fail     error
}

func (s *fakeStore) UpsertMapping(ctx context.Context, m vernacular.Mapping) error {
	if s.fail != nil {
		return s.fail
	}
	s.mappings = append(s.mappings, m)
	return nil
}

func (s *fakeStore) AppendRule(ctx context.Context, r vernacular.Rule) error {
	if s.fail != nil {
		return s.fail
	}
	s.rules = append(s.rules, r)
	return nil
}

type memRecorder struct {
	events []audit.Event
}

func (r *memRecorder) Append(ctx context.Context, event audit.Event) error {
	r.events = append(r.events, event)
	return nil
}

func TestHasCorrectionSignal(t *testing.T) {
	hits := []string{
		"No, the approvals record is customrecord_approvals",
		"actually, use the other field",
		"Remember that we close books on the 5th",
		"always show amounts in USD",
		"never include voided transactions",
		"From now on use fiscal quarters",
		"don't use the legacy saved search",
		"the field for region is custbody_region",
		"it lives in customrecord_shipping_rules",
	}
	for _, msg := range hits {
		assert.True(t, HasCorrectionSignal(msg), msg)
	}

	misses := []string{
		"show me open invoices",
		"what were Q3 sales?",
		"Nope that looks right",
	}
	for _, msg := range misses {
		assert.False(t, HasCorrectionSignal(msg), msg)
	}
}

func TestProcessTurnNoSignalSkipsLLM(t *testing.T) {
	provider := llm.NewMockProvider()
	u := NewUpdater(provider, &fakeStore{}, &memRecorder{}, "", nil)

	assert.False(t, u.ProcessTurn(context.Background(), "show me open invoices"))
	assert.Equal(t, 0, provider.CallCount())
}

func TestProcessTurnLearnsCorrection(t *testing.T) {
	provider := llm.NewMockProvider(llm.TextResponse(
		`{"entity_correction": {"natural_name": "Approvals", "script_id": "customrecord_approvals", "entity_type": "custom_record"}, "rule": null}`))
	store := &fakeStore{}
	recorder := &memRecorder{}
	u := NewUpdater(provider, store, recorder, "", nil)

	ctx, err := core.BindTenant(context.Background(), "t1")
	require.NoError(t, err)
	learned := u.ProcessTurn(ctx, "No, the approvals record is customrecord_approvals")

	assert.True(t, learned)
	require.Len(t, store.mappings, 1)
	assert.Equal(t, "customrecord_approvals", store.mappings[0].ScriptID)

	require.Len(t, recorder.events, 1)
	assert.Equal(t, audit.ActionMemoryUpdate, recorder.events[0].Action)
	assert.Equal(t, "t1", recorder.events[0].TenantID)
}

func TestProcessTurnLearnsRule(t *testing.T) {
	provider := llm.NewMockProvider(llm.TextResponse(
		`{"entity_correction": null, "rule": {"description": "Always show amounts in USD", "category": "formatting"}}`))
	store := &fakeStore{}
	u := NewUpdater(provider, store, &memRecorder{}, "", nil)

	assert.True(t, u.ProcessTurn(context.Background(), "always show amounts in USD"))
	require.Len(t, store.rules, 1)
	assert.True(t, store.rules[0].Active)
}

func TestProcessTurnNothingExtracted(t *testing.T) {
	provider := llm.NewMockProvider(llm.TextResponse(`{"entity_correction": null, "rule": null}`))
	recorder := &memRecorder{}
	u := NewUpdater(provider, &fakeStore{}, recorder, "", nil)

	assert.False(t, u.ProcessTurn(context.Background(), "never mind, it was fine"))
	assert.Empty(t, recorder.events)
}

func TestProcessTurnFailsClosed(t *testing.T) {
	t.Run("llm error", func(t *testing.T) {
		provider := &llm.MockProvider{Fail: errors.New("offline")}
		u := NewUpdater(provider, &fakeStore{}, &memRecorder{}, "", nil)
		assert.False(t, u.ProcessTurn(context.Background(), "always use USD"))
	})

	t.Run("bad json", func(t *testing.T) {
		provider := llm.NewMockProvider(llm.TextResponse("sure, noted!"))
		u := NewUpdater(provider, &fakeStore{}, &memRecorder{}, "", nil)
		assert.False(t, u.ProcessTurn(context.Background(), "always use USD"))
	})

	t.Run("store error", func(t *testing.T) {
		provider := llm.NewMockProvider(llm.TextResponse(
			`{"rule": {"description": "x", "category": "y"}}`))
		u := NewUpdater(provider, &fakeStore{fail: errors.New("db down")}, &memRecorder{}, "", nil)
		assert.False(t, u.ProcessTurn(context.Background(), "always use USD"))
	})
}
