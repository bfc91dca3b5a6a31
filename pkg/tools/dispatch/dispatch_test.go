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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpilot/erpilot/pkg/audit"
	"github.com/erpilot/erpilot/pkg/core"
	"github.com/erpilot/erpilot/pkg/observability"
	"github.com/erpilot/erpilot/pkg/policy"
	"github.com/erpilot/erpilot/pkg/tools"
)

type memRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *memRecorder) Append(ctx context.Context, event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memRecorder) byAction(action string) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, e := range r.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type staticPolicy struct{ profile *policy.Profile }

func (s staticPolicy) PolicyFor(ctx context.Context) (*policy.Profile, error) {
	return s.profile, nil
}

func tenantCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, err := core.BindTenant(context.Background(), "t1")
	require.NoError(t, err)
	return ctx
}

func newDispatcher(t *testing.T, tool tools.Tool, opts Options) (*Dispatcher, *memRecorder) {
	t.Helper()
	recorder := &memRecorder{}
	opts.Recorder = recorder
	if opts.Registry == nil {
		opts.Registry = tools.NewRegistry()
	}
	if tool != nil {
		opts.Registry.Register(tool)
	}
	return NewDispatcher(opts), recorder
}

func TestDispatchSuccess(t *testing.T) {
	tool := &tools.MockTool{ToolName: "suiteql"}
	d, recorder := newDispatcher(t, tool, Options{})

	result, err := d.Dispatch(tenantCtx(t), Call{
		ToolName:  "suiteql",
		Params:    map[string]interface{}{"query": "SELECT 1"},
		AllowList: []string{"suiteql"},
		AgentName: "suiteql_agent",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, tool.Calls)

	events := recorder.byAction(audit.ActionToolCall)
	require.Len(t, events, 1)
	assert.Equal(t, audit.StatusSuccess, events[0].Status)
	assert.Equal(t, "t1", events[0].TenantID)
	assert.NotEmpty(t, events[0].ID)
}

func TestDispatchAllowListDenied(t *testing.T) {
	tool := &tools.MockTool{ToolName: "suiteql"}
	d, _ := newDispatcher(t, tool, Options{})

	_, err := d.Dispatch(tenantCtx(t), Call{
		ToolName:  "suiteql",
		AllowList: []string{"rag_search"},
	})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindForbidden))
	assert.Equal(t, 0, tool.Calls)
}

func TestDispatchRateLimit(t *testing.T) {
	tool := &tools.MockTool{ToolName: "suiteql"}
	tracer := observability.NewMemoryTracer()
	d, _ := newDispatcher(t, tool, Options{
		Limiter: NewRateLimiter(map[string]int{"suiteql": 3}),
		Tracer:  tracer,
	})

	ctx := tenantCtx(t)
	call := Call{ToolName: "suiteql", AllowList: []string{"suiteql"}}

	// The limit-th call within the window is allowed.
	for i := 0; i < 3; i++ {
		_, err := d.Dispatch(ctx, call)
		require.NoError(t, err, "call %d", i+1)
	}

	_, err := d.Dispatch(ctx, call)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindQuotaExceeded))
	// The executor is never consulted for a rejected call.
	assert.Equal(t, 3, tool.Calls)
	assert.Equal(t, float64(1), tracer.MetricValue(observability.MetricToolRateLimited, map[string]string{
		observability.AttrToolName: "suiteql",
	}))
}

func TestRateLimiterIsPerTenant(t *testing.T) {
	rl := NewRateLimiter(map[string]int{"suiteql": 1})
	assert.True(t, rl.Allow("t1", "suiteql"))
	assert.False(t, rl.Allow("t1", "suiteql"))
	assert.True(t, rl.Allow("t2", "suiteql"))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(map[string]int{"suiteql": 1})
	now := time.Now()
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("t1", "suiteql"))
	require.False(t, rl.Allow("t1", "suiteql"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("t1", "suiteql"))
}

func TestDispatchPolicyDenied(t *testing.T) {
	tool := &tools.MockTool{ToolName: "suiteql"}
	d, recorder := newDispatcher(t, tool, Options{
		Policies: staticPolicy{&policy.Profile{BlockedFields: []string{"salary"}}},
	})

	_, err := d.Dispatch(tenantCtx(t), Call{
		ToolName:  "suiteql",
		Params:    map[string]interface{}{"query": "SELECT salary FROM employee"},
		AllowList: []string{"suiteql"},
	})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindPolicyDenied))
	assert.Equal(t, 0, tool.Calls)

	denials := recorder.byAction(audit.ActionPolicyDenied)
	require.Len(t, denials, 1)
	assert.Equal(t, audit.StatusDenied, denials[0].Status)
	assert.Contains(t, denials[0].Error, "salary")
}

func TestDispatchTimeout(t *testing.T) {
	tool := &tools.MockTool{
		ToolName: "slow",
		ExecuteFunc: func(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
			select {
			case <-time.After(5 * time.Second):
				return &tools.Result{Success: true}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	d, recorder := newDispatcher(t, tool, Options{
		Timeouts: map[string]time.Duration{"slow": 20 * time.Millisecond},
	})

	_, err := d.Dispatch(tenantCtx(t), Call{ToolName: "slow", AllowList: []string{"slow"}})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindToolTimeout))

	events := recorder.byAction(audit.ActionToolCall)
	require.Len(t, events, 1)
	assert.Equal(t, audit.StatusTimeout, events[0].Status)
}

func TestDispatchRedactsOutput(t *testing.T) {
	tool := &tools.MockTool{
		ToolName: "suiteql",
		ExecuteFunc: func(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
			return &tools.Result{Success: true, Data: map[string]interface{}{
				"name":   "jane",
				"salary": 90000,
			}}, nil
		},
	}
	d, _ := newDispatcher(t, tool, Options{
		Policies: staticPolicy{&policy.Profile{BlockedFields: []string{"salary"}}},
	})

	result, err := d.Dispatch(tenantCtx(t), Call{
		ToolName:  "suiteql",
		Params:    map[string]interface{}{"other": "x"},
		AllowList: []string{"suiteql"},
	})
	require.NoError(t, err)

	data := result.Data.(map[string]interface{})
	assert.Equal(t, "jane", data["name"])
	assert.NotContains(t, data, "salary")
}

func TestDispatchSanitizesAuditParams(t *testing.T) {
	tool := &tools.MockTool{ToolName: "connect"}
	d, recorder := newDispatcher(t, tool, Options{})

	_, err := d.Dispatch(tenantCtx(t), Call{
		ToolName: "connect",
		Params: map[string]interface{}{
			"host":       "erp.example.com",
			"api_secret": "hunter2",
		},
		AllowList: []string{"connect"},
	})
	require.NoError(t, err)

	events := recorder.byAction(audit.ActionToolCall)
	require.Len(t, events, 1)
	params := events[0].Payload["params"].(map[string]interface{})
	assert.Equal(t, "erp.example.com", params["host"])
	assert.Equal(t, "[redacted]", params["api_secret"])
}

func TestDispatchRequiresTenant(t *testing.T) {
	d, _ := newDispatcher(t, &tools.MockTool{ToolName: "suiteql"}, Options{})
	_, err := d.Dispatch(context.Background(), Call{ToolName: "suiteql", AllowList: []string{"suiteql"}})
	assert.Error(t, err)
}

type fakeRemote struct {
	connectorID string
	toolName    string
	calls       int
}

func (f *fakeRemote) Invoke(ctx context.Context, connectorID, toolName string, params map[string]interface{}) (*tools.Result, error) {
	f.calls++
	f.connectorID = connectorID
	f.toolName = toolName
	return &tools.Result{Success: true, Data: "remote ok"}, nil
}

func TestDispatchRemoteRouting(t *testing.T) {
	remote := &fakeRemote{}
	d, recorder := newDispatcher(t, nil, Options{Remote: remote})

	name := RemoteName("conn1", "search_docs")
	result, err := d.Dispatch(tenantCtx(t), Call{
		ToolName:  name,
		Params:    map[string]interface{}{"q": "invoices"},
		AllowList: []string{name},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "conn1", remote.connectorID)
	assert.Equal(t, "search_docs", remote.toolName)

	// Remote params stay out of the audit payload.
	events := recorder.byAction(audit.ActionToolCall)
	require.Len(t, events, 1)
	assert.NotContains(t, events[0].Payload, "params")
}

func TestParseRemoteName(t *testing.T) {
	conn, tool, ok := ParseRemoteName("ext__conn1__search_docs")
	require.True(t, ok)
	assert.Equal(t, "conn1", conn)
	assert.Equal(t, "search_docs", tool)

	// Original names may contain double underscores.
	conn, tool, ok = ParseRemoteName("ext__conn1__ns__lookup")
	require.True(t, ok)
	assert.Equal(t, "conn1", conn)
	assert.Equal(t, "ns__lookup", tool)

	for _, bad := range []string{"suiteql", "ext__", "ext__conn1", "ext__conn1__", "ext____tool"} {
		_, _, ok := ParseRemoteName(bad)
		assert.False(t, ok, "name %q", bad)
	}
}
