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
// Package dispatch wraps every tool invocation in the governance pipeline:
// allow-list, rate limit, policy, timeout, redaction, audit, metrics.
package dispatch

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/erpilot/erpilot/pkg/audit"
	"github.com/erpilot/erpilot/pkg/core"
	"github.com/erpilot/erpilot/pkg/observability"
	"github.com/erpilot/erpilot/pkg/policy"
	"github.com/erpilot/erpilot/pkg/tools"
)

// DefaultTimeout bounds tools without an explicit timeout.
const DefaultTimeout = 30 * time.Second

// Call is one pending tool invocation.
type Call struct {
	ToolName  string
	Params    map[string]interface{}
	AllowList []string
	AgentName string
}

// PolicySource resolves the policy of the tenant bound in ctx.
// A nil profile means no policy and is permissive.
type PolicySource interface {
	PolicyFor(ctx context.Context) (*policy.Profile, error)
}

// Dispatcher is the gatekeeper every agent tool call passes through.
type Dispatcher struct {
	registry *tools.Registry
	limiter  *RateLimiter
	policies PolicySource
	remote   RemoteInvoker
	recorder audit.Recorder
	tracer   observability.Tracer
	logger   *zap.Logger
	timeouts map[string]time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	Registry *tools.Registry
	Limiter  *RateLimiter
	Policies PolicySource
	Remote   RemoteInvoker
	Recorder audit.Recorder
	Tracer   observability.Tracer
	Logger   *zap.Logger
	// Timeouts overrides the per-tool execution deadline. Tools absent
	// from the map get DefaultTimeout.
	Timeouts map[string]time.Duration
}

// NewDispatcher creates a governed dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter(nil)
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NewNoOpTracer()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: opts.Registry,
		limiter:  opts.Limiter,
		policies: opts.Policies,
		remote:   opts.Remote,
		recorder: opts.Recorder,
		tracer:   opts.Tracer,
		logger:   opts.Logger,
		timeouts: opts.Timeouts,
	}
}

// Dispatch runs the governance pipeline around one tool call.
//
// Denials return classified errors: KindForbidden for allow-list misses,
// KindQuotaExceeded for rate-limit rejections, KindPolicyDenied for policy
// denials, KindToolTimeout when the executor loses the timeout race.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (*tools.Result, error) {
	tenantID, err := core.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := d.tracer.StartSpan(ctx, observability.SpanToolDispatch,
		observability.WithAttribute(observability.AttrToolName, call.ToolName),
		observability.WithAttribute(observability.AttrTenantID, tenantID))
	defer d.tracer.EndSpan(span)

	if !allowed(call.AllowList, call.ToolName) {
		err := core.Errorf(core.KindForbidden, "tool %s is not in the caller's allow-list", call.ToolName)
		span.RecordError(err)
		return nil, err
	}

	if !d.limiter.Allow(tenantID, call.ToolName) {
		d.tracer.RecordMetric(observability.MetricToolRateLimited, 1, map[string]string{
			observability.AttrToolName: call.ToolName,
		})
		err := core.Errorf(core.KindQuotaExceeded, "rate limit exceeded for tool %s", call.ToolName)
		span.RecordError(err)
		return nil, err
	}

	var profile *policy.Profile
	if d.policies != nil {
		profile, err = d.policies.PolicyFor(ctx)
		if err != nil {
			return nil, core.WrapError(core.KindUpstreamFailure, "loading tenant policy", err)
		}
	}

	if decision := policy.EvaluateToolCall(profile, call.ToolName, call.Params); !decision.Allowed {
		d.audit(ctx, call, audit.Event{
			Category: audit.CategoryPolicy,
			Action:   audit.ActionPolicyDenied,
			Status:   audit.StatusDenied,
			Error:    decision.Reason,
		})
		err := core.NewError(core.KindPolicyDenied, decision.Reason)
		span.RecordError(err)
		return nil, err
	}

	connectorID, remoteName, isRemote := ParseRemoteName(call.ToolName)

	var localTool tools.Tool
	if !isRemote {
		var ok bool
		localTool, ok = d.registry.Get(call.ToolName)
		if !ok {
			return nil, core.Errorf(core.KindUnknown, "tool not found: %s", call.ToolName)
		}
		if err := tools.ValidateParams(localTool, call.Params); err != nil {
			return nil, core.WrapError(core.KindPolicyDenied, "parameter validation", err)
		}
	} else if d.remote == nil {
		return nil, core.Errorf(core.KindUpstreamFailure, "no remote invoker configured for %s", call.ToolName)
	}

	start := time.Now()
	result, err := d.race(ctx, call, localTool, connectorID, remoteName)
	duration := time.Since(start)

	status := audit.StatusSuccess
	switch {
	case core.IsKind(err, core.KindToolTimeout):
		status = audit.StatusTimeout
	case err != nil:
		status = audit.StatusError
	case result != nil && !result.Success:
		status = audit.StatusError
	}

	if err == nil && result != nil {
		result.ExecutionTimeMs = duration.Milliseconds()
		result.Data = policy.RedactOutput(profile, result.Data)
	}

	event := audit.Event{
		Category:     audit.CategoryTool,
		Action:       audit.ActionToolCall,
		ResourceType: "tool",
		ResourceID:   call.ToolName,
		Status:       status,
	}
	if err != nil {
		event.Error = err.Error()
	}
	event.Payload = map[string]interface{}{
		"agent":       call.AgentName,
		"duration_ms": duration.Milliseconds(),
	}
	// Remote parameters never enter the audit trail; the connector owns them.
	if !isRemote {
		event.Payload["params"] = sanitizeParams(call.Params)
	}
	d.audit(ctx, call, event)

	d.tracer.RecordMetric(observability.MetricToolDuration, float64(duration.Milliseconds()), map[string]string{
		observability.AttrToolName: call.ToolName,
	})
	d.tracer.RecordMetric(observability.MetricToolInvocations, 1, map[string]string{
		observability.AttrToolName: call.ToolName,
		"status":                   string(status),
	})

	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// race runs the executor against the tool's timeout. On timeout the
// executor's context is cancelled and the goroutine result is dropped.
func (d *Dispatcher) race(ctx context.Context, call Call, localTool tools.Tool, connectorID, remoteName string) (*tools.Result, error) {
	timeout := d.timeouts[call.ToolName]
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result *tools.Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		var o outcome
		if localTool != nil {
			o.result, o.err = localTool.Execute(execCtx, call.Params)
		} else {
			o.result, o.err = d.remote.Invoke(execCtx, connectorID, remoteName, call.Params)
			if o.err != nil && !core.IsKind(o.err, core.KindUpstreamFailure) {
				o.err = core.WrapError(core.KindUpstreamFailure, "remote tool call", o.err)
			}
		}
		done <- o
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, core.WrapError(core.KindCancelled, "tool call cancelled", ctx.Err())
	case <-timer.C:
		cancel()
		return nil, core.Errorf(core.KindToolTimeout, "tool %s exceeded %s timeout", call.ToolName, timeout)
	}
}

func (d *Dispatcher) audit(ctx context.Context, call Call, event audit.Event) {
	if d.recorder == nil {
		return
	}
	if event.ResourceType == "" {
		event.ResourceType = "tool"
		event.ResourceID = call.ToolName
	}
	if err := d.recorder.Append(ctx, audit.Prepare(ctx, event)); err != nil {
		d.logger.Error("audit append failed",
			zap.String("tool", call.ToolName),
			zap.Error(err))
	}
}

func allowed(allowList []string, name string) bool {
	for _, a := range allowList {
		if a == name {
			return true
		}
	}
	return false
}

var sensitiveParamMarkers = []string{"password", "secret", "token", "credential", "api_key", "apikey"}

// sanitizeParams masks credential-looking values before they reach the
// audit trail.
func sanitizeParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		lower := strings.ToLower(k)
		masked := false
		for _, marker := range sensitiveParamMarkers {
			if strings.Contains(lower, marker) {
				out[k] = "[redacted]"
				masked = true
				break
			}
		}
		if !masked {
			out[k] = v
		}
	}
	return out
}
