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
// Package builtin holds the local tools agents are allowed to call. Each
// tool wraps a capability interface so the same registry serves production
// wiring and tests.
package builtin

import (
	"context"

	"github.com/erpilot/erpilot/pkg/tools"
)

// SuiteQLExecutor runs a SuiteQL query against the tenant's ERP account.
type SuiteQLExecutor interface {
	Execute(ctx context.Context, query string) (columns []string, rows []map[string]interface{}, err error)
}

// SuiteQLTool is the local query execution path.
type SuiteQLTool struct {
	executor SuiteQLExecutor
	maxRows  int
}

// NewSuiteQLTool creates the run_suiteql tool. maxRows caps rows returned
// to the model regardless of the query's own cap; zero means 1000.
func NewSuiteQLTool(executor SuiteQLExecutor, maxRows int) *SuiteQLTool {
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &SuiteQLTool{executor: executor, maxRows: maxRows}
}

func (t *SuiteQLTool) Name() string {
	return "run_suiteql"
}

func (t *SuiteQLTool) Description() string {
	return "Execute a read-only SuiteQL query against the tenant's ERP account. Always include an explicit row cap (FETCH FIRST n ROWS ONLY)."
}

func (t *SuiteQLTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("SuiteQL execution parameters", map[string]*tools.JSONSchema{
		"query": tools.NewStringSchema("The SuiteQL query to execute."),
	}, []string{"query"})
}

func (t *SuiteQLTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return &tools.Result{Success: false, Error: &tools.Error{
			Code:    "invalid_params",
			Message: "query is required",
		}}, nil
	}

	columns, rows, err := t.executor.Execute(ctx, query)
	if err != nil {
		return &tools.Result{Success: false, Error: &tools.Error{
			Code:       "query_failed",
			Message:    err.Error(),
			Retryable:  true,
			Suggestion: "Check field and table names against the metadata reference, fix the query, and retry.",
		}}, nil
	}

	truncated := false
	if len(rows) > t.maxRows {
		rows = rows[:t.maxRows]
		truncated = true
	}

	return &tools.Result{Success: true, Data: map[string]interface{}{
		"columns":   columns,
		"rows":      rows,
		"row_count": len(rows),
		"truncated": truncated,
	}}, nil
}

// ConnectivityChecker pings the tenant's ERP connection.
type ConnectivityChecker interface {
	Ping(ctx context.Context) error
}

// ConnectivityTool reports whether the ERP connection is healthy.
type ConnectivityTool struct {
	checker ConnectivityChecker
}

// NewConnectivityTool creates the check_connectivity tool.
func NewConnectivityTool(checker ConnectivityChecker) *ConnectivityTool {
	return &ConnectivityTool{checker: checker}
}

func (t *ConnectivityTool) Name() string {
	return "check_connectivity"
}

func (t *ConnectivityTool) Description() string {
	return "Check whether the tenant's ERP connection is reachable and authenticated."
}

func (t *ConnectivityTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("No parameters", nil, nil)
}

func (t *ConnectivityTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
	if err := t.checker.Ping(ctx); err != nil {
		return &tools.Result{Success: true, Data: map[string]interface{}{
			"connected": false,
			"detail":    err.Error(),
		}}, nil
	}
	return &tools.Result{Success: true, Data: map[string]interface{}{"connected": true}}, nil
}

// MetadataDiscoverer re-reads the tenant's ERP metadata catalogue.
type MetadataDiscoverer interface {
	Discover(ctx context.Context) (recordTypes int, fields int, err error)
}

// PermissionChecker gates admin-only tools.
type PermissionChecker interface {
	Can(ctx context.Context, permission string) bool
}

// MetadataTool triggers a metadata re-discovery for the tenant.
type MetadataTool struct {
	discoverer MetadataDiscoverer
	perms      PermissionChecker
}

// NewMetadataTool creates the discover_metadata tool. perms may be nil,
// which skips the permission gate.
func NewMetadataTool(discoverer MetadataDiscoverer, perms PermissionChecker) *MetadataTool {
	return &MetadataTool{discoverer: discoverer, perms: perms}
}

func (t *MetadataTool) Name() string {
	return "discover_metadata"
}

func (t *MetadataTool) Description() string {
	return "Re-discover the tenant's ERP metadata catalogue (record types, custom fields). Use when a query fails because a field or record is unknown."
}

func (t *MetadataTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("No parameters", nil, nil)
}

func (t *MetadataTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
	if t.perms != nil && !t.perms.Can(ctx, "metadata.discover") {
		return &tools.Result{Success: false, Error: &tools.Error{
			Code:    "forbidden",
			Message: "metadata discovery requires admin permission",
		}}, nil
	}

	recordTypes, fields, err := t.discoverer.Discover(ctx)
	if err != nil {
		return &tools.Result{Success: false, Error: &tools.Error{
			Code:      "discovery_failed",
			Message:   err.Error(),
			Retryable: true,
		}}, nil
	}
	return &tools.Result{Success: true, Data: map[string]interface{}{
		"record_types": recordTypes,
		"fields":       fields,
	}}, nil
}

var (
	_ tools.Tool = (*SuiteQLTool)(nil)
	_ tools.Tool = (*ConnectivityTool)(nil)
	_ tools.Tool = (*MetadataTool)(nil)
)
