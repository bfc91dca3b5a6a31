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
// Package erp bridges local tool capabilities to the tenant's ERP
// connection. Queries, pings and metadata reads are forwarded to the
// tenant's primary ERP connector over the remote tool protocol, so local
// tools stay free of transport concerns.
package erp

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/erpilot/erpilot/pkg/tools"
	"github.com/erpilot/erpilot/pkg/vernacular"
)

// Remote tool names exposed by ERP connector servers.
const (
	remoteSuiteQL      = "run_suiteql"
	remoteConnectivity = "check_connectivity"
	remoteMetadata     = "discover_metadata"
	remoteListEntities = "list_entities"
)

// Invoker forwards a tool call to a connector. The MCP connector registry
// satisfies this.
type Invoker interface {
	Invoke(ctx context.Context, connectorID, toolName string, params map[string]interface{}) (*tools.Result, error)
}

// ConnectorFinder resolves the tenant's primary ERP connector.
type ConnectorFinder interface {
	PrimaryERP(ctx context.Context) (string, error)
}

// Gateway routes ERP capability calls through the tenant's connector.
type Gateway struct {
	invoker Invoker
	finder  ConnectorFinder
	logger  *zap.Logger
}

// NewGateway creates an ERP gateway.
func NewGateway(invoker Invoker, finder ConnectorFinder, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{invoker: invoker, finder: finder, logger: logger}
}

// Execute runs a SuiteQL query on the tenant's ERP and returns its columns
// and rows.
func (g *Gateway) Execute(ctx context.Context, query string) ([]string, []map[string]interface{}, error) {
	data, err := g.call(ctx, remoteSuiteQL, map[string]interface{}{"query": query})
	if err != nil {
		return nil, nil, err
	}

	columns := stringSlice(data["columns"])
	rawRows, _ := data["rows"].([]interface{})
	rows := make([]map[string]interface{}, 0, len(rawRows))
	for _, r := range rawRows {
		if row, ok := r.(map[string]interface{}); ok {
			rows = append(rows, row)
		}
	}
	return columns, rows, nil
}

// Ping reports connection health. A reachable connector that reports
// connected=false is an error carrying the remote detail.
func (g *Gateway) Ping(ctx context.Context) error {
	data, err := g.call(ctx, remoteConnectivity, nil)
	if err != nil {
		return err
	}
	if connected, ok := data["connected"].(bool); ok && !connected {
		detail, _ := data["detail"].(string)
		if detail == "" {
			detail = "connection reported unhealthy"
		}
		return fmt.Errorf("erp connection down: %s", detail)
	}
	return nil
}

// Discover triggers a metadata catalogue refresh and returns the counts the
// remote reports.
func (g *Gateway) Discover(ctx context.Context) (int, int, error) {
	data, err := g.call(ctx, remoteMetadata, nil)
	if err != nil {
		return 0, 0, err
	}
	return intValue(data["record_types"]), intValue(data["fields"]), nil
}

// ListEntities returns the ERP's entity catalogue as vernacular mappings.
func (g *Gateway) ListEntities(ctx context.Context) ([]vernacular.Mapping, error) {
	data, err := g.call(ctx, remoteListEntities, nil)
	if err != nil {
		return nil, err
	}

	raw, _ := data["entities"].([]interface{})
	mappings := make([]vernacular.Mapping, 0, len(raw))
	for _, e := range raw {
		entry, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		m := vernacular.Mapping{
			NaturalName: stringValue(entry["natural_name"]),
			ScriptID:    stringValue(entry["script_id"]),
			EntityType:  stringValue(entry["entity_type"]),
		}
		if m.NaturalName == "" || m.ScriptID == "" {
			continue
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// call forwards to the tenant's primary connector and narrows the result
// payload to a map. Non-map payloads yield an empty map, so callers read
// missing keys rather than panic.
func (g *Gateway) call(ctx context.Context, tool string, params map[string]interface{}) (map[string]interface{}, error) {
	connectorID, err := g.finder.PrimaryERP(ctx)
	if err != nil {
		return nil, err
	}

	result, err := g.invoker.Invoke(ctx, connectorID, tool, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tool, err)
	}
	if !result.Success {
		msg := "remote call failed"
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, fmt.Errorf("%s: %s", tool, msg)
	}

	data, ok := result.Data.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}, nil
	}
	return data, nil
}

func stringSlice(v interface{}) []string {
	raw, _ := v.([]interface{})
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

// intValue accepts the numeric shapes JSON round-trips produce.
func intValue(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
