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
package erp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpilot/erpilot/pkg/tools"
)

type fakeInvoker struct {
	connectorID string
	toolName    string
	params      map[string]interface{}
	result      *tools.Result
	err         error
}

func (f *fakeInvoker) Invoke(ctx context.Context, connectorID, toolName string, params map[string]interface{}) (*tools.Result, error) {
	f.connectorID = connectorID
	f.toolName = toolName
	f.params = params
	return f.result, f.err
}

type fixedFinder struct {
	id  string
	err error
}

func (f fixedFinder) PrimaryERP(ctx context.Context) (string, error) { return f.id, f.err }

func TestExecuteForwardsQueryToPrimaryConnector(t *testing.T) {
	invoker := &fakeInvoker{result: &tools.Result{Success: true, Data: map[string]interface{}{
		"columns": []interface{}{"tranid", "amount"},
		"rows": []interface{}{
			map[string]interface{}{"tranid": "SO-1001", "amount": 250.0},
		},
	}}}
	g := NewGateway(invoker, fixedFinder{id: "conn-1"}, nil)

	columns, rows, err := g.Execute(context.Background(), "SELECT tranid, amount FROM transaction FETCH FIRST 10 ROWS ONLY")
	require.NoError(t, err)

	assert.Equal(t, "conn-1", invoker.connectorID)
	assert.Equal(t, "run_suiteql", invoker.toolName)
	assert.Equal(t, []string{"tranid", "amount"}, columns)
	require.Len(t, rows, 1)
	assert.Equal(t, "SO-1001", rows[0]["tranid"])
}

func TestExecuteFailsWithoutConnection(t *testing.T) {
	g := NewGateway(&fakeInvoker{}, fixedFinder{err: errors.New("tenant has no active ERP connection")}, nil)

	_, _, err := g.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active ERP connection")
}

func TestExecuteSurfacesRemoteFailure(t *testing.T) {
	invoker := &fakeInvoker{result: &tools.Result{
		Success: false,
		Error:   &tools.Error{Code: "query_failed", Message: "unknown column custbody_regio"},
	}}
	g := NewGateway(invoker, fixedFinder{id: "conn-1"}, nil)

	_, _, err := g.Execute(context.Background(), "SELECT custbody_regio FROM transaction")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown column custbody_regio")
}

func TestPingTreatsUnhealthyReportAsError(t *testing.T) {
	invoker := &fakeInvoker{result: &tools.Result{Success: true, Data: map[string]interface{}{
		"connected": false,
		"detail":    "token expired",
	}}}
	g := NewGateway(invoker, fixedFinder{id: "conn-1"}, nil)

	err := g.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")

	invoker.result = &tools.Result{Success: true, Data: map[string]interface{}{"connected": true}}
	assert.NoError(t, g.Ping(context.Background()))
}

func TestDiscoverParsesJSONNumbers(t *testing.T) {
	invoker := &fakeInvoker{result: &tools.Result{Success: true, Data: map[string]interface{}{
		"record_types": 12.0,
		"fields":       340.0,
	}}}
	g := NewGateway(invoker, fixedFinder{id: "conn-1"}, nil)

	recordTypes, fields, err := g.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, recordTypes)
	assert.Equal(t, 340, fields)
}

func TestGatewayToleratesNonMapPayload(t *testing.T) {
	// A connector may return a bare string or nothing at all; the gateway
	// reads missing keys instead of failing.
	invoker := &fakeInvoker{result: &tools.Result{Success: true, Data: "12 rows affected"}}
	g := NewGateway(invoker, fixedFinder{id: "conn-1"}, nil)

	columns, rows, err := g.Execute(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Empty(t, columns)
	assert.Empty(t, rows)

	assert.NoError(t, g.Ping(context.Background()))

	invoker.result = &tools.Result{Success: true}
	recordTypes, fields, err := g.Discover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, recordTypes)
	assert.Zero(t, fields)
}

func TestListEntitiesDropsIncompleteEntries(t *testing.T) {
	invoker := &fakeInvoker{result: &tools.Result{Success: true, Data: map[string]interface{}{
		"entities": []interface{}{
			map[string]interface{}{"natural_name": "Approvals", "script_id": "customrecord_approvals", "entity_type": "record"},
			map[string]interface{}{"natural_name": "Nameless"},
			"not an object",
		},
	}}}
	g := NewGateway(invoker, fixedFinder{id: "conn-1"}, nil)

	mappings, err := g.ListEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "customrecord_approvals", mappings[0].ScriptID)
}
