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
package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		id   *RequestID
		want string
	}{
		{"numeric", NewNumericRequestID(42), "42"},
		{"string", NewStringRequestID("req-1"), `"req-1"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.id)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(data))

			var parsed RequestID
			require.NoError(t, json.Unmarshal(data, &parsed))
			assert.Equal(t, tc.id.String(), parsed.String())
		})
	}
}

func TestRequestIDNull(t *testing.T) {
	var id RequestID
	require.NoError(t, json.Unmarshal([]byte("null"), &id))
	assert.Equal(t, "null", id.String())

	assert.Error(t, json.Unmarshal([]byte("{}"), &id))
}

func TestValidateRequest(t *testing.T) {
	require.NoError(t, ValidateRequest(&Request{JSONRPC: JSONRPCVersion, Method: MethodPing}))
	assert.Error(t, ValidateRequest(&Request{JSONRPC: "1.0", Method: MethodPing}))
	assert.Error(t, ValidateRequest(&Request{JSONRPC: JSONRPCVersion}))
}

func TestValidateResponse(t *testing.T) {
	id := NewNumericRequestID(1)

	require.NoError(t, ValidateResponse(&Response{
		JSONRPC: JSONRPCVersion, ID: id, Result: json.RawMessage(`{}`),
	}))
	require.NoError(t, ValidateResponse(&Response{
		JSONRPC: JSONRPCVersion, ID: id, Error: NewError(InternalError, "boom", nil),
	}))

	// Missing ID.
	assert.Error(t, ValidateResponse(&Response{JSONRPC: JSONRPCVersion, Result: json.RawMessage(`{}`)}))
	// Both result and error.
	assert.Error(t, ValidateResponse(&Response{
		JSONRPC: JSONRPCVersion, ID: id,
		Result: json.RawMessage(`{}`), Error: NewError(InternalError, "boom", nil),
	}))
	// Neither.
	assert.Error(t, ValidateResponse(&Response{JSONRPC: JSONRPCVersion, ID: id}))
}

func TestValidateToolArguments(t *testing.T) {
	tool := Tool{
		Name: "search",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"q": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"q"},
		},
	}

	require.NoError(t, ValidateToolArguments(tool, map[string]interface{}{"q": "invoices"}))
	assert.Error(t, ValidateToolArguments(tool, map[string]interface{}{}))
	assert.Error(t, ValidateToolArguments(tool, map[string]interface{}{"q": 7}))

	// No schema accepts anything.
	assert.NoError(t, ValidateToolArguments(Tool{Name: "open"}, map[string]interface{}{"x": 1}))
}
