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
	"strings"

	"github.com/erpilot/erpilot/pkg/tools"
)

// RemotePrefix marks synthetic tool names that route through a connector.
const RemotePrefix = "ext__"

// ParseRemoteName splits a synthetic remote tool name
// ext__{connector_id}__{original_name} into its parts. The original name may
// itself contain double underscores.
func ParseRemoteName(name string) (connectorID, toolName string, ok bool) {
	if !strings.HasPrefix(name, RemotePrefix) {
		return "", "", false
	}
	rest := name[len(RemotePrefix):]
	idx := strings.Index(rest, "__")
	if idx <= 0 || idx+2 >= len(rest) {
		return "", "", false
	}
	return rest[:idx], rest[idx+2:], true
}

// RemoteName builds the synthetic name a remote tool is exposed under.
func RemoteName(connectorID, toolName string) string {
	return RemotePrefix + connectorID + "__" + toolName
}

// RemoteInvoker forwards a tool call to a tenant-owned connector. The
// connector registry resolves the connector scoped to the tenant bound in
// ctx and refreshes credentials as needed.
type RemoteInvoker interface {
	Invoke(ctx context.Context, connectorID, toolName string, params map[string]interface{}) (*tools.Result, error)
}
