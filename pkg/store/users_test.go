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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleAllows(t *testing.T) {
	assert.True(t, roleAllows(RoleAdmin, "metadata.discover"))
	assert.True(t, roleAllows(RoleAdmin, "connector.manage"))

	assert.False(t, roleAllows(RoleMember, "metadata.discover"))
	assert.False(t, roleAllows(RoleAdmin, "metadata.delete"))
	assert.False(t, roleAllows("", "metadata.discover"))
	assert.False(t, roleAllows("superuser", "metadata.discover"))
}
