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

// Package log holds the process-wide zap logger. The daemon installs the
// configured logger at startup; until then Logger returns a nop so library
// code can log unconditionally.
package log

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var global atomic.Pointer[zap.Logger]

func init() {
	global.Store(zap.NewNop())
}

// Logger returns the current process logger.
func Logger() *zap.Logger {
	return global.Load()
}

// SetLogger installs l as the process logger. Safe to call concurrently
// with Logger; in-flight loggers keep their old sink.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

// Named returns the process logger scoped to a component name.
func Named(name string) *zap.Logger {
	return Logger().Named(name)
}

// Sync flushes buffered entries. Called on shutdown.
func Sync() error {
	return Logger().Sync()
}
