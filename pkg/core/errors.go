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
// Package core holds the shared primitives of the orchestration core:
// error kinds, correlation IDs, and the tenant context binder.
package core

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and billing decisions.
// Unauthenticated, Forbidden, QuotaExceeded, PolicyDenied and Cancelled
// turns are never billed.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthenticated
	KindForbidden
	KindQuotaExceeded
	KindPolicyDenied
	KindToolTimeout
	KindUpstreamFailure
	KindInvariantViolation
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindPolicyDenied:
		return "policy_denied"
	case KindToolTimeout:
		return "tool_timeout"
	case KindUpstreamFailure:
		return "upstream_failure"
	case KindInvariantViolation:
		return "invariant_violation"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified core error. Use errors.As to recover the Kind
// anywhere in the call chain.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError wraps err with a classification.
func WrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Errorf creates a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the classification of err, or KindUnknown when it carries none.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Billable reports whether a turn that failed with err should still be
// charged. Auth, quota, policy and cancellation failures are free.
func Billable(err error) bool {
	switch KindOf(err) {
	case KindUnauthenticated, KindForbidden, KindQuotaExceeded, KindPolicyDenied, KindCancelled:
		return false
	default:
		return true
	}
}
