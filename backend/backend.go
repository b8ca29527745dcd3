// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the interception backend used to redirect calls
// of a named function to a wrapper.
package backend

import "fmt"

// Disable is the priority that deactivates every binding of a tool.
const Disable = -1

// ErrorCode is an error reported by a Backend.
type ErrorCode int

const (
	// Success is not an error.
	Success ErrorCode = iota
	// FunctionNotFound is returned when the target function is unknown to
	// the backend.
	FunctionNotFound
	// InternalError is returned when the backend failed for a reason
	// unrelated to the request.
	InternalError
	// InvalidTool is returned when a tool label has no bindings.
	InvalidTool
)

func (c ErrorCode) String() string {
	switch c {
	case Success:
		return "success"
	case FunctionNotFound:
		return "function not found"
	case InternalError:
		return "internal error"
	case InvalidTool:
		return "invalid tool"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

func (c ErrorCode) Error() string { return c.String() }

// Binding is a request to redirect calls of Name to Wrapper.
type Binding struct {
	// Name is the name of the target function.
	Name string
	// Label is the tool the binding belongs to. Priorities are set per
	// tool.
	Label string
	// Wrapper is the function calls are redirected to. Its type must match
	// the type of the target function.
	Wrapper any

	// Handle is filled by the Backend during Bind.
	Handle any
}

// Backend redirects calls of named functions.
type Backend interface {
	// Bind installs b. The backend may store state in b.Handle.
	Bind(b *Binding) error
	// SetPriority sets the priority of all bindings of the tool label. A
	// priority of Disable deactivates them.
	SetPriority(label string, priority int) error
	// Original returns the function b wraps, or nil if it cannot be
	// resolved.
	Original(b *Binding) any
}
