// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package wrap

// Thread holds the per-thread state of the interception engine: the number
// of active Start calls per Registry and the recursion guards.
//
// A Thread must only be used by one goroutine at a time. It is passed to
// every intercepted function so nested calls made on the same goroutine
// observe the same state.
type Thread struct {
	id      int64
	started map[*Registry]int64

	// protected is held while a bundle runs so calls made by the bundle
	// itself bypass instrumentation.
	protected bool
	// diagnosing is held while a not-ready diagnostic is emitted.
	diagnosing bool
}

// ID returns the identifier of t.
func (t *Thread) ID() int64 { return t.id }

// Started returns the number of unmatched Start calls t made on r.
func (t *Thread) Started(r *Registry) int64 { return t.started[r] }

// Protected reports whether the recursion guard of t is held.
func (t *Thread) Protected() bool { return t.protected }

// Protect holds the recursion guard of t until the returned function is
// called. While held, every intercepted call made with t goes straight to
// the original function.
func (t *Thread) Protect() (release func()) {
	prev := t.protected
	t.protected = true
	return func() { t.protected = prev }
}

func (t *Thread) counter(r *Registry) int64 {
	if t.started == nil {
		t.started = make(map[*Registry]int64)
	}
	return t.started[r]
}
