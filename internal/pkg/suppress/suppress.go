// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package suppress provides the flags used to keep intercepted calls from
// being instrumented while instrumentation itself is running.
package suppress

import "sync/atomic"

// Flag is a suppression flag. The zero value is clear.
type Flag struct {
	v atomic.Bool
}

// Enabled reports whether f is set. A nil Flag is never set.
func (f *Flag) Enabled() bool {
	if f == nil {
		return false
	}
	return f.v.Load()
}

// Set sets the value of f.
func (f *Flag) Set(v bool) {
	f.v.Store(v)
}

// On sets f if it is currently clear. toggled is set to true only when this
// call performed the transition, so a caller entered while f was already
// set will not clear it in the matching Off.
func On(f *Flag, toggled *bool) {
	if f == nil {
		return
	}
	if f.v.CompareAndSwap(false, true) {
		*toggled = true
	}
}

// Off clears f if the matching On set it.
func Off(f *Flag, toggled *bool) {
	if f == nil || !*toggled {
		return
	}
	f.v.Store(false)
	*toggled = false
}

// Suppressed reports whether the global flag or the optional slot flag is
// set.
func Suppressed(global, slot *Flag) bool {
	return global.Enabled() || slot.Enabled()
}

// Guard is a scoped toggle of a Flag.
//
//	g := suppress.Acquire(f)
//	defer g.Release()
type Guard struct {
	flag    *Flag
	toggled bool
}

// Acquire sets f for the lifetime of the returned Guard.
func Acquire(f *Flag) Guard {
	g := Guard{flag: f}
	On(f, &g.toggled)
	return g
}

// Toggled reports whether this Guard is the one that set the flag.
func (g *Guard) Toggled() bool { return g.toggled }

// Release restores the flag if, and only if, this Guard set it. Calling
// Release more than once is safe.
func (g *Guard) Release() {
	Off(g.flag, &g.toggled)
}
