// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package wrap

import (
	"go.opentelemetry.io/interpose/bundle"
	"go.opentelemetry.io/interpose/internal/pkg/suppress"
)

// Operator substitutes an intercepted function of a replacing Registry. It
// receives the original function, which is nil when it could not be
// resolved.
type Operator[A, R any] func(th *Thread, orig func(*Thread, A) R, a A) R

// VoidOperator is an Operator for a function without result.
type VoidOperator[A any] func(th *Thread, orig func(*Thread, A), a A)

// Wrap returns the trampoline of slot n. The trampoline runs the bundle of
// r around the original function when the slot is ready and the calling
// thread is not already instrumenting.
//
// Wrap panics if n is out of range, if r replaces functions, or if slot n
// was assembled as a replacement.
func Wrap[A, R any](r *Registry, n int) func(*Thread, A) R {
	s := r.assemble(n, KindWrap)
	return func(th *Thread, a A) R {
		orig, _ := r.original(s).(func(*Thread, A) R)
		if orig == nil {
			r.missing(s)
			var zero R
			return zero
		}
		return measure(r, s, th, a, orig, func(b bundle.Bundle, ret R) {
			b.Audit(bundle.Outgoing, ret)
		})
	}
}

// WrapVoid is Wrap for a function without result.
func WrapVoid[A any](r *Registry, n int) func(*Thread, A) {
	s := r.assemble(n, KindWrap)
	return func(th *Thread, a A) {
		orig, _ := r.original(s).(func(*Thread, A))
		if orig == nil {
			r.missing(s)
			return
		}
		call := func(th *Thread, a A) struct{} {
			orig(th, a)
			return struct{}{}
		}
		measure(r, s, th, a, call, func(b bundle.Bundle, _ struct{}) {
			b.Audit(bundle.Outgoing)
		})
	}
}

// Replace returns the trampoline of slot n of a replacing Registry. While
// the slot is ready every call is handed to op. Calls made while op runs go
// to the original function.
//
// Replace panics if n is out of range, if r does not replace functions, or
// if slot n was assembled as a wrapper.
func Replace[A, R any](r *Registry, n int, op Operator[A, R]) func(*Thread, A) R {
	s := r.assemble(n, KindReplace)
	return func(th *Thread, a A) R {
		orig, _ := r.original(s).(func(*Thread, A) R)
		if s.finalized.Load() || !s.ready.Load() {
			if orig == nil {
				r.missing(s)
				var zero R
				return zero
			}
			return orig(th, a)
		}

		s.ready.Store(false)
		defer s.resume()
		return op(th, orig, a)
	}
}

// ReplaceVoid is Replace for a function without result. A call is skipped
// when the slot is not ready and the original function is not resolved.
func ReplaceVoid[A any](r *Registry, n int, op VoidOperator[A]) func(*Thread, A) {
	s := r.assemble(n, KindReplace)
	return func(th *Thread, a A) {
		orig, _ := r.original(s).(func(*Thread, A))
		if s.finalized.Load() || !s.ready.Load() {
			if orig != nil {
				orig(th, a)
			}
			return
		}

		s.ready.Store(false)
		defer s.resume()
		op(th, orig, a)
	}
}

func measure[A, R any](r *Registry, s *Slot, th *Thread, a A, orig func(*Thread, A) R, outgoing func(bundle.Bundle, R)) R {
	if th == nil {
		th = &Thread{id: -1}
	}
	if s.finalized.Load() || th.protected {
		return orig(th, a)
	}

	global := r.state.Global()
	flag := s.suppression.Load()
	suppressed := suppress.Suppressed(global, flag)
	if !s.ready.Load() || suppressed {
		r.diagnose(th, s, suppressed)
		return orig(th, a)
	}

	var slotToggled, globalToggled bool
	protected := th.protected
	s.ready.Store(false)
	suppress.On(flag, &slotToggled)
	suppress.On(global, &globalToggled)
	defer func() {
		// On a panicking original the flags may still be held.
		th.protected = protected
		suppress.Off(global, &globalToggled)
		suppress.Off(flag, &slotToggled)
		s.resume()
	}()

	th.protected = true
	b := r.factory(s.label)
	b.Construct(a)
	b.Start()
	b.Store(s.metadata())
	b.Audit(bundle.Incoming, a)
	th.protected = protected
	suppress.Off(global, &globalToggled)

	s.ready.Store(true)
	ret := orig(th, a)
	s.ready.Store(false)

	suppress.On(global, &globalToggled)
	th.protected = true
	outgoing(b, ret)
	b.Stop()
	return ret
}

func (r *Registry) original(s *Slot) any {
	if !s.filled.Load() {
		return nil
	}
	return r.backend.Original(s.binding)
}

func (r *Registry) missing(s *Slot) {
	r.logger.Error("original function not resolved", "index", s.index, "function", s.label)
}

func (r *Registry) diagnose(th *Thread, s *Slot, suppressed bool) {
	if th.diagnosing || !r.state.Debug() {
		return
	}
	th.diagnosing = true
	defer func() { th.diagnosing = false }()

	r.logger.Debug("function not instrumented",
		"thread", th.id,
		"function", s.label,
		"ready", s.ready.Load(),
		"suppressed", suppressed,
	)
}

// Instrument fills and activates slot n to intercept the function
// identified by identifier with the bundle of r. tool is the prefix of the
// slot label and priority orders the slot among the other wrappers of the
// same function. It returns whether the slot is filled.
func Instrument[A, R any](r *Registry, n int, identifier string, priority int, tool string) bool {
	return r.construct(n, identifier, priority, tool, Wrap[A, R](r, n))
}

// InstrumentVoid is Instrument for a function without result.
func InstrumentVoid[A any](r *Registry, n int, identifier string, priority int, tool string) bool {
	return r.construct(n, identifier, priority, tool, WrapVoid[A](r, n))
}

// InstrumentFirst fills slot n with the first of identifiers that can be
// intercepted. It returns the chosen identifier, or "" if none could.
func InstrumentFirst[A, R any](r *Registry, n int, identifiers []string, priority int, tool string) string {
	for _, id := range identifiers {
		if Instrument[A, R](r, n, id, priority, tool) {
			return id
		}
	}
	return ""
}

// Substitute fills and activates slot n of a replacing Registry to hand
// calls of the function identified by identifier to op.
func Substitute[A, R any](r *Registry, n int, identifier string, priority int, tool string, op Operator[A, R]) bool {
	return r.construct(n, identifier, priority, tool, Replace(r, n, op))
}

// SubstituteVoid is Substitute for a function without result.
func SubstituteVoid[A any](r *Registry, n int, identifier string, priority int, tool string, op VoidOperator[A]) bool {
	return r.construct(n, identifier, priority, tool, ReplaceVoid(r, n, op))
}
