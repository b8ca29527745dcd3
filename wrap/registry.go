// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package wrap implements the lifecycle of a fixed set of interceptable
// functions: a Registry of Slots that are constructed, started, stopped,
// reverted and finalized, and the trampolines that run a measurement bundle
// around every intercepted call.
package wrap

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/interpose/backend"
	"go.opentelemetry.io/interpose/bundle"
	"go.opentelemetry.io/interpose/internal/pkg/filter"
	"go.opentelemetry.io/interpose/internal/pkg/labels"
	"go.opentelemetry.io/interpose/internal/pkg/suppress"
)

var (
	errNilState   = errors.New("nil state")
	errNilBackend = errors.New("nil backend")
	errSize       = errors.New("registry size must be positive")
)

// Registry is a fixed-size table of interceptable function Slots sharing a
// measurement bundle, a Backend and a lifecycle.
type Registry struct {
	name    string
	state   *State
	logger  *slog.Logger
	backend backend.Backend
	factory bundle.Factory
	policy  *filter.Policy
	replace bool

	slots []Slot

	defaultReady atomic.Bool

	// mu serializes configuration and disabling.
	mu          sync.Mutex
	configured  bool
	initRan     bool
	initializer func()
	constraints []Constraint

	// build serializes structural changes of the slots.
	build sync.Mutex

	started    atomic.Int64
	finalizing atomic.Bool
}

// Option configures a Registry.
type Option interface {
	apply(*Registry)
}

type fnOpt func(*Registry)

func (o fnOpt) apply(r *Registry) { o(r) }

// WithName sets the name used to identify the Registry in diagnostics.
func WithName(name string) Option {
	return fnOpt(func(r *Registry) { r.name = name })
}

// WithBackend sets the interception Backend. It is required.
func WithBackend(b backend.Backend) Option {
	return fnOpt(func(r *Registry) { r.backend = b })
}

// WithBundle sets the factory of the measurement bundle run around every
// intercepted call. A nil factory runs no measurement.
func WithBundle(f bundle.Factory) Option {
	return fnOpt(func(r *Registry) { r.factory = f })
}

// WithReplace configures the Registry to substitute functions instead of
// measuring around them. Replacing registries may intercept functions the
// filter otherwise deems unsafe.
func WithReplace() Option {
	return fnOpt(func(r *Registry) { r.replace = true })
}

// WithDefaultReady sets the readiness of newly filled slots.
func WithDefaultReady(v bool) Option {
	return fnOpt(func(r *Registry) { r.defaultReady.Store(v) })
}

// WithInitializer sets the function run at the first configuration of the
// Registry.
func WithInitializer(fn func()) Option {
	return fnOpt(func(r *Registry) { r.initializer = fn })
}

// New returns a Registry of size slots.
func New(state *State, size int, opts ...Option) (*Registry, error) {
	if state == nil {
		return nil, errNilState
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", errSize, size)
	}

	r := &Registry{
		state:   state,
		factory: bundle.NoopFactory,
		slots:   make([]Slot, size),
	}
	r.defaultReady.Store(true)
	for _, o := range opts {
		o.apply(r)
	}
	if r.backend == nil {
		return nil, errNilBackend
	}
	if r.factory == nil {
		r.factory = bundle.NoopFactory
	}
	for i := range r.slots {
		r.slots[i].index = i
	}

	r.logger = state.Logger().With("registry", r.name)
	r.policy = filter.NewPolicy(r.logger, state.Debug)
	r.policy.Replace = r.replace
	return r, nil
}

// Name returns the name of r.
func (r *Registry) Name() string { return r.name }

// Size returns the number of slots of r.
func (r *Registry) Size() int { return len(r.slots) }

// State returns the shared State of r.
func (r *Registry) State() *State { return r.state }

// PermitList returns the set of identifiers that, when not empty, are the
// only ones r may intercept.
func (r *Registry) PermitList() *filter.Set { return r.policy.Permit }

// RejectList returns the set of identifiers r never intercepts.
func (r *Registry) RejectList() *filter.Set { return r.policy.Reject }

// SetInitializer sets the function run at the first configuration of r. It
// has no effect once r was configured.
func (r *Registry) SetInitializer(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initializer = fn
}

// Initializer returns the initializer of r.
func (r *Registry) Initializer() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initializer
}

// DefaultReady returns the readiness of newly filled slots.
func (r *Registry) DefaultReady() bool { return r.defaultReady.Load() }

// SetDefaultReady sets the readiness of slots filled or reverted afterwards.
func (r *Registry) SetDefaultReady(v bool) { r.defaultReady.Store(v) }

// Started returns the number of unmatched Start calls on r across all
// threads.
func (r *Registry) Started() int64 { return r.started.Load() }

// Slot returns a snapshot of slot n. It panics if n is out of range.
func (r *Registry) Slot(n int) SlotState {
	return r.slot(n).state()
}

// ReadyState is the readiness of one slot.
type ReadyState struct {
	Filled bool
	Ready  bool
}

// Ready returns the readiness of every slot.
func (r *Registry) Ready() []ReadyState {
	out := make([]ReadyState, len(r.slots))
	for i := range r.slots {
		s := &r.slots[i]
		out[i] = ReadyState{Filled: s.filled.Load(), Ready: s.ready.Load()}
	}
	return out
}

// SetReady sets the readiness of every filled, non-finalized slot and
// returns the resulting readiness.
func (r *Registry) SetReady(v bool) []ReadyState {
	for i := range r.slots {
		s := &r.slots[i]
		if s.filled.Load() && !s.finalized.Load() {
			s.ready.Store(v)
		}
	}
	return r.Ready()
}

// SetReadyMask sets the readiness of each filled, non-finalized slot i to
// mask[i] and returns the resulting readiness. Slots beyond the mask are
// left unchanged.
func (r *Registry) SetReadyMask(mask []bool) []ReadyState {
	for i := 0; i < len(mask) && i < len(r.slots); i++ {
		s := &r.slots[i]
		if s.filled.Load() && !s.finalized.Load() {
			s.ready.Store(mask[i])
		}
	}
	return r.Ready()
}

// Info summarizes the slots of a Registry.
type Info struct {
	Ready      int
	Filled     int
	Active     int
	Finalized  int
	Suppressed int
}

// Info returns the slot counts of r.
func (r *Registry) Info() Info {
	var info Info
	for i := range r.slots {
		s := &r.slots[i]
		if s.ready.Load() {
			info.Ready++
		}
		if s.filled.Load() {
			info.Filled++
		}
		if s.active.Load() {
			info.Active++
		}
		if s.finalized.Load() {
			info.Finalized++
		}
		if s.suppression.Load() != nil {
			info.Suppressed++
		}
	}
	return info
}

// Revert deactivates slot n, restoring the original function for callers.
// It returns whether the slot is filled. It panics if n is out of range.
func (r *Registry) Revert(n int) bool {
	s := r.slot(n)

	g := suppress.Acquire(r.state.Global())
	defer g.Release()

	r.build.Lock()
	defer r.build.Unlock()
	return r.revert(s)
}

func (r *Registry) slot(n int) *Slot {
	if n < 0 || n >= len(r.slots) {
		panic(fmt.Sprintf("wrap: slot index %d out of range [0, %d)", n, len(r.slots)))
	}
	return &r.slots[n]
}

// assemble returns slot n for a trampoline of kind k. Assembling a slot as
// wrap and replace is a misconfiguration and panics.
func (r *Registry) assemble(n int, k Kind) *Slot {
	s := r.slot(n)
	if r.replace != (k == KindReplace) {
		panic(fmt.Sprintf("wrap: %s trampoline for slot %d of a %s registry", k, n, r.kind()))
	}

	if !s.kind.CompareAndSwap(int32(KindUnset), int32(k)) {
		if prev := Kind(s.kind.Load()); prev != k {
			panic(fmt.Sprintf("wrap: slot %d assembled as %s and %s", n, prev, k))
		}
	}
	return s
}

func (r *Registry) kind() Kind {
	if r.replace {
		return KindReplace
	}
	return KindWrap
}

// construct fills and activates slot n with wrapper. It returns whether the
// slot is filled.
func (r *Registry) construct(n int, identifier string, priority int, tool string, wrapper any) bool {
	s := r.slot(n)
	if identifier == "" {
		return false
	}

	g := suppress.Acquire(r.state.Global())
	defer g.Release()

	r.build.Lock()
	defer r.build.Unlock()

	if s.finalized.Load() {
		return s.filled.Load()
	}
	if !r.policy.Permitted(identifier) {
		return false
	}

	if !s.filled.Load() {
		s.identifier = identifier
		s.label = labels.Display(identifier, tool)
		s.priority = priority
		r.state.Labels().Register(identifier)
		r.state.Labels().Register(s.label)

		s.ready.Store(r.defaultReady.Load())
		if r.state.Suppressions().Has(identifier) {
			s.suppression.Store(new(suppress.Flag))
			s.ready.Store(false)
		}

		s.reinstall = &reinstall{
			identifier: identifier,
			priority:   priority,
			tool:       tool,
			wrapper:    wrapper,
		}
		s.binding = &backend.Binding{
			Name:    identifier,
			Label:   s.label,
			Wrapper: wrapper,
		}
		r.checkError(s, r.backend.Bind(s.binding), "binding")
		s.filled.Store(true)
	}

	if !s.active.Load() {
		s.active.Store(true)
		r.checkError(s, r.backend.SetPriority(s.label, s.priority), "set priority")
	}

	if s.suppression.Load() != nil {
		r.revert(s)
	}
	return s.filled.Load()
}

func (r *Registry) revert(s *Slot) bool {
	if !s.filled.Load() || !s.active.Load() {
		return s.filled.Load()
	}

	s.active.Store(false)
	r.checkError(s, r.backend.SetPriority(s.label, backend.Disable), "set priority")

	switch {
	case s.finalized.Load(), s.suppression.Load() != nil:
		s.ready.Store(false)
	default:
		s.ready.Store(r.defaultReady.Load())
	}
	return s.filled.Load()
}

func (r *Registry) checkError(s *Slot, err error, msg string) {
	if err != nil {
		if r.state.Verbose() >= 0 || r.state.Debug() {
			r.logger.Warn(msg+" failed",
				"index", s.index,
				"function", s.identifier,
				"label", s.label,
				"error", err,
			)
		}
		return
	}
	if r.state.Verbose() > 1 || r.state.Debug() {
		r.logger.Debug(msg,
			"index", s.index,
			"function", s.identifier,
			"label", s.label,
		)
	}
}
