// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle defines the measurement payload run around an intercepted
// call.
package bundle

// Event identifies the side of the call an Audit is made for.
type Event int

const (
	// Incoming audits the arguments of the call.
	Incoming Event = iota
	// Outgoing audits the result of the call.
	Outgoing
)

func (e Event) String() string {
	switch e {
	case Incoming:
		return "incoming"
	case Outgoing:
		return "outgoing"
	default:
		return "unknown"
	}
}

// Metadata describes the wrap slot a Bundle measures.
type Metadata struct {
	// Index is the index of the slot in its registry.
	Index int
	// Identifier is the name of the intercepted function.
	Identifier string
	// Label is the display label of the intercepted function.
	Label    string
	Priority int
}

// Bundle is a measurement of a single intercepted call.
//
// A Bundle is created for every instrumented call and is only used by the
// goroutine making that call.
type Bundle interface {
	Construct(args ...any)
	Start()
	Stop()
	Store(Metadata)
	Audit(e Event, args ...any)
}

// Factory returns a new Bundle measuring the function labeled label.
type Factory func(label string) Bundle

// Noop is a Bundle that measures nothing.
type Noop struct{}

var _ Bundle = Noop{}

func (Noop) Construct(...any)    {}
func (Noop) Start()              {}
func (Noop) Stop()               {}
func (Noop) Store(Metadata)      {}
func (Noop) Audit(Event, ...any) {}

// NoopFactory returns Noop bundles.
func NoopFactory(string) Bundle { return Noop{} }

// Tuple is a Bundle made of other bundles. Start and Construct run in order,
// Stop runs in reverse order.
type Tuple []Bundle

var _ Bundle = Tuple(nil)

// NewTuple returns a Factory building a Tuple from the bundles of factories.
// Nil factories are skipped.
func NewTuple(factories ...Factory) Factory {
	fs := make([]Factory, 0, len(factories))
	for _, f := range factories {
		if f != nil {
			fs = append(fs, f)
		}
	}

	return func(label string) Bundle {
		t := make(Tuple, len(fs))
		for i, f := range fs {
			t[i] = f(label)
		}
		return t
	}
}

func (t Tuple) Construct(args ...any) {
	for _, b := range t {
		b.Construct(args...)
	}
}

func (t Tuple) Start() {
	for _, b := range t {
		b.Start()
	}
}

func (t Tuple) Stop() {
	for i := len(t) - 1; i >= 0; i-- {
		t[i].Stop()
	}
}

func (t Tuple) Store(m Metadata) {
	for _, b := range t {
		b.Store(m)
	}
}

func (t Tuple) Audit(e Event, args ...any) {
	for _, b := range t {
		b.Audit(e, args...)
	}
}
