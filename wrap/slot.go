// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package wrap

import (
	"sync/atomic"

	"go.opentelemetry.io/interpose/backend"
	"go.opentelemetry.io/interpose/bundle"
	"go.opentelemetry.io/interpose/internal/pkg/suppress"
)

// Kind is the interception mode of a Slot.
type Kind int

const (
	// KindUnset is a Slot no trampoline was assembled for yet.
	KindUnset Kind = iota
	// KindWrap measures around the original function.
	KindWrap
	// KindReplace substitutes an Operator for the original function.
	KindReplace
)

func (k Kind) String() string {
	switch k {
	case KindWrap:
		return "wrap"
	case KindReplace:
		return "replace"
	default:
		return "unset"
	}
}

// Slot is the record of one interceptable function of a Registry.
//
// The identifier, label, priority and binding are written once, while the
// Slot is filled and before filled is set. They are read only after filled
// is observed.
type Slot struct {
	index int
	kind  atomic.Int32

	identifier string
	label      string
	priority   int
	binding    *backend.Binding
	reinstall  *reinstall

	filled    atomic.Bool
	active    atomic.Bool
	finalized atomic.Bool
	ready     atomic.Bool

	suppression atomic.Pointer[suppress.Flag]
}

// reinstall holds what is needed to construct a Slot again after it was
// reverted.
type reinstall struct {
	identifier string
	priority   int
	tool       string
	wrapper    any
}

// resume makes s ready again after a trampoline held it. A slot finalized
// meanwhile stays not ready.
func (s *Slot) resume() {
	s.ready.Store(!s.finalized.Load())
}

func (s *Slot) metadata() bundle.Metadata {
	return bundle.Metadata{
		Index:      s.index,
		Identifier: s.identifier,
		Label:      s.label,
		Priority:   s.priority,
	}
}

func (s *Slot) state() SlotState {
	st := SlotState{
		Index:      s.index,
		Kind:       Kind(s.kind.Load()),
		Filled:     s.filled.Load(),
		Active:     s.active.Load(),
		Finalized:  s.finalized.Load(),
		Ready:      s.ready.Load(),
		Suppressed: s.suppression.Load() != nil,
	}
	if st.Filled {
		st.Identifier = s.identifier
		st.Label = s.label
		st.Priority = s.priority
	}
	return st
}

// SlotState is a snapshot of a Slot.
type SlotState struct {
	Index      int
	Kind       Kind
	Identifier string
	Label      string
	Priority   int

	Filled     bool
	Active     bool
	Finalized  bool
	Ready      bool
	Suppressed bool
}
