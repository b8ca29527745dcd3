// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package wrap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/interpose/backend"
	"go.opentelemetry.io/interpose/internal/pkg/labels"
)

func TestNew(t *testing.T) {
	st := NewState(WithLogger(discard()))

	_, err := New(nil, 1, WithBackend(backend.NewTable()))
	assert.ErrorIs(t, err, errNilState)

	_, err = New(st, 0, WithBackend(backend.NewTable()))
	assert.ErrorIs(t, err, errSize)

	_, err = New(st, 1)
	assert.ErrorIs(t, err, errNilBackend)

	r, err := New(st, 3, WithBackend(backend.NewTable()), WithBundle(nil))
	require.NoError(t, err)
	assert.Equal(t, 3, r.Size())
	assert.True(t, r.DefaultReady())
	assert.Equal(t, Info{}, r.Info())
}

func TestConstructIdempotent(t *testing.T) {
	tbl := newTable(t)
	cb := &countingBackend{Backend: tbl}
	r, _ := newRegistry(t, cb, 2)

	for i := 0; i < 3; i++ {
		assert.True(t, Instrument[int, int](r, 0, "double", 5, "test"))
	}
	assert.Equal(t, int32(1), cb.binds.Load())
	assert.Equal(t, int32(1), cb.priorities.Load())

	s := r.Slot(0)
	assert.True(t, s.Filled)
	assert.True(t, s.Active)
	assert.True(t, s.Ready)
	assert.Equal(t, KindWrap, s.Kind)
	assert.Equal(t, "double", s.Identifier)
	assert.Equal(t, "test/double", s.Label)
	assert.Equal(t, 5, s.Priority)
	assert.Equal(t, Info{Ready: 1, Filled: 1, Active: 1}, r.Info())

	prio, ok := tbl.Priority("test/double")
	require.True(t, ok)
	assert.Equal(t, 5, prio)

	_, ok = r.State().Labels().Lookup(labels.Hash("test/double"))
	assert.True(t, ok, "label registered")

	// The last Stop reverts and the next Start reactivates without binding
	// again.
	th := r.State().NewThread()
	r.Start(th)
	r.Stop(th)
	r.Start(th)
	assert.Equal(t, int32(1), cb.binds.Load())
	assert.Equal(t, int32(3), cb.priorities.Load())

	for i := 0; i < 2; i++ {
		assert.True(t, Instrument[int, int](r, 0, "double", 5, "test"))
	}
	assert.Equal(t, int32(1), cb.binds.Load())
	assert.Equal(t, int32(3), cb.priorities.Load())
	r.Stop(th)
}

func TestConstructConcurrentInspection(t *testing.T) {
	r, _ := newRegistry(t, newTable(t), 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			Instrument[int, int](r, 0, "double", 0, "test")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			s := r.Slot(0)
			if s.Filled {
				assert.Equal(t, KindWrap, s.Kind)
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, KindWrap, r.Slot(0).Kind)
}

func TestConstructEmptyIdentifier(t *testing.T) {
	r, _ := newRegistry(t, newTable(t), 1)
	assert.False(t, Instrument[int, int](r, 0, "", 0, "test"))
	assert.False(t, r.Slot(0).Filled)
}

func TestConstructUnknownFunction(t *testing.T) {
	r, _ := newRegistry(t, newTable(t), 1)

	// Binding failures degrade the slot but do not fail it.
	assert.True(t, Instrument[int, int](r, 0, "missing", 0, "test"))
	s := r.Slot(0)
	assert.True(t, s.Filled)
	assert.True(t, s.Active)
}

func TestFilterPrecedence(t *testing.T) {
	tbl := newTable(t)
	require.NoError(t, tbl.Define("MPI_Abort", func(*Thread, int) int { return 0 }))

	r, _ := newRegistry(t, tbl, 3)
	r.RejectList().Add("double")
	r.PermitList().Add("double", "sink")

	assert.False(t, Instrument[int, int](r, 0, "double", 0, "test"), "reject wins over permit")
	assert.True(t, InstrumentVoid[string](r, 1, "sink", 0, "test"))
	assert.False(t, Instrument[int, int](r, 2, "MPI_Abort", 0, "test"), "not in permit list")

	r.PermitList().Clear()
	assert.False(t, Instrument[int, int](r, 2, "MPI_Abort", 0, "test"), "unsafe")

	rr, _ := newRegistry(t, tbl, 1, WithReplace())
	op := func(th *Thread, orig intFunc, a int) int { return orig(th, a) }
	assert.True(t, Substitute[int, int](rr, 0, "MPI_Abort", 0, "test", op), "replacements may wrap unsafe functions")
}

func TestSuppressionForcesNotReady(t *testing.T) {
	tbl := newTable(t)
	r, rec := newRegistry(t, tbl, 1)
	r.State().AddGlobalSuppression("double")

	assert.True(t, Instrument[int, int](r, 0, "double", 0, "test"))

	s := r.Slot(0)
	assert.True(t, s.Filled)
	assert.False(t, s.Active)
	assert.False(t, s.Ready)
	assert.True(t, s.Suppressed)
	assert.Equal(t, Info{Filled: 1, Suppressed: 1}, r.Info())

	th := r.State().NewThread()
	r.Start(th)
	assert.False(t, r.Slot(0).Ready)
	assert.False(t, r.Slot(0).Active)

	double := caller(t, tbl, "double")
	assert.Equal(t, 8, double(th, 4))
	starts, _ := rec.counts()
	assert.Equal(t, 0, starts)
	r.Stop(th)
}

func TestInstrumentFirst(t *testing.T) {
	r, _ := newRegistry(t, newTable(t), 1)
	r.RejectList().Add("triple")

	got := InstrumentFirst[int, int](r, 0, []string{"", "triple", "double"}, 0, "test")
	assert.Equal(t, "double", got)
	assert.Equal(t, "", InstrumentFirst[int, int](r, 0, nil, 0, "test"))
}

func TestRevert(t *testing.T) {
	tbl := newTable(t)
	r, _ := newRegistry(t, tbl, 2)
	assert.False(t, r.Revert(1))

	require.True(t, Instrument[int, int](r, 0, "double", 3, "test"))
	assert.True(t, r.Revert(0))
	assert.False(t, r.Slot(0).Active)
	assert.True(t, r.Slot(0).Ready, "default readiness restored")

	prio, _ := tbl.Priority("test/double")
	assert.Equal(t, backend.Disable, prio)

	// Reverting twice performs no backend operation.
	cb := &countingBackend{Backend: tbl}
	r.backend = cb
	assert.True(t, r.Revert(0))
	assert.Zero(t, cb.priorities.Load())
}

func TestReadiness(t *testing.T) {
	r, _ := newRegistry(t, newTable(t), 2, WithDefaultReady(false))
	require.True(t, Instrument[int, int](r, 0, "double", 0, "test"))
	assert.Equal(t, []ReadyState{{Filled: true}, {}}, r.Ready())

	assert.Equal(t, []ReadyState{{Filled: true, Ready: true}, {}}, r.SetReady(true))
	assert.Equal(t, []ReadyState{{Filled: true}, {}}, r.SetReady(false))
}

func TestReadyMask(t *testing.T) {
	r, _ := newRegistry(t, newTable(t), 3, WithDefaultReady(false))
	require.True(t, Instrument[int, int](r, 0, "double", 0, "test"))
	require.True(t, InstrumentVoid[string](r, 1, "sink", 0, "test"))

	got := r.SetReadyMask([]bool{false, true, true})
	assert.Equal(t, []ReadyState{{Filled: true}, {Filled: true, Ready: true}, {}}, got, "unfilled slots stay not ready")

	// A short mask leaves the remaining slots unchanged.
	got = r.SetReadyMask([]bool{true})
	assert.Equal(t, []ReadyState{{Filled: true, Ready: true}, {Filled: true, Ready: true}, {}}, got)

	th := r.State().NewThread()
	r.Start(th)
	r.GlobalFinalize(th)
	got = r.SetReadyMask([]bool{true, true, true})
	assert.Equal(t, []ReadyState{{Filled: true}, {Filled: true}, {}}, got, "finalized slots stay not ready")
}

func TestAssemblyPanics(t *testing.T) {
	r, _ := newRegistry(t, newTable(t), 1)
	rr, _ := newRegistry(t, newTable(t), 1, WithReplace())

	assert.Panics(t, func() { Wrap[int, int](r, 1) })
	assert.Panics(t, func() { Wrap[int, int](r, -1) })
	assert.Panics(t, func() { r.Slot(2) })
	assert.Panics(t, func() { Wrap[int, int](rr, 0) })
	assert.Panics(t, func() {
		Replace(r, 0, func(th *Thread, orig intFunc, a int) int { return a })
	})
	assert.NotPanics(t, func() { Wrap[int, int](r, 0) })
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "wrap", KindWrap.String())
	assert.Equal(t, "replace", KindReplace.String())
	assert.Equal(t, "unset", KindUnset.String())
}
