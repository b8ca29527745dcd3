// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package wrap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/interpose/backend"
)

func TestStartStop(t *testing.T) {
	tbl := newTable(t)
	r, rec := newRegistry(t, tbl, 2)
	require.True(t, Instrument[int, int](r, 0, "double", 0, "test"))
	double := caller(t, tbl, "double")

	th := r.State().NewThread()
	r.Start(th)
	assert.Equal(t, int64(1), th.Started(r))
	assert.Equal(t, int64(1), r.Started())
	assert.True(t, r.Configured())
	assert.True(t, r.Slot(0).Ready)
	assert.False(t, r.Slot(1).Ready, "unfilled slots are never ready")

	assert.Equal(t, 4, double(th, 2))
	starts, stops := rec.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)

	r.Stop(th)
	assert.Zero(t, th.Started(r))
	assert.Zero(t, r.Started())
	assert.False(t, r.Slot(0).Active, "last stop reverts")
	prio, _ := tbl.Priority("test/double")
	assert.Equal(t, backend.Disable, prio)

	assert.Equal(t, 6, double(th, 3))
	starts, _ = rec.counts()
	assert.Equal(t, 1, starts, "reverted slot is not instrumented")

	r.Start(th)
	assert.True(t, r.Slot(0).Active, "first start reconstructs")
	assert.Equal(t, 10, double(th, 5))
	starts, stops = rec.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, stops)
	r.Stop(th)
}

func TestNestedStartStop(t *testing.T) {
	r, _ := newRegistry(t, newTable(t), 1)
	require.True(t, Instrument[int, int](r, 0, "double", 0, "test"))

	th := r.State().NewThread()
	r.Start(th)
	r.Start(th)
	r.Stop(th)
	assert.True(t, r.Slot(0).Ready)
	assert.True(t, r.Slot(0).Active)
	r.Stop(th)
	assert.False(t, r.Slot(0).Active)
}

func TestUnbalancedStop(t *testing.T) {
	r, _ := newRegistry(t, newTable(t), 1)
	require.True(t, Instrument[int, int](r, 0, "double", 0, "test"))

	th := r.State().NewThread()
	assert.NotPanics(t, func() { r.Stop(th) })
	assert.Zero(t, r.Started())
	assert.True(t, r.Slot(0).Active)
}

func TestStartStopConcurrent(t *testing.T) {
	const (
		workers = 8
		calls   = 200
	)

	tbl := newTable(t)
	r, rec := newRegistry(t, tbl, 1)
	require.True(t, Instrument[int, int](r, 0, "double", 0, "test"))
	double := caller(t, tbl, "double")

	var wg sync.WaitGroup
	results := make([]bool, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			th := r.State().NewThread()
			r.ThreadInit(th)
			r.Start(th)
			ok := true
			for i := 0; i < calls; i++ {
				ok = ok && double(th, i) == 2*i
			}
			r.Stop(th)
			results[w] = ok && th.Started(r) == 0
		}(w)
	}
	wg.Wait()

	for w, ok := range results {
		assert.True(t, ok, "worker %d", w)
	}
	assert.Zero(t, r.Started())
	assert.False(t, r.Slot(0).Active)

	starts, stops := rec.counts()
	assert.Equal(t, starts, stops)
	assert.LessOrEqual(t, starts, workers*calls)
}

func TestThreadInit(t *testing.T) {
	r, _ := newRegistry(t, newTable(t), 2, WithDefaultReady(false))
	require.True(t, Instrument[int, int](r, 0, "double", 0, "test"))
	assert.False(t, r.Slot(0).Ready)

	th1 := r.State().NewThread()
	r.Start(th1)
	assert.True(t, r.Slot(0).Ready, "first start on a thread readies filled slots")

	th2 := r.State().NewThread()
	r.ThreadInit(th2)
	assert.False(t, r.Slot(0).Ready, "joining thread observes the registry default")
	assert.False(t, r.Slot(1).Ready)

	r.SetDefaultReady(true)
	r.ThreadInit(th2)
	assert.True(t, r.Slot(0).Ready)
	assert.False(t, r.Slot(1).Ready)
	r.Stop(th1)
}

func TestInitializerRunsOnce(t *testing.T) {
	tbl := newTable(t)
	var runs int
	r, _ := newRegistry(t, tbl, 1)
	r.SetInitializer(func() {
		runs++
		assert.True(t, Instrument[int, int](r, 0, "double", 0, "test"))
	})
	require.NotNil(t, r.Initializer())
	assert.False(t, r.Configured())

	th := r.State().NewThread()
	r.Start(th)
	r.Stop(th)
	r.Start(th)
	r.Stop(th)

	assert.Equal(t, 1, runs)
	assert.True(t, r.Slot(0).Filled)
}

func TestDisable(t *testing.T) {
	var runs int
	r, _ := newRegistry(t, newTable(t), 1, WithInitializer(func() { runs++ }))
	require.True(t, Instrument[int, int](r, 0, "double", 0, "test"))

	r.Disable()
	assert.False(t, r.Slot(0).Finalized, "unconfigured registry is left alone")

	th := r.State().NewThread()
	r.Start(th)
	r.Stop(th)
	r.Disable()
	assert.False(t, r.Configured())
	assert.True(t, r.Slot(0).Finalized)
	assert.False(t, r.Slot(0).Active)

	r.Start(th)
	assert.True(t, r.Configured())
	assert.Equal(t, 1, runs, "initializer runs once")
	assert.False(t, r.Slot(0).Ready)
	r.Stop(th)
}

func TestFinalizeIsTerminal(t *testing.T) {
	tbl := newTable(t)
	cb := &countingBackend{Backend: tbl}
	r, rec := newRegistry(t, cb, 2)
	require.True(t, Instrument[int, int](r, 0, "double", 0, "test"))
	double := caller(t, tbl, "double")

	th := r.State().NewThread()
	r.Start(th)
	r.Start(th)
	r.GlobalFinalize(th)

	assert.True(t, r.Finalizing())
	assert.Zero(t, r.Started())
	assert.Zero(t, th.Started(r))
	assert.Equal(t, Info{Filled: 1, Finalized: 2}, r.Info())

	binds, prios := cb.binds.Load(), cb.priorities.Load()
	assert.True(t, Instrument[int, int](r, 0, "double", 0, "test"), "returns filled")
	assert.False(t, Instrument[int, int](r, 1, "double", 0, "test"))
	assert.Equal(t, binds, cb.binds.Load(), "no bind after finalize")
	assert.Equal(t, prios, cb.priorities.Load(), "no priority change after finalize")

	r.Start(th)
	assert.Zero(t, r.Started(), "start after finalize is ignored")
	assert.False(t, r.Slot(0).Ready)
	assert.Equal(t, 8, double(th, 4))
	starts, _ := rec.counts()
	assert.Zero(t, starts)

	assert.NotPanics(t, func() { r.Stop(th) })
	assert.Equal(t, []ReadyState{{Filled: true}, {}}, r.SetReady(true), "finalized slots stay not ready")
}
