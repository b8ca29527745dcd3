// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"go.opentelemetry.io/interpose"
	"go.opentelemetry.io/interpose/backend"
	"go.opentelemetry.io/interpose/wrap"
)

// Names of the intercepted functions. They match the symbols of the
// implementations so uprobes can be attached to them.
const (
	fibName      = "main.fib"
	checksumName = "main.checksum"
	spinName     = "main.spin"
)

const (
	fibSlot = iota
	checksumSlot
	spinSlot

	numSlots
)

// workload runs intercepted functions resolved through a Table.
type workload struct {
	table *backend.Table

	depth int
	data  []byte
	spin  time.Duration
}

func newWorkload(depth int, spinDur time.Duration) (*workload, error) {
	w := &workload{
		table: backend.NewTable(),
		depth: depth,
		data:  make([]byte, 4096),
		spin:  spinDur,
	}
	for i := range w.data {
		w.data[i] = byte(i)
	}

	defs := []struct {
		name string
		fn   any
	}{
		{fibName, func(th *wrap.Thread, n int) int { return fib(w, th, n) }},
		{checksumName, func(_ *wrap.Thread, b []byte) uint64 { return checksum(b) }},
		{spinName, func(_ *wrap.Thread, d time.Duration) { spin(d) }},
	}
	for _, d := range defs {
		if err := w.table.Define(d.name, d.fn); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// instrument creates the registry of the workload functions in inst.
func (w *workload) instrument(inst *interpose.Instrumentation) (*wrap.Registry, error) {
	r, err := inst.NewRegistry(numSlots, wrap.WithName("workload"))
	if err != nil {
		return nil, err
	}

	tool := inst.Tool()
	filled := []bool{
		fibSlot:      wrap.Instrument[int, int](r, fibSlot, fibName, 0, tool),
		checksumSlot: wrap.Instrument[[]byte, uint64](r, checksumSlot, checksumName, 0, tool),
		spinSlot:     wrap.InstrumentVoid[time.Duration](r, spinSlot, spinName, 0, tool),
	}
	names := []string{fibSlot: fibName, checksumSlot: checksumName, spinSlot: spinName}
	for n, ok := range filled {
		if !ok {
			inst.Logger().Debug(
				"workload function not intercepted",
				"registry", r.Name(),
				"slot", n,
				"function", names[n],
			)
		}
	}
	return r, nil
}

func call[A, R any](t *backend.Table, name string, th *wrap.Thread, a A) R {
	fn, ok := backend.Lookup[func(*wrap.Thread, A) R](t, name)
	if !ok {
		panic(fmt.Sprintf("unresolved function %s", name))
	}
	return fn(th, a)
}

func callVoid[A any](t *backend.Table, name string, th *wrap.Thread, a A) {
	fn, ok := backend.Lookup[func(*wrap.Thread, A)](t, name)
	if !ok {
		panic(fmt.Sprintf("unresolved function %s", name))
	}
	fn(th, a)
}

// iteration runs every workload function once and returns the fib and
// checksum results.
func (w *workload) iteration(th *wrap.Thread) (int, uint64) {
	f := call[int, int](w.table, fibName, th, w.depth)
	sum := call[[]byte, uint64](w.table, checksumName, th, w.data)
	callVoid(w.table, spinName, th, w.spin)
	return f, sum
}

// run runs iterations on each of workers goroutines until done or ctx is
// canceled. It returns the number of completed iterations.
func (w *workload) run(ctx context.Context, inst *interpose.Instrumentation, workers, iterations int) int64 {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			th := inst.NewThread()
			inst.Start(th)
			defer inst.Stop(th)

			var n int64
			for j := 0; j < iterations && ctx.Err() == nil; j++ {
				w.iteration(th)
				n++
			}

			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	return total
}

//go:noinline
func fib(w *workload, th *wrap.Thread, n int) int {
	if n < 2 {
		return n
	}
	return call[int, int](w.table, fibName, th, n-1) + call[int, int](w.table, fibName, th, n-2)
}

//go:noinline
func checksum(b []byte) uint64 {
	return xxhash.Sum64(b)
}

//go:noinline
func spin(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}
