// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package wrap

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/interpose/backend"
	"go.opentelemetry.io/interpose/bundle"
)

type intFunc = func(*Thread, int) int

type recorder struct {
	mu         sync.Mutex
	labels     []string
	constructs int
	starts     int
	stops      int
	meta       []bundle.Metadata
	events     []bundle.Event
	args       [][]any

	onStart func()
}

func (rec *recorder) factory(label string) bundle.Bundle {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.labels = append(rec.labels, label)
	return &recBundle{rec: rec}
}

func (rec *recorder) counts() (starts, stops int) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.starts, rec.stops
}

type recBundle struct{ rec *recorder }

func (b *recBundle) Construct(...any) {
	b.rec.mu.Lock()
	defer b.rec.mu.Unlock()
	b.rec.constructs++
}

func (b *recBundle) Start() {
	b.rec.mu.Lock()
	b.rec.starts++
	fn := b.rec.onStart
	b.rec.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *recBundle) Stop() {
	b.rec.mu.Lock()
	defer b.rec.mu.Unlock()
	b.rec.stops++
}

func (b *recBundle) Store(m bundle.Metadata) {
	b.rec.mu.Lock()
	defer b.rec.mu.Unlock()
	b.rec.meta = append(b.rec.meta, m)
}

func (b *recBundle) Audit(e bundle.Event, args ...any) {
	b.rec.mu.Lock()
	defer b.rec.mu.Unlock()
	b.rec.events = append(b.rec.events, e)
	b.rec.args = append(b.rec.args, args)
}

type countingBackend struct {
	backend.Backend

	binds      atomic.Int32
	priorities atomic.Int32
}

func (b *countingBackend) Bind(x *backend.Binding) error {
	b.binds.Add(1)
	return b.Backend.Bind(x)
}

func (b *countingBackend) SetPriority(label string, p int) error {
	b.priorities.Add(1)
	return b.Backend.SetPriority(label, p)
}

// unresolved binds everything and never resolves an original.
type unresolved struct{}

func (unresolved) Bind(*backend.Binding) error   { return nil }
func (unresolved) SetPriority(string, int) error { return nil }
func (unresolved) Original(*backend.Binding) any { return nil }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTable(t *testing.T) *backend.Table {
	t.Helper()
	tbl := backend.NewTable()
	require.NoError(t, tbl.Define("double", func(_ *Thread, x int) int { return 2 * x }))
	require.NoError(t, tbl.Define("sink", func(*Thread, string) {}))
	return tbl
}

func newRegistry(t *testing.T, b backend.Backend, size int, opts ...Option) (*Registry, *recorder) {
	t.Helper()
	rec := &recorder{}
	st := NewState(WithLogger(discard()))
	opts = append([]Option{WithName("test"), WithBackend(b), WithBundle(rec.factory)}, opts...)
	r, err := New(st, size, opts...)
	require.NoError(t, err)
	return r, rec
}

func caller(t *testing.T, tbl *backend.Table, name string) intFunc {
	t.Helper()
	return func(th *Thread, x int) int {
		fn, ok := backend.Lookup[intFunc](tbl, name)
		require.True(t, ok, "resolve %s", name)
		return fn(th, x)
	}
}
