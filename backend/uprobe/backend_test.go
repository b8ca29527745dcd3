// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package uprobe

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/interpose/backend"
)

type fakeLink struct {
	link.Link

	closed *int
}

func (l fakeLink) Close() error {
	*l.closed++
	return nil
}

type fakeExecutable struct {
	addresses []uint64
	closed    int
	err       error
}

func (e *fakeExecutable) Uprobe(_ string, _ *ebpf.Program, opts *link.UprobeOptions) (link.Link, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.addresses = append(e.addresses, opts.Address)
	return fakeLink{closed: &e.closed}, nil
}

type fakeCounter struct {
	hits   Hits
	closed bool
}

func (*fakeCounter) Entry() *ebpf.Program  { return nil }
func (*fakeCounter) Return() *ebpf.Program { return nil }
func (c *fakeCounter) Hits() (Hits, error) { return c.hits, nil }

func (c *fakeCounter) Close() error {
	c.closed = true
	return nil
}

func setup(t *testing.T, funcs map[string]*Func) (*fakeExecutable, *fakeCounter) {
	t.Helper()

	exe := &fakeExecutable{}
	c := &fakeCounter{hits: Hits{Entries: 3, Returns: 2}}

	origOpen, origRlimit, origFind, origCounter := openExecutable, rlimitRemoveMemlock, findFunctions, newCounter
	t.Cleanup(func() {
		openExecutable, rlimitRemoveMemlock, findFunctions, newCounter = origOpen, origRlimit, origFind, origCounter
	})

	openExecutable = func(string) (executable, error) { return exe, nil }
	rlimitRemoveMemlock = func() error { return nil }
	findFunctions = func(_ string, names ...string) (map[string]*Func, error) {
		out := make(map[string]*Func)
		for _, n := range names {
			if fn, ok := funcs[n]; ok {
				out[n] = fn
			}
		}
		return out, nil
	}
	newCounter = func() (counter, error) { return c, nil }
	return exe, c
}

func newBackend(t *testing.T, opts ...Option) (*Backend, *backend.Table) {
	t.Helper()

	table := backend.NewTable()
	require.NoError(t, table.Define("main.work", func(int) int { return 1 }))

	opts = append([]Option{
		WithExecutable("/proc/self/exe"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	b, err := New(table, opts...)
	require.NoError(t, err)
	return b, table
}

func TestNewErrors(t *testing.T) {
	setup(t, nil)

	_, err := New(nil)
	assert.Error(t, err)

	rlimitRemoveMemlock = func() error { return assert.AnError }
	_, err = New(backend.NewTable(), WithExecutable("x"))
	assert.ErrorIs(t, err, assert.AnError)

	rlimitRemoveMemlock = func() error { return nil }
	openExecutable = func(string) (executable, error) { return nil, assert.AnError }
	_, err = New(backend.NewTable(), WithExecutable("x"))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAttachDetach(t *testing.T) {
	exe, c := setup(t, map[string]*Func{
		"main.work": {Name: "main.work", Offset: 0x100, ReturnOffsets: []uint64{0x120, 0x140}},
	})
	b, table := newBackend(t)

	bind := &backend.Binding{Name: "main.work", Label: "tool", Wrapper: func(int) int { return 2 }}
	require.NoError(t, b.Bind(bind))
	require.NoError(t, b.SetPriority("tool", 0))

	assert.Equal(t, []uint64{0x100, 0x120, 0x140}, exe.addresses)
	prio, ok := table.Priority("tool")
	require.True(t, ok)
	assert.Equal(t, 0, prio)
	assert.NotNil(t, b.Original(bind))

	// Attaching twice keeps the existing links.
	require.NoError(t, b.SetPriority("tool", 1))
	assert.Len(t, exe.addresses, 3)

	h, err := b.Hits("tool")
	require.NoError(t, err)
	assert.Equal(t, Hits{Entries: 3, Returns: 2}, h)

	require.NoError(t, b.SetPriority("tool", backend.Disable))
	assert.Equal(t, 3, exe.closed)

	require.NoError(t, b.Close())
	assert.True(t, c.closed)
	_, err = b.Hits("tool")
	assert.Error(t, err)
}

func TestSymbolMapper(t *testing.T) {
	exe, _ := setup(t, map[string]*Func{
		"main.(*T).work": {Offset: 0x10},
	})
	b, _ := newBackend(t, WithSymbolMapper(func(string) string { return "main.(*T).work" }))

	require.NoError(t, b.Bind(&backend.Binding{Name: "main.work", Label: "tool", Wrapper: func(int) int { return 2 }}))
	require.NoError(t, b.SetPriority("tool", 0))
	assert.Equal(t, []uint64{0x10}, exe.addresses)
}

func TestMissingSymbol(t *testing.T) {
	calls := 0
	exe, _ := setup(t, nil)
	find := findFunctions
	findFunctions = func(path string, names ...string) (map[string]*Func, error) {
		calls++
		return find(path, names...)
	}
	b, _ := newBackend(t)

	require.NoError(t, b.Bind(&backend.Binding{Name: "main.work", Label: "tool", Wrapper: func(int) int { return 2 }}))
	require.NoError(t, b.SetPriority("tool", 0))
	require.NoError(t, b.SetPriority("tool", 0))
	assert.Empty(t, exe.addresses)
	assert.Equal(t, 1, calls, "misses are cached")
}

func TestAttachFailureKeepsRedirection(t *testing.T) {
	exe, _ := setup(t, map[string]*Func{"main.work": {Offset: 0x100}})
	exe.err = errors.New("permission denied")
	b, table := newBackend(t)

	bind := &backend.Binding{Name: "main.work", Label: "tool", Wrapper: func(int) int { return 2 }}
	require.NoError(t, b.Bind(bind))
	require.NoError(t, b.SetPriority("tool", 0))

	_, ok := table.Priority("tool")
	assert.True(t, ok)
	fn, ok := backend.Lookup[func(int) int](table, "main.work")
	require.True(t, ok)
	assert.Equal(t, 2, fn(0))
}

func TestInnerErrors(t *testing.T) {
	setup(t, nil)
	b, _ := newBackend(t)

	err := b.Bind(&backend.Binding{Name: "main.missing", Label: "tool", Wrapper: func() {}})
	assert.Error(t, err)
	assert.Error(t, b.SetPriority("unknown", 0))
}
