// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"sort"
	"sync"
)

type tool struct {
	priority int
	order    int
	bindings []*Binding
}

// Table is an in-process Backend. Interceptable functions are defined in the
// table by name and call sites resolve them through it, so binding a wrapper
// redirects every later call.
//
// Bindings of the same symbol are stacked: the tool with the highest
// priority is called first, ties are broken by bind order.
type Table struct {
	mu        sync.RWMutex
	originals map[string]any
	tools     map[string]*tool
	symbols   map[string][]*Binding
	// chains caches the enabled bindings, outermost first, per symbol.
	chains map[string][]*Binding
	seq    int
}

var _ Backend = (*Table)(nil)

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{
		originals: make(map[string]any),
		tools:     make(map[string]*tool),
		symbols:   make(map[string][]*Binding),
		chains:    make(map[string][]*Binding),
	}
}

// Define registers fn as the original function called name.
func (t *Table) Define(name string, fn any) error {
	if fn == nil {
		return fmt.Errorf("define %q: nil function", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.originals[name]; ok {
		return fmt.Errorf("define %q: already defined", name)
	}
	t.originals[name] = fn
	t.rebuild(name)
	return nil
}

// Bind implements Backend.
func (t *Table) Bind(b *Binding) error {
	if b == nil || b.Wrapper == nil {
		return InternalError
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.originals[b.Name]; !ok {
		return FunctionNotFound
	}

	for _, bound := range t.symbols[b.Name] {
		if bound == b {
			return nil
		}
	}

	tl, ok := t.tools[b.Label]
	if !ok {
		t.seq++
		tl = &tool{order: t.seq}
		t.tools[b.Label] = tl
	}
	tl.bindings = append(tl.bindings, b)

	t.symbols[b.Name] = append(t.symbols[b.Name], b)
	b.Handle = b.Name
	t.rebuild(b.Name)
	return nil
}

// SetPriority implements Backend.
func (t *Table) SetPriority(label string, priority int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tl, ok := t.tools[label]
	if !ok {
		return InvalidTool
	}
	if priority < 0 {
		priority = Disable
	}
	tl.priority = priority

	for _, b := range tl.bindings {
		t.rebuild(b.Name)
	}
	return nil
}

// Original implements Backend.
func (t *Table) Original(b *Binding) any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	orig, ok := t.originals[b.Name]
	if !ok {
		return nil
	}

	active := t.chains[b.Name]
	for i, bound := range active {
		if bound == b && i+1 < len(active) {
			return active[i+1].Wrapper
		}
	}
	return orig
}

// Resolve returns the outermost implementation of name, or nil if name is
// not defined.
func (t *Table) Resolve(name string) any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	orig, ok := t.originals[name]
	if !ok {
		return nil
	}
	if chain := t.chains[name]; len(chain) > 0 {
		return chain[0].Wrapper
	}
	return orig
}

// Priority returns the priority of the tool label.
func (t *Table) Priority(label string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tl, ok := t.tools[label]
	if !ok {
		return 0, false
	}
	return tl.priority, true
}

// Lookup resolves name in t as a function of type F.
func Lookup[F any](t *Table, name string) (F, bool) {
	fn, ok := t.Resolve(name).(F)
	return fn, ok
}

// active returns the enabled bindings of name, outermost first. t.mu must be
// held.
func (t *Table) active(name string) []*Binding {
	var out []*Binding
	for _, b := range t.symbols[name] {
		if t.tools[b.Label].priority >= 0 {
			out = append(out, b)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := t.tools[out[i].Label], t.tools[out[j].Label]
		if ti.priority != tj.priority {
			return ti.priority > tj.priority
		}
		return ti.order < tj.order
	})
	return out
}

// rebuild refreshes the cached chain of name. t.mu must be held for writing.
func (t *Table) rebuild(name string) {
	t.chains[name] = t.active(name)
}
