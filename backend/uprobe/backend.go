// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package uprobe provides a backend that observes the machine-level calls of
// bound functions with eBPF uprobes.
//
// Redirection is delegated to an inner backend. For every tool label with a
// non-negative priority, uprobes are attached to the entry and the return
// instructions of the bound functions in the running executable and their
// hits are counted in an eBPF map.
package uprobe

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	pkgerrors "github.com/pkg/errors"

	"go.opentelemetry.io/interpose/backend"
)

type executable interface {
	Uprobe(symbol string, prog *ebpf.Program, opts *link.UprobeOptions) (link.Link, error)
}

var (
	openExecutable = func(path string) (executable, error) {
		return link.OpenExecutable(path)
	}
	rlimitRemoveMemlock = rlimit.RemoveMemlock
	findFunctions       = FindFunctions
	newCounter          = loadCounter
)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger of the Backend.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithExecutable sets the executable uprobes are attached to. By default
// it is the running executable.
func WithExecutable(path string) Option {
	return func(b *Backend) { b.path = path }
}

// WithSymbolMapper sets the function mapping a bound name to the symbol
// name of the executable. By default names are used unchanged.
func WithSymbolMapper(fn func(string) string) Option {
	return func(b *Backend) { b.symbol = fn }
}

// tool is the uprobe state of a tool label.
type tool struct {
	symbols []string
	counter counter
	links   []link.Link
}

// Backend is a backend.Backend that counts the calls of the functions bound
// to an inner backend.
type Backend struct {
	inner  backend.Backend
	logger *slog.Logger
	path   string
	pid    int
	symbol func(string) string

	mu    sync.Mutex
	exe   executable
	funcs map[string]*Func
	tools map[string]*tool
}

var _ backend.Backend = (*Backend)(nil)

// New returns a Backend decorating inner.
func New(inner backend.Backend, opts ...Option) (*Backend, error) {
	if inner == nil {
		return nil, errors.New("nil inner backend")
	}
	b := &Backend{
		inner:  inner,
		pid:    os.Getpid(),
		symbol: func(s string) string { return s },
		funcs:  make(map[string]*Func),
		tools:  make(map[string]*tool),
	}
	for _, o := range opts {
		o(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if b.path == "" {
		p, err := os.Executable()
		if err != nil {
			return nil, pkgerrors.Wrap(err, "resolve executable")
		}
		b.path = p
	}

	if err := rlimitRemoveMemlock(); err != nil {
		return nil, pkgerrors.Wrap(err, "remove memlock rlimit")
	}
	exe, err := openExecutable(b.path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open executable %s", b.path)
	}
	b.exe = exe
	b.logger = b.logger.With("executable", b.path)
	return b, nil
}

// Bind binds bind with the inner backend and records its symbol for the
// tool label.
func (b *Backend) Bind(bind *backend.Binding) error {
	if err := b.inner.Bind(bind); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tools[bind.Label]
	if !ok {
		t = &tool{}
		b.tools[bind.Label] = t
	}
	t.symbols = append(t.symbols, b.symbol(bind.Name))
	return nil
}

// SetPriority sets the priority with the inner backend. A non-negative
// priority attaches the uprobes of the tool, Disable detaches them.
//
// Failing to attach is logged and does not fail the call, the inner
// redirection stays in effect.
func (b *Backend) SetPriority(label string, priority int) error {
	if err := b.inner.SetPriority(label, priority); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tools[label]
	if !ok {
		return nil
	}
	if priority < 0 {
		if err := t.detach(); err != nil {
			b.logger.Warn("failed to detach uprobes", "tool", label, "error", err)
		}
		return nil
	}
	if err := b.attach(t); err != nil {
		b.logger.Warn("failed to attach uprobes", "tool", label, "error", err)
		return nil
	}
	b.logger.Debug("uprobes attached", "tool", label, "links", len(t.links))
	return nil
}

// Original returns the original function from the inner backend.
func (b *Backend) Original(bind *backend.Binding) any {
	return b.inner.Original(bind)
}

// Hits returns the calls counted for the tool label.
func (b *Backend) Hits(label string) (Hits, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tools[label]
	if !ok || t.counter == nil {
		return Hits{}, fmt.Errorf("no uprobes for tool %q", label)
	}
	return t.counter.Hits()
}

// Close detaches every uprobe and releases the eBPF resources.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	for _, t := range b.tools {
		err = errors.Join(err, t.detach())
		if t.counter != nil {
			err = errors.Join(err, t.counter.Close())
			t.counter = nil
		}
	}
	return err
}

func (b *Backend) attach(t *tool) error {
	if len(t.links) > 0 {
		return nil
	}
	if t.counter == nil {
		c, err := newCounter()
		if err != nil {
			return err
		}
		t.counter = c
	}

	funcs, err := b.lookup(t.symbols)
	if err != nil {
		return err
	}

	for _, sym := range t.symbols {
		fn, ok := funcs[sym]
		if !ok {
			b.logger.Debug("symbol not found", "symbol", sym)
			continue
		}
		l, err := b.exe.Uprobe("", t.counter.Entry(), &link.UprobeOptions{Address: fn.Offset, PID: b.pid})
		if err != nil {
			return errors.Join(pkgerrors.Wrapf(err, "attach entry of %s", sym), t.detach())
		}
		t.links = append(t.links, l)

		for _, off := range fn.ReturnOffsets {
			l, err := b.exe.Uprobe("", t.counter.Return(), &link.UprobeOptions{Address: off, PID: b.pid})
			if err != nil {
				return errors.Join(pkgerrors.Wrapf(err, "attach return of %s", sym), t.detach())
			}
			t.links = append(t.links, l)
		}
	}
	return nil
}

// lookup returns the functions of syms, reading the executable only for
// symbols not seen before.
func (b *Backend) lookup(syms []string) (map[string]*Func, error) {
	var missing []string
	for _, s := range syms {
		if _, ok := b.funcs[s]; !ok {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		found, err := findFunctions(b.path, missing...)
		if err != nil {
			return nil, err
		}
		for _, s := range missing {
			// Record misses too so they are not searched again.
			b.funcs[s] = found[s]
		}
	}

	out := make(map[string]*Func, len(syms))
	for _, s := range syms {
		if fn := b.funcs[s]; fn != nil {
			out[s] = fn
		}
	}
	return out, nil
}

func (t *tool) detach() error {
	var err error
	for _, l := range t.links {
		err = errors.Join(err, l.Close())
	}
	t.links = nil
	return err
}
