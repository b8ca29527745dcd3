// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package wrap

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-version"

	"go.opentelemetry.io/interpose/internal/pkg/filter"
	"go.opentelemetry.io/interpose/internal/pkg/labels"
	"go.opentelemetry.io/interpose/internal/pkg/suppress"
)

// State is the process-wide state shared by every Registry of an
// instrumented process.
type State struct {
	logger *slog.Logger
	labels *labels.Store

	global     suppress.Flag
	suppressed *filter.Set

	debug   atomic.Bool
	verbose atomic.Int32

	versionsMu sync.RWMutex
	versions   map[string]*version.Version

	threads atomic.Int64
}

// StateOption configures a State.
type StateOption func(*State)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) StateOption {
	return func(s *State) { s.logger = l }
}

// WithLabels sets the label storage.
func WithLabels(store *labels.Store) StateOption {
	return func(s *State) { s.labels = store }
}

// WithDebug enables debug diagnostics.
func WithDebug(v bool) StateOption {
	return func(s *State) { s.debug.Store(v) }
}

// WithVerbose sets the verbosity used to report backend failures. Failures
// are reported when the verbosity is at least 0, successful operations when
// it is greater than 1.
func WithVerbose(v int) StateOption {
	return func(s *State) { s.verbose.Store(int32(v)) }
}

// NewState returns a new State.
func NewState(opts ...StateOption) *State {
	s := &State{
		suppressed: filter.NewSet(),
		versions:   make(map[string]*version.Version),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.labels == nil {
		s.labels = labels.NewStore()
	}
	return s
}

// Logger returns the logger of s.
func (s *State) Logger() *slog.Logger { return s.logger }

// Labels returns the label storage of s.
func (s *State) Labels() *labels.Store { return s.labels }

// Global returns the global suppression flag.
func (s *State) Global() *suppress.Flag { return &s.global }

// AddGlobalSuppression marks the functions ids as suppressed. Slots filled
// for them afterwards are never ready.
func (s *State) AddGlobalSuppression(ids ...string) {
	s.suppressed.Add(ids...)
}

// Suppressions returns the set of suppressed function identifiers.
func (s *State) Suppressions() *filter.Set { return s.suppressed }

// Debug reports whether debug diagnostics are enabled.
func (s *State) Debug() bool { return s.debug.Load() }

// SetDebug enables or disables debug diagnostics.
func (s *State) SetDebug(v bool) { s.debug.Store(v) }

// Verbose returns the verbosity.
func (s *State) Verbose() int { return int(s.verbose.Load()) }

// SetVerbose sets the verbosity.
func (s *State) SetVerbose(v int) { s.verbose.Store(int32(v)) }

// SetVersion records the version of pkg loaded in the process.
func (s *State) SetVersion(pkg string, v *version.Version) {
	s.versionsMu.Lock()
	defer s.versionsMu.Unlock()
	s.versions[pkg] = v
}

// Version returns the version of pkg, or nil if it is unknown.
func (s *State) Version(pkg string) *version.Version {
	s.versionsMu.RLock()
	defer s.versionsMu.RUnlock()
	return s.versions[pkg]
}

// NewThread returns the handle of a new thread of execution.
func (s *State) NewThread() *Thread {
	return &Thread{
		id:      s.threads.Add(1) - 1,
		started: make(map[*Registry]int64),
	}
}
