// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package rusage provides a bundle measuring the resource usage of
// intercepted calls.
//
// On Linux the usage of the calling OS thread is sampled. Measurements are
// exact only for goroutines locked to their thread with
// runtime.LockOSThread; otherwise a call may be charged for work done on
// another thread between Start and Stop.
package rusage

import (
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/interpose/bundle"
)

// Sample is a resource usage reading.
type Sample struct {
	User   time.Duration
	System time.Duration
	// MaxRSS is the peak resident set size in kilobytes.
	MaxRSS         int64
	InBlock        int64
	OutBlock       int64
	VolCtxSwitch   int64
	InvolCtxSwitch int64
}

// sub returns the usage between s and earlier. Counters that went backwards
// (the goroutine moved to another thread) are clamped to zero. MaxRSS is a
// peak and is kept as-is.
func (s Sample) sub(earlier Sample) Sample {
	return Sample{
		User:           max(0, s.User-earlier.User),
		System:         max(0, s.System-earlier.System),
		MaxRSS:         s.MaxRSS,
		InBlock:        max(0, s.InBlock-earlier.InBlock),
		OutBlock:       max(0, s.OutBlock-earlier.OutBlock),
		VolCtxSwitch:   max(0, s.VolCtxSwitch-earlier.VolCtxSwitch),
		InvolCtxSwitch: max(0, s.InvolCtxSwitch-earlier.InvolCtxSwitch),
	}
}

// Totals is the accumulated usage of a label.
type Totals struct {
	Calls int64
	Sample
}

func (t *Totals) add(s Sample) {
	t.Calls++
	t.User += s.User
	t.System += s.System
	t.MaxRSS = max(t.MaxRSS, s.MaxRSS)
	t.InBlock += s.InBlock
	t.OutBlock += s.OutBlock
	t.VolCtxSwitch += s.VolCtxSwitch
	t.InvolCtxSwitch += s.InvolCtxSwitch
}

// readUsage is overridden in testing.
var readUsage = sample

// Accumulator collects the usage measured by its bundles.
type Accumulator struct {
	mu     sync.Mutex
	totals map[string]*Totals
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{totals: make(map[string]*Totals)}
}

// Factory returns a bundle.Factory whose bundles report to a.
func (a *Accumulator) Factory() bundle.Factory {
	return func(label string) bundle.Bundle {
		return &usage{acc: a, label: label}
	}
}

// Totals returns the accumulated usage of label.
func (a *Accumulator) Totals(label string) (Totals, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.totals[label]
	if !ok {
		return Totals{}, false
	}
	return *t, true
}

// Labels returns the sorted labels measured so far.
func (a *Accumulator) Labels() []string {
	a.mu.Lock()
	out := make([]string, 0, len(a.totals))
	for l := range a.totals {
		out = append(out, l)
	}
	a.mu.Unlock()

	sort.Strings(out)
	return out
}

func (a *Accumulator) add(label string, s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.totals[label]
	if !ok {
		t = new(Totals)
		a.totals[label] = t
	}
	t.add(s)
}

type usage struct {
	acc     *Accumulator
	label   string
	start   Sample
	started bool
}

func (u *usage) Construct(...any)           {}
func (u *usage) Store(bundle.Metadata)      {}
func (u *usage) Audit(bundle.Event, ...any) {}

func (u *usage) Start() {
	u.start = readUsage()
	u.started = true
}

func (u *usage) Stop() {
	if !u.started {
		return
	}
	u.started = false
	u.acc.add(u.label, readUsage().sub(u.start))
}
