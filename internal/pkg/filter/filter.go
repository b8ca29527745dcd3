// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package filter decides which functions may be intercepted.
package filter

import (
	"log/slog"
	"strings"
)

// DefaultUnsafe are functions whose re-entrant interception by a measurement
// wrapper is known to deadlock the host process.
var DefaultUnsafe = []string{
	"MPI_Pcontrol",
	"MPI_T_init_thread",
	"MPI_Comm_split",
	"MPI_Abort",
	"MPI_Comm_split_type",
}

// Policy is the filter applied before a function is wrapped.
type Policy struct {
	// Permit, when non-empty, is the only set of identifiers that may be
	// wrapped.
	Permit *Set
	// Reject holds identifiers that are never wrapped. It takes precedence
	// over Permit.
	Reject *Set
	// Replace is true when the wrappers substitute the original function
	// instead of measuring around it. Replacements are allowed to wrap
	// Unsafe functions.
	Replace bool
	// Unsafe overrides DefaultUnsafe when non-nil.
	Unsafe []string

	Logger *slog.Logger
	// Debug reports whether rejections are logged.
	Debug func() bool
}

// NewPolicy returns a Policy with empty permit and reject lists.
func NewPolicy(logger *slog.Logger, debug func() bool) *Policy {
	return &Policy{
		Permit: NewSet(),
		Reject: NewSet(),
		Logger: logger,
		Debug:  debug,
	}
}

// Permitted reports whether the function identified by id may be wrapped.
func (p *Policy) Permitted(id string) bool {
	if !p.Replace && p.unsafe(id) {
		p.reject(id, "function is unsafe to wrap")
		return false
	}

	if p.Reject != nil && p.Reject.Has(id) {
		p.reject(id, "function is in reject list")
		return false
	}

	if p.Permit != nil && p.Permit.Len() > 0 && !p.Permit.Has(id) {
		p.reject(id, "function is not in permit list")
		return false
	}

	return true
}

func (p *Policy) unsafe(id string) bool {
	lower := strings.ToLower(id)
	if !strings.Contains(lower, "mpi_") {
		return false
	}

	names := p.Unsafe
	if names == nil {
		names = DefaultUnsafe
	}
	for _, name := range names {
		if strings.EqualFold(id, name) || lower == fortranName(name) {
			return true
		}
	}
	return false
}

// fortranName returns the lower-case, trailing-underscore spelling Fortran
// compilers emit for name.
func fortranName(name string) string {
	name = strings.ToLower(name)
	if !strings.HasSuffix(name, "_") {
		name += "_"
	}
	return name
}

func (p *Policy) reject(id, cause string) {
	if p.Logger == nil || p.Debug == nil || !p.Debug() {
		return
	}
	p.Logger.Debug("skipping function binding", "function", id, "reason", cause)
}
