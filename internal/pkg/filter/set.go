// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"sort"
	"sync"
)

// Set is a set of function identifiers safe for concurrent use.
type Set struct {
	mu sync.RWMutex
	m  map[string]struct{}
}

// NewSet returns a Set holding ids.
func NewSet(ids ...string) *Set {
	s := &Set{m: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.m[id] = struct{}{}
	}
	return s
}

// Add adds ids to s.
func (s *Set) Add(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]struct{}, len(ids))
	}
	for _, id := range ids {
		s.m[id] = struct{}{}
	}
}

// Remove removes ids from s.
func (s *Set) Remove(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.m, id)
	}
}

// Replace replaces the content of s with ids.
func (s *Set) Replace(ids ...string) {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}

	s.mu.Lock()
	s.m = m
	s.mu.Unlock()
}

// Clear removes every identifier.
func (s *Set) Clear() { s.Replace() }

// Has reports whether id is in s.
func (s *Set) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[id]
	return ok
}

// Len returns the number of identifiers in s.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Values returns the sorted identifiers in s.
func (s *Set) Values() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.m))
	for id := range s.m {
		out = append(out, id)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out
}
