// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package labels stores the labels of intercepted functions so reporting can
// resolve them from their hash without hashing strings at call time.
package labels

import (
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/ianlancetaylor/demangle"
)

// ID is the storage index of a label.
type ID uint64

// Store maps label IDs back to labels.
type Store struct {
	mu     sync.RWMutex
	labels map[ID]string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{labels: make(map[ID]string)}
}

// Hash returns the ID of label without registering it.
func Hash(label string) ID {
	return ID(xxhash.Sum64String(label))
}

// Register records label and returns its ID.
func (s *Store) Register(label string) ID {
	id := Hash(label)

	s.mu.RLock()
	_, ok := s.labels[id]
	s.mu.RUnlock()
	if ok {
		return id
	}

	s.mu.Lock()
	if s.labels == nil {
		s.labels = make(map[ID]string)
	}
	s.labels[id] = label
	s.mu.Unlock()
	return id
}

// Lookup returns the label registered for id.
func (s *Store) Lookup(id ID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.labels[id]
	return l, ok
}

// Len returns the number of registered labels.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.labels)
}

// Display returns the human readable label for the function identifier.
// Mangled symbol names are demangled. When tool is not empty the label is
// namespaced as "tool/label" and duplicate separators are collapsed.
func Display(identifier, tool string) string {
	label := demangle.Filter(identifier)
	if tool == "" || strings.HasPrefix(label, tool+"/") {
		return label
	}

	label = tool + "/" + label
	for strings.Contains(label, "//") {
		label = strings.ReplaceAll(label, "//", "/")
	}
	return label
}
