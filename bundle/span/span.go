// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package span provides a bundle that records every intercepted call as an
// OpenTelemetry span.
package span

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/interpose/bundle"
)

const (
	// ScopeName is the instrumentation scope of the spans.
	ScopeName = "go.opentelemetry.io/interpose"

	keyIndex      = attribute.Key("interpose.slot.index")
	keyIdentifier = attribute.Key("interpose.function")
	keyPriority   = attribute.Key("interpose.priority")
	keyArgs       = attribute.Key("interpose.args")
	keyResult     = attribute.Key("interpose.result")
)

// New returns a bundle.Factory creating spans with tracer.
func New(tracer trace.Tracer) bundle.Factory {
	return func(label string) bundle.Bundle {
		return &span{tracer: tracer, name: label}
	}
}

// NewFromProvider returns a bundle.Factory creating spans with a tracer
// from tp.
func NewFromProvider(tp trace.TracerProvider) bundle.Factory {
	return New(tp.Tracer(ScopeName))
}

type span struct {
	tracer trace.Tracer
	name   string
	args   []any
	span   trace.Span
}

func (s *span) Construct(args ...any) {
	s.args = args
}

func (s *span) Start() {
	_, s.span = s.tracer.Start(
		context.Background(),
		s.name,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (s *span) Stop() {
	if s.span != nil {
		s.span.End()
	}
}

func (s *span) Store(m bundle.Metadata) {
	if s.span == nil {
		return
	}
	s.span.SetAttributes(
		keyIndex.Int(m.Index),
		keyIdentifier.String(m.Identifier),
		keyPriority.Int(m.Priority),
	)
}

func (s *span) Audit(e bundle.Event, args ...any) {
	if s.span == nil {
		return
	}

	key := keyArgs
	if e == bundle.Outgoing {
		key = keyResult
	}

	var attrs []attribute.KeyValue
	if len(args) > 0 {
		attrs = append(attrs, key.StringSlice(format(args)))
	}
	s.span.AddEvent(e.String(), trace.WithAttributes(attrs...))
}

func format(args []any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = fmt.Sprint(a)
	}
	return out
}
