// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package span

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"go.opentelemetry.io/interpose/bundle"
)

func TestSpanBundle(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdk.NewTracerProvider(sdk.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	b := NewFromProvider(tp)("tool/fib")
	b.Construct(10)
	b.Start()
	b.Store(bundle.Metadata{Index: 2, Identifier: "fib", Label: "tool/fib", Priority: 3})
	b.Audit(bundle.Incoming, 10)
	b.Audit(bundle.Outgoing, 55)
	b.Stop()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	s := spans[0]

	assert.Equal(t, "tool/fib", s.Name())
	assert.Equal(t, ScopeName, s.InstrumentationScope().Name)
	assert.ElementsMatch(t, []attribute.KeyValue{
		keyIndex.Int(2),
		keyIdentifier.String("fib"),
		keyPriority.Int(3),
	}, s.Attributes())

	events := s.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "incoming", events[0].Name)
	assert.Equal(t, []attribute.KeyValue{keyArgs.StringSlice([]string{"10"})}, events[0].Attributes)
	assert.Equal(t, "outgoing", events[1].Name)
	assert.Equal(t, []attribute.KeyValue{keyResult.StringSlice([]string{"55"})}, events[1].Attributes)
}

func TestSpanBundleNotStarted(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdk.NewTracerProvider(sdk.WithSpanProcessor(sr))

	b := NewFromProvider(tp)("idle")
	assert.NotPanics(t, func() {
		b.Store(bundle.Metadata{})
		b.Audit(bundle.Outgoing)
		b.Stop()
	})
	assert.Empty(t, sr.Ended())
}
