// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package otelsdk builds the OpenTelemetry TracerProvider used to record the
// spans of measured calls.
package otelsdk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"go.opentelemetry.io/interpose/config"
)

const (
	// envServiceName is the key for the envoriment variable value containing
	// the service name.
	envServiceNameKey = "OTEL_SERVICE_NAME"
	// envResourceAttrKey is the key for the environment variable value
	// containing OpenTelemetry Resource attributes.
	envResourceAttrKey = "OTEL_RESOURCE_ATTRIBUTES"
	// envTracesExportersKey is the key for the environment variable value
	// containing what OpenTelemetry trace exporter to use.
	envTracesExportersKey = "OTEL_TRACES_EXPORTER"
)

// Option configures the TracerProvider returned by [NewTracerProvider].
type Option interface {
	apply(context.Context, settings) (settings, error)
}

type fnOpt func(context.Context, settings) (settings, error)

func (o fnOpt) apply(ctx context.Context, s settings) (settings, error) {
	return o(ctx, s)
}

// WithServiceName returns an [Option] defining the name of the service running.
//
// If multiple of these options are provided, the last one will be used.
func WithServiceName(name string) Option {
	return fnOpt(func(_ context.Context, s settings) (settings, error) {
		s.resAttrs = append(s.resAttrs, semconv.ServiceName(name))
		return s, nil
	})
}

// WithResourceAttributes returns an [Option] that will configure attributes to
// be added to the OpenTelemetry Resource.
func WithResourceAttributes(attrs ...attribute.KeyValue) Option {
	return fnOpt(func(_ context.Context, s settings) (settings, error) {
		s.resAttrs = append(s.resAttrs, attrs...)
		return s, nil
	})
}

// WithTraceExporter returns an [Option] that will configure exp as the
// OpenTelemetry tracing exporter used.
//
// If OTEL_TRACES_EXPORTER is defined, this option will conflict with
// [WithEnv]. If both are used, the last one provided will be used.
func WithTraceExporter(exp sdk.SpanExporter) Option {
	return fnOpt(func(_ context.Context, s settings) (settings, error) {
		s.exporter = exp
		return s, nil
	})
}

// WithSampler returns an [Option] that will configure the sampler of
// measured calls. Every call is sampled by default.
func WithSampler(sampler config.Sampler) Option {
	return fnOpt(func(_ context.Context, s settings) (settings, error) {
		smp, err := config.BuildSampler(sampler)
		if err != nil {
			return s, err
		}
		if smp != nil {
			s.sampler = smp
		}
		return s, nil
	})
}

var (
	lookupEnv = os.LookupEnv
	getEnv    = os.Getenv
)

// WithEnv returns an [Option] that will apply configuration using the values
// defined by the following environment variables:
//
//   - OTEL_SERVICE_NAME (or OTEL_RESOURCE_ATTRIBUTES): sets the service name
//   - OTEL_TRACES_EXPORTER: sets the trace exporter
//   - OTEL_TRACES_SAMPLER and OTEL_TRACES_SAMPLER_ARG: sets the sampler
//
// The OTEL_TRACES_EXPORTER environment variable value is resolved using the
// [autoexport] package. See that package's documentation for information on
// supported values and registration of custom exporters.
func WithEnv() Option {
	return fnOpt(func(ctx context.Context, s settings) (settings, error) {
		var err error
		if _, ok := lookupEnv(envTracesExportersKey); ok {
			// autoexport reads the variable itself.
			var e error
			s.exporter, e = autoexport.NewSpanExporter(ctx)
			err = errors.Join(err, e)
		}

		sampler, e := config.NewSamplerFromEnv(lookupEnv)
		if e != nil {
			err = errors.Join(err, e)
		} else if smp, e := config.BuildSampler(sampler); e != nil {
			err = errors.Join(err, e)
		} else if smp != nil {
			s.sampler = smp
		}

		s.resAttrs = append(s.resAttrs, lookupResourceData()...)
		return s, err
	})
}

func lookupResourceData() []attribute.KeyValue {
	rawVal := getEnv(envResourceAttrKey)
	pairs := strings.Split(strings.TrimSpace(rawVal), ",")

	var attrs []attribute.KeyValue
	for _, pair := range pairs {
		key, val, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		attrs = append(attrs, attribute.String(key, val))
	}

	if v, ok := lookupEnv(envServiceNameKey); ok {
		attrs = append(attrs, semconv.ServiceName(v))
	}

	return attrs
}

type settings struct {
	exporter sdk.SpanExporter
	sampler  sdk.Sampler
	resAttrs []attribute.KeyValue
}

func newSettings(ctx context.Context, options []Option) (settings, error) {
	s := settings{
		sampler: sdk.AlwaysSample(),
		resAttrs: []attribute.KeyValue{
			semconv.ServiceName(defaultServiceName()),
		},
	}

	var err error
	for _, opt := range options {
		var e error
		s, e = opt.apply(ctx, s)
		err = errors.Join(err, e)
	}
	return s, err
}

func defaultServiceName() string {
	executable, err := os.Executable()
	if err != nil {
		return "unknown_service:go"
	}
	return "unknown_service:" + filepath.Base(executable)
}

// NewTracerProvider returns a TracerProvider exporting the spans of measured
// calls. Spans are exported with OTLP over HTTP unless an exporter is
// configured.
func NewTracerProvider(ctx context.Context, options ...Option) (*sdk.TracerProvider, error) {
	s, err := newSettings(ctx, options)
	if err != nil {
		return nil, err
	}

	exp := s.exporter
	if exp == nil {
		exp, err = otlptracehttp.New(ctx)
		if err != nil {
			return nil, err
		}
	}

	return sdk.NewTracerProvider(
		sdk.WithSampler(s.sampler),
		sdk.WithResource(s.resource()),
		sdk.WithBatcher(exp),
	), nil
}

func (s settings) resource() *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		append(
			[]attribute.KeyValue{
				semconv.TelemetrySDKLanguageGo,
				semconv.TelemetryDistroNameKey.String("opentelemetry-go-interpose"),
			},
			s.resAttrs...,
		)...,
	)
}
