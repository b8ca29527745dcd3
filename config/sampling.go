// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"strconv"
	"strings"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Sampler decides whether a measured call is recorded as a sampled span.
type Sampler interface {
	validate() error
	build() (sdktrace.Sampler, error)
}

// Sampler names and environment variables defined by OpenTelemetry.
const (
	TracesSamplerKey    = "OTEL_TRACES_SAMPLER"
	TracesSamplerArgKey = "OTEL_TRACES_SAMPLER_ARG"

	SamplerNameAlwaysOn                = "always_on"
	SamplerNameAlwaysOff               = "always_off"
	SamplerNameTraceIDRatio            = "traceidratio"
	SamplerNameParentBasedAlwaysOn     = "parentbased_always_on"
	SamplerNameParsedBasedAlwaysOff    = "parentbased_always_off"
	SamplerNameParentBasedTraceIDRatio = "parentbased_traceidratio"
)

var errUnknownSampler = errors.New("unknown sampler name")

// AlwaysOn is a Sampler that records every measured call.
type AlwaysOn struct{}

var _ Sampler = AlwaysOn{}

func (AlwaysOn) validate() error { return nil }

func (AlwaysOn) build() (sdktrace.Sampler, error) {
	return sdktrace.AlwaysSample(), nil
}

// AlwaysOff is a Sampler that records no measured call.
type AlwaysOff struct{}

var _ Sampler = AlwaysOff{}

func (AlwaysOff) validate() error { return nil }

func (AlwaysOff) build() (sdktrace.Sampler, error) {
	return sdktrace.NeverSample(), nil
}

// TraceIDRatio samples a given fraction of traces. Fraction should be in the closed interval [0, 1].
type TraceIDRatio struct {
	// Fraction is the fraction of traces to sample. This value needs to be in the interval [0, 1].
	Fraction float64
}

var _ Sampler = TraceIDRatio{}

func (t TraceIDRatio) validate() error {
	if t.Fraction < 0 || t.Fraction > 1 {
		return errors.New("fraction in TraceIDRatio must be in the range [0, 1]")
	}
	return nil
}

func (t TraceIDRatio) build() (sdktrace.Sampler, error) {
	return sdktrace.TraceIDRatioBased(t.Fraction), nil
}

// ParentBased is a [Sampler] which behaves differently, based on the parent
// of the span. Spans without a parent use Root. Nested measured calls
// follow the parent decision:
//   - RemoteSampled (default: [AlwaysOn])
//   - RemoteNotSampled (default: [AlwaysOff])
//   - LocalSampled (default: [AlwaysOn])
//   - LocalNotSampled (default: [AlwaysOff])
type ParentBased struct {
	Root             Sampler
	RemoteSampled    Sampler
	RemoteNotSampled Sampler
	LocalSampled     Sampler
	LocalNotSampled  Sampler
}

var _ Sampler = ParentBased{}

func validateParentBasedComponent(s Sampler) error {
	if s == nil {
		return nil
	}
	if _, ok := s.(ParentBased); ok {
		return errors.New("parent-based sampler cannot wrap parent-based sampler")
	}
	return s.validate()
}

func (p ParentBased) validate() error {
	return errors.Join(
		validateParentBasedComponent(p.Root),
		validateParentBasedComponent(p.RemoteSampled),
		validateParentBasedComponent(p.RemoteNotSampled),
		validateParentBasedComponent(p.LocalSampled),
		validateParentBasedComponent(p.LocalNotSampled),
	)
}

func (p ParentBased) build() (sdktrace.Sampler, error) {
	root, err := BuildSampler(p.Root)
	if err != nil {
		return nil, err
	}
	if root == nil {
		root = sdktrace.AlwaysSample()
	}

	var opts []sdktrace.ParentBasedSamplerOption
	delegates := []struct {
		s   Sampler
		opt func(sdktrace.Sampler) sdktrace.ParentBasedSamplerOption
	}{
		{p.RemoteSampled, sdktrace.WithRemoteParentSampled},
		{p.RemoteNotSampled, sdktrace.WithRemoteParentNotSampled},
		{p.LocalSampled, sdktrace.WithLocalParentSampled},
		{p.LocalNotSampled, sdktrace.WithLocalParentNotSampled},
	}
	for _, d := range delegates {
		s, err := BuildSampler(d.s)
		if err != nil {
			return nil, err
		}
		if s != nil {
			opts = append(opts, d.opt(s))
		}
	}
	return sdktrace.ParentBased(root, opts...), nil
}

// DefaultSampler returns a ParentBased sampler with the following defaults:
//   - Root: AlwaysOn
//   - RemoteSampled: AlwaysOn
//   - RemoteNotSampled: AlwaysOff
//   - LocalSampled: AlwaysOn
//   - LocalNotSampled: AlwaysOff
func DefaultSampler() Sampler {
	return ParentBased{
		Root:             AlwaysOn{},
		RemoteSampled:    AlwaysOn{},
		RemoteNotSampled: AlwaysOff{},
		LocalSampled:     AlwaysOn{},
		LocalNotSampled:  AlwaysOff{},
	}
}

// NewSamplerFromEnv creates a Sampler based on the environment variables.
// If the environment variables are not set, it returns a nil Sampler.
func NewSamplerFromEnv(lookupEnv func(string) (string, bool)) (Sampler, error) {
	samplerName, ok := lookupEnv(TracesSamplerKey)
	if !ok {
		return nil, nil
	}
	samplerArg, _ := lookupEnv(TracesSamplerArgKey)
	return NewSampler(samplerName, samplerArg)
}

// NewSampler returns the Sampler named name with the optional argument arg.
func NewSampler(name, arg string) (Sampler, error) {
	defaultSampler := DefaultSampler().(ParentBased)

	name = strings.ToLower(strings.TrimSpace(name))
	arg = strings.TrimSpace(arg)

	switch name {
	case SamplerNameAlwaysOn:
		return AlwaysOn{}, nil
	case SamplerNameAlwaysOff:
		return AlwaysOff{}, nil
	case SamplerNameTraceIDRatio:
		ratio, err := parseRatio(arg)
		if err != nil {
			return nil, err
		}
		return TraceIDRatio{Fraction: ratio}, nil
	case SamplerNameParentBasedAlwaysOn:
		defaultSampler.Root = AlwaysOn{}
		return defaultSampler, nil
	case SamplerNameParsedBasedAlwaysOff:
		defaultSampler.Root = AlwaysOff{}
		return defaultSampler, nil
	case SamplerNameParentBasedTraceIDRatio:
		ratio, err := parseRatio(arg)
		if err != nil {
			return nil, err
		}
		defaultSampler.Root = TraceIDRatio{Fraction: ratio}
		return defaultSampler, nil
	default:
		return nil, errUnknownSampler
	}
}

func parseRatio(arg string) (float64, error) {
	if arg == "" {
		return 1, nil
	}
	return strconv.ParseFloat(arg, 64)
}

// BuildSampler validates s and returns the SDK sampler it describes. A nil
// Sampler builds a nil sdktrace.Sampler.
func BuildSampler(s Sampler) (sdktrace.Sampler, error) {
	if s == nil {
		return nil, nil
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s.build()
}
