// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package interpose

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/interpose/backend"
	"go.opentelemetry.io/interpose/bundle"
	"go.opentelemetry.io/interpose/config"
)

// lookupEnv is the environment lookup used by WithEnv. It is overridden in
// testing.
var lookupEnv = os.LookupEnv

// InstrumentationOption applies a configuration option to [Instrumentation].
type InstrumentationOption interface {
	apply(instConfig) instConfig
}

type instConfig struct {
	logger   *slog.Logger
	level    *slog.LevelVar
	logLevel LogLevel
	env      bool
	cfg      config.Config
	provider config.Provider
	backend  backend.Backend
	factory  bundle.Factory
}

func newInstConfig(ctx context.Context, opts []InstrumentationOption) (instConfig, error) {
	var c instConfig
	for _, opt := range opts {
		if opt != nil {
			c = opt.apply(c)
		}
	}

	if c.provider == nil {
		c.provider = config.NewNoopProvider(c.cfg)
	}
	c.cfg = c.provider.InitialConfig(ctx)

	var err error
	if c.env {
		c.cfg, err = config.FromEnv(c.cfg, lookupEnv)
	} else {
		err = c.cfg.Validate()
	}
	if err != nil {
		return c, err
	}

	if c.backend == nil {
		c.backend = backend.NewTable()
	}
	if c.factory == nil {
		c.factory = bundle.NoopFactory
	}

	level := c.logLevel
	if level == logLevelUndefined && c.cfg.LogLevel != "" {
		if level, err = ParseLogLevel(c.cfg.LogLevel); err != nil {
			return c, err
		}
	}
	switch {
	case c.logger == nil:
		c.logger, c.level = NewLogger(level)
	case c.level != nil && level != logLevelUndefined:
		c.level.Set(level.Level())
	}
	return c, nil
}

type fnOpt func(instConfig) instConfig

func (o fnOpt) apply(c instConfig) instConfig { return o(c) }

// WithLogger returns an [InstrumentationOption] that will configure an
// [Instrumentation] to use the provided logger.
//
// If this option is used and [WithLogLevel] is also used, the level is
// ignored unless [WithLevelVar] names the level of the logger.
func WithLogger(logger *slog.Logger) InstrumentationOption {
	return fnOpt(func(c instConfig) instConfig {
		c.logger = logger
		return c
	})
}

// WithLevelVar returns an [InstrumentationOption] that will configure an
// [Instrumentation] to hold the level of the logger set with [WithLogger]
// in v. The log level of the configuration, including the one of later
// configuration updates, is stored in v. It is ignored without
// [WithLogger].
func WithLevelVar(v *slog.LevelVar) InstrumentationOption {
	return fnOpt(func(c instConfig) instConfig {
		c.level = v
		return c
	})
}

// WithLogLevel returns an [InstrumentationOption] that will configure an
// [Instrumentation] to log at the provided level. It takes precedence over
// the log level of the configuration.
func WithLogLevel(level LogLevel) InstrumentationOption {
	return fnOpt(func(c instConfig) instConfig {
		c.logLevel = level
		return c
	})
}

// WithConfig returns an [InstrumentationOption] defining the initial
// configuration. It is ignored when [WithConfigProvider] is also used.
func WithConfig(cfg config.Config) InstrumentationOption {
	return fnOpt(func(c instConfig) instConfig {
		c.cfg = cfg
		return c
	})
}

// WithConfigProvider returns an [InstrumentationOption] that will configure
// an [Instrumentation] to use the provided config.Provider. Updates sent by
// the provider are applied by [Instrumentation.Run].
func WithConfigProvider(p config.Provider) InstrumentationOption {
	return fnOpt(func(c instConfig) instConfig {
		c.provider = p
		return c
	})
}

// WithEnv returns an [InstrumentationOption] that will configure an
// [Instrumentation] using the values defined by the following environment
// variables:
//
//   - OTEL_GO_INTERPOSE_CONFIG: path of a YAML configuration file
//   - OTEL_GO_INTERPOSE_PERMIT: functions that may be intercepted
//   - OTEL_GO_INTERPOSE_REJECT: functions never intercepted
//   - OTEL_GO_INTERPOSE_SUPPRESS: functions whose slots are never ready
//   - OTEL_GO_INTERPOSE_DEBUG: debug diagnostics
//   - OTEL_GO_INTERPOSE_VERBOSE: backend diagnostics verbosity
//   - OTEL_GO_INTERPOSE_DEFAULT_READY: readiness of new slots
//   - OTEL_GO_INTERPOSE_TOOL: label prefix of intercepted functions
//   - OTEL_LOG_LEVEL: log level
//   - OTEL_TRACES_SAMPLER and OTEL_TRACES_SAMPLER_ARG: span sampler
//
// The environment takes precedence over the initial configuration.
func WithEnv() InstrumentationOption {
	return fnOpt(func(c instConfig) instConfig {
		c.env = true
		return c
	})
}

// WithBackend returns an [InstrumentationOption] that will configure an
// [Instrumentation] to redirect calls with b. An in-process
// [backend.Table] is used by default.
func WithBackend(b backend.Backend) InstrumentationOption {
	return fnOpt(func(c instConfig) instConfig {
		c.backend = b
		return c
	})
}

// WithBundle returns an [InstrumentationOption] setting the measurement run
// around every intercepted call.
func WithBundle(f bundle.Factory) InstrumentationOption {
	return fnOpt(func(c instConfig) instConfig {
		c.factory = f
		return c
	})
}
