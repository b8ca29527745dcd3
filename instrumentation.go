// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package interpose intercepts calls of named functions and runs a
// measurement bundle around them.
//
// An [Instrumentation] owns the process-wide interception state built from
// its configuration and creates the registries of interceptable functions:
//
//	inst, err := interpose.NewInstrumentation(ctx, interpose.WithEnv())
//	r, err := inst.NewRegistry(2)
//	wrap.Instrument[int, int](r, 0, "fib", 0, inst.Tool())
//
//	th := inst.NewThread()
//	inst.Start(th)
//	defer inst.Stop(th)
package interpose

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"go.opentelemetry.io/interpose/backend"
	"go.opentelemetry.io/interpose/bundle"
	"go.opentelemetry.io/interpose/config"
	"go.opentelemetry.io/interpose/wrap"
)

// Instrumentation manages the interception of functions in the process.
type Instrumentation struct {
	logger   *slog.Logger
	level    *slog.LevelVar
	state    *wrap.State
	provider config.Provider
	backend  backend.Backend
	factory  bundle.Factory

	mu         sync.RWMutex
	cfg        config.Config
	registries []*wrap.Registry
	closed     bool

	shutdown sync.Once
}

var errShutdown = errors.New("instrumentation is shut down")

// NewInstrumentation returns a new [Instrumentation] configured with the
// provided opts.
func NewInstrumentation(ctx context.Context, opts ...InstrumentationOption) (*Instrumentation, error) {
	c, err := newInstConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	i := &Instrumentation{
		logger:   c.logger,
		level:    c.level,
		provider: c.provider,
		backend:  c.backend,
		factory:  c.factory,
		cfg:      c.cfg,
	}
	i.state = wrap.NewState(
		wrap.WithLogger(i.logger),
		wrap.WithDebug(c.cfg.Debug),
		wrap.WithVerbose(c.cfg.Verbose),
	)
	if err := i.applyState(c.cfg); err != nil {
		return nil, err
	}

	i.logger.Info(
		"interception configured",
		"version", Version(),
		"tool", c.cfg.ToolName(),
		"permit", len(c.cfg.Permit),
		"reject", len(c.cfg.Reject),
		"suppress", len(c.cfg.Suppress),
	)
	return i, nil
}

// Logger returns the logger of i.
func (i *Instrumentation) Logger() *slog.Logger { return i.logger }

// State returns the interception state shared by the registries of i.
func (i *Instrumentation) State() *wrap.State { return i.state }

// Backend returns the interception backend of i.
func (i *Instrumentation) Backend() backend.Backend { return i.backend }

// Config returns the current configuration.
func (i *Instrumentation) Config() config.Config {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg
}

// Tool returns the configured label prefix of intercepted functions.
func (i *Instrumentation) Tool() string {
	return i.Config().ToolName()
}

// NewRegistry returns a registry of size interceptable functions using the
// backend, bundle and filter lists of i. opts are applied after the
// defaults.
func (i *Instrumentation) NewRegistry(size int, opts ...wrap.Option) (*wrap.Registry, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, errShutdown
	}

	defaults := []wrap.Option{
		wrap.WithName(registryName(len(i.registries))),
		wrap.WithBackend(i.backend),
		wrap.WithBundle(i.factory),
		wrap.WithDefaultReady(i.cfg.Ready()),
	}
	r, err := wrap.New(i.state, size, append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}
	r.PermitList().Replace(i.cfg.Permit...)
	r.RejectList().Replace(i.cfg.Reject...)

	i.registries = append(i.registries, r)
	return r, nil
}

// Registries returns the registries created by i.
func (i *Instrumentation) Registries() []*wrap.Registry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]*wrap.Registry(nil), i.registries...)
}

// NewThread returns the handle of a new thread of execution, initialized
// for every registry of i.
func (i *Instrumentation) NewThread() *wrap.Thread {
	th := i.state.NewThread()
	for _, r := range i.Registries() {
		r.ThreadInit(th)
	}
	return th
}

// Start begins a measurement region on th for every registry of i.
func (i *Instrumentation) Start(th *wrap.Thread) {
	for _, r := range i.Registries() {
		r.Start(th)
	}
}

// Stop ends a measurement region on th, in the reverse order of Start.
func (i *Instrumentation) Stop(th *wrap.Thread) {
	rs := i.Registries()
	for j := len(rs) - 1; j >= 0; j-- {
		rs[j].Stop(th)
	}
}

// RegistryInfo is the slot summary of one registry.
type RegistryInfo struct {
	Name string
	wrap.Info
}

// Info returns the slot summary of every registry of i.
func (i *Instrumentation) Info() []RegistryInfo {
	rs := i.Registries()
	out := make([]RegistryInfo, len(rs))
	for j, r := range rs {
		out[j] = RegistryInfo{Name: r.Name(), Info: r.Info()}
	}
	return out
}

// Run applies the configuration updates of the provider until ctx is done
// or the provider stops sending updates.
func (i *Instrumentation) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-i.provider.Watch():
			if !ok {
				i.logger.Info("Configuration provider closed, configuration updates will no longer be received")
				return nil
			}
			if err := i.applyConfig(c); err != nil {
				i.logger.Error("Failed to apply config", "error", err)
				continue
			}
		}
	}
}

// Shutdown finalizes every registry of i and shuts the configuration
// provider down. Intercepted calls made afterwards go straight to the
// original functions.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var err error
	i.shutdown.Do(func() {
		i.mu.Lock()
		i.closed = true
		i.mu.Unlock()

		rs := i.Registries()
		for j := len(rs) - 1; j >= 0; j-- {
			rs[j].GlobalFinalize(nil)
		}
		err = i.provider.Shutdown(ctx)
		i.logger.Debug("interception shut down", "registries", len(rs))
	})
	return err
}

func (i *Instrumentation) applyConfig(c config.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.LogLevel != "" && i.level != nil {
		l, err := ParseLogLevel(c.LogLevel)
		if err != nil {
			return err
		}
		i.level.Set(l.Level())
	}

	i.state.SetDebug(c.Debug)
	i.state.SetVerbose(c.Verbose)
	i.state.Suppressions().Replace(c.Suppress...)
	if err := i.applyState(c); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.cfg = c
	for _, r := range i.registries {
		r.PermitList().Replace(c.Permit...)
		r.RejectList().Replace(c.Reject...)
		r.SetDefaultReady(c.Ready())
	}
	i.logger.Debug("configuration applied", "registries", len(i.registries))
	return nil
}

func (i *Instrumentation) applyState(c config.Config) error {
	i.state.AddGlobalSuppression(c.Suppress...)

	versions, err := c.PackageVersions()
	if err != nil {
		return err
	}
	for pkg, v := range versions {
		i.state.SetVersion(pkg, v)
	}
	return nil
}

func registryName(n int) string {
	if n == 0 {
		return "default"
	}
	return "registry-" + strconv.Itoa(n)
}

// NewLogger returns a JSON logger on stderr whose level is held by the
// returned LevelVar. An undefined level logs at info.
func NewLogger(level LogLevel) (*slog.Logger, *slog.LevelVar) {
	levelVar := new(slog.LevelVar) // Default value of info.
	levelVar.Set(level.Level())
	opts := &slog.HandlerOptions{AddSource: true, Level: levelVar}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts)), levelVar
}
