// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package main runs a workload of intercepted functions and reports what
// was measured around their calls.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"go.opentelemetry.io/interpose"
	"go.opentelemetry.io/interpose/backend"
	"go.opentelemetry.io/interpose/backend/uprobe"
	"go.opentelemetry.io/interpose/bundle"
	"go.opentelemetry.io/interpose/bundle/rusage"
	"go.opentelemetry.io/interpose/bundle/span"
	"go.opentelemetry.io/interpose/config"
	"go.opentelemetry.io/interpose/internal/pkg/otelsdk"
	"go.opentelemetry.io/interpose/wrap"
)

const help = `Usage of %s:
  -config string
    	Path of a YAML configuration file, reloaded when it changes
  -log-level string
    	Logging level ("debug", "info", "warn", "error")
  -workers int
    	Number of worker goroutines (default 4)
  -iterations int
    	Iterations run by each worker (default 100)
  -fib int
    	Depth of the recursive fib call (default 10)
  -spin duration
    	Duration of each spin call (default 100µs)
  -uprobe
    	Count the machine-level calls of the workload with eBPF uprobes

Runs a workload of intercepted functions (recursive fib, checksum and spin)
on worker goroutines. Every intercepted call is recorded as a span and its
resource usage is accumulated per function.

Environment variable configuration:

	- OTEL_GO_INTERPOSE_CONFIG: path of a YAML configuration file
	- OTEL_GO_INTERPOSE_PERMIT, OTEL_GO_INTERPOSE_REJECT: filter lists
	- OTEL_GO_INTERPOSE_SUPPRESS: functions that are never measured
	- OTEL_LOG_LEVEL: log level (flag takes precedence)
	- OTEL_SERVICE_NAME (or OTEL_RESOURCE_ATTRIBUTES): service name
	- OTEL_TRACES_EXPORTER: trace exporter identifier

The OTEL_TRACES_EXPORTER environment variable value is resolved using the
autoexport (go.opentelemetry.io/contrib/exporters/autoexport) package. See that
package's documentation for information on supported values and registration of
custom exporters.
`

func usage() {
	program := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, help, program)
}

type options struct {
	config     string
	logLevel   string
	workers    int
	iterations int
	depth      int
	spin       time.Duration
	uprobe     bool
}

func (o options) validate() error {
	var err error
	if o.workers < 1 {
		err = errors.Join(err, fmt.Errorf("invalid workers %d", o.workers))
	}
	if o.iterations < 0 {
		err = errors.Join(err, fmt.Errorf("invalid iterations %d", o.iterations))
	}
	if o.depth < 0 {
		err = errors.Join(err, fmt.Errorf("invalid fib depth %d", o.depth))
	}
	return err
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", "", "Path of a YAML configuration file, reloaded when it changes")
	flag.StringVar(&o.logLevel, "log-level", "", `Logging level ("debug", "info", "warn", "error")`)
	flag.IntVar(&o.workers, "workers", 4, "Number of worker goroutines")
	flag.IntVar(&o.iterations, "iterations", 100, "Iterations run by each worker")
	flag.IntVar(&o.depth, "fib", 10, "Depth of the recursive fib call")
	flag.DurationVar(&o.spin, "spin", 100*time.Microsecond, "Duration of each spin call")
	flag.BoolVar(&o.uprobe, "uprobe", false, "Count the machine-level calls of the workload with eBPF uprobes")

	flag.Usage = usage
	flag.Parse()

	// Trap Ctrl+C and SIGTERM and call cancel on the context.
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(ch)
		cancel()
	}()
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := run(ctx, o, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, out io.Writer) error {
	if err := o.validate(); err != nil {
		return err
	}

	logLevel := o.logLevel
	if logLevel == "" {
		logLevel = os.Getenv(config.EnvLogLevelKey)
	}
	level := interpose.LogLevelInfo
	if logLevel != "" {
		var err error
		if level, err = interpose.ParseLogLevel(logLevel); err != nil {
			return err
		}
	}
	logger, levelVar := interpose.NewLogger(level)

	var provider config.Provider
	if o.config != "" {
		p, err := config.NewFileProvider(o.config, logger)
		if err != nil {
			return err
		}
		provider = p
	} else {
		provider = config.NewNoopProvider(config.Config{})
	}
	cfg, err := config.FromEnv(provider.InitialConfig(ctx), nil)
	if err != nil {
		return errors.Join(err, provider.Shutdown(ctx))
	}

	logger.Info(
		"building interposed workload ...",
		"version", interpose.Version(),
		"go", runtime.Version(),
		"uprobe", o.uprobe,
		"workers", o.workers,
	)

	w, err := newWorkload(o.depth, o.spin)
	if err != nil {
		return errors.Join(err, provider.Shutdown(ctx))
	}

	tpOpts, err := tracerOptions(cfg)
	if err != nil {
		return errors.Join(err, provider.Shutdown(ctx))
	}
	tp, err := otelsdk.NewTracerProvider(ctx, tpOpts...)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create tracer provider: %w", err), provider.Shutdown(ctx))
	}
	defer func() {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("failed to flush spans", "error", err)
		}
	}()

	var b backend.Backend = w.table
	var counter *uprobe.Backend
	if o.uprobe {
		counter, err = uprobe.New(w.table, uprobe.WithLogger(logger))
		if err != nil {
			return errors.Join(fmt.Errorf("failed to load uprobes: %w", err), provider.Shutdown(ctx))
		}
		defer func() {
			if err := counter.Close(); err != nil {
				logger.Error("failed to close uprobes", "error", err)
			}
		}()
		b = counter
	}

	acc := rusage.NewAccumulator()
	opts := []interpose.InstrumentationOption{
		interpose.WithEnv(),
		interpose.WithLogger(logger),
		interpose.WithLevelVar(levelVar),
		interpose.WithConfigProvider(provider),
		interpose.WithBackend(b),
		interpose.WithBundle(bundle.NewTuple(span.NewFromProvider(tp), acc.Factory())),
	}
	if o.logLevel != "" {
		// The flag takes precedence over the configured level.
		opts = append(opts, interpose.WithLogLevel(level))
	}

	inst, err := interpose.NewInstrumentation(ctx, opts...)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create instrumentation: %w", err), provider.Shutdown(ctx))
	}
	r, err := w.instrument(inst)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- inst.Run(runCtx) }()

	logger.Info("instrumentation loaded successfully, starting...")
	start := time.Now()
	n := w.run(ctx, inst, o.workers, o.iterations)
	elapsed := time.Since(start)

	stop()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("configuration loop failed", "error", err)
	}

	logger.Info("shutting down", "iterations", n, "elapsed", elapsed)
	if err := inst.Shutdown(context.Background()); err != nil {
		logger.Error("failed to shut down instrumentation", "error", err)
	}

	report(out, inst.Info(), acc)
	if counter != nil {
		reportHits(out, r, counter)
	}
	return nil
}

// tracerOptions returns the options of the tracer provider recording the
// measured calls. The sampler of cfg takes precedence over the environment.
func tracerOptions(cfg config.Config) ([]otelsdk.Option, error) {
	v := semconv.TelemetryDistroVersionKey.String(interpose.Version())
	opts := []otelsdk.Option{otelsdk.WithEnv(), otelsdk.WithResourceAttributes(v)}

	s, err := cfg.TraceSampler()
	if err != nil {
		return nil, err
	}
	if s != nil {
		opts = append(opts, otelsdk.WithSampler(s))
	}
	return opts, nil
}

func report(out io.Writer, infos []interpose.RegistryInfo, acc *rusage.Accumulator) {
	for _, info := range infos {
		fmt.Fprintf(out, "registry %s: filled %d, active %d, finalized %d, suppressed %d\n",
			info.Name, info.Filled, info.Active, info.Finalized, info.Suppressed)
	}
	for _, label := range acc.Labels() {
		t, _ := acc.Totals(label)
		fmt.Fprintf(out, "%s: calls %d, user %s, system %s, maxrss %dKB, ctxsw %d/%d\n",
			label, t.Calls, t.User, t.System, t.MaxRSS, t.VolCtxSwitch, t.InvolCtxSwitch)
	}
}

func reportHits(out io.Writer, r *wrap.Registry, counter *uprobe.Backend) {
	for n := 0; n < r.Size(); n++ {
		label := r.Slot(n).Label
		h, err := counter.Hits(label)
		if err != nil {
			fmt.Fprintf(out, "%s: uprobes unavailable: %v\n", label, err)
			continue
		}
		fmt.Fprintf(out, "%s: uprobe entries %d, returns %d\n", label, h.Entries, h.Returns)
	}
}
