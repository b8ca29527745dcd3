// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides the configuration of function interception.
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables read by FromEnv.
const (
	// EnvConfigKey is the path of a YAML configuration file.
	EnvConfigKey = "OTEL_GO_INTERPOSE_CONFIG"
	// EnvPermitKey is a comma separated list of the only functions that may
	// be intercepted.
	EnvPermitKey = "OTEL_GO_INTERPOSE_PERMIT"
	// EnvRejectKey is a comma separated list of functions never
	// intercepted.
	EnvRejectKey = "OTEL_GO_INTERPOSE_REJECT"
	// EnvSuppressKey is a comma separated list of functions whose slots are
	// never ready.
	EnvSuppressKey = "OTEL_GO_INTERPOSE_SUPPRESS"
	// EnvDebugKey enables debug diagnostics.
	EnvDebugKey = "OTEL_GO_INTERPOSE_DEBUG"
	// EnvVerboseKey is the verbosity of backend diagnostics.
	EnvVerboseKey = "OTEL_GO_INTERPOSE_VERBOSE"
	// EnvDefaultReadyKey is the readiness of newly filled slots.
	EnvDefaultReadyKey = "OTEL_GO_INTERPOSE_DEFAULT_READY"
	// EnvToolKey is the label prefix of intercepted functions.
	EnvToolKey = "OTEL_GO_INTERPOSE_TOOL"
	// EnvLogLevelKey is the logging level.
	EnvLogLevelKey = "OTEL_LOG_LEVEL"
)

// DefaultTool is the label prefix used when none is configured.
const DefaultTool = "interpose"

// Config is the configuration of function interception.
type Config struct {
	// LogLevel is the logging level ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level,omitempty"`
	// Debug enables debug diagnostics: filter rejections, not-ready calls
	// and successful backend operations are logged.
	Debug bool `yaml:"debug,omitempty"`
	// Verbose is the verbosity of backend diagnostics. Failures are
	// reported at 0 and above, successes above 1.
	Verbose int `yaml:"verbose,omitempty"`
	// DefaultReady is the readiness of newly filled slots. Slots are ready
	// when unset.
	DefaultReady *bool `yaml:"default_ready,omitempty"`
	// Tool is the label prefix of intercepted functions.
	Tool string `yaml:"tool,omitempty"`

	Permit   []string `yaml:"permit,omitempty"`
	Reject   []string `yaml:"reject,omitempty"`
	Suppress []string `yaml:"suppress,omitempty"`

	// Versions are the versions of the packages loaded in the process,
	// checked against registry constraints.
	Versions map[string]string `yaml:"versions,omitempty"`

	// Sampler selects the sampler of the traces recorded around
	// intercepted calls.
	Sampler *SamplerConfig `yaml:"sampler,omitempty"`
}

// SamplerConfig names a sampler, as OTEL_TRACES_SAMPLER and
// OTEL_TRACES_SAMPLER_ARG do.
type SamplerConfig struct {
	Name string `yaml:"name"`
	Arg  string `yaml:"arg,omitempty"`
}

// Ready returns the readiness of newly filled slots.
func (c Config) Ready() bool {
	return c.DefaultReady == nil || *c.DefaultReady
}

// ToolName returns the configured label prefix or DefaultTool.
func (c Config) ToolName() string {
	if c.Tool == "" {
		return DefaultTool
	}
	return c.Tool
}

// PackageVersions returns the parsed Versions.
func (c Config) PackageVersions() (map[string]*version.Version, error) {
	out := make(map[string]*version.Version, len(c.Versions))
	var errs []error
	for pkg, v := range c.Versions {
		ver, err := version.NewVersion(v)
		if err != nil {
			errs = append(errs, pkgerrors.Wrapf(err, "version of %s", pkg))
			continue
		}
		out[pkg] = ver
	}
	return out, errors.Join(errs...)
}

// TraceSampler returns the configured Sampler, or nil when none is.
func (c Config) TraceSampler() (Sampler, error) {
	if c.Sampler == nil {
		return nil, nil
	}
	return NewSampler(c.Sampler.Name, c.Sampler.Arg)
}

// Validate reports whether c is valid.
func (c Config) Validate() error {
	var errs []error
	if c.Verbose < -1 {
		errs = append(errs, errors.New("verbose must be at least -1"))
	}
	if _, err := c.PackageVersions(); err != nil {
		errs = append(errs, err)
	}
	if s, err := c.TraceSampler(); err != nil {
		errs = append(errs, err)
	} else if s != nil {
		errs = append(errs, s.validate())
	}
	return errors.Join(errs...)
}

// Parse decodes a YAML configuration. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, pkgerrors.Wrap(err, "parse config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, pkgerrors.Wrap(err, "invalid config")
	}
	return c, nil
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, pkgerrors.Wrapf(err, "read config %s", path)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, pkgerrors.Wrapf(err, "load %s", path)
	}
	return c, nil
}

// FromEnv returns c overridden by the environment variables found by
// lookupEnv. If EnvConfigKey is set, the file it names replaces c before
// the other variables are applied.
func FromEnv(c Config, lookupEnv func(string) (string, bool)) (Config, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	if path, ok := lookupEnv(EnvConfigKey); ok && path != "" {
		loaded, err := Load(path)
		if err != nil {
			return c, err
		}
		c = loaded
	}

	var errs []error
	if v, ok := lookupEnv(EnvLogLevelKey); ok {
		c.LogLevel = v
	}
	if v, ok := lookupEnv(EnvToolKey); ok {
		c.Tool = strings.TrimSpace(v)
	}
	if v, ok := lookupEnv(EnvPermitKey); ok {
		c.Permit = splitList(v)
	}
	if v, ok := lookupEnv(EnvRejectKey); ok {
		c.Reject = splitList(v)
	}
	if v, ok := lookupEnv(EnvSuppressKey); ok {
		c.Suppress = splitList(v)
	}
	if v, ok := lookupEnv(EnvDebugKey); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, pkgerrors.Wrapf(err, "parse %s", EnvDebugKey))
		} else {
			c.Debug = b
		}
	}
	if v, ok := lookupEnv(EnvVerboseKey); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, pkgerrors.Wrapf(err, "parse %s", EnvVerboseKey))
		} else {
			c.Verbose = n
		}
	}
	if v, ok := lookupEnv(EnvDefaultReadyKey); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, pkgerrors.Wrapf(err, "parse %s", EnvDefaultReadyKey))
		} else {
			c.DefaultReady = &b
		}
	}
	if name, ok := lookupEnv(TracesSamplerKey); ok {
		arg, _ := lookupEnv(TracesSamplerArgKey)
		c.Sampler = &SamplerConfig{Name: name, Arg: arg}
	}

	if err := errors.Join(errs...); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
