// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package config

import "context"

// Provider provides the initial configuration and updates to the interception configuration.
type Provider interface {
	// InitialConfig returns the initial configuration.
	InitialConfig(ctx context.Context) Config
	// Watch returns a channel that receives updates to the configuration.
	Watch() <-chan Config
	// Shutdown releases any resources held by the provider.
	Shutdown(ctx context.Context) error
}

type noopProvider struct {
	c Config
}

// NewNoopProvider returns a provider that does not provide any updates and provides c as the initial configuration.
func NewNoopProvider(c Config) Provider {
	return &noopProvider{c: c}
}

func (p *noopProvider) InitialConfig(_ context.Context) Config {
	return p.c
}

func (p *noopProvider) Watch() <-chan Config {
	c := make(chan Config)
	close(c)
	return c
}

func (p *noopProvider) Shutdown(_ context.Context) error {
	return nil
}
