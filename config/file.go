// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	pkgerrors "github.com/pkg/errors"
)

// FileProvider is a Provider that reads a YAML configuration file and sends
// its content again every time the file is written.
type FileProvider struct {
	path    string
	logger  *slog.Logger
	initial Config

	watcher *fsnotify.Watcher
	updates chan Config
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

var _ Provider = (*FileProvider)(nil)

// NewFileProvider returns a FileProvider of the file at path. The file must
// exist and hold a valid configuration.
func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path = filepath.Clean(path)

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create config watcher")
	}
	// Editors often replace the file, so the directory is watched.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, pkgerrors.Wrapf(err, "watch %s", filepath.Dir(path))
	}

	p := &FileProvider{
		path:    path,
		logger:  logger.With("config", path),
		initial: c,
		watcher: w,
		updates: make(chan Config),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// InitialConfig returns the configuration read when p was created.
func (p *FileProvider) InitialConfig(context.Context) Config {
	return p.initial
}

// Watch returns the channel of configuration updates. It is closed after
// Shutdown.
func (p *FileProvider) Watch() <-chan Config {
	return p.updates
}

// Shutdown stops watching the file.
func (p *FileProvider) Shutdown(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.watcher.Close()
	})

	select {
	case <-p.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (p *FileProvider) run() {
	defer close(p.stopped)
	defer close(p.updates)

	for {
		select {
		case <-p.done:
			return
		case e, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != p.path {
				continue
			}
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
				continue
			}

			c, err := Load(p.path)
			if err != nil {
				p.logger.Warn("failed to reload configuration", "error", err)
				continue
			}
			p.logger.Debug("configuration reloaded", "event", e.Op.String())

			select {
			case p.updates <- c:
			case <-p.done:
				return
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("configuration watcher error", "error", err)
		}
	}
}
