// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package wrap

// Start begins a measurement region of r on th.
//
// The first Start of r configures it and runs its initializer. The first
// Start on a thread makes every filled slot ready and the first Start in the
// process activates the filled slots the last Stop reverted.
func (r *Registry) Start(th *Thread) {
	if r.finalizing.Load() {
		return
	}
	r.configure()

	t := th.counter(r)
	th.started[r] = t + 1
	if t == 0 {
		for i := range r.slots {
			s := &r.slots[i]
			s.ready.Store(s.filled.Load() && !s.finalized.Load() && s.suppression.Load() == nil)
		}
	}

	if n := r.started.Add(1) - 1; n == 0 {
		for i := range r.slots {
			s := &r.slots[i]
			if !s.filled.Load() || s.active.Load() {
				continue
			}
			if ri := s.reinstall; ri != nil {
				r.construct(s.index, ri.identifier, ri.priority, ri.tool, ri.wrapper)
			}
		}
	}
}

// Stop ends a measurement region of r on th started by a matching Start.
//
// The last Stop on a thread makes every slot not ready and the last Stop in
// the process reverts every slot. A Stop without a matching Start is
// ignored.
func (r *Registry) Stop(th *Thread) {
	t := th.counter(r)
	if t == 0 || r.finalizing.Load() {
		r.logger.Debug("ignoring unbalanced stop", "thread", th.id, "finalizing", r.finalizing.Load())
		return
	}

	t--
	th.started[r] = t
	if t == 0 {
		for i := range r.slots {
			r.slots[i].ready.Store(false)
		}
	}

	if n := r.started.Add(-1); n == 0 {
		for i := range r.slots {
			r.Revert(i)
		}
	}
}

// ThreadInit prepares r for a thread that just joined the process. Every
// filled slot takes the default readiness of r.
func (r *Registry) ThreadInit(th *Thread) {
	th.counter(r)
	ready := r.defaultReady.Load()
	for i := range r.slots {
		s := &r.slots[i]
		if !s.filled.Load() || s.finalized.Load() {
			continue
		}
		s.ready.Store(ready && s.suppression.Load() == nil)
	}
}

// Disable finalizes and reverts every slot of a configured Registry. A
// finalized slot is never constructed again. The initializer does not run
// again when r is configured anew.
func (r *Registry) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configured {
		return
	}
	r.configured = false

	for i := range r.slots {
		s := &r.slots[i]
		if !s.finalized.CompareAndSwap(false, true) {
			continue
		}
		s.ready.Store(false)
		r.Revert(i)
	}
	r.logger.Debug("registry disabled", "info", r.Info())
}

// GlobalFinalize tears r down: the start counters of th and of the process
// are drained and r is disabled.
func (r *Registry) GlobalFinalize(th *Thread) {
	r.finalizing.Store(true)
	if th != nil {
		delete(th.started, r)
	}
	r.started.Store(0)
	r.Disable()
}

// Finalizing reports whether GlobalFinalize was called.
func (r *Registry) Finalizing() bool { return r.finalizing.Load() }

// Configured reports whether r was configured.
func (r *Registry) Configured() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configured
}

// configure runs the initializer of r exactly once. The lock is released
// before the initializer runs so it may construct slots.
func (r *Registry) configure() {
	r.mu.Lock()
	if r.configured {
		r.mu.Unlock()
		return
	}
	r.configured = true
	init := r.initializer
	run := !r.initRan && init != nil
	r.initRan = true
	constraints := r.constraints
	r.mu.Unlock()

	if !run {
		return
	}
	if err := r.satisfied(constraints); err != nil {
		r.logger.Error("skipping initialization", "error", err)
		return
	}

	r.logger.Debug("initializing registry", "size", len(r.slots))
	init()
	r.logger.Debug("registry initialized", "info", r.Info())
}
