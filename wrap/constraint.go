// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package wrap

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-version"
)

// FailureMode is the behavior when a Constraint is not satisfied.
type FailureMode int

const (
	// FailureModeError skips the initialization of the Registry.
	FailureModeError FailureMode = iota
	// FailureModeWarn logs a warning and continues.
	FailureModeWarn
	// FailureModeIgnore continues silently.
	FailureModeIgnore
)

// Constraint is a version requirement on a package loaded in the process,
// checked against the versions recorded in the State before a Registry is
// initialized.
type Constraint struct {
	Package     string
	Constraints version.Constraints
	FailureMode FailureMode
}

var errUnknownVersion = errors.New("unknown version")

// Require adds constraints checked at the first configuration of r.
func (r *Registry) Require(cs ...Constraint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constraints = append(r.constraints, cs...)
}

func (r *Registry) satisfied(cs []Constraint) error {
	var errs []error
	for _, c := range cs {
		err := r.check(c)
		if err == nil {
			continue
		}
		switch c.FailureMode {
		case FailureModeError:
			errs = append(errs, err)
		case FailureModeWarn:
			r.logger.Warn("package constraint not satisfied", "package", c.Package, "error", err)
		case FailureModeIgnore:
		default:
			errs = append(errs, fmt.Errorf("invalid failure mode %d: %w", c.FailureMode, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) check(c Constraint) error {
	v := r.state.Version(c.Package)
	if v == nil {
		return fmt.Errorf("%s: %w", c.Package, errUnknownVersion)
	}
	if !c.Constraints.Check(v) {
		return fmt.Errorf("%s %s does not satisfy %s", c.Package, v, c.Constraints)
	}
	return nil
}
