// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package wrap

import (
	"testing"

	"github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstraints(t *testing.T) {
	const pkg = "example.com/lib"

	tests := []struct {
		name       string
		version    string
		constraint string
		mode       FailureMode
		wantInit   bool
	}{
		{name: "satisfied", version: "1.2.0", constraint: ">= 1.0", mode: FailureModeError, wantInit: true},
		{name: "error", version: "1.2.0", constraint: "< 1.0", mode: FailureModeError, wantInit: false},
		{name: "warn", version: "1.2.0", constraint: "< 1.0", mode: FailureModeWarn, wantInit: true},
		{name: "ignore", version: "1.2.0", constraint: "< 1.0", mode: FailureModeIgnore, wantInit: true},
		{name: "unknown version", constraint: ">= 1.0", mode: FailureModeError, wantInit: false},
		{name: "invalid mode", version: "1.2.0", constraint: "< 1.0", mode: FailureMode(42), wantInit: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ran bool
			r, _ := newRegistry(t, newTable(t), 1, WithInitializer(func() { ran = true }))
			if tt.version != "" {
				r.State().SetVersion(pkg, version.Must(version.NewVersion(tt.version)))
			}
			c, err := version.NewConstraint(tt.constraint)
			require.NoError(t, err)
			r.Require(Constraint{Package: pkg, Constraints: c, FailureMode: tt.mode})

			r.Start(r.State().NewThread())
			assert.Equal(t, tt.wantInit, ran)
			assert.True(t, r.Configured())
		})
	}
}
