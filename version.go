// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package interpose

// Version is the current release version of the interception engine in use.
func Version() string {
	return "v0.3.0"
}
