// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package rusage

import "golang.org/x/sys/unix"

func sample() Sample {
	return getrusage(unix.RUSAGE_THREAD)
}
