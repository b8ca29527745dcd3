// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package rusage

import (
	"time"

	"golang.org/x/sys/unix"
)

func getrusage(who int) Sample {
	var ru unix.Rusage
	if err := unix.Getrusage(who, &ru); err != nil {
		return Sample{}
	}

	return Sample{
		User:           time.Duration(ru.Utime.Nano()),
		System:         time.Duration(ru.Stime.Nano()),
		MaxRSS:         int64(ru.Maxrss),
		InBlock:        int64(ru.Inblock),
		OutBlock:       int64(ru.Oublock),
		VolCtxSwitch:   int64(ru.Nvcsw),
		InvolCtxSwitch: int64(ru.Nivcsw),
	}
}
