// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !386 && !amd64 && !arm64

package uprobe

import (
	"fmt"
	"runtime"
)

func findRetInstructions([]byte) ([]uint64, error) {
	return nil, fmt.Errorf("unsupported architecture %s", runtime.GOARCH)
}
