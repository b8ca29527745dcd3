// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build 386 || amd64

package uprobe

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

func findRetInstructions(data []byte) ([]uint64, error) {
	var offsets []uint64
	for i := 0; i < len(data); {
		inst, err := x86asm.Decode(data[i:], 64)
		if err != nil {
			return nil, fmt.Errorf("decode x86 instruction at offset %d: %w", i, err)
		}
		if inst.Op == x86asm.RET {
			offsets = append(offsets, uint64(i)) //nolint:gosec // i is not negative.
		}
		i += max(1, inst.Len)
	}
	return offsets, nil
}
