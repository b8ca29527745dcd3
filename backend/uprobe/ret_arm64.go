// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build arm64

package uprobe

import "golang.org/x/arch/arm64/arm64asm"

// In ARM64 each instruction is 4 bytes in length.
const armInstructionSize = 4

func findRetInstructions(data []byte) ([]uint64, error) {
	var offsets []uint64
	for i := 0; i+armInstructionSize <= len(data); i += armInstructionSize {
		inst, err := arm64asm.Decode(data[i:])
		if err == nil && inst.Op == arm64asm.RET {
			offsets = append(offsets, uint64(i)) //nolint:gosec // i is not negative.
		}
	}
	return offsets, nil
}
