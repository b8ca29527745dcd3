// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build 386 || amd64

package uprobe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRetInstructions(t *testing.T) {
	// nop; ret; nop; ret
	got, err := findRetInstructions([]byte{0x90, 0xc3, 0x90, 0xc3})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, got)

	got, err = findRetInstructions([]byte{0x90, 0x90})
	require.NoError(t, err)
	assert.Empty(t, got)
}
