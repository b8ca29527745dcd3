// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package uprobe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRetInstructions(t *testing.T) {
	nop := []byte{0x1f, 0x20, 0x03, 0xd5}
	ret := []byte{0xc0, 0x03, 0x5f, 0xd6}

	var code []byte
	for _, inst := range [][]byte{nop, ret, nop, ret} {
		code = append(code, inst...)
	}
	got, err := findRetInstructions(code)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 12}, got)
}
