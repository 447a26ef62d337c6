// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortLedgerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.db")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	mark, err := l.LoadHighWaterMark()
	require.NoError(t, err)
	assert.Equal(t, 0, mark)

	require.NoError(t, l.SaveHighWaterMark(4200))
	mark, err = l.LoadHighWaterMark()
	require.NoError(t, err)
	assert.Equal(t, 4200, mark)
}

func TestDurableAllocatorResumesAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.db")
	l, err := Open(path)
	require.NoError(t, err)

	a, err := NewDurableAllocator(l, 32768)
	require.NoError(t, err)
	assert.Equal(t, 32768, a.Next())
	assert.Equal(t, 32769, a.Next())
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	a2, err := NewDurableAllocator(l2, 32768)
	require.NoError(t, err)
	assert.Equal(t, 32770, a2.Next(), "must resume past the last persisted allocation")
}

func TestMemoryAllocatorIsMonotonic(t *testing.T) {
	a := NewMemoryAllocator(100)
	assert.Equal(t, 100, a.Next())
	assert.Equal(t, 101, a.Next())
	assert.Equal(t, 102, a.Next())
}
