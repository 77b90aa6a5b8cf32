// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.shfs.io/shfs-admin/lib/shfs"
)

func TestAllocatorRegisterUnregisterRoundTrip(t *testing.T) {
	t.Parallel()
	a := shfs.NewAllocator(shfs.AllocFirstFit, 1024)
	require.NoError(t, a.Register(0, 2))   // label
	require.NoError(t, a.Register(2, 10))  // htable primary

	assert.Equal(t, uint64(2+10), a.TotalRegistered())

	require.Error(t, a.Register(5, 1), "overlapping register must fail")

	require.NoError(t, a.Unregister(2, 10))
	assert.Equal(t, uint64(2), a.TotalRegistered())
}

func TestAllocatorFindFreeFirstFit(t *testing.T) {
	t.Parallel()
	a := shfs.NewAllocator(shfs.AllocFirstFit, 100)
	require.NoError(t, a.Register(0, 2))
	require.NoError(t, a.Register(5, 3)) // [5,8) occupied, leaving gap [2,5)

	assert.Equal(t, uint64(2), a.FindFree(3)) // exact fit of the first gap
	assert.Equal(t, uint64(8), a.FindFree(4)) // gap [2,5) is too small, falls through to the tail [8,100)
}

func TestAllocatorFindFreeBestFit(t *testing.T) {
	t.Parallel()
	a := shfs.NewAllocator(shfs.AllocBestFit, 100)
	require.NoError(t, a.Register(0, 2))
	require.NoError(t, a.Register(2, 1))  // [2,3)
	require.NoError(t, a.Register(10, 5)) // [10,15), leaving gap [3,10)=7 and tail [15,100)=85

	assert.Equal(t, uint64(3), a.FindFree(5)) // best-fit picks the 7-chunk gap over the 85-chunk tail
}

func TestAllocatorZeroLengthIsNoop(t *testing.T) {
	t.Parallel()
	a := shfs.NewAllocator(shfs.AllocFirstFit, 16)
	assert.Equal(t, uint64(0), a.FindFree(0))
	require.NoError(t, a.Register(4, 0))
	assert.Equal(t, uint64(0), a.TotalRegistered())
}

func TestAllocatorUnregisterSplitsRange(t *testing.T) {
	t.Parallel()
	a := shfs.NewAllocator(shfs.AllocFirstFit, 32)
	require.NoError(t, a.Register(4, 10)) // [4,14)
	require.NoError(t, a.Unregister(6, 2)) // carve out [6,8) from the middle

	assert.Equal(t, uint64(8), a.TotalRegistered())
	assert.Equal(t, uint64(6), a.FindFree(2))
}

func TestAllocatorUnregisterRejectsPartialOccupancy(t *testing.T) {
	t.Parallel()
	a := shfs.NewAllocator(shfs.AllocFirstFit, 32)
	require.NoError(t, a.Register(4, 2)) // [4,6)
	assert.Error(t, a.Unregister(4, 5))   // [4,9) is not fully occupied
}
