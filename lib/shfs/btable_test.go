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

func digestOf(t *testing.T, b byte) shfs.Digest {
	t.Helper()
	d, err := shfs.NewDigest([]byte{b, b, b, b})
	require.NoError(t, err)
	return d
}

func TestBucketTableAddLookupRemove(t *testing.T) {
	t.Parallel()
	bt := shfs.NewBucketTable(4, 4)
	d := digestOf(t, 0x11)

	assert.Nil(t, bt.Lookup(d))

	b, err := bt.AddEntry(d)
	require.NoError(t, err)
	require.NotNil(t, b)

	found := bt.Lookup(d)
	require.NotNil(t, found)
	assert.True(t, found.Digest.Equal(d))

	bt.RmEntry(d)
	assert.Nil(t, bt.Lookup(d))
}

func TestBucketTableAddEntryFailsWhenBucketSaturated(t *testing.T) {
	t.Parallel()
	bt := shfs.NewBucketTable(1, 2)
	_, err := bt.AddEntry(digestOf(t, 1))
	require.NoError(t, err)
	_, err = bt.AddEntry(digestOf(t, 2))
	require.NoError(t, err)
	_, err = bt.AddEntry(digestOf(t, 3))
	assert.Error(t, err, "bucket of size 2 is full after two entries")
}

func TestBucketTableFeedUsesFixedOnDiskPosition(t *testing.T) {
	t.Parallel()
	bt := shfs.NewBucketTable(2, 3)
	// Slot index 4 is bucket floor(4/3)=1, slot 4%3=1, regardless of
	// the digest's hash value (spec §6 on-disk layout formula).
	b := bt.Feed(4, digestOf(t, 0x42))
	assert.Equal(t, uint32(1), b.Bucket)
	assert.Equal(t, uint32(1), b.Slot)
}

func TestBucketTableIterateIsBucketMajorSlotMinor(t *testing.T) {
	t.Parallel()
	bt := shfs.NewBucketTable(2, 2)
	bt.Feed(0, digestOf(t, 1))
	bt.Feed(1, digestOf(t, 2))
	bt.Feed(2, digestOf(t, 3))
	bt.Feed(3, digestOf(t, 4))

	var order []uint32
	err := bt.Iterate(func(b *shfs.Bentry) error {
		order = append(order, b.Bucket*10+b.Slot)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 10, 11}, order)
}

func TestBucketTableNumSlots(t *testing.T) {
	t.Parallel()
	bt := shfs.NewBucketTable(5, 7)
	assert.Equal(t, uint64(35), bt.NumSlots())
}
