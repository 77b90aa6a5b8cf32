// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.shfs.io/shfs-admin/lib/diskio"
	"go.shfs.io/shfs-admin/lib/shfs"
	"go.shfs.io/shfs-admin/lib/shfsvol"
)

type cacheTestMember struct {
	buf []byte
}

func (m *cacheTestMember) Name() string                 { return "mem" }
func (m *cacheTestMember) Size() shfsvol.PhysicalOffset { return shfsvol.PhysicalOffset(len(m.buf)) }
func (m *cacheTestMember) Close() error                 { return nil }
func (m *cacheTestMember) ReadAt(p []byte, off shfsvol.PhysicalOffset) (int, error) {
	return copy(p, m.buf[off:]), nil
}
func (m *cacheTestMember) WriteAt(p []byte, off shfsvol.PhysicalOffset) (int, error) {
	return copy(m.buf[off:], p), nil
}

var _ diskio.File[shfsvol.PhysicalOffset] = (*cacheTestMember)(nil)

func TestChunkCachePinAndMutate(t *testing.T) {
	t.Parallel()
	c := shfs.NewChunkCache(2, 8)
	assert.False(t, c.IsPinned(0))

	require.NoError(t, c.Pin(0, make([]byte, 8)))
	assert.True(t, c.IsPinned(0))

	buf, err := c.Chunk(0)
	require.NoError(t, err)
	buf[0] = 0x42
	c.MarkDirty(0)

	again, err := c.Chunk(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), again[0], "Chunk returns the same backing buffer across calls")
}

func TestChunkCachePinRejectsWrongSize(t *testing.T) {
	t.Parallel()
	c := shfs.NewChunkCache(1, 8)
	assert.Error(t, c.Pin(0, make([]byte, 4)))
}

func TestChunkCacheFlushWritesOnlyDirtyChunksToPrimaryThenBackup(t *testing.T) {
	t.Parallel()
	const stripeSize = 8
	primary := &cacheTestMember{buf: make([]byte, 5*stripeSize)}
	vol := &shfsvol.StripedVolume{
		Members:   []diskio.File[shfsvol.PhysicalOffset]{primary},
		Mapper:    shfsvol.Mapper{StripeSize: stripeSize, Mode: shfsvol.StripeCombined, NumMembers: 1},
		NumChunks: 5,
	}

	c := shfs.NewChunkCache(2, stripeSize)
	require.NoError(t, c.Pin(0, []byte("AAAAAAAA")))
	require.NoError(t, c.Pin(1, []byte("BBBBBBBB")))
	c.MarkDirty(1)

	// htableRef=1, htableBakRef=3: chunk index 1 (the only dirty one)
	// lands at logical chunk 2 (primary) -- verify only that region
	// changed and chunk 1 (clean) was left untouched.
	require.NoError(t, c.Flush(vol, 1, 0))

	got := make([]byte, stripeSize)
	_, _ = primary.ReadAt(got, stripeSize*2)
	assert.Equal(t, "BBBBBBBB", string(got))

	untouched := make([]byte, stripeSize)
	_, _ = primary.ReadAt(untouched, stripeSize*1)
	assert.Equal(t, make([]byte, stripeSize), untouched, "clean chunk 0 must not be written")
}
