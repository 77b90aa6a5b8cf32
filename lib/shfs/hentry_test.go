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

func TestHEntryRoundTrip(t *testing.T) {
	t.Parallel()
	d, err := shfs.NewDigest([]byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)

	buf := make([]byte, shfs.HEntrySize)
	e := shfs.HEntry{
		Chunk:      7,
		Offset:     0,
		Len:        123,
		TSCreation: 1700000000,
		Flags:      0,
	}
	copy(e.Digest[:], d.Bytes())
	require.NoError(t, shfs.EncodeHEntryInto(buf, 0, e))

	got, err := shfs.DecodeHEntry(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Chunk)
	assert.Equal(t, uint64(123), got.Len)
	gotDigest, err := shfs.NewDigest(got.Digest[:4])
	require.NoError(t, err)
	assert.True(t, gotDigest.Equal(d))
}

func TestHEntryChunkFootprint(t *testing.T) {
	t.Parallel()
	e := shfs.HEntry{Offset: 100, Len: 4096}
	assert.Equal(t, uint64(2), e.ChunkFootprint(4096))

	e2 := shfs.HEntry{Offset: 0, Len: 0}
	assert.Equal(t, uint64(1), e2.ChunkFootprint(4096), "a zero-byte object still occupies its one reserved chunk")
}

func TestHEntryFlagString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "----", shfs.HEntryFlag(0).String())
	assert.Equal(t, "D---", (shfs.FlagDefault).String())
	assert.Equal(t, "---H", (shfs.FlagHidden).String())
}

func TestDecodeHEntryRejectsOverrun(t *testing.T) {
	t.Parallel()
	_, err := shfs.DecodeHEntry(make([]byte, 10), 0)
	assert.Error(t, err)
}
