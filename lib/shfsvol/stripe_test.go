// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfsvol_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.shfs.io/shfs-admin/lib/diskio"
	"go.shfs.io/shfs-admin/lib/shfsvol"
)

type memberBuf struct {
	buf []byte
}

func (m *memberBuf) Name() string { return "mem" }
func (m *memberBuf) Size() shfsvol.PhysicalOffset {
	return shfsvol.PhysicalOffset(len(m.buf))
}
func (m *memberBuf) Close() error { return nil }
func (m *memberBuf) ReadAt(p []byte, off shfsvol.PhysicalOffset) (int, error) {
	return copy(p, m.buf[off:]), nil
}
func (m *memberBuf) WriteAt(p []byte, off shfsvol.PhysicalOffset) (int, error) {
	return copy(m.buf[off:], p), nil
}

var _ diskio.File[shfsvol.PhysicalOffset] = (*memberBuf)(nil)

func newMember(size int) diskio.File[shfsvol.PhysicalOffset] {
	return &memberBuf{buf: make([]byte, size)}
}

func TestCombinedMirrorsAllMembers(t *testing.T) {
	t.Parallel()
	vol := &shfsvol.StripedVolume{
		Members: []diskio.File[shfsvol.PhysicalOffset]{
			newMember(4096 * 4), newMember(4096 * 4), newMember(4096 * 4),
		},
		Mapper:    shfsvol.Mapper{StripeSize: 4096, Mode: shfsvol.StripeCombined, NumMembers: 3},
		NumChunks: 4,
	}
	payload := bytes.Repeat([]byte{0xAB}, 4096)
	require.NoError(t, vol.WriteChunks(2, 1, payload))
	for _, mem := range vol.Members {
		got := make([]byte, 4096)
		_, _ = mem.ReadAt(got, shfsvol.PhysicalOffset(2*4096))
		assert.Equal(t, payload, got)
	}
}

func TestIndependentStripesAcrossMembers(t *testing.T) {
	t.Parallel()
	const stripe = 4096
	vol := &shfsvol.StripedVolume{
		Members: []diskio.File[shfsvol.PhysicalOffset]{
			newMember(stripe * 4), newMember(stripe * 4),
		},
		Mapper:    shfsvol.Mapper{StripeSize: stripe, Mode: shfsvol.StripeIndependent, NumMembers: 2},
		NumChunks: 4,
	}
	chunk := append(bytes.Repeat([]byte{0x11}, stripe), bytes.Repeat([]byte{0x22}, stripe)...)
	require.NoError(t, vol.WriteChunks(1, 1, chunk))

	got0 := make([]byte, stripe)
	_, _ = vol.Members[0].ReadAt(got0, stripe)
	assert.Equal(t, bytes.Repeat([]byte{0x11}, stripe), got0)

	got1 := make([]byte, stripe)
	_, _ = vol.Members[1].ReadAt(got1, stripe)
	assert.Equal(t, bytes.Repeat([]byte{0x22}, stripe), got1)

	readBack := make([]byte, stripe*2)
	require.NoError(t, vol.ReadChunks(1, 1, readBack))
	assert.Equal(t, chunk, readBack)
}

func TestReadChunksRejectsOutOfRange(t *testing.T) {
	t.Parallel()
	vol := &shfsvol.StripedVolume{
		Members:   []diskio.File[shfsvol.PhysicalOffset]{newMember(4096 * 2)},
		Mapper:    shfsvol.Mapper{StripeSize: 4096, Mode: shfsvol.StripeCombined, NumMembers: 1},
		NumChunks: 2,
	}
	err := vol.ReadChunks(1, 2, make([]byte, 4096*2))
	assert.Error(t, err)
}
