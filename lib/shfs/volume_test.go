// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.shfs.io/shfs-admin/lib/shfs"
)

const (
	testChunkSize = 4096
	testNumChunks = 20
	testHTableRef = 4
)

// buildSingleMemberImage writes a minimal, valid single-member,
// combined-mode volume image to a temp file and returns its path and
// the volume UUID it was stamped with.
func buildSingleMemberImage(t *testing.T) (string, uuid.UUID) {
	t.Helper()
	volUUID := uuid.New()

	var common shfs.CommonHeader
	common.Version = shfs.CommonHeaderVersion
	common.VolUUID = volUUID
	copy(common.VolName[:], "testvol")
	common.StripeSize = testChunkSize
	common.StripeMode = 0 // combined
	common.VolSize = testNumChunks - 1
	common.MemberCount = 1
	common.Members[0] = volUUID
	common.ThisMember = volUUID
	commonBytes, err := shfs.EncodeCommonHeader(common)
	require.NoError(t, err)

	cfg := shfs.ConfigHeader{
		HTableRef:              testHTableRef,
		HTableBakRef:           0,
		HTableBucketCount:      2,
		HTableEntriesPerBucket: 4,
		HLen:                   32,
		Allocator:              uint8(shfs.AllocatorFirstFit),
	}
	cfgBytes, err := shfs.EncodeConfigHeader(cfg)
	require.NoError(t, err)

	buf := make([]byte, testNumChunks*testChunkSize)
	copy(buf[shfs.BootAreaLength:], commonBytes)
	copy(buf[testChunkSize:], cfgBytes)
	// The hash-table chunk at testHTableRef is left all-zero: every
	// slot decodes to an empty (all-zero-digest) entry.

	path := filepath.Join(t.TempDir(), "member0.img")
	require.NoError(t, os.WriteFile(path, buf, 0o600))
	return path, volUUID
}

func mountTestVolume(t *testing.T) *shfs.Volume {
	t.Helper()
	path, _ := buildSingleMemberImage(t)
	v, err := shfs.Mount(context.Background(), []shfs.MountRequest{{Path: path, LogicalBlockSize: 512}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Unmount(context.Background()) })
	return v
}

func TestMountRebuildsStateFromDisk(t *testing.T) {
	t.Parallel()
	v := mountTestVolume(t)

	assert.Equal(t, uint64(testNumChunks), v.NumChunks())
	assert.Equal(t, uint64(testChunkSize), v.ChunkSize())
	assert.Equal(t, 32, v.HLen())
	// label [0,2) + one hash-table chunk at testHTableRef.
	assert.Equal(t, uint64(3), v.Alloc.TotalRegistered())

	rows, err := v.List()
	require.NoError(t, err)
	assert.Empty(t, rows, "a freshly built image has no objects")
	assert.Nil(t, v.Default)
}

func TestMountRejectsNoRequests(t *testing.T) {
	t.Parallel()
	_, err := shfs.Mount(context.Background(), nil)
	assert.Error(t, err)
}

func TestMountRejectsBadMagic(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.img")
	require.NoError(t, os.WriteFile(path, make([]byte, testNumChunks*testChunkSize), 0o600))
	_, err := shfs.Mount(context.Background(), []shfs.MountRequest{{Path: path, LogicalBlockSize: 512}})
	assert.Error(t, err)
}

func TestInfoReadsHeadersFromDisk(t *testing.T) {
	t.Parallel()
	path, volUUID := buildSingleMemberImage(t)
	v, err := shfs.Mount(context.Background(), []shfs.MountRequest{{Path: path, LogicalBlockSize: 512}})
	require.NoError(t, err)
	defer func() { _ = v.Unmount(context.Background()) }()

	info, err := v.Info()
	require.NoError(t, err)
	assert.Equal(t, volUUID.String(), info.VolumeUUID)
	assert.Equal(t, "testvol", info.VolumeName)
	assert.Equal(t, uint32(testChunkSize), info.StripeSize)
	assert.Equal(t, uint64(testHTableRef), info.HTableRef)
}
