// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.shfs.io/shfs-admin/lib/shfs"
)

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestAddExportListRoundTrip(t *testing.T) {
	t.Parallel()
	v := mountTestVolume(t)
	ctx := context.Background()
	src := writeSource(t, "hello world")

	digest, err := v.Add(ctx, src, "text/plain", "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", digest.Hex())

	rows, err := v.List()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hello.txt", rows[0].Name)
	assert.Equal(t, "text/plain", rows[0].Mime)
	assert.Equal(t, "----", rows[0].Flags)
	assert.Equal(t, uint64(1), rows[0].Footprint)

	var out bytes.Buffer
	require.NoError(t, v.Export(ctx, digest.Hex(), &out))
	assert.Equal(t, "hello world", out.String())
}

func TestAddRejectsDuplicateDigest(t *testing.T) {
	t.Parallel()
	v := mountTestVolume(t)
	ctx := context.Background()
	src := writeSource(t, "same content")

	_, err := v.Add(ctx, src, "", "")
	require.NoError(t, err)
	_, err = v.Add(ctx, src, "", "")
	assert.Error(t, err)
	assert.Equal(t, shfs.KindCollision, kindOf(t, err))
}

func kindOf(t *testing.T, err error) shfs.ErrorKind {
	t.Helper()
	k, ok := shfs.KindOf(err)
	require.True(t, ok, "expected an *ActionError")
	return k
}

func TestSetDefaultAndClearDefault(t *testing.T) {
	t.Parallel()
	v := mountTestVolume(t)
	ctx := context.Background()
	src := writeSource(t, "default me")

	digest, err := v.Add(ctx, src, "", "")
	require.NoError(t, err)

	require.NoError(t, v.SetDefault(digest.Hex()))
	rows, err := v.List()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "D---", rows[0].Flags)
	require.NotNil(t, v.Default)

	require.NoError(t, v.ClearDefault())
	rows, err = v.List()
	require.NoError(t, err)
	assert.Equal(t, "----", rows[0].Flags)
	assert.Nil(t, v.Default)

	// Clearing again with nothing set is a no-op success (spec §4.7).
	require.NoError(t, v.ClearDefault())
}

func TestSetDefaultMovesFlagBetweenObjects(t *testing.T) {
	t.Parallel()
	v := mountTestVolume(t)
	ctx := context.Background()

	d1, err := v.Add(ctx, writeSource(t, "object one"), "", "")
	require.NoError(t, err)
	d2, err := v.Add(ctx, writeSource(t, "object two"), "", "")
	require.NoError(t, err)

	require.NoError(t, v.SetDefault(d1.Hex()))
	require.NoError(t, v.SetDefault(d2.Hex()))

	rows, err := v.List()
	require.NoError(t, err)
	defaults := 0
	for _, r := range rows {
		if r.Flags == "D---" {
			defaults++
			assert.Equal(t, d2.Hex(), r.Digest)
		}
	}
	assert.Equal(t, 1, defaults, "at most one entry may carry the DEFAULT flag")
}

func TestRemoveReclaimsSpaceForReuse(t *testing.T) {
	t.Parallel()
	v := mountTestVolume(t)
	ctx := context.Background()

	digest, err := v.Add(ctx, writeSource(t, "temporary"), "", "")
	require.NoError(t, err)
	before := v.Alloc.TotalRegistered()

	require.NoError(t, v.Remove(digest.Hex()))
	rows, err := v.List()
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Less(t, v.Alloc.TotalRegistered(), before)

	// The freed range is available to a subsequent add.
	_, err = v.Add(ctx, writeSource(t, "reused space"), "", "")
	require.NoError(t, err)
}

func TestAddAndRemoveEmptyFileReclaimsItsReservedChunk(t *testing.T) {
	t.Parallel()
	v := mountTestVolume(t)
	ctx := context.Background()

	before := v.Alloc.TotalRegistered()
	digest, err := v.Add(ctx, writeSource(t, ""), "", "")
	require.NoError(t, err)
	assert.Equal(t, before+1, v.Alloc.TotalRegistered(), "an empty file still reserves exactly one chunk")

	var out bytes.Buffer
	require.NoError(t, v.Export(ctx, digest.Hex(), &out))
	assert.Empty(t, out.String())

	require.NoError(t, v.Remove(digest.Hex()))
	assert.Equal(t, before, v.Alloc.TotalRegistered(), "removing it must reclaim the whole reservation, not zero chunks")
}

func TestRemoveUnknownDigestFails(t *testing.T) {
	t.Parallel()
	v := mountTestVolume(t)
	err := v.Remove("00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	require.Error(t, err)
	assert.Equal(t, shfs.KindNotFound, kindOf(t, err))
}

func TestRemoveRejectsMalformedDigest(t *testing.T) {
	t.Parallel()
	v := mountTestVolume(t)
	err := v.Remove("not-hex")
	require.Error(t, err)
	assert.Equal(t, shfs.KindInvalidArgument, kindOf(t, err))
}

func TestAddedObjectPersistsAcrossUnmountRemount(t *testing.T) {
	t.Parallel()
	path, _ := buildSingleMemberImage(t)
	ctx := context.Background()

	v, err := shfs.Mount(ctx, []shfs.MountRequest{{Path: path, LogicalBlockSize: 512}})
	require.NoError(t, err)
	digest, err := v.Add(ctx, writeSource(t, "persist me"), "text/plain", "p.txt")
	require.NoError(t, err)
	require.NoError(t, v.SetDefault(digest.Hex()))
	require.NoError(t, v.Unmount(ctx))

	v2, err := shfs.Mount(ctx, []shfs.MountRequest{{Path: path, LogicalBlockSize: 512}})
	require.NoError(t, err)
	defer func() { _ = v2.Unmount(ctx) }()

	rows, err := v2.List()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, digest.Hex(), rows[0].Digest)
	assert.Equal(t, "D---", rows[0].Flags)

	var out bytes.Buffer
	require.NoError(t, v2.Export(ctx, digest.Hex(), &out))
	assert.Equal(t, "persist me", out.String())
}
