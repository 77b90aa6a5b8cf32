// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package shfsvol implements the striped logical address space that
// sits beneath a mounted SHFS volume: translating a logical chunk
// number into one or more physical (member, byte-offset) pairs and
// driving the member I/O through that mapping.
package shfsvol

import "fmt"

// ChunkAddr is a logical chunk number: chunk 0 is always the label
// chunk, chunk 1 the config header, and [2, NumChunks) is available
// to the allocator.
type ChunkAddr uint64

func (a ChunkAddr) String() string { return fmt.Sprintf("chunk%d", uint64(a)) }

// PhysicalOffset is a byte offset within a single member device.
type PhysicalOffset int64

// MemberIndex is a member's position in the volume's canonical
// member order, as fixed by the common header (lib/shfs.CommonHeader).
type MemberIndex uint32
