// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"fmt"

	"go.shfs.io/shfs-admin/lib/shfsvol"
)

// ChunkCache pins the volume's hash-table chunks in memory for the
// lifetime of a mount, tracking a coarse, chunk-granular dirty bit
// (spec §4.5's MODIFIED bit; §9 notes this is intentionally
// chunk-granular, not per-entry). Grounded on the write-back-on-close
// discipline of btrfs.LogicalVolume.Close, simplified to SHFS's
// pin-everything (no eviction) caching model.
type ChunkCache struct {
	chunkSize uint64
	bufs      [][]byte
	dirty     []bool
}

// NewChunkCache allocates an unpinned cache for htableLen chunks of
// chunkSize bytes each (spec §4.6 step 9).
func NewChunkCache(htableLen int, chunkSize uint64) *ChunkCache {
	return &ChunkCache{
		chunkSize: chunkSize,
		bufs:      make([][]byte, htableLen),
		dirty:     make([]bool, htableLen),
	}
}

func (c *ChunkCache) Len() int { return len(c.bufs) }

// Pin loads chunk i's bytes into the cache if it is not already
// pinned; every implementation may simply pin the entire region up
// front, which is what mount does (spec §4.5).
func (c *ChunkCache) Pin(i int, data []byte) error {
	if i < 0 || i >= len(c.bufs) {
		return fmt.Errorf("chunk cache index %d out of range [0,%d)", i, len(c.bufs))
	}
	if uint64(len(data)) != c.chunkSize {
		return fmt.Errorf("chunk %d: got %d bytes, want %d", i, len(data), c.chunkSize)
	}
	if c.bufs[i] == nil {
		buf := make([]byte, len(data))
		copy(buf, data)
		c.bufs[i] = buf
	}
	return nil
}

// IsPinned reports whether chunk i has been loaded into the cache.
func (c *ChunkCache) IsPinned(i int) bool {
	return i >= 0 && i < len(c.bufs) && c.bufs[i] != nil
}

// Chunk returns the pinned buffer for chunk i, for in-place mutation.
func (c *ChunkCache) Chunk(i int) ([]byte, error) {
	if !c.IsPinned(i) {
		return nil, fmt.Errorf("hash-table chunk %d is not pinned", i)
	}
	return c.bufs[i], nil
}

// MarkDirty raises chunk i's MODIFIED bit.
func (c *ChunkCache) MarkDirty(i int) {
	if i >= 0 && i < len(c.dirty) {
		c.dirty[i] = true
	}
}

// Flush writes every MODIFIED chunk to the primary hash-table region
// first, then -- if htableBakRef != 0 -- to the backup region,
// ordering all primary writes before any backup write (spec §4.5). A
// write error at any point is fatal to the caller (mount-scoped
// corruption); Flush returns it immediately without attempting
// further writes, matching the source's "declare corrupt, stop"
// behavior.
func (c *ChunkCache) Flush(vol *shfsvol.StripedVolume, htableRef, htableBakRef uint64) error {
	for i, dirty := range c.dirty {
		if !dirty {
			continue
		}
		if err := vol.WriteChunks(shfsvol.ChunkAddr(htableRef+uint64(i)), 1, c.bufs[i]); err != nil {
			return fmt.Errorf("flushing primary hash-table chunk %d: %w", i, err)
		}
	}
	if htableBakRef != 0 {
		for i, dirty := range c.dirty {
			if !dirty {
				continue
			}
			if err := vol.WriteChunks(shfsvol.ChunkAddr(htableBakRef+uint64(i)), 1, c.bufs[i]); err != nil {
				return fmt.Errorf("flushing backup hash-table chunk %d: %w", i, err)
			}
		}
	}
	for i := range c.dirty {
		c.dirty[i] = false
	}
	return nil
}
