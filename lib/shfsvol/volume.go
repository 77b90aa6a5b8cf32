// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfsvol

import (
	"fmt"

	"go.shfs.io/shfs-admin/lib/diskio"
)

// StripedVolume is the logical address space assembled from a fixed,
// ordered set of member devices. It is the SHFS analogue of
// btrfsvol.LogicalVolume, minus chunk-tree dynamism: SHFS fixes its
// member table once, at mount time (spec §4.6), so there is no
// AddMapping/RBTree-based chunk map here -- just the stripe formula.
type StripedVolume struct {
	Members []diskio.File[PhysicalOffset]
	Mapper  Mapper
	// NumChunks bounds the addressable logical range to [0, NumChunks).
	NumChunks uint64
}

func (v *StripedVolume) ChunkSize() uint64 { return v.Mapper.ChunkSize() }

func (v *StripedVolume) checkRange(start ChunkAddr, count uint64) error {
	if uint64(start)+count > v.NumChunks {
		return fmt.Errorf("chunk range [%d, %d) exceeds volume extent of %d chunks", start, uint64(start)+count, v.NumChunks)
	}
	return nil
}

// ReadChunks reads count chunks starting at start into buf, which
// must be exactly count*ChunkSize() bytes.
func (v *StripedVolume) ReadChunks(start ChunkAddr, count uint64, buf []byte) error {
	if err := v.checkRange(start, count); err != nil {
		return err
	}
	chunkSize := v.ChunkSize()
	if uint64(len(buf)) != count*chunkSize {
		return fmt.Errorf("read buffer is %d bytes, want %d", len(buf), count*chunkSize)
	}
	for i := uint64(0); i < count; i++ {
		if err := v.readChunk(start+ChunkAddr(i), buf[i*chunkSize:(i+1)*chunkSize]); err != nil {
			return fmt.Errorf("read %v: %w", start+ChunkAddr(i), err)
		}
	}
	return nil
}

// WriteChunks writes count chunks starting at start from buf, which
// must be exactly count*ChunkSize() bytes.
func (v *StripedVolume) WriteChunks(start ChunkAddr, count uint64, buf []byte) error {
	if err := v.checkRange(start, count); err != nil {
		return err
	}
	chunkSize := v.ChunkSize()
	if uint64(len(buf)) != count*chunkSize {
		return fmt.Errorf("write buffer is %d bytes, want %d", len(buf), count*chunkSize)
	}
	for i := uint64(0); i < count; i++ {
		if err := v.writeChunk(start+ChunkAddr(i), buf[i*chunkSize:(i+1)*chunkSize]); err != nil {
			return fmt.Errorf("write %v: %w", start+ChunkAddr(i), err)
		}
	}
	return nil
}

func (v *StripedVolume) readChunk(chunk ChunkAddr, dst []byte) error {
	stripeSize := uint64(v.Mapper.StripeSize)
	switch v.Mapper.Mode {
	case StripeCombined:
		// Mirrored: any single member carries the whole chunk.
		off := PhysicalOffset(uint64(chunk) * stripeSize)
		_, err := v.Members[0].ReadAt(dst, off)
		return err
	case StripeIndependent:
		off := PhysicalOffset(uint64(chunk) * stripeSize)
		for m := uint32(0); m < v.Mapper.NumMembers; m++ {
			lo, hi := uint64(m)*stripeSize, uint64(m+1)*stripeSize
			if _, err := v.Members[m].ReadAt(dst[lo:hi], off); err != nil {
				return fmt.Errorf("member %d: %w", m, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported stripe mode %v", v.Mapper.Mode)
	}
}

func (v *StripedVolume) writeChunk(chunk ChunkAddr, src []byte) error {
	stripeSize := uint64(v.Mapper.StripeSize)
	switch v.Mapper.Mode {
	case StripeCombined:
		off := PhysicalOffset(uint64(chunk) * stripeSize)
		for m := range v.Members {
			if _, err := v.Members[m].WriteAt(src, off); err != nil {
				return fmt.Errorf("member %d: %w", m, err)
			}
		}
		return nil
	case StripeIndependent:
		off := PhysicalOffset(uint64(chunk) * stripeSize)
		for m := uint32(0); m < v.Mapper.NumMembers; m++ {
			lo, hi := uint64(m)*stripeSize, uint64(m+1)*stripeSize
			if _, err := v.Members[m].WriteAt(src[lo:hi], off); err != nil {
				return fmt.Errorf("member %d: %w", m, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported stripe mode %v", v.Mapper.Mode)
	}
}
