// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"

	"go.shfs.io/shfs-admin/lib/containers"
	"go.shfs.io/shfs-admin/lib/diskio"
	"go.shfs.io/shfs-admin/lib/shfsvol"
)

// MaxTryMembers bounds how many device paths Mount will attempt to
// open in one call (spec §4.6 step 1, "nb_devs <= MAX_NB_TRY_BLKDEVS").
const MaxTryMembers = 32

// detected is an opened candidate member device paired with the
// common header read off it, before it's known whether it belongs to
// the volume being mounted.
type detected struct {
	dev *Device
	hdr CommonHeader
}

// MountRequest names one candidate member device and the logical
// block size the caller asserts for it; block-size discovery is a
// collaborator concern (spec §1), not part of this core.
type MountRequest struct {
	Path             string
	LogicalBlockSize uint32
}

// Volume is a fully mounted SHFS volume: the assembled striped
// address space plus the in-memory structures rebuilt from it (spec
// §4.6). It is the single process-wide mounted-volume value the
// command surface threads through every action (§9 "Global mutable
// state": no package-level singleton, an explicit value instead).
type Volume struct {
	Common  CommonHeader
	Config  ConfigHeader
	members []*Device
	vol     *shfsvol.StripedVolume

	Buckets *BucketTable
	Alloc   *Allocator
	Cache   *ChunkCache
	Default *Bentry

	htableRef    uint64
	htableBakRef uint64
	chunkSize    uint64
}

func (v *Volume) ChunkSize() uint64     { return v.chunkSize }
func (v *Volume) HLen() int             { return int(v.Config.HLen) }
func (v *Volume) NumChunks() uint64     { return v.Common.VolSize + 1 }
func (v *Volume) VolumeUUID() uuid.UUID { return uuid.UUID(v.Common.VolUUID) }
func (v *Volume) VolumeName() string    { return unpadString(v.Common.VolName[:]) }

// Mount implements spec §4.6: it discovers, validates, and assembles
// the member devices named by reqs into a mounted Volume, then
// rebuilds the bucket table and allocator from the on-disk hash
// table. Any I/O failure, or any structural mismatch between the
// declared member table and the opened devices, is fatal (returned
// as an error; the caller is expected to abort the process, per §7
// "mount-time errors are fatal").
func Mount(ctx context.Context, reqs []MountRequest) (*Volume, error) {
	if len(reqs) == 0 {
		return nil, newErr(KindInvalidArgument, "no member devices supplied")
	}
	if len(reqs) > MaxTryMembers {
		return nil, newErr(KindInvalidArgument, "%d member devices exceeds the %d-device limit", len(reqs), MaxTryMembers)
	}

	var all []detected
	for _, req := range reqs {
		dlog.Debugf(ctx, "opening candidate member %s", req.Path)
		dev, err := OpenDevice(req.Path, req.LogicalBlockSize)
		if err != nil {
			return nil, err
		}
		head, err := dev.ReadHead(4096)
		if err != nil {
			_ = dev.Close()
			return nil, newErr(KindIO, "%w", err)
		}
		hdr, err := DetectCommonHeader(head)
		if err != nil {
			_ = dev.Close()
			return nil, newErr(KindFormat, "%s: %w", req.Path, err)
		}
		all = append(all, detected{dev: dev, hdr: hdr})
	}

	ref := all[0]
	memberCount := int(ref.hdr.MemberCount)
	if memberCount <= 0 || memberCount > MaxMembers {
		closeAll(all)
		return nil, newErr(KindFormat, "common header declares %d members", memberCount)
	}

	mapper := shfsvol.Mapper{
		StripeSize: ref.hdr.StripeSize,
		Mode:       shfsvol.StripeMode(ref.hdr.StripeMode),
		NumMembers: uint32(memberCount),
	}
	if err := mapper.Validate(); err != nil {
		closeAll(all)
		return nil, newErr(KindFormat, "%w", err)
	}
	chunkSize := mapper.ChunkSize()

	ordered := make([]*Device, memberCount)
	seen := containers.NewSet[uuid.UUID]()
	for i := 0; i < memberCount; i++ {
		declared := uuid.UUID(ref.hdr.Members[i])
		var match *detected
		for j := range all {
			if uuid.UUID(all[j].hdr.ThisMember) == declared {
				match = &all[j]
				break
			}
		}
		if match == nil {
			closeAll(all)
			return nil, newErr(KindFormat, "no opened device matches declared member %s (index %d)", declared, i)
		}
		if seen.Has(declared) {
			closeAll(all)
			return nil, newErr(KindFormat, "duplicate member UUID %s", declared)
		}
		seen.Insert(declared)
		ordered[i] = match.dev
	}
	if len(all) != memberCount {
		closeAll(all)
		return nil, newErr(KindFormat, "supplied %d devices but the header declares %d members", len(all), memberCount)
	}

	numChunks := ref.hdr.VolSize + 1
	// combined mirrors every chunk onto every member, so each member
	// needs room for the whole volume; independent round-robins
	// stripes across members, so each member only needs its 1/nb_members
	// share (spec §4.6 step 6).
	var minMemberBytes uint64
	switch mapper.Mode {
	case shfsvol.StripeIndependent:
		minMemberBytes = (numChunks / uint64(memberCount)) * uint64(mapper.StripeSize)
	default:
		minMemberBytes = numChunks * uint64(mapper.StripeSize)
	}
	for _, dev := range ordered {
		if uint64(dev.Size()) < minMemberBytes {
			closeAll(all)
			return nil, newErr(KindCapacity, "member %s is smaller than the %d bytes the volume requires", dev.Name(), minMemberBytes)
		}
	}

	memberFiles := make([]diskio.File[shfsvol.PhysicalOffset], len(ordered))
	for i, dev := range ordered {
		memberFiles[i] = dev
	}
	striped := &shfsvol.StripedVolume{
		Members:   memberFiles,
		Mapper:    mapper,
		NumChunks: numChunks,
	}

	chunk1 := make([]byte, chunkSize)
	if err := striped.ReadChunks(1, 1, chunk1); err != nil {
		closeAll(all)
		return nil, newErr(KindIO, "reading config header: %w", err)
	}
	cfg, err := DecodeConfigHeader(chunk1)
	if err != nil {
		closeAll(all)
		return nil, newErr(KindFormat, "%w", err)
	}
	htableLen := cfg.HTableLen(chunkSize)
	if htableLen == 0 {
		closeAll(all)
		return nil, newErr(KindFormat, "config header declares a zero-length hash table")
	}

	bt := NewBucketTable(cfg.HTableBucketCount, cfg.HTableEntriesPerBucket)
	cache := NewChunkCache(int(htableLen), chunkSize)

	v := &Volume{
		Common:       ref.hdr,
		Config:       cfg,
		members:      ordered,
		vol:          striped,
		Buckets:      bt,
		Cache:        cache,
		htableRef:    cfg.HTableRef,
		htableBakRef: cfg.HTableBakRef,
		chunkSize:    chunkSize,
	}

	if err := v.loadHashTable(ctx); err != nil {
		closeAll(all)
		return nil, err
	}
	v.buildAllocator()

	dlog.Infof(ctx, "mounted volume %s (%s) with %d members, %d chunks", v.VolumeName(), v.VolumeUUID(), memberCount, numChunks)
	return v, nil
}

// loadHashTable implements spec §4.6 step 10: stream every logical
// slot, lazily pinning the containing chunk on first visit.
func (v *Volume) loadHashTable(ctx context.Context) error {
	hlen := int(v.Config.HLen)
	entriesPerChunk := EntriesPerChunk(v.chunkSize)
	numEntries := v.Buckets.NumSlots()
	for i := uint64(0); i < numEntries; i++ {
		if err := ctx.Err(); err != nil {
			return newErr(KindCancel, "mount interrupted while loading the hash table")
		}
		chunkIdx := int(i / entriesPerChunk)
		byteOffset := (i % entriesPerChunk) * HEntrySize
		if !v.Cache.IsPinned(chunkIdx) {
			buf := make([]byte, v.chunkSize)
			if err := v.vol.ReadChunks(shfsvol.ChunkAddr(v.htableRef+uint64(chunkIdx)), 1, buf); err != nil {
				return newErr(KindIO, "reading hash-table chunk %d: %w", chunkIdx, err)
			}
			if err := v.Cache.Pin(chunkIdx, buf); err != nil {
				return newErr(KindIO, "%w", err)
			}
		}
		chunkBuf, err := v.Cache.Chunk(chunkIdx)
		if err != nil {
			return newErr(KindIO, "%w", err)
		}
		e, err := DecodeHEntry(chunkBuf, byteOffset)
		if err != nil {
			return newErr(KindFormat, "decoding hash-table entry %d: %w", i, err)
		}
		d := e.digest(hlen)
		b := v.Buckets.Feed(i, d)
		b.HTChunk = uint64(chunkIdx)
		b.HTOffset = byteOffset
		if !d.IsEmpty() && HEntryFlag(e.Flags)&FlagDefault != 0 {
			v.Default = b
		}
	}
	return nil
}

// buildAllocator implements spec §4.4's rebuild-from-scratch
// procedure: register the label region, the hash-table regions, then
// every non-empty entry's payload range.
func (v *Volume) buildAllocator() {
	a := NewAllocator(AllocPolicy(v.Config.Allocator), v.NumChunks())
	_ = a.Register(0, 2)
	htableLen := v.Config.HTableLen(v.chunkSize)
	_ = a.Register(v.htableRef, htableLen)
	if v.htableBakRef != 0 {
		_ = a.Register(v.htableBakRef, htableLen)
	}
	_ = v.Buckets.Iterate(func(b *Bentry) error {
		chunkBuf, err := v.Cache.Chunk(int(b.HTChunk))
		if err != nil {
			return nil
		}
		e, err := DecodeHEntry(chunkBuf, b.HTOffset)
		if err != nil {
			return nil
		}
		footprint := e.ChunkFootprint(v.chunkSize)
		if footprint > 0 {
			_ = a.Register(e.Chunk, footprint)
		}
		return nil
	})
	v.Alloc = a
}

// Unmount implements spec §4.8: flush every MODIFIED hash-table
// chunk (primary then backup), then release the cache, bucket table,
// allocator, and close every member. Unmount still runs after a
// cancelled action so that already-committed hash-table mutations
// are not lost (spec §5).
func (v *Volume) Unmount(ctx context.Context) error {
	flushErr := v.Cache.Flush(v.vol, v.htableRef, v.htableBakRef)
	if flushErr != nil {
		dlog.Errorf(ctx, "hash-table flush failed, volume may be corrupt: %v", flushErr)
	}
	var closeErrs derror.MultiError
	for _, dev := range v.members {
		if err := dev.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("closing %s: %w", dev.Name(), err))
		}
	}
	v.Buckets = nil
	v.Alloc = nil
	v.Cache = nil

	if flushErr != nil {
		return newErr(KindIO, "hash-table flush failed: %w", flushErr)
	}
	if len(closeErrs) > 0 {
		return newErr(KindIO, "%w", closeErrs)
	}
	return nil
}

func closeAll(ds []detected) {
	for _, d := range ds {
		_ = d.dev.Close()
	}
}
