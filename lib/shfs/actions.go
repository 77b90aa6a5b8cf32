// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"go.shfs.io/shfs-admin/lib/shfsvol"
	"go.shfs.io/shfs-admin/lib/slices"
)

// checkCancel is the chunk-boundary check spec §5 requires of every
// streaming loop.
func checkCancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return newErr(KindCancel, "operation cancelled")
	}
	return nil
}

// Add implements add() (spec §4.7): it streams sourcePath twice --
// once to compute its digest, once to write its chunk-sized blocks --
// registering the payload range before the first pass so that a
// concurrent (sequential, but crash-adjacent) add never double-books
// the same chunks.
func (v *Volume) Add(ctx context.Context, sourcePath, mime, name string) (Digest, error) {
	var zero Digest

	fi, err := os.Stat(sourcePath)
	if err != nil {
		return zero, newErr(KindIO, "stat %s: %w", sourcePath, err)
	}
	if !fi.Mode().IsRegular() {
		return zero, newErr(KindInvalidArgument, "%s is not a regular file", sourcePath)
	}
	fsize := uint64(fi.Size())
	chunkSize := v.ChunkSize()
	csize := (fsize + chunkSize - 1) / chunkSize
	if csize == 0 {
		csize = 1 // an empty file still needs one chunk to hold its (zero-length) payload
	}

	cchk := v.Alloc.FindFree(csize)
	if cchk == 0 {
		return zero, newErr(KindCapacity, "no free range of %d chunks", csize)
	}
	if err := v.Alloc.Register(cchk, csize); err != nil {
		return zero, newErr(KindCapacity, "%w", err)
	}
	cleanup := func() { _ = v.Alloc.Unregister(cchk, csize) }

	f, err := os.Open(sourcePath)
	if err != nil {
		cleanup()
		return zero, newErr(KindIO, "opening %s: %w", sourcePath, err)
	}
	defer f.Close()

	digest, err := v.streamDigest(ctx, f, chunkSize)
	if err != nil {
		cleanup()
		return zero, err
	}

	if b := v.Buckets.Lookup(digest); b != nil {
		cleanup()
		return zero, newErr(KindCollision, "object %s already exists", digest.Hex())
	}
	b, err := v.Buckets.AddEntry(digest)
	if err != nil {
		cleanup()
		return zero, newErr(KindCapacity, "%w", err)
	}

	if name == "" {
		name = filepath.Base(sourcePath)
	}
	e := HEntry{
		Chunk:      cchk,
		Offset:     0,
		Len:        fsize,
		TSCreation: uint64(time.Now().Unix()),
		Flags:      0,
		Mime:       padString(mime, 32),
		Name:       padString(name, 32),
	}
	e.setDigest(digest)

	if err := v.writeHEntry(b, e); err != nil {
		v.Buckets.RmEntry(digest)
		cleanup()
		return zero, err
	}

	// The hash-table mutation above is now committed (spec §5: "no
	// hash-table mutation is committed if it had not already been
	// performed" -- by implication, one already performed survives). A
	// failure writing the payload below, including cancellation, is
	// surfaced to the caller but no longer unwinds the bucket entry or
	// the allocator reservation; the object exists with whatever
	// prefix of its payload was written before the failure.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return digest, newErr(KindIO, "rewinding %s: %w", sourcePath, err)
	}
	if err := v.writePayload(ctx, f, cchk, csize, fsize); err != nil {
		return digest, err
	}

	return digest, nil
}

// streamDigest implements add()'s step 3: read the source in
// chunk-sized blocks, feeding each to the digest primitive, checking
// for cancellation between blocks.
func (v *Volume) streamDigest(ctx context.Context, r io.Reader, chunkSize uint64) (Digest, error) {
	h, err := newHasher(v.HLen())
	if err != nil {
		return Digest{}, newErr(KindInvalidArgument, "%w", err)
	}
	buf := make([]byte, chunkSize)
	for {
		if err := checkCancel(ctx); err != nil {
			return Digest{}, err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return Digest{}, newErr(KindIO, "reading source: %w", err)
		}
	}
	full := h.Sum(nil)
	return NewDigest(full[:v.HLen()])
}

// writePayload implements add()'s step 5: stream the source again,
// writing chunk-sized blocks to [cchk, cchk+csize), zero-padding the
// final partial block.
func (v *Volume) writePayload(ctx context.Context, r io.Reader, cchk, csize, fsize uint64) error {
	chunkSize := v.ChunkSize()
	buf := make([]byte, chunkSize)
	for i := uint64(0); i < csize; i++ {
		if err := checkCancel(ctx); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return newErr(KindIO, "reading source: %w", err)
		}
		for j := n; j < len(buf); j++ {
			buf[j] = 0
		}
		if err := v.vol.WriteChunks(shfsvol.ChunkAddr(cchk+i), 1, buf); err != nil {
			return newErr(KindIO, "writing payload chunk %d: %w", cchk+i, err)
		}
	}
	return nil
}

// writeHEntry encodes e into b's pinned backing hash-table chunk and
// marks it MODIFIED. It does not pin: mount pins every hash-table
// chunk, and an unpinned chunk is reported as an error.
func (v *Volume) writeHEntry(b *Bentry, e HEntry) error {
	chunkBuf, err := v.Cache.Chunk(int(b.HTChunk))
	if err != nil {
		return newErr(KindIO, "%w", err)
	}
	if err := EncodeHEntryInto(chunkBuf, b.HTOffset, e); err != nil {
		return newErr(KindFormat, "%w", err)
	}
	v.Cache.MarkDirty(int(b.HTChunk))
	return nil
}

// Remove implements remove() (spec §4.7).
func (v *Volume) Remove(digestHex string) error {
	d, err := ParseDigestHex(digestHex, v.HLen())
	if err != nil {
		return newErr(KindInvalidArgument, "%w", err)
	}
	b := v.Buckets.Lookup(d)
	if b == nil {
		return newErr(KindNotFound, "no object with digest %s", digestHex)
	}
	e, err := v.readHEntry(b)
	if err != nil {
		return err
	}
	footprint := e.ChunkFootprint(v.ChunkSize())
	if err := v.Alloc.Unregister(e.Chunk, footprint); err != nil {
		return newErr(KindFormat, "%w", err)
	}
	e.setDigest(Digest{})
	if err := v.writeHEntry(b, e); err != nil {
		return err
	}
	v.Buckets.RmEntry(d)
	if v.Default == b {
		v.Default = nil
	}
	return nil
}

// Export implements export() (spec §4.7): write the object's payload
// to w, byte-for-byte.
func (v *Volume) Export(ctx context.Context, digestHex string, w io.Writer) error {
	d, err := ParseDigestHex(digestHex, v.HLen())
	if err != nil {
		return newErr(KindInvalidArgument, "%w", err)
	}
	b := v.Buckets.Lookup(d)
	if b == nil {
		return newErr(KindNotFound, "no object with digest %s", digestHex)
	}
	e, err := v.readHEntry(b)
	if err != nil {
		return err
	}

	chunkSize := v.ChunkSize()
	footprint := e.ChunkFootprint(chunkSize)
	remaining := e.Len
	buf := make([]byte, chunkSize)
	for i := uint64(0); i < footprint; i++ {
		if err := checkCancel(ctx); err != nil {
			return err
		}
		if err := v.vol.ReadChunks(shfsvol.ChunkAddr(e.Chunk+i), 1, buf); err != nil {
			return newErr(KindIO, "reading payload chunk %d: %w", e.Chunk+i, err)
		}
		start := uint64(0)
		if i == 0 {
			start = e.Offset
		}
		n := slices.Min(chunkSize-start, remaining)
		if _, err := w.Write(buf[start : start+n]); err != nil {
			return newErr(KindIO, "writing output: %w", err)
		}
		remaining -= n
	}
	return nil
}

// SetDefault implements set_default() (spec §4.7).
func (v *Volume) SetDefault(digestHex string) error {
	d, err := ParseDigestHex(digestHex, v.HLen())
	if err != nil {
		return newErr(KindInvalidArgument, "%w", err)
	}
	b := v.Buckets.Lookup(d)
	if b == nil {
		return newErr(KindNotFound, "no object with digest %s", digestHex)
	}
	if v.Default != nil && v.Default != b {
		if err := v.toggleDefault(v.Default, false); err != nil {
			return err
		}
	}
	if err := v.toggleDefault(b, true); err != nil {
		return err
	}
	v.Default = b
	return nil
}

// ClearDefault implements clear_default() (spec §4.7).
func (v *Volume) ClearDefault() error {
	if v.Default == nil {
		return nil
	}
	if err := v.toggleDefault(v.Default, false); err != nil {
		return err
	}
	v.Default = nil
	return nil
}

func (v *Volume) toggleDefault(b *Bentry, on bool) error {
	e, err := v.readHEntry(b)
	if err != nil {
		return err
	}
	if on {
		e.Flags |= uint8(FlagDefault)
	} else {
		e.Flags &^= uint8(FlagDefault)
	}
	return v.writeHEntry(b, e)
}

func (v *Volume) readHEntry(b *Bentry) (HEntry, error) {
	chunkBuf, err := v.Cache.Chunk(int(b.HTChunk))
	if err != nil {
		return HEntry{}, newErr(KindIO, "%w", err)
	}
	e, err := DecodeHEntry(chunkBuf, b.HTOffset)
	if err != nil {
		return HEntry{}, newErr(KindFormat, "%w", err)
	}
	return e, nil
}

// ListEntry is one row of list()'s output table (spec §4.7).
type ListEntry struct {
	Digest    string
	Chunk     uint64
	Footprint uint64
	Flags     string
	Mime      string
	Created   time.Time
	Name      string
}

// List implements list() (spec §4.7): a row for every non-empty
// bentry, in bucket-major, slot-minor iteration order.
func (v *Volume) List() ([]ListEntry, error) {
	var rows []ListEntry
	chunkSize := v.ChunkSize()
	err := v.Buckets.Iterate(func(b *Bentry) error {
		e, err := v.readHEntry(b)
		if err != nil {
			return err
		}
		rows = append(rows, ListEntry{
			Digest:    b.Digest.Hex(),
			Chunk:     e.Chunk,
			Footprint: e.ChunkFootprint(chunkSize),
			Flags:     HEntryFlag(e.Flags).String(),
			Mime:      unpadString(e.Mime[:]),
			Created:   e.CreatedAt(),
			Name:      unpadString(e.Name[:]),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// InfoReport is info()'s pretty-printable common+config header dump
// (spec §4.7).
type InfoReport struct {
	VolumeUUID  string
	VolumeName  string
	StripeSize  uint32
	StripeMode  shfsvol.StripeMode
	VolSize     uint64
	MemberCount uint32
	HTableRef   uint64
	HTableBak   uint64
	BucketCount uint32
	HLen        uint8
	Allocator   AllocatorPolicyTag
}

// Info implements info() (spec §4.7): it re-reads chunk 0 and chunk 1
// from the reference (first) member rather than trusting the
// in-memory copy, so that `info` reflects what is actually on disk.
func (v *Volume) Info() (InfoReport, error) {
	chunkSize := v.ChunkSize()
	chunk0 := make([]byte, chunkSize)
	if err := v.vol.ReadChunks(0, 1, chunk0); err != nil {
		return InfoReport{}, newErr(KindIO, "re-reading chunk 0: %w", err)
	}
	common, err := DetectCommonHeader(chunk0)
	if err != nil {
		return InfoReport{}, newErr(KindFormat, "%w", err)
	}
	chunk1 := make([]byte, chunkSize)
	if err := v.vol.ReadChunks(1, 1, chunk1); err != nil {
		return InfoReport{}, newErr(KindIO, "re-reading chunk 1: %w", err)
	}
	cfg, err := DecodeConfigHeader(chunk1)
	if err != nil {
		return InfoReport{}, newErr(KindFormat, "%w", err)
	}
	return InfoReport{
		VolumeUUID:  uuid.UUID(common.VolUUID).String(),
		VolumeName:  unpadString(common.VolName[:]),
		StripeSize:  common.StripeSize,
		StripeMode:  shfsvol.StripeMode(common.StripeMode),
		VolSize:     common.VolSize,
		MemberCount: common.MemberCount,
		HTableRef:   cfg.HTableRef,
		HTableBak:   cfg.HTableBakRef,
		BucketCount: cfg.HTableBucketCount,
		HLen:        cfg.HLen,
		Allocator:   AllocatorPolicyTag(cfg.Allocator),
	}, nil
}
