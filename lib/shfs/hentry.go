// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"bytes"
	"fmt"
	"time"

	"go.shfs.io/shfs-admin/lib/binstruct"
	"go.shfs.io/shfs-admin/lib/slices"
)

// HEntryFlag bits (spec §3 "flags bits").
type HEntryFlag uint8

const (
	FlagDefault HEntryFlag = 1 << iota
	FlagHidden
)

// String renders the 4-character flag column used by `ls` (spec
// §4.7 list(): "D?-?-?H").
func (f HEntryFlag) String() string {
	out := [4]byte{'-', '-', '-', '-'}
	if f&FlagDefault != 0 {
		out[0] = 'D'
	}
	if f&FlagHidden != 0 {
		out[3] = 'H'
	}
	return string(out[:])
}

// HEntry is the fixed-size on-disk hash-table entry (spec §3).
type HEntry struct {
	Digest      [DigestMaxLen]byte `bin:"off=0x00,siz=0x40"`
	Chunk       uint64             `bin:"off=0x40,siz=0x08"`
	Offset      uint64             `bin:"off=0x48,siz=0x08"`
	Len         uint64             `bin:"off=0x50,siz=0x08"`
	TSCreation  uint64             `bin:"off=0x58,siz=0x08"`
	Flags       uint8              `bin:"off=0x60,siz=0x01"`
	Mime        [32]byte           `bin:"off=0x61,siz=0x20"`
	Name        [32]byte           `bin:"off=0x81,siz=0x20"`
	Encoding    [16]byte           `bin:"off=0xa1,siz=0x10"`
	Reserved    [0x0f]byte         `bin:"off=0xb1,siz=0x0f"`
	binstruct.End `bin:"off=0xc0"`
}

// HEntrySize is the fixed on-disk size of one hash-table entry.
const HEntrySize = 0xc0

func (e HEntry) digest(hlen int) Digest {
	n := hlen
	if n > len(e.Digest) {
		n = len(e.Digest)
	}
	d, _ := NewDigest(e.Digest[:n])
	return d
}

func (e *HEntry) setDigest(d Digest) {
	e.Digest = d.padded64()
}

func padString(s string, n int) [32]byte {
	var out [32]byte
	copy(out[:n], s)
	return out
}

func unpadString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// ChunkFootprint returns the number of chunks this entry's payload
// occupies: ceil((offset+len)/chunkSize), with a floor of 1 (spec §4.3
// list(), §4.7 remove()'s unregister range). Every object, including a
// zero-byte one, is backed by exactly one reserved chunk (add()
// reserves at least 1); the floor here keeps that reservation's
// lifetime symmetric between add() and remove(). Only ever called on
// an entry reached via a bucket-table lookup, never on an empty,
// never-fed bentry.
func (e HEntry) ChunkFootprint(chunkSize uint64) uint64 {
	if chunkSize == 0 {
		return 0
	}
	total := e.Offset + e.Len
	return slices.Max((total+chunkSize-1)/chunkSize, 1)
}

// CreatedAt returns the creation timestamp as a time.Time (spec's
// `ts_creation`, seconds since the Unix epoch).
func (e HEntry) CreatedAt() time.Time {
	return time.Unix(int64(e.TSCreation), 0)
}

// DecodeHEntry decodes one fixed-size slot from a hash-table chunk
// buffer at the given byte offset.
func DecodeHEntry(chunkBuf []byte, byteOffset uint64) (HEntry, error) {
	var e HEntry
	if byteOffset+HEntrySize > uint64(len(chunkBuf)) {
		return e, fmt.Errorf("hash-table entry at offset %#x overruns chunk of %d bytes", byteOffset, len(chunkBuf))
	}
	_, err := binstruct.Unmarshal(chunkBuf[byteOffset:byteOffset+HEntrySize], &e)
	return e, err
}

// EncodeHEntryInto marshals e and writes it into chunkBuf at
// byteOffset (mutating the chunk cache's pinned buffer in place, so
// that the containing chunk can later be flushed as a whole -- spec
// §4.5's coarse, chunk-granular MODIFIED bit).
func EncodeHEntryInto(chunkBuf []byte, byteOffset uint64, e HEntry) error {
	bs, err := binstruct.Marshal(e)
	if err != nil {
		return err
	}
	if byteOffset+uint64(len(bs)) > uint64(len(chunkBuf)) {
		return fmt.Errorf("hash-table entry at offset %#x overruns chunk of %d bytes", byteOffset, len(chunkBuf))
	}
	copy(chunkBuf[byteOffset:], bs)
	return nil
}
