// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"bytes"
	"fmt"

	"go.shfs.io/shfs-admin/lib/binstruct"
)

// MaxMembers bounds the member table embedded in CommonHeader. The
// original tool's MAX_NB_TRY_BLKDEVS plays the analogous role on the
// command-line side (spec §6); this is the on-disk analogue.
const MaxMembers = 32

// BootAreaLength is the size, in bytes, of the reserved boot area at
// the start of chunk 0 that precedes CommonHeader (spec §4.2).
const BootAreaLength = 0x200

var commonHeaderMagic = [8]byte{'S', 'H', 'F', 'S', 0, 0, 0, 1}

// CommonHeaderVersion is the only format version this implementation
// understands.
const CommonHeaderVersion = 1

// CommonHeader is replicated on every member at byte offset
// BootAreaLength within chunk 0 (spec §4.2, §6 on-disk layout).
// Fields are little-endian per spec §4.2; binstruct's plain
// integer-kind fields already default to little-endian, so no
// explicit byte-order wrapper types are needed here.
type CommonHeader struct {
	Magic       [8]byte               `bin:"off=0x000,siz=0x008"`
	Version     uint32                `bin:"off=0x008,siz=0x004"`
	VolUUID     [16]byte              `bin:"off=0x00c,siz=0x010"`
	VolName     [16]byte              `bin:"off=0x01c,siz=0x010"`
	StripeSize  uint32                `bin:"off=0x02c,siz=0x004"`
	StripeMode  uint32                `bin:"off=0x030,siz=0x004"`
	VolSize     uint64                `bin:"off=0x034,siz=0x008"`
	MemberCount uint32                `bin:"off=0x03c,siz=0x004"`
	Members     [MaxMembers][16]byte  `bin:"off=0x040,siz=0x200"`
	ThisMember  [16]byte              `bin:"off=0x240,siz=0x010"`
	Reserved    [0xB0]byte            `bin:"off=0x250,siz=0x0b0"`
	binstruct.End `bin:"off=0x300"`
}

// CommonHeaderSize is the on-disk size of CommonHeader.
const CommonHeaderSize = 0x300

// HeaderDiagnostic is the typed result of detecting/validating a
// common header, the Go analogue of shfs_detect_hdr0's numeric
// return code.
type HeaderDiagnostic int

const (
	HeaderOK HeaderDiagnostic = iota
	HeaderBadMagic
	HeaderBadVersion
)

func (d HeaderDiagnostic) Error() string {
	switch d {
	case HeaderBadMagic:
		return "bad common header magic"
	case HeaderBadVersion:
		return "unsupported common header version"
	default:
		return "ok"
	}
}

// DetectCommonHeader decodes and sanity-checks a CommonHeader from
// the first chunk of a candidate member, per spec §4.6 step 2.
func DetectCommonHeader(chunk0 []byte) (CommonHeader, error) {
	var hdr CommonHeader
	if len(chunk0) < BootAreaLength+CommonHeaderSize {
		return hdr, fmt.Errorf("chunk 0 is too short to hold a common header")
	}
	if _, err := binstruct.Unmarshal(chunk0[BootAreaLength:], &hdr); err != nil {
		return hdr, fmt.Errorf("decoding common header: %w", err)
	}
	if !bytes.Equal(hdr.Magic[:], commonHeaderMagic[:]) {
		return hdr, HeaderBadMagic
	}
	if hdr.Version != CommonHeaderVersion {
		return hdr, HeaderBadVersion
	}
	return hdr, nil
}

// EncodeCommonHeader marshals hdr back to its on-disk bytes (used by
// mkfs-adjacent tooling and tests; the admin core itself only reads
// the common header).
func EncodeCommonHeader(hdr CommonHeader) ([]byte, error) {
	hdr.Magic = commonHeaderMagic
	return binstruct.Marshal(hdr)
}

// AllocatorPolicyTag identifies which allocator policy a volume was
// configured with (spec §4.4).
type AllocatorPolicyTag uint8

const (
	AllocatorFirstFit AllocatorPolicyTag = iota
	AllocatorBestFit
)

func (t AllocatorPolicyTag) String() string {
	switch t {
	case AllocatorFirstFit:
		return "first-fit"
	case AllocatorBestFit:
		return "best-fit"
	default:
		return fmt.Sprintf("AllocatorPolicyTag(%d)", uint8(t))
	}
}

// ConfigHeader lives at chunk 1, on the primary member only (spec
// §4.2).
type ConfigHeader struct {
	HTableRef              uint64        `bin:"off=0x00,siz=0x08"`
	HTableBakRef            uint64        `bin:"off=0x08,siz=0x08"`
	HTableBucketCount       uint32        `bin:"off=0x10,siz=0x04"`
	HTableEntriesPerBucket  uint32        `bin:"off=0x14,siz=0x04"`
	HLen                    uint8         `bin:"off=0x18,siz=0x01"`
	Allocator               uint8         `bin:"off=0x19,siz=0x01"`
	Encoding                 uint16        `bin:"off=0x1a,siz=0x02"`
	Reserved                 [0x04]byte    `bin:"off=0x1c,siz=0x04"`
	binstruct.End `bin:"off=0x20"`
}

// ConfigHeaderSize is the on-disk size of ConfigHeader.
const ConfigHeaderSize = 0x20

// DecodeConfigHeader decodes a ConfigHeader from chunk 1's bytes.
func DecodeConfigHeader(chunk1 []byte) (ConfigHeader, error) {
	var cfg ConfigHeader
	if len(chunk1) < ConfigHeaderSize {
		return cfg, fmt.Errorf("chunk 1 is too short to hold a config header")
	}
	if _, err := binstruct.Unmarshal(chunk1[:ConfigHeaderSize], &cfg); err != nil {
		return cfg, fmt.Errorf("decoding config header: %w", err)
	}
	if cfg.HTableRef == 0 {
		return cfg, fmt.Errorf("config header declares a nil primary hash-table region")
	}
	return cfg, nil
}

// HTableNumEntries and HTableLen are the derived quantities in spec
// §3's invariants: htable_nb_entries = nb_buckets * entries_per_bucket,
// and htable_len = ceil(htable_nb_entries / entries_per_chunk).

func (cfg ConfigHeader) HTableNumEntries() uint64 {
	return uint64(cfg.HTableBucketCount) * uint64(cfg.HTableEntriesPerBucket)
}

func (cfg ConfigHeader) HTableLen(chunkSize uint64) uint64 {
	entriesPerChunk := EntriesPerChunk(chunkSize)
	if entriesPerChunk == 0 {
		return 0
	}
	n := cfg.HTableNumEntries()
	return (n + entriesPerChunk - 1) / entriesPerChunk
}

// EncodeConfigHeader marshals cfg back to its on-disk bytes.
func EncodeConfigHeader(cfg ConfigHeader) ([]byte, error) {
	return binstruct.Marshal(cfg)
}

// EntriesPerChunk returns floor(chunkSize / sizeof(entry)) (spec §3
// invariant: htable_len = ceil(htable_nb_entries / entries_per_chunk)).
func EntriesPerChunk(chunkSize uint64) uint64 {
	return chunkSize / HEntrySize
}
