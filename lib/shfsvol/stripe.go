// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfsvol

import "fmt"

// StripeMode selects how a logical chunk's bytes are distributed
// across members.
type StripeMode uint32

const (
	// StripeCombined mirrors every stripe-sized slice of a chunk onto
	// every member at the same offset; chunksize == stripesize.
	StripeCombined StripeMode = iota
	// StripeIndependent round-robins consecutive stripes of a chunk
	// across members; chunksize == stripesize * nb_members.
	StripeIndependent
)

func (m StripeMode) String() string {
	switch m {
	case StripeCombined:
		return "combined"
	case StripeIndependent:
		return "independent"
	default:
		return fmt.Sprintf("StripeMode(%d)", uint32(m))
	}
}

// Mapper holds the parameters that fix the stripe-to-member mapping
// for a mounted volume. It is grounded on btrfsvol.LogicalVolume's
// logical-to-physical translation, simplified to SHFS's fixed (not
// dynamically-grown) member table.
type Mapper struct {
	StripeSize uint32
	Mode       StripeMode
	NumMembers uint32
}

// ChunkSize returns the number of bytes addressed by one logical
// chunk under this mapping.
func (m Mapper) ChunkSize() uint64 {
	if m.Mode == StripeCombined {
		return uint64(m.StripeSize)
	}
	return uint64(m.StripeSize) * uint64(m.NumMembers)
}

// Validate reports whether the mapper's parameters are well-formed:
// stripesize must be a power of two no smaller than 4096, and there
// must be at least one member.
func (m Mapper) Validate() error {
	if m.StripeSize < 4096 {
		return fmt.Errorf("stripe size %d is smaller than the 4096-byte minimum", m.StripeSize)
	}
	if m.StripeSize&(m.StripeSize-1) != 0 {
		return fmt.Errorf("stripe size %d is not a power of two", m.StripeSize)
	}
	if m.NumMembers == 0 {
		return fmt.Errorf("stripe mapping has zero members")
	}
	return nil
}
