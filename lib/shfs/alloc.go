// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"fmt"

	"go.shfs.io/shfs-admin/lib/containers"
)

// AllocPolicy selects which free gap find_free returns (spec §4.4).
type AllocPolicy int

const (
	AllocFirstFit AllocPolicy = iota
	AllocBestFit
)

// allocRange is one occupied [Start, Start+Length) range.
type allocRange struct {
	Start, Length uint64
}

func (r allocRange) end() uint64 { return r.Start + r.Length }

// Allocator tracks the set of occupied chunk ranges within
// [0, limit) and answers find_free queries over the gaps between
// them. Grounded on btrfsvol.LogicalVolume's logical2physical RBTree
// (AddMapping's SearchRange+union overlap-merge pattern), adapted
// from chunk-mapping semantics to plain occupied-range bookkeeping
// (spec §4.4).
type Allocator struct {
	tree   containers.RBTree[containers.NativeOrdered[uint64], allocRange]
	policy AllocPolicy
	limit  uint64
}

// NewAllocator builds an empty allocator over [0, limit) chunks.
func NewAllocator(policy AllocPolicy, limit uint64) *Allocator {
	a := &Allocator{policy: policy, limit: limit}
	a.tree.KeyFn = func(r allocRange) containers.NativeOrdered[uint64] {
		return containers.NativeOrdered[uint64]{Val: r.Start}
	}
	return a
}

// overlapping returns the occupied ranges that intersect or touch
// [start, start+length), in ascending order; touch means adjacency
// with no gap, not just shared coverage. With strict set, ranges that
// only touch are excluded and only intersecting ranges are returned.
func (a *Allocator) overlapping(start, length uint64, strict bool) []allocRange {
	end := start + length
	cmp := func(r allocRange) int {
		switch {
		case r.end() < start || (strict && r.end() == start):
			return -1
		case end < r.Start || (strict && end == r.Start):
			return 1
		default:
			return 0
		}
	}
	return a.tree.SearchRange(cmp)
}

// Register inserts [start, start+length) as occupied, merging with
// any adjacent occupied ranges, and fails if it genuinely overlaps an
// existing range (spec §4.4 register).
func (a *Allocator) Register(start, length uint64) error {
	if length == 0 {
		return nil
	}
	end := start + length
	if end > a.limit {
		return fmt.Errorf("range [%d, %d) exceeds the volume's %d-chunk extent", start, end, a.limit)
	}
	touching := a.overlapping(start, length, false)
	for _, r := range touching {
		if r.Start < end && start < r.end() {
			return fmt.Errorf("range [%d, %d) overlaps already-registered range [%d, %d)", start, end, r.Start, r.end())
		}
	}
	newStart, newEnd := start, end
	for _, r := range touching {
		if r.Start < newStart {
			newStart = r.Start
		}
		if r.end() > newEnd {
			newEnd = r.end()
		}
		a.tree.Delete(containers.NativeOrdered[uint64]{Val: r.Start})
	}
	a.tree.Insert(allocRange{Start: newStart, Length: newEnd - newStart})
	return nil
}

// Unregister removes exactly [start, start+length) from the occupied
// set, splitting the ranges that partially cover it. Fails unless the
// entire range is currently occupied (spec §4.4 unregister).
func (a *Allocator) Unregister(start, length uint64) error {
	if length == 0 {
		return nil
	}
	end := start + length
	covering := a.overlapping(start, length, true)
	if len(covering) == 0 {
		return fmt.Errorf("range [%d, %d) is not registered", start, end)
	}
	if covering[0].Start > start || covering[len(covering)-1].end() < end {
		return fmt.Errorf("range [%d, %d) is not fully occupied", start, end)
	}
	for i := 1; i < len(covering); i++ {
		if covering[i-1].end() != covering[i].Start {
			return fmt.Errorf("range [%d, %d) is not fully occupied (gap at %d)", start, end, covering[i-1].end())
		}
	}
	for _, r := range covering {
		a.tree.Delete(containers.NativeOrdered[uint64]{Val: r.Start})
		if r.Start < start {
			a.tree.Insert(allocRange{Start: r.Start, Length: start - r.Start})
		}
		if r.end() > end {
			a.tree.Insert(allocRange{Start: end, Length: r.end() - end})
		}
	}
	return nil
}

type freeGap struct{ start, size uint64 }

// FindFree returns the start of a free gap of at least length chunks
// within [2, limit) (chunks 0-1 are always reserved), per the
// allocator's policy. length == 0 and "no such gap" both return 0
// (spec §4.4 find_free).
func (a *Allocator) FindFree(length uint64) uint64 {
	if length == 0 {
		return 0
	}
	var gaps []freeGap
	cursor := uint64(2)
	_ = a.tree.Walk(func(n *containers.RBNode[allocRange]) error {
		r := n.Value
		if r.Start > cursor {
			gaps = append(gaps, freeGap{cursor, r.Start - cursor})
		}
		if r.end() > cursor {
			cursor = r.end()
		}
		return nil
	})
	if cursor < a.limit {
		gaps = append(gaps, freeGap{cursor, a.limit - cursor})
	}

	switch a.policy {
	case AllocBestFit:
		var best freeGap
		for _, g := range gaps {
			if g.size >= length && (best.size == 0 || g.size < best.size) {
				best = g
			}
		}
		return best.start
	default: // AllocFirstFit
		for _, g := range gaps {
			if g.size >= length {
				return g.start
			}
		}
		return 0
	}
}

// TotalRegistered sums the length of every occupied range, used by
// the testable-properties invariant in spec §8 ("sum of allocator
// range lengths = ...").
func (a *Allocator) TotalRegistered() uint64 {
	var total uint64
	_ = a.tree.Walk(func(n *containers.RBNode[allocRange]) error {
		total += n.Value.Length
		return nil
	})
	return total
}
