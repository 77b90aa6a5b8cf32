// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package textui holds small formatting helpers shared by the admin
// tool's list/info output.
package textui

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

var iecPrefixes = []string{
	"Ki",
	"Mi",
	"Gi",
	"Ti",
	"Pi",
	"Ei",
	"Zi",
	"Yi",
}

type iec[T constraints.Integer | constraints.Float] struct {
	Val  T
	Unit string
}

// IEC renders x as a human-friendly binary-prefixed quantity, e.g.
// IEC(4096, "B") ⇒ "4.0KiB".
func IEC[T constraints.Integer | constraints.Float](x T, unit string) fmt.Stringer {
	return iec[T]{Val: x, Unit: unit}
}

func (v iec[T]) String() string {
	y := math.Abs(float64(v.Val))
	var prefix string
	for i := 0; y >= 1024 && i < len(iecPrefixes); i++ {
		y /= 1024
		prefix = iecPrefixes[i]
	}
	if v.Val < 0 {
		y = -y
	}
	if prefix == "" {
		return fmt.Sprintf("%v%s", v.Val, v.Unit)
	}
	return fmt.Sprintf("%.1f%s%s", y, prefix, v.Unit)
}
