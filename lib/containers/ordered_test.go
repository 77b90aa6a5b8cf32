// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers_test

import (
	"math/big"

	"go.shfs.io/shfs-admin/lib/containers"
)

var _ containers.Ordered[*big.Int] = (*big.Int)(nil)
