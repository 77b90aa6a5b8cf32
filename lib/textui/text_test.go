// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"go.shfs.io/shfs-admin/lib/textui"
)

func TestIEC(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0B", fmt.Sprint(textui.IEC(0, "B")))
	assert.Equal(t, "512B", fmt.Sprint(textui.IEC(512, "B")))
	assert.Equal(t, "4.0KiB", fmt.Sprint(textui.IEC(4096, "B")))
	assert.Equal(t, "1.0MiB", fmt.Sprint(textui.IEC(1<<20, "B")))
}
