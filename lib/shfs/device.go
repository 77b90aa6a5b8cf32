// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"fmt"
	"os"

	"go.shfs.io/shfs-admin/lib/diskio"
	"go.shfs.io/shfs-admin/lib/shfsvol"
)

// Device is a single opened member file, grounded on
// diskio.OSFile[A ~int64] (itself modeling btrfs's io1_pv.go). Raw
// block-device discovery (ioctl probing of physical sector size,
// O_DIRECT, etc.) is explicitly out of scope per spec §1/§6: the
// logical block size is a caller-supplied parameter, not probed.
type Device struct {
	diskio.OSFile[shfsvol.PhysicalOffset]
	path            string
	logicalBlockSize uint32
}

var _ diskio.File[shfsvol.PhysicalOffset] = (*Device)(nil)

// OpenDevice opens path read-write and validates the caller-supplied
// logical block size against spec §4.6 step 2: it must be >= 512 and
// a power of two.
func OpenDevice(path string, logicalBlockSize uint32) (*Device, error) {
	if logicalBlockSize < 512 || logicalBlockSize&(logicalBlockSize-1) != 0 {
		return nil, newErr(KindFormat, "device %s: logical block size %d must be >= 512 and a power of two", path, logicalBlockSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, newErr(KindIO, "opening %s: %w", path, err)
	}
	return &Device{
		OSFile:           diskio.OSFile[shfsvol.PhysicalOffset]{File: f},
		path:             path,
		logicalBlockSize: logicalBlockSize,
	}, nil
}

func (d *Device) Name() string { return d.path }

// ReadHead reads the first n bytes of the device (used to read
// chunk 0 during member detection, spec §4.6 step 2).
func (d *Device) ReadHead(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := d.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("reading header from %s: %w", d.path, err)
	}
	return buf, nil
}
