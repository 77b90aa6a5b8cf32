// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/datawire/dlib/dlog"
	"github.com/davecgh/go-spew/spew"

	"go.shfs.io/shfs-admin/lib/shfs"
	"go.shfs.io/shfs-admin/lib/textui"
)

// dumpVolumeState spew-dumps the volume's header fields for --debug-dump,
// the same verbose-inspection role spew plays in cmd/btrfs-dbg.
func dumpVolumeState(v *shfs.Volume) error {
	info, err := v.Info()
	if err != nil {
		return err
	}
	cfg := spew.NewDefaultConfig()
	cfg.DisablePointerAddresses = true
	cfg.Dump(info)
	return nil
}

// runResult is what the driver reports back to main for exit-code
// purposes (spec §6's "process exit is success iff every token
// succeeded and no cancel occurred").
type runResult struct {
	failures  int
	cancelled bool
}

// runTokens iterates the token stream in submission order, short-
// circuiting on cancel and counting per-token failures, matching spec
// §6's driver contract. A failed token does not stop the stream
// unless the failure is itself a cancellation.
func runTokens(ctx context.Context, v *shfs.Volume, tokens []token) runResult {
	var result runResult
	for _, tok := range tokens {
		if err := ctx.Err(); err != nil {
			dlog.Infof(ctx, "cancelled before processing remaining tokens")
			result.cancelled = true
			break
		}
		if err := runToken(ctx, v, tok); err != nil {
			fmt.Fprintf(os.Stderr, "shfs-admin: %v\n", err)
			if shfs.IsCancel(err) {
				result.cancelled = true
				break
			}
			result.failures++
		}
	}
	return result
}

func runToken(ctx context.Context, v *shfs.Volume, tok token) error {
	switch tok.kind {
	case tokenAdd:
		digest, err := v.Add(ctx, tok.path, tok.mime, tok.name)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "added %s (%s)\n", digest.Hex(), tok.path)
		return nil
	case tokenRemove:
		if err := v.Remove(tok.digest); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "removed %s\n", tok.digest)
		return nil
	case tokenCat:
		return runCat(ctx, v, tok)
	case tokenSetDefault:
		if err := v.SetDefault(tok.digest); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "default is now %s\n", tok.digest)
		return nil
	case tokenClearDefault:
		if err := v.ClearDefault(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "default cleared")
		return nil
	case tokenList:
		return runList(v)
	case tokenInfo:
		return runInfo(v)
	default:
		return fmt.Errorf("internal error: unhandled token kind %d", tok.kind)
	}
}

func runCat(ctx context.Context, v *shfs.Volume, tok token) error {
	var w io.Writer = os.Stdout
	if tok.out != "" {
		f, err := os.Create(tok.out)
		if err != nil {
			return fmt.Errorf("creating %s: %w", tok.out, err)
		}
		defer f.Close()
		w = f
	}
	return v.Export(ctx, tok.digest, w)
}

// runList implements ls's table output (spec §4.7 list(), §8 scenario
// 1: "output has header row only" on an empty volume).
func runList(v *shfs.Volume) error {
	rows, err := v.List()
	if err != nil {
		return err
	}
	table := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(table, "DIGEST\tCHUNK\tSIZE\tFLAGS\tMIME\tCREATED\tNAME")
	for _, r := range rows {
		fmt.Fprintf(table, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			r.Digest, r.Chunk, r.Footprint, r.Flags, r.Mime,
			r.Created.Local().Format("Jan 02, 06 15:04"), r.Name)
	}
	return table.Flush()
}

// runInfo implements info() (spec §4.7): dump the common and config
// header fields.
func runInfo(v *shfs.Volume) error {
	info, err := v.Info()
	if err != nil {
		return err
	}
	table := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(table, "volume uuid\t%s\n", info.VolumeUUID)
	fmt.Fprintf(table, "volume name\t%s\n", info.VolumeName)
	fmt.Fprintf(table, "stripe size\t%s\n", textui.IEC(info.StripeSize, "B"))
	fmt.Fprintf(table, "stripe mode\t%s\n", info.StripeMode)
	fmt.Fprintf(table, "volume size\t%d chunks\n", info.VolSize)
	fmt.Fprintf(table, "member count\t%d\n", info.MemberCount)
	fmt.Fprintf(table, "htable ref\t%d\n", info.HTableRef)
	fmt.Fprintf(table, "htable backup ref\t%d\n", info.HTableBak)
	fmt.Fprintf(table, "bucket count\t%d\n", info.BucketCount)
	fmt.Fprintf(table, "digest length\t%d\n", info.HLen)
	fmt.Fprintf(table, "allocator\t%s\n", info.Allocator)
	return table.Flush()
}
