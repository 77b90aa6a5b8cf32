// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"go.shfs.io/shfs-admin/lib/shfs"
)

// exit codes (spec §6: "0 success; nonzero on parse or action
// failure; a distinguished cancel code").
const (
	exitSuccess = 0
	exitFailure = 1
	exitCancel  = 2
)

// logLevelFlag is a pflag.Value wrapping logrus.Level, the same shape
// as cmd/btrfs-rec/main.go's verbosity flag.
type logLevelFlag struct {
	logrus.Level
}

func (lvl *logLevelFlag) Type() string { return "loglevel" }
func (lvl *logLevelFlag) Set(str string) error {
	var err error
	lvl.Level, err = logrus.ParseLevel(str)
	return err
}

var _ pflag.Value = (*logLevelFlag)(nil)

func main() {
	logLvl := logLevelFlag{Level: logrus.InfoLevel}
	var pvs []string
	var blockSize uint32
	var force bool
	var debugDump bool
	sink := newTokenSink()

	argparser := &cobra.Command{
		Use:   "shfs-admin [flags]",
		Short: "Mount an SHFS volume and run a sequence of object actions against it",

		Args: cliutil.WrapPositionalArgs(cobra.NoArgs),

		SilenceErrors: true, // main() handles the error after ExecuteContext returns
		SilenceUsage:  true, // the FlagErrorFunc handles it

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)

	flags := argparser.Flags()
	flags.Var(&logLvl, "verbosity", "set the verbosity")
	flags.StringArrayVar(&pvs, "pv", nil, "open `path` as a volume member, in member order; repeatable")
	if err := argparser.MarkFlagFilename("pv"); err != nil {
		panic(err)
	}
	if err := argparser.MarkFlagRequired("pv"); err != nil {
		panic(err)
	}
	flags.Uint32Var(&blockSize, "block-size", 512, "logical block size reported for every member")
	flags.BoolVar(&force, "force", false, "accepted but has no effect")
	flags.BoolVar(&debugDump, "debug-dump", false, "spew-dump the volume's header fields before running tokens")
	registerTokenFlags(flags, sink)

	argparser.RunE = func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		logger := logrus.New()
		logger.SetLevel(logLvl.Level)
		ctx = dlog.WithLogger(ctx, dlog.WrapLogrus(logger))

		grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
			EnableSignalHandling: true,
		})

		var result runResult
		grp.Go("main", func(ctx context.Context) error {
			_ = force // parsed but unused: it changes neither diagnostics nor core semantics

			reqs := make([]shfs.MountRequest, len(pvs))
			for i, path := range pvs {
				reqs[i] = shfs.MountRequest{Path: path, LogicalBlockSize: blockSize}
			}
			v, err := shfs.Mount(ctx, reqs)
			if err != nil {
				return fmt.Errorf("mount: %w", err)
			}
			if debugDump {
				if err := dumpVolumeState(v); err != nil {
					return err
				}
			}
			result = runTokens(ctx, v, sink.tokens)
			if err := v.Unmount(ctx); err != nil {
				return fmt.Errorf("unmount: %w", err)
			}
			return nil
		})
		if err := grp.Wait(); err != nil {
			return err
		}

		switch {
		case result.cancelled:
			os.Exit(exitCancel)
		case result.failures > 0:
			os.Exit(exitFailure)
		}
		return nil
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(exitFailure)
	}
}
