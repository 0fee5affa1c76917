// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/siderolabs/wrapq/pkg/trampoline"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "check the calling convention bridge",
	Long:  "selftest calls emulated and, where possible, native targets with 0 to 6 arguments and checks what they receive",
	RunE:  selftest,
}

var errSelftestFailed = errors.New("selftest failed")

func init() {
	rootCmd.AddCommand(selftestCmd)
}

func selftest(cmd *cobra.Command, _ []string) error {
	foreign, err := cfg.ForeignConvention()
	if err != nil {
		return err
	}

	bridge := trampoline.New(logger.With("module", "trampoline"), trampoline.HostConvention())
	defer bridge.Close() //nolint:errcheck

	failed := 0

	for _, conv := range []*trampoline.Convention{bridge.Host(), foreign} {
		failed += selftestEmulated(bridge, conv)
		failed += selftestNative(bridge, conv)
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d checks", errSelftestFailed, failed)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "ok")

	return nil
}

func words(n int) []trampoline.Word {
	args := make([]trampoline.Word, n)
	for i := range args {
		args[i] = trampoline.Word(i + 1)
	}

	return args
}

func check(kind string, conv *trampoline.Convention, n int, want, got []trampoline.Word, ret trampoline.Word, err error) int {
	l := logger.With("kind", kind, "convention", conv.Name, "args", n)

	switch {
	case err != nil:
		l.Error("call failed", "err", err)
	case !slices.Equal(want, got):
		l.Error("arguments mismatch", "want", want, "got", got)
	case ret != trampoline.ProbeResult:
		l.Error("result mismatch", "want", trampoline.ProbeResult, "got", ret)
	default:
		l.Info("passed")

		return 0
	}

	return 1
}

func selftestEmulated(bridge *trampoline.Bridge, conv *trampoline.Convention) int {
	failed := 0

	for n := 0; n <= trampoline.MaxArgs; n++ {
		var got []trampoline.Word

		proc := trampoline.NewEmulated("record", conv, func(f *trampoline.Frame) trampoline.Word {
			got = f.Args(conv, n)

			return trampoline.ProbeResult
		})

		ret, err := bridge.Invoke(proc, words(n)...)
		failed += check("emulated", conv, n, words(n), got, ret, err)
	}

	return failed
}

func selftestNative(bridge *trampoline.Bridge, conv *trampoline.Convention) int {
	probe, err := trampoline.NewProbe(conv)
	if err != nil {
		logger.Info("skipping native checks", "convention", conv.Name, "err", err)

		return 0
	}

	defer probe.Close() //nolint:errcheck

	failed := 0
	proc := probe.Proc("probe")

	for n := 0; n <= trampoline.MaxArgs; n++ {
		probe.Reset()

		ret, err := bridge.Invoke(proc, words(n)...)
		failed += check("native", conv, n, words(n), probe.Args(n), ret, err)
	}

	return failed
}
