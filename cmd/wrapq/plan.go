// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siderolabs/wrapq/pkg/trampoline"
)

const (
	flagArgs = "args"
	flagHost = "host"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "show how a call is bridged",
	Long:  "plan prints the argument moves of a bridge and, for amd64, the thunk machine code",
	RunE:  plan,
}

func init() {
	pf := planCmd.PersistentFlags()
	pf.Int(flagArgs, trampoline.MaxArgs, "number of arguments")
	pf.String(flagHost, "", "host calling convention, default for the platform")

	if err := viper.BindPFlags(pf); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(planCmd)
}

func plan(cmd *cobra.Command, _ []string) error {
	host := trampoline.HostConvention()

	if name := viper.GetString(flagHost); name != "" {
		var err error

		if host, err = trampoline.Lookup(name); err != nil {
			return err
		}
	}

	foreign, err := cfg.ForeignConvention()
	if err != nil {
		return err
	}

	p, err := trampoline.NewPlan(host, foreign, viper.GetInt(flagArgs))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, p)

	code, err := trampoline.Assemble(p)

	switch {
	case errors.Is(err, trampoline.ErrNotAssemblable):
		logger.Debug("no machine code for plan", "err", err)

		return nil
	case err != nil:
		return err
	}

	fmt.Fprintf(out, "\n%d bytes:\n%s", len(code), hex.Dump(code))

	return nil
}
