// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

// Package main is the main package invoking the tool
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sasha-s/go-deadlock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siderolabs/wrapq/internal/config"
	"github.com/siderolabs/wrapq/internal/version"
)

var rootCmd = &cobra.Command{
	Use:               "wrapq",
	Short:             "per-processor work queues with a calling convention bridge",
	Long:              "wrapq runs deferred callbacks on dedicated worker threads and bridges calls into foreign calling conventions",
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

var (
	logger *slog.Logger
	cfg    *config.Config
)

func setup(cmd *cobra.Command, _ []string) error {
	var err error

	cfg, err = config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logOpts := &slog.HandlerOptions{
		Level: cfg.Level(),
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, logOpts)).With("command", cmd.Name())

	// lock order and timeout checks on the worker queues
	deadlock.Opts.Disable = !cfg.LockChecks
	deadlock.Opts.OnPotentialDeadlock = func() {
		logger.Error("potential deadlock detected")
		os.Exit(2)
	}

	hello := fmt.Sprintf("%s © 2020-2025 Oliver Kuckertz, Equinix and Siderolabs", version.Name)
	logger.Info(hello, "version", version.String())

	return nil
}

func init() {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(`-`, `_`))
	viper.SetEnvPrefix(config.EnvPrefix)

	pf := rootCmd.PersistentFlags()
	pf.String(config.KeyLogLevel, "info", "log level (error, warning, info, debug, trace)")
	pf.Int(config.KeyDebug, 0, "legacy debug level 0..6, overrides --log-level when set")
	pf.String(config.KeyForeign, "", "calling convention of foreign entry points (sysv, msx64, aapcs64, arm64win), default for the platform")
	pf.String(config.KeyName, "wrapq", "pool name, prefixes worker thread names")
	pf.Bool(config.KeySingleThread, false, "run a single unpinned worker")
	pf.Bool(config.KeyFreezable, false, "allow suspending dispatch")
	pf.Bool(config.KeyPin, true, "pin workers to their processor")
	pf.Int(config.KeyNice, 0, "nice level of worker threads, negative needs CAP_SYS_NICE")
	pf.Bool(config.KeyLockChecks, false, "enable deadlock detection on worker locks")

	if err := viper.BindPFlags(pf); err != nil {
		panic(err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
