// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

// Package config holds the settings of a wrapq process.
package config

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/siderolabs/wrapq/internal/util"
	"github.com/siderolabs/wrapq/pkg/trampoline"
	"github.com/siderolabs/wrapq/pkg/workqueue"
)

// Keys, shared by flags and environment variables.
const (
	KeyLogLevel     = "log-level"
	KeyDebug        = "debug"
	KeyName         = "name"
	KeySingleThread = "single-thread"
	KeyFreezable    = "freezable"
	KeyPin          = "pin"
	KeyNice         = "nice"
	KeyLockChecks   = "lock-checks"
	KeyForeign      = "foreign"
)

// EnvPrefix prefixes every environment variable, WRAPQ_SINGLE_THREAD and so on.
const EnvPrefix = "wrapq"

// Config is the explicit configuration of a process.
type Config struct {
	LogLevel string
	// Debug is the legacy numeric verbosity, it overrides LogLevel when set.
	Debug int

	Name         string
	SingleThread bool
	Freezable    bool
	Pin          bool
	Nice         int
	LockChecks   bool

	// Foreign names the calling convention of bridged entry points.
	Foreign string
}

// Load reads the configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		LogLevel:     v.GetString(KeyLogLevel),
		Debug:        v.GetInt(KeyDebug),
		Name:         v.GetString(KeyName),
		SingleThread: v.GetBool(KeySingleThread),
		Freezable:    v.GetBool(KeyFreezable),
		Pin:          v.GetBool(KeyPin),
		Nice:         v.GetInt(KeyNice),
		LockChecks:   v.GetBool(KeyLockChecks),
		Foreign:      v.GetString(KeyForeign),
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if _, err := util.ParseLevel(c.LogLevel); err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: %w", KeyLogLevel, err))
	}

	if c.Debug < 0 || c.Debug > util.MaxDebug {
		result = multierror.Append(result, fmt.Errorf("%s: %d is out of range 0..%d", KeyDebug, c.Debug, util.MaxDebug))
	}

	if c.Name == "" {
		result = multierror.Append(result, fmt.Errorf("%s: must not be empty", KeyName))
	}

	if c.Nice < -20 || c.Nice > 19 {
		result = multierror.Append(result, fmt.Errorf("%s: %d is out of range -20..19", KeyNice, c.Nice))
	}

	if _, err := c.ForeignConvention(); err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: %w", KeyForeign, err))
	}

	return result.ErrorOrNil()
}

// Level returns the log level, the debug level wins when set.
func (c *Config) Level() slog.Level {
	if c.Debug > 0 {
		return util.LevelFromDebug(c.Debug)
	}

	level, err := util.ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}

	return level
}

// ForeignConvention resolves Foreign, empty meaning the platform's foreign convention.
func (c *Config) ForeignConvention() (*trampoline.Convention, error) {
	if c.Foreign == "" {
		return trampoline.ForeignConvention(), nil
	}

	return trampoline.Lookup(c.Foreign)
}

// Pool returns the pool settings.
func (c *Config) Pool() workqueue.Config {
	return workqueue.Config{
		Name:         c.Name,
		SingleThread: c.SingleThread,
		Freezable:    c.Freezable,
		Pin:          c.Pin,
	}
}
