// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"log/slog"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/wrapq/internal/config"
	"github.com/siderolabs/wrapq/internal/util"
	"github.com/siderolabs/wrapq/pkg/trampoline"
)

func defaults() *viper.Viper {
	v := viper.New()
	v.SetDefault(config.KeyLogLevel, "info")
	v.SetDefault(config.KeyName, "wrapq")
	v.SetDefault(config.KeyPin, true)

	return v
}

func TestLoad(t *testing.T) {
	v := defaults()
	v.Set(config.KeySingleThread, true)
	v.Set(config.KeyForeign, "sysv")

	c, err := config.Load(v)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelInfo, c.Level())

	conv, err := c.ForeignConvention()
	require.NoError(t, err)
	assert.Same(t, trampoline.SysV, conv)

	pool := c.Pool()
	assert.True(t, pool.SingleThread)
	assert.True(t, pool.Pin)
	assert.Equal(t, "wrapq", pool.Name)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("WRAPQ_DEBUG", "6")

	v := defaults()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()

	c, err := config.Load(v)
	require.NoError(t, err)

	assert.Equal(t, 6, c.Debug)
	assert.Equal(t, util.LogLevelTrace, c.Level())
}

func TestValidate(t *testing.T) {
	v := defaults()
	v.Set(config.KeyLogLevel, "loud")
	v.Set(config.KeyDebug, 9)
	v.Set(config.KeyNice, -40)
	v.Set(config.KeyForeign, "pascal")
	v.Set(config.KeyName, "")

	_, err := config.Load(v)
	require.Error(t, err)
	require.ErrorIs(t, err, trampoline.ErrUnknownConvention)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 5)
}
