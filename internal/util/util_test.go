// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package util_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/wrapq/internal/util"
)

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]slog.Level{
		"trace": util.LogLevelTrace,
		"TRACE": util.LogLevelTrace,
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		level, err := util.ParseLevel(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, level, s)
	}

	_, err := util.ParseLevel("loud")
	require.Error(t, err)
}

func TestLevelFromDebug(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, util.LevelFromDebug(0))
	assert.Equal(t, slog.LevelInfo, util.LevelFromDebug(1))
	assert.Equal(t, slog.LevelDebug, util.LevelFromDebug(3))
	assert.Equal(t, util.LogLevelTrace, util.LevelFromDebug(util.MaxDebug))
}
