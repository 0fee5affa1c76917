// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

// Package util packages various utilities.
package util

import (
	"context"
	"log/slog"
	"strings"
)

// log/slog does not implement trace logging by default, but is flexible.
const (
	LogLevelTrace = slog.Level(-8)
)

// MaxDebug is the most verbose legacy debug level.
const MaxDebug = 6

// TraceLog sends trace-level logging to log/slog.Logger.
func TraceLog(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LogLevelTrace, msg, args...)
}

// ParseLevel parses a slog level name, trace included.
func ParseLevel(s string) (slog.Level, error) {
	if strings.ToUpper(s) == "TRACE" {
		return LogLevelTrace, nil
	}

	var level slog.Level

	err := level.UnmarshalText([]byte(s))

	return level, err
}

// LevelFromDebug maps the numeric debug level (0 quiet .. 6 everything) onto slog.
// 0 keeps warnings, 1 adds info, 2 and 3 debug, anything above traces work dispatch.
func LevelFromDebug(debug int) slog.Level {
	switch {
	case debug <= 0:
		return slog.LevelWarn
	case debug == 1:
		return slog.LevelInfo
	case debug <= 3:
		return slog.LevelDebug
	}

	return LogLevelTrace
}
