// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

// Package capcheck implements HasCapability
package capcheck

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrNoCapEff is returned when the status file has no CapEff line.
var ErrNoCapEff = errors.New("CapEff line not found")

// HasCapability checks natively if a given LINUX capability is granted to the process.
// Capability is the bit position, see capabilities.go.
func HasCapability(capabilityBit int8) (bool, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return false, fmt.Errorf("error reading /proc/self/status: %w", err)
	}

	defer f.Close() //nolint:errcheck

	eff, err := effective(f)
	if err != nil {
		return false, err
	}

	return eff&(1<<capabilityBit) != 0, nil
}

// effective parses the effective capability mask out of a proc status file.
func effective(r io.Reader) (uint64, error) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		value, found := strings.CutPrefix(scanner.Text(), "CapEff:")
		if !found {
			continue
		}

		// read as hexadecimal number (base 16).
		mask, err := strconv.ParseUint(strings.TrimSpace(value), 16, 64)
		if err != nil {
			return 0, fmt.Errorf("error parsing CapEff value: %w", err)
		}

		return mask, nil
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("error scanning status: %w", err)
	}

	return 0, ErrNoCapEff
}
