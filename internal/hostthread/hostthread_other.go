// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package hostthread

import "sync/atomic"

var lastID atomic.Int64

// ActiveProcessors returns every processor, affinity is not available here.
func (h *Host) ActiveProcessors() []int {
	return allProcessors()
}

// ThreadID returns a process unique number, native thread ids are not exposed here.
func (h *Host) ThreadID() int {
	return int(lastID.Add(1))
}

func (h *Host) setup(name string, cpu int) error {
	if cpu >= 0 {
		h.logger.Debug("cpu pinning is not supported, running unpinned", "name", name, "cpu", cpu)
	}

	return nil
}
