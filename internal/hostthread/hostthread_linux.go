// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package hostthread

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ActiveProcessors returns the processors the process may run on.
func (h *Host) ActiveProcessors() []int {
	var set unix.CPUSet

	if err := unix.SchedGetaffinity(0, &set); err != nil {
		h.logger.Warn("error reading cpu affinity, assuming all processors", "err", err)

		return allProcessors()
	}

	cpus := make([]int, 0, set.Count())
	for cpu := 0; len(cpus) < set.Count(); cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}

	return cpus
}

// ThreadID returns the kernel thread id of the caller.
func (h *Host) ThreadID() int {
	return unix.Gettid()
}

// setup configures the calling, locked, thread.
func (h *Host) setup(name string, cpu int) error {
	if cpu >= 0 {
		var set unix.CPUSet

		set.Set(cpu)

		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return fmt.Errorf("error pinning %s to cpu %d: %w", name, cpu, err)
		}
	}

	if err := setName(threadName(name)); err != nil {
		h.logger.Warn("error naming thread", "name", name, "err", err)
	}

	if h.nice != 0 {
		// on linux the priority of "process" 0 is the one of the calling thread
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, h.nice); err != nil {
			h.logger.Warn("error setting thread priority", "name", name, "nice", h.nice, "err", err)
		}
	}

	return nil
}

func setName(name string) error {
	p, err := unix.BytePtrFromString(name)
	if err != nil {
		return err
	}

	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(p)), 0, 0, 0)
}
