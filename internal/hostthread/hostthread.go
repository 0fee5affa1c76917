// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

// Package hostthread runs pool workers on dedicated operating system threads.
package hostthread

import (
	"log/slog"
	"runtime"

	"github.com/siderolabs/wrapq/internal/capcheck"
)

// maxNameLen is the thread name limit of the kernel, without the terminating NUL.
const maxNameLen = 15

// Host implements workqueue.Host.
type Host struct {
	logger *slog.Logger
	nice   int
}

// New creates a host. Worker threads get the given nice level; raising priority needs
// CAP_SYS_NICE and is skipped with a warning without it.
func New(logger *slog.Logger, nice int) *Host {
	if nice < 0 {
		hascap, err := capcheck.HasCapability(capcheck.CapSysNice)
		if err != nil || !hascap {
			logger.Warn("lacking CAP_SYS_NICE, keeping default worker priority", "nice", nice, "err", err)

			nice = 0
		}
	}

	return &Host{
		logger: logger,
		nice:   nice,
	}
}

// Spawn starts start on a fresh locked thread. The thread is never unlocked, the runtime
// discards it once start returns so its affinity and name do not leak to other goroutines.
func (h *Host) Spawn(name string, cpu int, start func()) error {
	errCh := make(chan error, 1)

	go func() {
		runtime.LockOSThread()

		if err := h.setup(name, cpu); err != nil {
			errCh <- err

			return
		}

		errCh <- nil

		start()
	}()

	return <-errCh
}

// threadName keeps the tail of long names, it carries the worker index.
func threadName(name string) string {
	if len(name) > maxNameLen {
		return name[len(name)-maxNameLen:]
	}

	return name
}

func allProcessors() []int {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}

	return cpus
}
