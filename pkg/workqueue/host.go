// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package workqueue

// Host is the operating system side of a pool.
type Host interface {
	// ActiveProcessors lists the processors the pool may use. It is sampled once per pool.
	ActiveProcessors() []int
	// Spawn runs start on a new dedicated thread, pinned to cpu unless cpu is negative.
	// It returns once the thread is set up, start keeps running in the background.
	Spawn(name string, cpu int, start func()) error
	// ThreadID identifies the calling thread.
	ThreadID() int
}
