// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package trampoline

// Executable is a read-only, executable copy of machine code outside of the Go heap.
type Executable struct{}

// NewExecutable is not available on this platform.
func NewExecutable([]byte) (*Executable, error) {
	return nil, ErrUnsupported
}

// Addr returns the entry point.
func (e *Executable) Addr() uintptr {
	return 0
}

// Len returns the size of the code.
func (e *Executable) Len() int {
	return 0
}

// Close is a no-op.
func (e *Executable) Close() error {
	return nil
}

func mapPages(int) ([]byte, error) {
	return nil, ErrUnsupported
}

func unmapPages([]byte) error {
	return nil
}
