// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Executable is a read-only, executable copy of machine code outside of the Go heap.
type Executable struct {
	mem []byte
}

// NewExecutable maps code into fresh pages and flips them to read+exec.
func NewExecutable(code []byte) (*Executable, error) {
	mem, err := mapPages(len(code))
	if err != nil {
		return nil, err
	}

	copy(mem, code)

	if err = unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem) //nolint:errcheck

		return nil, fmt.Errorf("error making code executable: %w", err)
	}

	return &Executable{mem: mem}, nil
}

// Addr returns the entry point.
func (e *Executable) Addr() uintptr {
	return uintptr(unsafe.Pointer(&e.mem[0]))
}

// Len returns the size of the code.
func (e *Executable) Len() int {
	return len(e.mem)
}

// Close unmaps the code. Calling into it afterwards crashes the process.
func (e *Executable) Close() error {
	if e.mem == nil {
		return nil
	}

	err := unix.Munmap(e.mem)
	e.mem = nil

	return err
}

// mapPages returns anonymous read+write memory the garbage collector does not know about.
func mapPages(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, max(size, 1), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("error mapping %d bytes: %w", size, err)
	}

	return mem, nil
}

func unmapPages(mem []byte) error {
	return unix.Munmap(mem)
}
