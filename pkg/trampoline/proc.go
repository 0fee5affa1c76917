// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline

import "fmt"

type procKind uint8

const (
	procFunc procKind = iota
	procEmulated
	procNative
)

// Proc is a reference to an entry point the bridge can call.
type Proc struct {
	name   string
	kind   procKind
	conv   *Convention
	fn     func(args ...Word) Word
	target Target
	addr   uintptr
}

// NewFunc wraps a Go function. Go functions follow the host convention, calls are always direct.
func NewFunc(name string, fn func(args ...Word) Word) *Proc {
	return &Proc{
		name: name,
		kind: procFunc,
		fn:   fn,
	}
}

// NewEmulated wraps a Go function that observes its arguments through a register frame
// laid out by the given convention.
func NewEmulated(name string, conv *Convention, target Target) *Proc {
	return &Proc{
		name:   name,
		kind:   procEmulated,
		conv:   conv,
		target: target,
	}
}

// NewNative references machine code at addr compiled for the given convention.
// The address is not validated.
func NewNative(name string, conv *Convention, addr uintptr) *Proc {
	return &Proc{
		name: name,
		kind: procNative,
		conv: conv,
		addr: addr,
	}
}

// Name returns the name the proc was created with.
func (p *Proc) Name() string {
	return p.name
}

// Convention returns the calling convention of the proc, nil for Go functions.
func (p *Proc) Convention() *Convention {
	return p.conv
}

func (p *Proc) String() string {
	switch p.kind {
	case procEmulated:
		return fmt.Sprintf("%s (emulated %s)", p.name, p.conv)
	case procNative:
		return fmt.Sprintf("%s (%s @ %#x)", p.name, p.conv, p.addr)
	}

	return p.name
}
