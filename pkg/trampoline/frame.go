// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline

import (
	"fmt"
	"strings"
)

// Frame models the machine state around a bridged call: the register file, the stack
// arguments the host pushed for the thunk and the outgoing area the thunk reserves for
// the foreign target.
type Frame struct {
	Regs [NumRegisters]Word

	// Caller holds the host's stack arguments, slot 0 first.
	Caller []Word
	// Callee holds the outgoing area, shadow space included. It is only set while the target runs.
	Callee []Word

	shadow int
}

// Target is a foreign entry point emulated in Go. It reads its arguments from the frame
// the way code compiled for its convention would, and may clobber any register it does
// not have to preserve.
type Target func(f *Frame) Word

// Arg returns argument i, zero based, as seen by a callee of convention c.
func (f *Frame) Arg(c *Convention, i int) Word {
	l := c.Location(i, CalleeStack)
	if l.Kind == InRegister {
		return f.Regs[l.Reg]
	}

	idx := f.shadow/WordSize + l.Slot
	if idx >= len(f.Callee) {
		return 0
	}

	return f.Callee[idx]
}

// Args returns the first n arguments as seen by a callee of convention c.
func (f *Frame) Args(c *Convention, n int) []Word {
	out := make([]Word, n)
	for i := range out {
		out[i] = f.Arg(c, i)
	}

	return out
}

// Place lays out a host call of args under convention c, as a direct call would.
func (f *Frame) Place(c *Convention, args ...Word) {
	f.Caller = f.Caller[:0]

	for i, a := range args {
		l := c.Location(i, CallerStack)
		if l.Kind == InRegister {
			f.Regs[l.Reg] = a
		} else {
			f.Caller = append(f.Caller, a)
		}
	}
}

func (f *Frame) load(l Location) Word {
	switch l.Kind {
	case CallerStack:
		return f.Caller[l.Slot]
	case CalleeStack:
		return f.Callee[f.shadow/WordSize+l.Slot]
	}

	return f.Regs[l.Reg]
}

func (f *Frame) store(l Location, v Word) {
	switch l.Kind {
	case CallerStack:
		f.Caller[l.Slot] = v
	case CalleeStack:
		f.Callee[f.shadow/WordSize+l.Slot] = v
	default:
		f.Regs[l.Reg] = v
	}
}

func (f *Frame) String() string {
	var sb strings.Builder

	for r := Register(0); int(r) < NumRegisters; r++ {
		if f.Regs[r] != 0 {
			fmt.Fprintf(&sb, "%s=%x ", r, uint64(f.Regs[r]))
		}
	}

	fmt.Fprintf(&sb, "in=%x out=%x", f.Caller, f.Callee)

	return sb.String()
}

// Execute runs the plan against a frame the host has prepared for the thunk: target address
// in the first host argument location, arguments after it. Direct plans expect the
// arguments laid out for the target itself.
func (p *Plan) Execute(f *Frame, target Target) Word {
	if p.Direct {
		// the host's stack arguments are the target's
		f.Callee = f.Caller
		ret := target(f)
		f.Callee = nil
		f.Regs[p.Host.Return] = ret

		return ret
	}

	saved := make([]Word, len(p.Preserve))
	for i, r := range p.Preserve {
		saved[i] = f.Regs[r]
	}

	// reserve the shadow space and outgoing arguments
	f.shadow = p.Foreign.ShadowSpace
	f.Callee = make([]Word, (p.Foreign.ShadowSpace/WordSize)+p.OutSlots)

	for _, m := range p.Moves {
		f.store(m.Dst, f.load(m.Src))
	}

	f.Regs[p.Foreign.Return] = target(f)

	// release
	f.Callee = nil
	f.shadow = 0

	for i, r := range p.Preserve {
		f.Regs[r] = saved[i]
	}

	if p.Result != nil {
		f.store(p.Result.Dst, f.load(p.Result.Src))
	}

	return f.Regs[p.Host.Return]
}

// Run is a convenience around Execute that builds a fresh frame for target(args...).
func (p *Plan) Run(target Target, args ...Word) Word {
	f := &Frame{}

	if p.Direct {
		f.Place(p.Host, args...)
	} else {
		f.Place(p.Host, append([]Word{0}, args...)...)
	}

	return p.Execute(f, target)
}
