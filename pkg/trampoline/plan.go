// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTooManyArgs is returned when more than MaxArgs arguments are bridged.
	ErrTooManyArgs = fmt.Errorf("more than %d arguments", MaxArgs)

	// ErrArchMismatch is returned when host and foreign conventions are for different architectures.
	ErrArchMismatch = errors.New("conventions are for different architectures")

	// ErrConventionClash is returned when a bridge register is also used to pass arguments.
	ErrConventionClash = errors.New("scratch or temp register carries an argument")
)

// LocationKind tells where an argument lives.
type LocationKind uint8

const (
	// InRegister is a register.
	InRegister LocationKind = iota
	// CallerStack is a stack argument of the host call, above the thunk's return address.
	CallerStack
	// CalleeStack is an outgoing stack argument of the foreign call, above its shadow space.
	CalleeStack
)

// Location is a register or a stack slot.
type Location struct {
	Kind LocationKind
	Reg  Register
	Slot int
}

// InReg returns the location of a register.
func InReg(r Register) Location {
	return Location{Kind: InRegister, Reg: r}
}

func (l Location) String() string {
	switch l.Kind {
	case CallerStack:
		return fmt.Sprintf("in[%d]", l.Slot)
	case CalleeStack:
		return fmt.Sprintf("out[%d]", l.Slot)
	}

	return l.Reg.String()
}

// Move copies one word from Src to Dst.
type Move struct {
	Dst, Src Location
}

func (m Move) String() string {
	return m.Dst.String() + " <- " + m.Src.String()
}

// Plan is the recipe of a thunk that receives (target, a1..aN) under the host convention
// and calls target(a1..aN) under the foreign one.
type Plan struct {
	Host    *Convention
	Foreign *Convention
	Args    int

	// Direct plans need no thunk: the host calls the target as is.
	Direct bool

	// Moves are executed in order before the call.
	Moves []Move
	// Result moves the foreign return register into the host one, if they differ.
	Result *Move

	// Preserve lists host callee-saved registers the foreign side may clobber.
	Preserve []Register

	// OutSlots is the number of outgoing foreign stack arguments.
	OutSlots int
	// FrameSize is the number of bytes reserved below the saved frame pointer:
	// shadow space, outgoing arguments and the save area, rounded to the stack alignment.
	FrameSize int
}

// NewPlan computes the bridge for an n-argument call.
func NewPlan(host, foreign *Convention, n int) (*Plan, error) {
	if n < 0 || n > MaxArgs {
		return nil, ErrTooManyArgs
	}

	if host.Arch != foreign.Arch {
		return nil, fmt.Errorf("%w: %s is %s, %s is %s", ErrArchMismatch, host, host.Arch, foreign, foreign.Arch)
	}

	p := &Plan{
		Host:    host,
		Foreign: foreign,
		Args:    n,
	}

	if Compatible(host, foreign, n) {
		p.Direct = true

		return p, nil
	}

	if err := p.checkClash(); err != nil {
		return nil, err
	}

	p.OutSlots = foreign.StackArgs(n)

	preserve := host.CalleeSaved &^ foreign.CalleeSaved
	for _, r := range []Register{foreign.Scratch, foreign.Temp} {
		if host.CalleeSaved.Has(r) {
			preserve = preserve.Add(r)
		}
	}

	if host.Arch == "amd64" {
		// the frame pointer is saved by the prologue
		preserve &^= Regs(RSP, RBP)
	}

	p.Preserve = preserve.List()

	align := max(host.StackAlign, foreign.StackAlign, WordSize)
	size := foreign.ShadowSpace + (p.OutSlots+len(p.Preserve))*WordSize
	p.FrameSize = (size + align - 1) / align * align

	p.schedule()

	if host.Return != foreign.Return {
		p.Result = &Move{Dst: InReg(host.Return), Src: InReg(foreign.Return)}
	}

	return p, nil
}

// hostLocation is where the thunk receives its i-th parameter, 0 being the target address.
func (p *Plan) hostLocation(i int) Location {
	return p.Host.Location(i, CallerStack)
}

// foreignLocation is where the target expects argument i, zero based.
func (p *Plan) foreignLocation(i int) Location {
	return p.Foreign.Location(i, CalleeStack)
}

func (p *Plan) checkClash() error {
	used := Regs(p.Foreign.IntArgs[:p.Foreign.RegisterArgs(p.Args)]...)
	for i := 1; i <= p.Args; i++ {
		if l := p.hostLocation(i); l.Kind == InRegister {
			used = used.Add(l.Reg)
		}
	}

	for _, r := range []Register{p.Foreign.Scratch, p.Foreign.Temp} {
		if used.Has(r) {
			return fmt.Errorf("%w: %s", ErrConventionClash, r)
		}
	}

	return nil
}

// schedule orders the argument moves so no source is overwritten before it is read.
func (p *Plan) schedule() {
	scratch := InReg(p.Foreign.Scratch)
	temp := InReg(p.Foreign.Temp)

	if src := p.hostLocation(0); src != scratch {
		p.emit(scratch, src)
	}

	var (
		shuffle []Move
		loads   []Move
	)

	for i := 0; i < p.Args; i++ {
		dst := p.foreignLocation(i)
		src := p.hostLocation(i + 1)

		switch {
		case dst.Kind == CalleeStack && src.Kind == CallerStack:
			p.emit(temp, src)
			p.emit(dst, temp)
		case dst.Kind == CalleeStack:
			p.emit(dst, src)
		case src.Kind == CallerStack:
			loads = append(loads, Move{Dst: dst, Src: src})
		case src != dst:
			shuffle = append(shuffle, Move{Dst: dst, Src: src})
		}
	}

	for len(shuffle) > 0 {
		i := readyMove(shuffle)
		if i < 0 {
			// every destination is still needed as a source: park one in temp
			src := shuffle[0].Src
			p.emit(temp, src)

			for j := range shuffle {
				if shuffle[j].Src == src {
					shuffle[j].Src = temp
				}
			}

			continue
		}

		p.emit(shuffle[i].Dst, shuffle[i].Src)
		shuffle = append(shuffle[:i], shuffle[i+1:]...)
	}

	// stack loads last, their destinations may still have been sources above
	for _, m := range loads {
		p.emit(m.Dst, m.Src)
	}
}

// readyMove returns the index of a move whose destination no other pending move reads.
func readyMove(pending []Move) int {
	for i, m := range pending {
		blocked := false

		for j, o := range pending {
			if i != j && o.Src == m.Dst {
				blocked = true

				break
			}
		}

		if !blocked {
			return i
		}
	}

	return -1
}

func (p *Plan) emit(dst, src Location) {
	p.Moves = append(p.Moves, Move{Dst: dst, Src: src})
}

// calleeOffset is the offset from the stack pointer at the call of outgoing slot i.
func (p *Plan) calleeOffset(slot int) int {
	return p.Foreign.ShadowSpace + slot*WordSize
}

// saveOffset is the offset from the stack pointer of the save slot of Preserve[i].
func (p *Plan) saveOffset(i int) int {
	return p.Foreign.ShadowSpace + (p.OutSlots+i)*WordSize
}

// callerOffset is the offset from the frame pointer of incoming slot i: saved frame
// pointer, return address and the host's shadow space sit in between.
func (p *Plan) callerOffset(slot int) int {
	return 2*WordSize + p.Host.ShadowSpace + slot*WordSize
}

func (p *Plan) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s -> %s, %d args", p.Host, p.Foreign, p.Args)

	if p.Direct {
		sb.WriteString(": direct call")

		return sb.String()
	}

	fmt.Fprintf(&sb, ", frame %d bytes, %d stack args", p.FrameSize, p.OutSlots)

	if len(p.Preserve) > 0 {
		fmt.Fprintf(&sb, ", preserve %s", Regs(p.Preserve...))
	}

	for _, m := range p.Moves {
		sb.WriteString("\n  ")
		sb.WriteString(m.String())
	}

	if p.Result != nil {
		sb.WriteString("\n  ")
		sb.WriteString(p.Result.String())
	}

	return sb.String()
}
