// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline

// this file contains a tiny x86-64 encoder, just enough to assemble bridge plans and probes

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrNotAssemblable is returned for plans that cannot or need not be turned into machine code.
	ErrNotAssemblable = errors.New("plan cannot be assembled")

	// ErrUnsupported is returned when native execution is not available on this platform.
	ErrUnsupported = errors.New("native bridging is not supported on this platform")
)

const (
	rexW = 0x48
	rexR = 0x04
	rexB = 0x01

	opMovStore = 0x89 // mov r/m64, r64
	opMovLoad  = 0x8b // mov r64, r/m64

	modDisp32 = 0x80
	modReg    = 0xc0
	rmSIB     = 0x04 // rsp based addressing needs a SIB byte
	sibRSP    = 0x24
)

type x86 struct {
	buf []byte
}

func (a *x86) bytes(b ...byte) {
	a.buf = append(a.buf, b...)
}

func (a *x86) imm32(v int32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, uint32(v))
}

func (a *x86) imm64(v uint64) {
	a.buf = binary.LittleEndian.AppendUint64(a.buf, v)
}

func modrm(mod, reg, rm byte) byte {
	return mod | reg<<3 | rm
}

// movRR encodes mov dst, src.
func (a *x86) movRR(dst, src Register) {
	s, sx := src.encoding()
	d, dx := dst.encoding()

	rex := byte(rexW)
	if sx {
		rex |= rexR
	}

	if dx {
		rex |= rexB
	}

	a.bytes(rex, opMovStore, modrm(modReg, s, d))
}

// mem encodes a [base+disp32] operand for reg with the given opcode.
func (a *x86) mem(op byte, reg, base Register, disp int) {
	r, rx := reg.encoding()
	b, bx := base.encoding()

	rex := byte(rexW)
	if rx {
		rex |= rexR
	}

	if bx {
		rex |= rexB
	}

	a.bytes(rex, op, modrm(modDisp32, r, b))

	if b == rmSIB {
		a.bytes(sibRSP)
	}

	a.imm32(int32(disp))
}

// store encodes mov [base+disp], src.
func (a *x86) store(base Register, disp int, src Register) {
	a.mem(opMovStore, src, base, disp)
}

// load encodes mov dst, [base+disp].
func (a *x86) load(dst, base Register, disp int) {
	a.mem(opMovLoad, dst, base, disp)
}

// movImm64 encodes movabs dst, imm64.
func (a *x86) movImm64(dst Register, v uint64) {
	d, dx := dst.encoding()

	rex := byte(rexW)
	if dx {
		rex |= rexB
	}

	a.bytes(rex, 0xb8+d)
	a.imm64(v)
}

func (a *x86) callReg(r Register) {
	e, ex := r.encoding()
	if ex {
		a.bytes(0x41)
	}

	a.bytes(0xff, modrm(modReg, 2, e))
}

func (a *x86) prologue(frame int) {
	a.bytes(0x55)             // push rbp
	a.bytes(rexW, 0x89, 0xe5) // mov rbp, rsp

	if frame > 0 {
		a.bytes(rexW, 0x81, 0xec) // sub rsp, imm32
		a.imm32(int32(frame))
	}
}

func (a *x86) epilogue() {
	a.bytes(0xc9) // leave
	a.bytes(0xc3) // ret
}

func (a *x86) move(p *Plan, m Move) error {
	src, dst := m.Src, m.Dst

	switch {
	case src.Kind == InRegister && dst.Kind == InRegister:
		a.movRR(dst.Reg, src.Reg)
	case src.Kind == InRegister && dst.Kind == CalleeStack:
		a.store(RSP, p.calleeOffset(dst.Slot), src.Reg)
	case src.Kind == CallerStack && dst.Kind == InRegister:
		a.load(dst.Reg, RBP, p.callerOffset(src.Slot))
	default:
		return fmt.Errorf("%w: move %s", ErrNotAssemblable, m)
	}

	return nil
}

// Assemble encodes an amd64 plan as a function callable with the host convention.
// It receives the target address as its first argument followed by the target's arguments.
func Assemble(p *Plan) ([]byte, error) {
	if p.Direct {
		return nil, fmt.Errorf("%w: direct plans need no thunk", ErrNotAssemblable)
	}

	if p.Host.Arch != "amd64" {
		return nil, fmt.Errorf("%w: unsupported architecture %s", ErrNotAssemblable, p.Host.Arch)
	}

	a := &x86{}
	a.prologue(p.FrameSize)

	for i, r := range p.Preserve {
		a.store(RSP, p.saveOffset(i), r)
	}

	for _, m := range p.Moves {
		if err := a.move(p, m); err != nil {
			return nil, err
		}
	}

	a.callReg(p.Foreign.Scratch)

	for i, r := range p.Preserve {
		a.load(r, RSP, p.saveOffset(i))
	}

	if p.Result != nil {
		if err := a.move(p, *p.Result); err != nil {
			return nil, err
		}
	}

	a.epilogue()

	return a.buf, nil
}

// incMem encodes inc qword [base+disp].
func (a *x86) incMem(base Register, disp int) {
	b, bx := base.encoding()

	rex := byte(rexW)
	if bx {
		rex |= rexB
	}

	a.bytes(rex, 0xff, modrm(modDisp32, 0, b))

	if b == rmSIB {
		a.bytes(sibRSP)
	}

	a.imm32(int32(disp))
}
