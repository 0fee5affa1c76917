// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline

import (
	"fmt"
	"math/bits"
	"strings"
)

// Register is a general purpose register. The amd64 registers come first, in hardware
// encoding order, followed by the arm64 ones.
type Register uint8

// amd64.
const (
	RAX Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// arm64. X29 is the frame pointer and X30 the link register.
const (
	X0 Register = iota + R15 + 1
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
)

// NumRegisters is the size of a register file covering every Register.
const NumRegisters = int(X30) + 1

var amd64Names = [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi"}

// String returns the assembler name of the register.
func (r Register) String() string {
	switch {
	case r <= RDI:
		return amd64Names[r]
	case r <= R15:
		return fmt.Sprintf("r%d", int(r))
	case r <= X30:
		return fmt.Sprintf("x%d", int(r-X0))
	}

	return fmt.Sprintf("reg(%d)", int(r))
}

// encoding returns the low three bits of the amd64 register number and whether REX extension is needed.
func (r Register) encoding() (byte, bool) {
	return byte(r) & 7, r >= R8
}

// RegSet is a set of registers.
type RegSet uint64

// Regs builds a set.
func Regs(rs ...Register) RegSet {
	var s RegSet
	for _, r := range rs {
		s = s.Add(r)
	}

	return s
}

// Add returns s with r included.
func (s RegSet) Add(r Register) RegSet {
	return s | 1<<r
}

// Has tells if r is in s.
func (s RegSet) Has(r Register) bool {
	return s&(1<<r) != 0
}

// Len returns the number of registers in s.
func (s RegSet) Len() int {
	return bits.OnesCount64(uint64(s))
}

// List returns the registers in ascending order.
func (s RegSet) List() []Register {
	out := make([]Register, 0, s.Len())

	for r := Register(0); int(r) < NumRegisters; r++ {
		if s.Has(r) {
			out = append(out, r)
		}
	}

	return out
}

func (s RegSet) String() string {
	names := make([]string, 0, s.Len())
	for _, r := range s.List() {
		names = append(names, r.String())
	}

	return "{" + strings.Join(names, ",") + "}"
}
