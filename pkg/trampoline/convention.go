// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
)

// ErrUnknownConvention is returned by Lookup for names it does not know.
var ErrUnknownConvention = errors.New("unknown calling convention")

// Convention describes how integer and pointer arguments are passed by a calling convention.
type Convention struct {
	Name string
	Arch string

	// IntArgs are the argument registers, in order. Further arguments go on the stack.
	IntArgs []Register
	Return  Register

	// ShadowSpace is the number of bytes the caller reserves right above the return
	// address, below the first stack argument.
	ShadowSpace int
	StackAlign  int

	CalleeSaved RegSet

	// Scratch holds the target address while arguments are shuffled, Temp is used for
	// stack to stack copies and to break register cycles. Both are clobbered by a bridge.
	Scratch Register
	Temp    Register
}

// SysV is the System V AMD64 psABI convention used by Linux and the BSDs.
var SysV = &Convention{
	Name:        "sysv",
	Arch:        "amd64",
	IntArgs:     []Register{RDI, RSI, RDX, RCX, R8, R9},
	Return:      RAX,
	StackAlign:  16,
	CalleeSaved: Regs(RBX, RBP, R12, R13, R14, R15),
	Scratch:     RAX,
	Temp:        R11,
}

// MicrosoftX64 is the Windows x64 convention.
var MicrosoftX64 = &Convention{
	Name:        "msx64",
	Arch:        "amd64",
	IntArgs:     []Register{RCX, RDX, R8, R9},
	Return:      RAX,
	ShadowSpace: 32,
	StackAlign:  16,
	CalleeSaved: Regs(RBX, RBP, RDI, RSI, R12, R13, R14, R15),
	Scratch:     RAX,
	Temp:        R11,
}

// AAPCS64 is the Arm 64-bit procedure call standard.
var AAPCS64 = &Convention{
	Name:        "aapcs64",
	Arch:        "arm64",
	IntArgs:     []Register{X0, X1, X2, X3, X4, X5, X6, X7},
	Return:      X0,
	StackAlign:  16,
	CalleeSaved: Regs(X19, X20, X21, X22, X23, X24, X25, X26, X27, X28, X29),
	Scratch:     X16,
	Temp:        X17,
}

// ARM64Windows is the Windows flavour of AAPCS64. X18 is reserved by the platform,
// integer argument passing is the same.
var ARM64Windows = &Convention{
	Name:        "arm64win",
	Arch:        "arm64",
	IntArgs:     AAPCS64.IntArgs,
	Return:      X0,
	StackAlign:  16,
	CalleeSaved: AAPCS64.CalleeSaved,
	Scratch:     X16,
	Temp:        X17,
}

var conventions = []*Convention{SysV, MicrosoftX64, AAPCS64, ARM64Windows}

// Lookup finds a built-in convention by name.
func Lookup(name string) (*Convention, error) {
	for _, c := range conventions {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownConvention, name)
}

// HostConvention returns the convention Go code on this platform uses for native calls.
func HostConvention() *Convention {
	return hostFor(runtime.GOOS, runtime.GOARCH)
}

// ForeignConvention returns the convention Windows binaries for this architecture use.
func ForeignConvention() *Convention {
	if runtime.GOARCH == "arm64" {
		return ARM64Windows
	}

	return MicrosoftX64
}

func hostFor(goos, goarch string) *Convention {
	switch {
	case goarch == "arm64":
		return AAPCS64
	case goos == "windows":
		return MicrosoftX64
	}

	return SysV
}

func (c *Convention) String() string {
	return c.Name
}

// RegisterArgs returns how many of n arguments are passed in registers.
func (c *Convention) RegisterArgs(n int) int {
	return min(n, len(c.IntArgs))
}

// StackArgs returns how many of n arguments are passed on the stack.
func (c *Convention) StackArgs(n int) int {
	return n - c.RegisterArgs(n)
}

// Location returns where argument i (zero based) lives under this convention.
// Stack slots are numbered from the first stack argument, shadow space excluded.
func (c *Convention) Location(i int, stack LocationKind) Location {
	if i < len(c.IntArgs) {
		return InReg(c.IntArgs[i])
	}

	return Location{Kind: stack, Slot: i - len(c.IntArgs)}
}

// Compatible tells if an n-argument call from host into foreign needs no translation.
func Compatible(host, foreign *Convention, n int) bool {
	if host == foreign {
		return true
	}

	if host.Arch != foreign.Arch || host.Return != foreign.Return || foreign.ShadowSpace != 0 {
		return false
	}

	if n > len(host.IntArgs) || n > len(foreign.IntArgs) {
		// stack arguments only line up without shadow space, which is checked above,
		// and with the same register count
		if len(host.IntArgs) != len(foreign.IntArgs) {
			return false
		}
	}

	k := min(n, len(host.IntArgs), len(foreign.IntArgs))
	if !slices.Equal(host.IntArgs[:k], foreign.IntArgs[:k]) {
		return false
	}

	return host.CalleeSaved&^foreign.CalleeSaved == 0
}
