// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/wrapq/pkg/trampoline"
)

func TestLookup(t *testing.T) {
	c, err := trampoline.Lookup("SysV")
	require.NoError(t, err)
	assert.Same(t, trampoline.SysV, c)

	c, err = trampoline.Lookup("msx64")
	require.NoError(t, err)
	assert.Same(t, trampoline.MicrosoftX64, c)

	_, err = trampoline.Lookup("stdcall")
	require.ErrorIs(t, err, trampoline.ErrUnknownConvention)
}

func TestCompatible(t *testing.T) {
	for _, tc := range []struct {
		name          string
		host, foreign *trampoline.Convention
		n             int
		want          bool
	}{
		{"same", trampoline.SysV, trampoline.SysV, 6, true},
		{"shadow space", trampoline.SysV, trampoline.MicrosoftX64, 0, false},
		{"reverse", trampoline.MicrosoftX64, trampoline.SysV, 0, false},
		{"arm64", trampoline.AAPCS64, trampoline.ARM64Windows, 6, true},
		{"arch", trampoline.SysV, trampoline.AAPCS64, 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, trampoline.Compatible(tc.host, tc.foreign, tc.n))
		})
	}
}

func TestLocation(t *testing.T) {
	assert.Equal(t, trampoline.InReg(trampoline.R9), trampoline.MicrosoftX64.Location(3, trampoline.CalleeStack))
	assert.Equal(t,
		trampoline.Location{Kind: trampoline.CalleeStack, Slot: 1},
		trampoline.MicrosoftX64.Location(5, trampoline.CalleeStack),
	)
	assert.Equal(t, 2, trampoline.MicrosoftX64.StackArgs(6))
	assert.Equal(t, 0, trampoline.SysV.StackArgs(6))
}

func TestRegisters(t *testing.T) {
	assert.Equal(t, "rdi", trampoline.RDI.String())
	assert.Equal(t, "r11", trampoline.R11.String())
	assert.Equal(t, "x17", trampoline.X17.String())

	s := trampoline.Regs(trampoline.RSI, trampoline.RAX, trampoline.RSI)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []trampoline.Register{trampoline.RAX, trampoline.RSI}, s.List())
	assert.Equal(t, "{rax,rsi}", s.String())
}
