// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/wrapq/pkg/trampoline"
)

func TestAssemble(t *testing.T) {
	p, err := trampoline.NewPlan(trampoline.SysV, trampoline.MicrosoftX64, 6)
	require.NoError(t, err)

	code, err := trampoline.Assemble(p)
	require.NoError(t, err)

	want := strings.Join([]string{
		"55",               // push rbp
		"4889e5",           // mov rbp, rsp
		"4881ec30000000",   // sub rsp, 0x30
		"4889f8",           // mov rax, rdi
		"4c898c2420000000", // mov [rsp+0x20], r9
		"4c8b9d10000000",   // mov r11, [rbp+0x10]
		"4c899c2428000000", // mov [rsp+0x28], r11
		"4d89c1",           // mov r9, r8
		"4989c8",           // mov r8, rcx
		"4889f1",           // mov rcx, rsi
		"ffd0",             // call rax
		"c9",               // leave
		"c3",               // ret
	}, "")

	assert.Equal(t, want, hex.EncodeToString(code))
}

func TestAssemblePreserve(t *testing.T) {
	p, err := trampoline.NewPlan(trampoline.MicrosoftX64, trampoline.SysV, 5)
	require.NoError(t, err)

	code, err := trampoline.Assemble(p)
	require.NoError(t, err)

	s := hex.EncodeToString(code)

	assert.True(t, strings.HasPrefix(s, "554889e54881ec10000000"+
		"4889b42400000000"+ // mov [rsp], rsi
		"4889bc2408000000"), s) // mov [rsp+8], rdi
	assert.Contains(t, s, "488b8d30000000") // mov rcx, [rbp+0x30], past the shadow space
	assert.True(t, strings.HasSuffix(s, "ffd0"+
		"488bb42400000000"+ // mov rsi, [rsp]
		"488bbc2408000000"+ // mov rdi, [rsp+8]
		"c9c3"), s)
}

func TestAssembleDirect(t *testing.T) {
	p, err := trampoline.NewPlan(trampoline.SysV, trampoline.SysV, 3)
	require.NoError(t, err)

	_, err = trampoline.Assemble(p)
	require.ErrorIs(t, err, trampoline.ErrNotAssemblable)
}
