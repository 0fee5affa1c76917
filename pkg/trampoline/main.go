// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

// Package trampoline bridges calls from the host calling convention into a foreign one.
// It has been inspired by a lot of sources:
//
// - https://learn.microsoft.com/en-us/cpp/build/x64-calling-convention
// - https://gitlab.com/x86-psABIs/x86-64-ABI
// - https://github.com/ARM-software/abi-aa/blob/main/aapcs64/aapcs64.rst
// - https://wiki.osdev.org/Calling_Conventions
//
// On amd64 the System V convention passes six integer arguments in registers while the
// Microsoft x64 convention passes four, requires the caller to reserve 32 bytes of shadow
// space and treats RSI/RDI as callee-saved. A call across the two needs a thunk that
// reshuffles registers, spills the rest to the stack and keeps the host's preserved
// registers intact. On arm64 both sides use AAPCS64 and the bridge is a direct call.
//
// A Plan describes the thunk for one (host, foreign, arity) triple. Plans can be run
// against an emulated register Frame on any platform, or assembled into machine code and
// executed natively on linux/amd64.
package trampoline
