// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

//go:build linux && (amd64 || arm64)

package trampoline

import "github.com/ebitengine/purego"

const nativeSupported = true

// callNative calls fn with the host convention on the system stack.
func callNative(fn uintptr, args []Word) Word {
	a := make([]uintptr, len(args))
	for i, w := range args {
		a[i] = uintptr(w)
	}

	r1, _, _ := purego.SyscallN(fn, a...) //nolint:dogsled

	return Word(r1)
}
