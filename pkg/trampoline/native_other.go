// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

//go:build !(linux && (amd64 || arm64))

package trampoline

const nativeSupported = false

func callNative(uintptr, []Word) Word {
	panic(ErrUnsupported)
}
