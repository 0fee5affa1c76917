// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline

import "unsafe"

// Word is a single machine word, the unit every bridged argument and result is passed in.
type Word uintptr

// Word must be exactly pointer sized, the build breaks otherwise.
var _ [unsafe.Sizeof(Word(0))]struct{} = [unsafe.Sizeof(unsafe.Pointer(nil))]struct{}{}

// WordSize is the size of a Word in bytes.
const WordSize = int(unsafe.Sizeof(Word(0)))

// MaxArgs is the highest arity the bridge supports.
const MaxArgs = 6

// Arg lists the types that can be passed as a bridged argument.
type Arg interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// W widens or truncates v to exactly one machine word.
// Signed values are sign-extended before they are reinterpreted.
func W[T Arg](v T) Word {
	return Word(v)
}

// Ptr passes a pointer as a word. The caller keeps the pointee alive for the duration of the call.
func Ptr[T any](p *T) Word {
	return Word(uintptr(unsafe.Pointer(p)))
}

// Bool passes a boolean as 0 or 1.
func Bool(b bool) Word {
	if b {
		return 1
	}

	return 0
}

// Words converts a list of arguments of one type.
func Words[T Arg](vs ...T) []Word {
	out := make([]Word, len(vs))
	for i, v := range vs {
		out[i] = W(v)
	}

	return out
}

// addrOf returns the address of the first byte of b, which must not be empty.
func addrOf(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}
