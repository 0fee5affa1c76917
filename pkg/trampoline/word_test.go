// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/siderolabs/wrapq/pkg/trampoline"
)

func TestWords(t *testing.T) {
	assert.Equal(t, ^trampoline.Word(0), trampoline.W(int32(-1)))
	assert.Equal(t, ^trampoline.Word(0), trampoline.W(int8(-1)))
	assert.Equal(t, trampoline.Word(255), trampoline.W(uint8(255)))
	assert.Equal(t, trampoline.Word(1), trampoline.Bool(true))
	assert.Equal(t, trampoline.Word(0), trampoline.Bool(false))
	assert.Equal(t, []trampoline.Word{1, 2, 3}, trampoline.Words(1, 2, 3))

	v := 42
	assert.NotZero(t, trampoline.Ptr(&v))
	assert.Equal(t, 8, trampoline.WordSize)
}
