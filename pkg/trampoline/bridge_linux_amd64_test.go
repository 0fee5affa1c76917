// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/wrapq/pkg/trampoline"
)

func TestBridgeNative(t *testing.T) {
	for _, conv := range []*trampoline.Convention{trampoline.SysV, trampoline.MicrosoftX64} {
		t.Run(conv.Name, func(t *testing.T) {
			probe, err := trampoline.NewProbe(conv)
			if err != nil {
				t.Skipf("executable memory unavailable: %v", err)
			}

			defer probe.Close() //nolint:errcheck

			b := trampoline.New(testLogger(), trampoline.SysV)
			defer b.Close() //nolint:errcheck

			proc := probe.Proc("probe")

			for n := 0; n <= trampoline.MaxArgs; n++ {
				probe.Reset()

				ret, err := call(b, proc, seq(n))
				require.NoError(t, err)
				assert.Equal(t, trampoline.ProbeResult, ret)
				assert.Equal(t, seq(n), probe.Args(n), "arity %d", n)
				assert.Equal(t, 1, probe.Calls())
			}
		})
	}
}
