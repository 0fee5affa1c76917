// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
)

// ProbeResult is returned by every probe call.
const ProbeResult Word = 0x0ddba11c0ffee

const (
	probeBase  = R11 // data page
	probeLoad  = R10 // stack argument staging
	probeCalls = MaxArgs
	probeSlots = MaxArgs + 1
)

// Probe is a native function compiled for a given convention that records the arguments
// it receives and returns ProbeResult. It exists to check bridges end to end.
type Probe struct {
	conv *Convention
	code *Executable
	data []byte
}

// NewProbe emits a probe for conv. Only amd64 conventions can be probed.
func NewProbe(conv *Convention) (*Probe, error) {
	if runtime.GOARCH != "amd64" {
		return nil, fmt.Errorf("%w: probes need amd64", ErrUnsupported)
	}

	data, err := mapPages(probeSlots * WordSize)
	if err != nil {
		return nil, err
	}

	code, err := assembleProbe(conv, uintptr(addrOf(data)))
	if err != nil {
		unmapPages(data) //nolint:errcheck

		return nil, err
	}

	exe, err := NewExecutable(code)
	if err != nil {
		unmapPages(data) //nolint:errcheck

		return nil, err
	}

	return &Probe{
		conv: conv,
		code: exe,
		data: data,
	}, nil
}

// assembleProbe encodes the probe body: store every argument at data+8*i, bump the call
// counter, return ProbeResult.
func assembleProbe(conv *Convention, data uintptr) ([]byte, error) {
	if conv.Arch != "amd64" {
		return nil, fmt.Errorf("%w: unsupported architecture %s", ErrNotAssemblable, conv.Arch)
	}

	clobbered := Regs(probeBase, probeLoad, conv.Return)
	if used := Regs(conv.IntArgs...) | conv.CalleeSaved; used&clobbered != 0 {
		return nil, fmt.Errorf("%w: %s needs %s", ErrConventionClash, conv, used&clobbered)
	}

	a := &x86{}
	a.movImm64(probeBase, uint64(data))

	for i := range MaxArgs {
		l := conv.Location(i, CalleeStack)
		if l.Kind == InRegister {
			a.store(probeBase, i*WordSize, l.Reg)

			continue
		}

		// above the return address and the shadow space
		a.load(probeLoad, RSP, WordSize+conv.ShadowSpace+l.Slot*WordSize)
		a.store(probeBase, i*WordSize, probeLoad)
	}

	a.incMem(probeBase, probeCalls*WordSize)
	a.movImm64(conv.Return, uint64(ProbeResult))
	a.bytes(0xc3) // ret

	return a.buf, nil
}

// Proc returns a proc calling the probe.
func (p *Probe) Proc(name string) *Proc {
	return NewNative(name, p.conv, p.code.Addr())
}

// Args returns the first n arguments of the last call.
func (p *Probe) Args(n int) []Word {
	out := make([]Word, min(n, MaxArgs))
	for i := range out {
		out[i] = p.word(i)
	}

	return out
}

// Calls returns how many times the probe ran.
func (p *Probe) Calls() int {
	return int(p.word(probeCalls))
}

// Reset clears the recorded arguments and the call counter.
func (p *Probe) Reset() {
	clear(p.data)
}

func (p *Probe) word(i int) Word {
	return Word(binary.LittleEndian.Uint64(p.data[i*WordSize:]))
}

// Close unmaps the probe.
func (p *Probe) Close() error {
	return errors.Join(p.code.Close(), unmapPages(p.data))
}
