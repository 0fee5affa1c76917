// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package trampoline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/siderolabs/wrapq/internal/util"
)

var (
	// ErrNilProc is returned when invoking a nil proc.
	ErrNilProc = errors.New("nil proc")

	// ErrBridgeClosed is returned for native calls after Close.
	ErrBridgeClosed = errors.New("bridge is closed")
)

type planKey struct {
	conv *Convention
	n    int
}

// Bridge invokes procs on behalf of host code, translating conventions where needed.
// Plans and native thunks are built on first use and cached.
type Bridge struct {
	logger *slog.Logger
	host   *Convention

	mu     sync.Mutex
	plans  map[planKey]*Plan
	thunks map[planKey]*Executable
	closed bool
}

// New creates a bridge for the given host convention, usually HostConvention().
func New(logger *slog.Logger, host *Convention) *Bridge {
	logger.Debug("initializing", "host", host.Name)

	return &Bridge{
		logger: logger,
		host:   host,
		plans:  make(map[planKey]*Plan),
		thunks: make(map[planKey]*Executable),
	}
}

// Host returns the host convention of the bridge.
func (b *Bridge) Host() *Convention {
	return b.host
}

// Plan returns the (cached) plan for an n-argument call into foreign.
func (b *Bridge) Plan(foreign *Convention, n int) (*Plan, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.planLocked(foreign, n)
}

func (b *Bridge) planLocked(foreign *Convention, n int) (*Plan, error) {
	key := planKey{conv: foreign, n: n}
	if p, ok := b.plans[key]; ok {
		return p, nil
	}

	p, err := NewPlan(b.host, foreign, n)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("planned bridge", "foreign", foreign.Name, "args", n, "direct", p.Direct, "moves", len(p.Moves))
	b.plans[key] = p

	return p, nil
}

// thunk returns the native code for an indirect plan.
func (b *Bridge) thunk(foreign *Convention, n int) (*Executable, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBridgeClosed
	}

	key := planKey{conv: foreign, n: n}
	if e, ok := b.thunks[key]; ok {
		return e, nil
	}

	p, err := b.planLocked(foreign, n)
	if err != nil {
		return nil, err
	}

	code, err := Assemble(p)
	if err != nil {
		return nil, err
	}

	e, err := NewExecutable(code)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("mapped thunk", "foreign", foreign.Name, "args", n, "addr", fmt.Sprintf("%#x", e.Addr()), "size", len(code))
	b.thunks[key] = e

	return e, nil
}

// Invoke calls p with up to MaxArgs arguments and returns its result.
func (b *Bridge) Invoke(p *Proc, args ...Word) (Word, error) {
	if p == nil {
		return 0, ErrNilProc
	}

	if len(args) > MaxArgs {
		return 0, ErrTooManyArgs
	}

	util.TraceLog(b.logger, "calling", "proc", p.name, "args", len(args))

	switch p.kind {
	case procFunc:
		return p.fn(args...), nil
	case procEmulated:
		plan, err := b.Plan(p.conv, len(args))
		if err != nil {
			return 0, err
		}

		return plan.Run(p.target, args...), nil
	default:
		return b.invokeNative(p, args)
	}
}

func (b *Bridge) invokeNative(p *Proc, args []Word) (Word, error) {
	if !nativeSupported || b.host != HostConvention() {
		return 0, fmt.Errorf("%w: %s", ErrUnsupported, p)
	}

	plan, err := b.Plan(p.conv, len(args))
	if err != nil {
		return 0, err
	}

	if plan.Direct {
		return callNative(p.addr, args), nil
	}

	thunk, err := b.thunk(p.conv, len(args))
	if err != nil {
		return 0, err
	}

	return callNative(thunk.Addr(), append([]Word{Word(p.addr)}, args...)), nil
}

// Call0 calls p without arguments.
func (b *Bridge) Call0(p *Proc) (Word, error) {
	return b.Invoke(p)
}

// Call1 calls p with one argument.
func (b *Bridge) Call1(p *Proc, a1 Word) (Word, error) {
	return b.Invoke(p, a1)
}

// Call2 calls p with two arguments.
func (b *Bridge) Call2(p *Proc, a1, a2 Word) (Word, error) {
	return b.Invoke(p, a1, a2)
}

// Call3 calls p with three arguments.
func (b *Bridge) Call3(p *Proc, a1, a2, a3 Word) (Word, error) {
	return b.Invoke(p, a1, a2, a3)
}

// Call4 calls p with four arguments.
func (b *Bridge) Call4(p *Proc, a1, a2, a3, a4 Word) (Word, error) {
	return b.Invoke(p, a1, a2, a3, a4)
}

// Call5 calls p with five arguments.
func (b *Bridge) Call5(p *Proc, a1, a2, a3, a4, a5 Word) (Word, error) {
	return b.Invoke(p, a1, a2, a3, a4, a5)
}

// Call6 calls p with six arguments.
func (b *Bridge) Call6(p *Proc, a1, a2, a3, a4, a5, a6 Word) (Word, error) {
	return b.Invoke(p, a1, a2, a3, a4, a5, a6)
}

// Close unmaps the native thunks. No native call may be in flight.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	var errs []error

	for key, e := range b.thunks {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error unmapping %s/%d thunk: %w", key.conv, key.n, err))
		}

		delete(b.thunks, key)
	}

	return errors.Join(errs...)
}
