// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package workqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/siderolabs/wrapq/internal/util"
	"github.com/siderolabs/wrapq/pkg/trampoline"
)

var (
	// ErrResourceExhausted is returned when a pool cannot start its workers.
	ErrResourceExhausted = errors.New("cannot start worker threads")

	// ErrNotFreezable is returned by Freeze on pools created without Freezable.
	ErrNotFreezable = errors.New("pool does not support freezing")
)

// Invoker calls a proc with one argument, usually a *trampoline.Bridge.
type Invoker interface {
	Call1(p *trampoline.Proc, a1 trampoline.Word) (trampoline.Word, error)
}

// Config describes a pool.
type Config struct {
	// Name prefixes the worker thread names.
	Name string
	// SingleThread runs a single unpinned worker instead of one per processor.
	SingleThread bool
	// Freezable allows suspending dispatch with Freeze.
	Freezable bool
	// Pin binds each worker to its processor.
	Pin bool
}

// CancelResult tells what Cancel found.
type CancelResult int

// Cancel outcomes.
const (
	// NotQueued means the item was neither queued nor running.
	NotQueued CancelResult = iota
	// Canceled means the item was removed from its queue and will not run.
	Canceled
	// Running means the item was already claimed, it runs to completion.
	Running
)

func (r CancelResult) String() string {
	switch r {
	case Canceled:
		return "canceled"
	case Running:
		return "running"
	}

	return "not queued"
}

// Pool is a fixed set of workers.
type Pool struct {
	logger *slog.Logger
	cfg    Config
	host   Host
	bridge Invoker

	workers []*worker
	cursor  atomic.Uint64

	destroyed   atomic.Bool
	destroyOnce sync.Once

	submitted atomic.Uint64
	executed  atomic.Uint64
	canceled  atomic.Uint64
	dropped   atomic.Uint64
}

// NewPool starts the workers of a pool. The processor list is sampled once, each worker is
// started and ready before the next one is spawned.
func NewPool(logger *slog.Logger, cfg Config, host Host, bridge Invoker) (*Pool, error) {
	p := &Pool{
		logger: logger,
		cfg:    cfg,
		host:   host,
		bridge: bridge,
	}

	cpus := host.ActiveProcessors()

	n := len(cpus)
	if cfg.SingleThread || n == 0 {
		n = 1
	}

	p.workers = make([]*worker, 0, n)

	for i := range n {
		cpu := -1
		if cfg.Pin && !cfg.SingleThread && i < len(cpus) {
			cpu = cpus[i]
		}

		w := newWorker(p, i, cpu)

		if err := host.Spawn(fmt.Sprintf("%s/%d", cfg.Name, i), cpu, w.run); err != nil {
			logger.Error("error starting worker, rolling back", "worker", i, "cpu", cpu, "err", err)
			p.stop()

			return nil, fmt.Errorf("%w: worker %d: %w", ErrResourceExhausted, i, err)
		}

		<-w.ready

		p.workers = append(p.workers, w)
	}

	logger.Info("pool started", "name", cfg.Name, "workers", n, "single_thread", cfg.SingleThread)

	return p, nil
}

// Name returns the configured name of the pool.
func (p *Pool) Name() string {
	return p.cfg.Name
}

// Len returns the number of workers.
func (p *Pool) Len() int {
	return len(p.workers)
}

// pick selects the worker of the next submission, skipping workers that did not start yet.
func (p *Pool) pick() *worker {
	n := uint64(len(p.workers))
	if n == 1 || p.cfg.SingleThread {
		return p.workers[0]
	}

	for range n {
		w := p.workers[(p.cursor.Add(1)-1)%n]
		if w.started.Load() {
			return w
		}
	}

	return nil
}

// Enqueue submits it. It returns false if the item is already queued or the pool is destroyed.
func (p *Pool) Enqueue(it *Item) bool {
	if it.owner.Load() != nil || p.destroyed.Load() {
		return false
	}

	w := p.pick()
	if w == nil {
		return false
	}

	t := &ticket{item: it, worker: w}
	if !it.owner.CompareAndSwap(nil, t) {
		return false
	}

	if !w.push(t) {
		it.owner.CompareAndSwap(t, nil)

		return false
	}

	p.submitted.Add(1)

	util.TraceLog(p.logger, "enqueued", "item", it, "worker", w.index)

	return true
}

// Cancel removes it from its queue if no worker claimed it yet. A running item is not
// interrupted.
func (p *Pool) Cancel(it *Item) CancelResult {
	for {
		t := it.owner.Load()
		if t == nil {
			break
		}

		if t.worker.remove(t) {
			p.canceled.Add(1)

			util.TraceLog(p.logger, "canceled", "item", it, "worker", t.worker.index)

			return Canceled
		}
	}

	if it.Running() {
		return Running
	}

	return NotQueued
}

// Flush waits until every item enqueued before the call has run.
func (p *Pool) Flush() {
	p.FlushContext(context.Background()) //nolint:errcheck
}

// FlushContext is Flush bounded by ctx. The flush carries on in the workers when ctx expires.
func (p *Pool) FlushContext(ctx context.Context) error {
	waits := make([]<-chan struct{}, 0, len(p.workers))

	for _, w := range p.workers {
		if ch := w.requestFlush(); ch != nil {
			waits = append(waits, ch)
		}
	}

	for _, ch := range waits {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Freeze suspends dispatch once the running items return. Submissions keep queuing.
func (p *Pool) Freeze() error {
	if !p.cfg.Freezable {
		return ErrNotFreezable
	}

	for _, w := range p.workers {
		w.setFrozen(true)
	}

	p.logger.Debug("pool frozen")

	return nil
}

// Thaw resumes dispatch.
func (p *Pool) Thaw() {
	for _, w := range p.workers {
		w.setFrozen(false)
	}

	p.logger.Debug("pool thawed")
}

// Destroy stops every worker and waits for their threads to exit. Items still queued are
// dropped without running. It must not be called from a work item.
func (p *Pool) Destroy() {
	p.destroyOnce.Do(func() {
		p.destroyed.Store(true)

		if dropped := p.stop(); dropped > 0 {
			p.logger.Warn("pool destroyed with queued work", "dropped", dropped)
		}

		p.logger.Info("pool destroyed", "name", p.cfg.Name, "executed", p.executed.Load())
	})
}

// stop shuts down the started workers and waits for them.
func (p *Pool) stop() int {
	dropped := 0

	for _, w := range p.workers {
		dropped += w.shutdown()
	}

	p.dropped.Add(uint64(dropped))

	for _, w := range p.workers {
		<-w.done
	}

	return dropped
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	Name      string
	Submitted uint64
	Executed  uint64
	Canceled  uint64
	Dropped   uint64
	Workers   []WorkerStats
}

// WorkerStats is a snapshot of one worker.
type WorkerStats struct {
	Index    int
	CPU      int
	ThreadID int
	State    string
	Frozen   bool
	Queued   int
	Enqueued uint64
	Executed uint64
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	s := Stats{
		Name:      p.cfg.Name,
		Submitted: p.submitted.Load(),
		Executed:  p.executed.Load(),
		Canceled:  p.canceled.Load(),
		Dropped:   p.dropped.Load(),
		Workers:   make([]WorkerStats, 0, len(p.workers)),
	}

	for _, w := range p.workers {
		s.Workers = append(s.Workers, w.stats())
	}

	return s
}
