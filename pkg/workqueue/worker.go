// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package workqueue

import (
	"container/list"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"github.com/siderolabs/wrapq/internal/util"
)

type pendingState uint8

const (
	noWork pendingState = iota
	hasWork
	shuttingDown // terminal
)

func (s pendingState) String() string {
	switch s {
	case noWork:
		return "idle"
	case hasWork:
		return "draining"
	}

	return "exiting"
}

// worker is one dedicated thread and its FIFO.
type worker struct { //nolint:govet
	logger *slog.Logger
	pool   *Pool

	index int
	cpu   int

	mu      deadlock.Mutex
	cond    *sync.Cond
	queue   *list.List
	pending pendingState
	frozen  bool
	// flushed is the rendezvous of the outstanding flush, shared by concurrent flushers.
	flushed chan struct{}

	started atomic.Bool
	tid     atomic.Int64
	ready   chan struct{}
	done    chan struct{}

	enqueued atomic.Uint64
	executed atomic.Uint64
}

func newWorker(p *Pool, index, cpu int) *worker {
	w := &worker{
		logger: p.logger.With("worker", index),
		pool:   p,
		index:  index,
		cpu:    cpu,
		queue:  list.New(),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}

	w.cond = sync.NewCond(&w.mu)

	return w
}

// run is the dispatch loop, it returns once shutdown was requested and the queue is empty.
func (w *worker) run() {
	defer close(w.done)

	w.tid.Store(int64(w.pool.host.ThreadID()))
	w.started.Store(true)
	close(w.ready)

	w.logger.Debug("worker started", "cpu", w.cpu, "tid", w.tid.Load())

	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		for w.pending == noWork || (w.frozen && w.pending != shuttingDown) {
			w.cond.Wait()
		}

		e := w.queue.Front()
		if e == nil {
			if w.pending == shuttingDown {
				w.logger.Debug("worker exiting")

				return
			}

			w.pending = noWork

			if w.flushed != nil {
				close(w.flushed)
				w.flushed = nil
			}

			continue
		}

		t := w.queue.Remove(e).(*ticket) //nolint:forcetypeassert
		t.elem = nil

		// claim: a cancel that comes after this point finds the item running
		it := t.item
		it.active.Store(t)

		if !it.owner.CompareAndSwap(t, nil) {
			it.active.CompareAndSwap(t, nil)

			continue
		}

		w.mu.Unlock()
		w.invoke(t)
		w.mu.Lock()
	}
}

func (w *worker) invoke(t *ticket) {
	it := t.item

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("work item panicked", "item", it, "panic", r)
		}

		it.active.CompareAndSwap(t, nil)
		w.executed.Add(1)
		w.pool.executed.Add(1)
	}()

	util.TraceLog(w.logger, "dispatching", "item", it)

	if _, err := w.pool.bridge.Call1(it.proc, it.ctx); err != nil {
		w.logger.Error("error calling work item", "item", it, "err", err)
	}
}

// push appends a claimed ticket. It fails once the worker is shutting down.
func (w *worker) push(t *ticket) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending == shuttingDown {
		return false
	}

	t.elem = w.queue.PushBack(t)
	w.pending = hasWork
	w.enqueued.Add(1)
	w.cond.Signal()

	return true
}

// remove takes t out of the queue if the worker has not claimed it yet.
func (w *worker) remove(t *ticket) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !t.item.owner.CompareAndSwap(t, nil) {
		return false
	}

	if t.elem != nil {
		w.queue.Remove(t.elem)
		t.elem = nil
	}

	return true
}

// requestFlush returns the rendezvous to wait on, nil if the worker is gone.
func (w *worker) requestFlush() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending == shuttingDown {
		return nil
	}

	if w.flushed == nil {
		w.flushed = make(chan struct{})
	}

	w.pending = hasWork
	w.cond.Signal()

	return w.flushed
}

func (w *worker) setFrozen(frozen bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.frozen = frozen
	w.cond.Signal()
}

// shutdown drops the queue and asks the loop to exit. It returns the number of dropped items.
func (w *worker) shutdown() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending == shuttingDown {
		return 0
	}

	dropped := 0

	for e := w.queue.Front(); e != nil; e = e.Next() {
		t := e.Value.(*ticket) //nolint:forcetypeassert
		t.elem = nil

		if t.item.owner.CompareAndSwap(t, nil) {
			dropped++

			w.logger.Warn("dropping queued work item", "item", t.item)
		}
	}

	w.queue.Init()
	w.pending = shuttingDown

	// nobody will signal an outstanding rendezvous anymore
	if w.flushed != nil {
		close(w.flushed)
		w.flushed = nil
	}

	w.cond.Signal()

	return dropped
}

func (w *worker) stats() WorkerStats {
	w.mu.Lock()
	queued := w.queue.Len()
	state := w.pending
	frozen := w.frozen
	w.mu.Unlock()

	return WorkerStats{
		Index:    w.index,
		CPU:      w.cpu,
		ThreadID: int(w.tid.Load()),
		State:    state.String(),
		Frozen:   frozen,
		Queued:   queued,
		Enqueued: w.enqueued.Load(),
		Executed: w.executed.Load(),
	}
}
