// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package workqueue

import (
	"container/list"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/siderolabs/wrapq/pkg/trampoline"
)

// ErrItemBusy is returned when re-targeting an item that is queued or running.
var ErrItemBusy = errors.New("work item is queued or running")

// ticket is the claim of one worker on one submission of an item.
// A fresh ticket is issued per enqueue, stale ones never match the item again.
type ticket struct {
	item   *Item
	worker *worker
	elem   *list.Element
}

// Item is a deferred call of proc(ctx). The caller owns it and may reuse it once it is
// neither queued nor running.
type Item struct {
	proc *trampoline.Proc
	ctx  trampoline.Word

	owner  atomic.Pointer[ticket]
	active atomic.Pointer[ticket]
}

// NewItem creates an item calling proc with ctx as its only argument.
func NewItem(proc *trampoline.Proc, ctx trampoline.Word) *Item {
	return &Item{
		proc: proc,
		ctx:  ctx,
	}
}

// Reset re-targets an idle item.
func (it *Item) Reset(proc *trampoline.Proc, ctx trampoline.Word) error {
	if it.Queued() || it.Running() {
		return ErrItemBusy
	}

	it.proc = proc
	it.ctx = ctx

	return nil
}

// Queued reports whether the item sits in a worker queue.
func (it *Item) Queued() bool {
	return it.owner.Load() != nil
}

// Running reports whether a worker is executing the item.
func (it *Item) Running() bool {
	return it.active.Load() != nil
}

func (it *Item) String() string {
	name := "<nil>"
	if it.proc != nil {
		name = it.proc.Name()
	}

	return fmt.Sprintf("%s(%#x)", name, uint64(it.ctx))
}
