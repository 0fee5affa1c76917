// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

// Package workqueue runs deferred work items on a fixed set of dedicated OS threads.
//
// A Pool owns one worker per active processor (or a single one), each with its own FIFO
// queue and lock. Items are submitted round-robin and dispatched through a trampoline
// Bridge, so the callback can be a Go function or foreign code. There is no result path:
// completion is only observable through Flush.
//
// An item is queued at most once at a time. Cancel races with the worker claiming the
// item and reports which side won. Destroy drops whatever is still queued, callers that
// care flush first.
package workqueue
