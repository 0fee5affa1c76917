// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package workqueue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/wrapq/pkg/trampoline"
	"github.com/siderolabs/wrapq/pkg/workqueue"
)

var errSpawn = errors.New("out of threads")

type fakeHost struct {
	cpus   []int
	failAt int

	spawned atomic.Int32
	running atomic.Int32
	ids     atomic.Int64

	mu     sync.Mutex
	names  []string
	pinned []int
}

func newFakeHost(cpus ...int) *fakeHost {
	return &fakeHost{cpus: cpus, failAt: -1}
}

func (h *fakeHost) ActiveProcessors() []int {
	return h.cpus
}

func (h *fakeHost) Spawn(name string, cpu int, start func()) error {
	if int(h.spawned.Add(1))-1 == h.failAt {
		return errSpawn
	}

	h.mu.Lock()
	h.names = append(h.names, name)
	h.pinned = append(h.pinned, cpu)
	h.mu.Unlock()

	h.running.Add(1)

	go func() {
		defer h.running.Add(-1)

		start()
	}()

	return nil
}

func (h *fakeHost) ThreadID() int {
	return int(h.ids.Add(1))
}

type fixture struct {
	host   *fakeHost
	pool   *workqueue.Pool
	count  atomic.Int64
	proc   *trampoline.Proc
	logger *slog.Logger
}

func newFixture(t *testing.T, cfg workqueue.Config, cpus ...int) *fixture {
	t.Helper()

	f := &fixture{
		host:   newFakeHost(cpus...),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	f.proc = trampoline.NewFunc("count", func(args ...trampoline.Word) trampoline.Word {
		f.count.Add(int64(args[0]))

		return 0
	})

	if cfg.Name == "" {
		cfg.Name = "test"
	}

	pool, err := workqueue.NewPool(f.logger, cfg, f.host, trampoline.New(f.logger, trampoline.HostConvention()))
	require.NoError(t, err)

	f.pool = pool
	t.Cleanup(pool.Destroy)

	return f
}

func (f *fixture) item() *workqueue.Item {
	return workqueue.NewItem(f.proc, 1)
}

// blocker returns an item that blocks until release is closed.
func blocker() (it *workqueue.Item, started, release chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})

	var once sync.Once

	proc := trampoline.NewFunc("block", func(...trampoline.Word) trampoline.Word {
		once.Do(func() { close(started) })
		<-release

		return 0
	})

	return workqueue.NewItem(proc, 0), started, release
}

func queued(s workqueue.Stats) int {
	n := 0
	for _, w := range s.Workers {
		n += w.Queued
	}

	return n
}

func TestEnqueueTwice(t *testing.T) {
	f := newFixture(t, workqueue.Config{Freezable: true}, 0, 1)
	require.NoError(t, f.pool.Freeze())

	it := f.item()
	assert.True(t, f.pool.Enqueue(it))
	assert.False(t, f.pool.Enqueue(it))
	assert.True(t, it.Queued())
	assert.Equal(t, 1, queued(f.pool.Stats()))
	assert.ErrorIs(t, it.Reset(f.proc, 2), workqueue.ErrItemBusy)

	f.pool.Thaw()
	f.pool.Flush()

	assert.Equal(t, int64(1), f.count.Load())
	assert.False(t, it.Queued())

	// idle items can be submitted again
	require.NoError(t, it.Reset(f.proc, 2))
	assert.True(t, f.pool.Enqueue(it))
	f.pool.Flush()

	assert.Equal(t, int64(3), f.count.Load())
}

func TestFlush(t *testing.T) {
	f := newFixture(t, workqueue.Config{Pin: true}, 0, 1, 2, 3)

	const items = 1000

	for range items {
		require.True(t, f.pool.Enqueue(f.item()))
	}

	f.pool.Flush()

	assert.Equal(t, int64(items), f.count.Load())

	s := f.pool.Stats()
	assert.Equal(t, uint64(items), s.Submitted)
	assert.Equal(t, uint64(items), s.Executed)
	assert.Zero(t, queued(s))
}

func TestConcurrentFlush(t *testing.T) {
	f := newFixture(t, workqueue.Config{}, 0, 1)

	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 100 {
				f.pool.Enqueue(f.item())
			}

			f.pool.Flush()
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(400), f.count.Load())
}

func TestRoundRobin(t *testing.T) {
	f := newFixture(t, workqueue.Config{Pin: true, Freezable: true}, 0, 2, 4, 6)
	require.NoError(t, f.pool.Freeze())

	require.Equal(t, 4, f.pool.Len())
	assert.Equal(t, []string{"test/0", "test/1", "test/2", "test/3"}, f.host.names)
	assert.Equal(t, []int{0, 2, 4, 6}, f.host.pinned)

	for range 8 {
		require.True(t, f.pool.Enqueue(f.item()))
	}

	for _, w := range f.pool.Stats().Workers {
		assert.Equal(t, uint64(2), w.Enqueued, "worker %d", w.Index)
		assert.Equal(t, 2, w.Queued, "worker %d", w.Index)
		assert.NotZero(t, w.ThreadID)
		assert.True(t, w.Frozen)
	}

	f.pool.Thaw()
	f.pool.Flush()

	assert.Equal(t, int64(8), f.count.Load())
}

func TestSingleThread(t *testing.T) {
	f := newFixture(t, workqueue.Config{SingleThread: true, Pin: true}, 0, 1, 2, 3)

	assert.Equal(t, 1, f.pool.Len())
	assert.Equal(t, []int{-1}, f.host.pinned)

	for range 10 {
		f.pool.Enqueue(f.item())
	}

	f.pool.Flush()

	assert.Equal(t, int64(10), f.count.Load())
}

func TestCancelBeforeClaim(t *testing.T) {
	f := newFixture(t, workqueue.Config{Freezable: true}, 0)
	require.NoError(t, f.pool.Freeze())

	it := f.item()
	require.True(t, f.pool.Enqueue(it))

	assert.Equal(t, workqueue.Canceled, f.pool.Cancel(it))
	assert.Equal(t, workqueue.NotQueued, f.pool.Cancel(it))
	assert.False(t, it.Queued())
	assert.Zero(t, queued(f.pool.Stats()))

	f.pool.Thaw()
	f.pool.Flush()

	assert.Zero(t, f.count.Load())
	assert.Equal(t, uint64(1), f.pool.Stats().Canceled)
}

func TestCancelRunning(t *testing.T) {
	f := newFixture(t, workqueue.Config{}, 0)

	it, started, release := blocker()
	require.True(t, f.pool.Enqueue(it))

	<-started

	assert.True(t, it.Running())
	assert.Equal(t, workqueue.Running, f.pool.Cancel(it))

	close(release)
	f.pool.Flush()

	assert.False(t, it.Running())
	assert.Equal(t, workqueue.NotQueued, f.pool.Cancel(it))

	s := f.pool.Stats()
	assert.Equal(t, uint64(1), s.Executed)
	assert.Zero(t, s.Canceled)
}

func TestDestroy(t *testing.T) {
	f := newFixture(t, workqueue.Config{}, 0, 1)

	done := f.item()
	require.True(t, f.pool.Enqueue(done))
	f.pool.Flush()

	// everything lands on worker 0 behind the blocker
	single := newFixture(t, workqueue.Config{SingleThread: true}, 0)

	it, started, release := blocker()
	require.True(t, single.pool.Enqueue(it))

	<-started

	items := []*workqueue.Item{single.item(), single.item(), single.item()}
	for _, item := range items {
		require.True(t, single.pool.Enqueue(item))
	}

	destroyed := make(chan struct{})

	go func() {
		defer close(destroyed)

		single.pool.Destroy()
	}()

	assert.Eventually(t, func() bool {
		return single.pool.Stats().Dropped == 3
	}, time.Second, time.Millisecond)

	select {
	case <-destroyed:
		t.Fatal("destroy returned before the running item")
	default:
	}

	close(release)
	<-destroyed

	assert.Zero(t, single.count.Load())

	for _, item := range items {
		assert.False(t, item.Queued())
	}

	assert.False(t, single.pool.Enqueue(single.item()))
	assert.Eventually(t, func() bool {
		return single.host.running.Load() == 0
	}, time.Second, time.Millisecond)

	// idempotent
	single.pool.Destroy()

	f.pool.Destroy()
	assert.Equal(t, int64(1), f.count.Load())
	assert.Eventually(t, func() bool {
		return f.host.running.Load() == 0
	}, time.Second, time.Millisecond)
}

func TestSpawnFailure(t *testing.T) {
	host := newFakeHost(0, 1, 2, 3)
	host.failAt = 2

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := workqueue.NewPool(logger, workqueue.Config{Name: "test"}, host, trampoline.New(logger, trampoline.HostConvention()))
	require.ErrorIs(t, err, workqueue.ErrResourceExhausted)
	require.ErrorIs(t, err, errSpawn)

	assert.Eventually(t, func() bool {
		return host.running.Load() == 0
	}, time.Second, time.Millisecond)
}

func TestFreeze(t *testing.T) {
	f := newFixture(t, workqueue.Config{}, 0)
	require.ErrorIs(t, f.pool.Freeze(), workqueue.ErrNotFreezable)

	f = newFixture(t, workqueue.Config{Freezable: true}, 0, 1)
	require.NoError(t, f.pool.Freeze())

	for range 4 {
		require.True(t, f.pool.Enqueue(f.item()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, f.pool.FlushContext(ctx), context.DeadlineExceeded)
	assert.Zero(t, f.count.Load())

	f.pool.Thaw()
	require.NoError(t, f.pool.FlushContext(context.Background()))

	assert.Equal(t, int64(4), f.count.Load())
}

func TestPanickingItem(t *testing.T) {
	f := newFixture(t, workqueue.Config{}, 0)

	boom := trampoline.NewFunc("boom", func(...trampoline.Word) trampoline.Word {
		panic("boom")
	})

	require.True(t, f.pool.Enqueue(workqueue.NewItem(boom, 0)))
	require.True(t, f.pool.Enqueue(f.item()))
	f.pool.Flush()

	assert.Equal(t, int64(1), f.count.Load())
	assert.Equal(t, uint64(2), f.pool.Stats().Executed)
}

func TestCollector(t *testing.T) {
	f := newFixture(t, workqueue.Config{Name: "metrics"}, 0, 1)

	for range 3 {
		f.pool.Enqueue(f.item())
	}

	f.pool.Flush()

	c := workqueue.NewCollector(f.pool)

	expected := `
# HELP wrapq_workqueue_submitted_total Work items accepted by the pool.
# TYPE wrapq_workqueue_submitted_total counter
wrapq_workqueue_submitted_total{pool="metrics"} 3
# HELP wrapq_workqueue_executed_total Work items that ran to completion.
# TYPE wrapq_workqueue_executed_total counter
wrapq_workqueue_executed_total{pool="metrics"} 3
`

	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"wrapq_workqueue_submitted_total", "wrapq_workqueue_executed_total"))

	// four pool counters plus two per worker
	assert.Equal(t, 8, testutil.CollectAndCount(c))
}
