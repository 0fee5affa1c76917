// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/siderolabs/wrapq/internal/hostthread"
	"github.com/siderolabs/wrapq/pkg/trampoline"
	"github.com/siderolabs/wrapq/pkg/workqueue"
)

const (
	flagItems       = "items"
	flagSubmitters  = "submitters"
	flagMetricsAddr = "metrics-addr"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start a pool and push work through it",
	Long:  "run starts a work queue pool, submits items calling a foreign convention callback from several goroutines, flushes and reports",
	RunE:  run,
}

var errEnqueueFailed = errors.New("pool rejected a work item")

func init() {
	pf := runCmd.PersistentFlags()
	pf.Int(flagItems, 100000, "number of work items to submit")
	pf.Int(flagSubmitters, 4, "number of concurrent submitters")
	pf.String(flagMetricsAddr, "", "serve prometheus metrics on this address until interrupted")

	if err := viper.BindPFlags(pf); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, _ []string) error {
	items := viper.GetInt(flagItems)
	submitters := max(viper.GetInt(flagSubmitters), 1)

	conv, err := cfg.ForeignConvention()
	if err != nil {
		return err
	}

	bridge := trampoline.New(logger.With("module", "trampoline"), trampoline.HostConvention())
	defer bridge.Close() //nolint:errcheck

	host := hostthread.New(logger.With("module", "hostthread"), cfg.Nice)

	pool, err := workqueue.NewPool(logger.With("module", "workqueue"), cfg.Pool(), host, bridge)
	if err != nil {
		return err
	}

	defer pool.Destroy()

	var sum atomic.Uint64

	// the callback sees its context the way foreign code would
	proc := trampoline.NewEmulated("accumulate", conv, func(f *trampoline.Frame) trampoline.Word {
		sum.Add(uint64(f.Arg(conv, 0)))

		return 0
	})

	start := time.Now()

	if err = submit(cmd.Context(), pool, proc, items, submitters); err != nil {
		return err
	}

	pool.Flush()

	elapsed := time.Since(start)

	report(cmd.OutOrStdout(), pool.Stats(), elapsed)

	if want := uint64(items) * uint64(items+1) / 2; sum.Load() != want {
		return fmt.Errorf("callbacks saw a sum of %d, expected %d", sum.Load(), want)
	}

	if addr := viper.GetString(flagMetricsAddr); addr != "" {
		return serveMetrics(cmd.Context(), addr, pool)
	}

	return nil
}

// submit enqueues items 1..n, split across submitters.
func submit(ctx context.Context, pool *workqueue.Pool, proc *trampoline.Proc, n, submitters int) error {
	g, ctx := errgroup.WithContext(ctx)

	for s := range submitters {
		g.Go(func() error {
			for i := s + 1; i <= n; i += submitters {
				if err := ctx.Err(); err != nil {
					return err
				}

				if !pool.Enqueue(workqueue.NewItem(proc, trampoline.W(i))) {
					return fmt.Errorf("%w: item %d", errEnqueueFailed, i)
				}
			}

			return nil
		})
	}

	return g.Wait()
}

func report(w io.Writer, s workqueue.Stats, elapsed time.Duration) {
	rate := float64(s.Executed) / max(elapsed.Seconds(), 1e-9)

	fmt.Fprintf(w, "pool %s: %s submitted, %s executed, %s canceled, %s dropped in %s (%s)\n",
		s.Name,
		humanize.Comma(int64(s.Submitted)),
		humanize.Comma(int64(s.Executed)),
		humanize.Comma(int64(s.Canceled)),
		humanize.Comma(int64(s.Dropped)),
		elapsed.Round(time.Microsecond),
		humanize.SIWithDigits(rate, 2, "items/s"),
	)

	for _, ws := range s.Workers {
		fmt.Fprintf(w, "  worker %d cpu %d tid %d: %s enqueued, %s executed, %d queued\n",
			ws.Index, ws.CPU, ws.ThreadID,
			humanize.Comma(int64(ws.Enqueued)),
			humanize.Comma(int64(ws.Executed)),
			ws.Queued,
		)
	}
}

func serveMetrics(ctx context.Context, addr string, pool *workqueue.Pool) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		workqueue.NewCollector(pool),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("serving metrics", "addr", addr)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigs)

	select {
	case err := <-errCh:
		return fmt.Errorf("error serving metrics: %w", err)
	case sig := <-sigs:
		logger.Info("shutting down", "signal", sig)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
