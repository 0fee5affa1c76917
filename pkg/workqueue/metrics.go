// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

package workqueue

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "wrapq"
	subsystem = "workqueue"
)

// Collector exports the counters of a pool to Prometheus.
type Collector struct {
	pool *Pool

	submitted *prometheus.Desc
	executed  *prometheus.Desc
	canceled  *prometheus.Desc
	dropped   *prometheus.Desc

	queued         *prometheus.Desc
	workerExecuted *prometheus.Desc
}

// NewCollector creates a collector for p. It reads Stats on every scrape.
func NewCollector(p *Pool) *Collector {
	labels := prometheus.Labels{"pool": p.Name()}
	workerLabels := []string{"worker", "cpu"}

	return &Collector{
		pool: p,

		submitted: prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, "submitted_total"),
			"Work items accepted by the pool.", nil, labels),
		executed: prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, "executed_total"),
			"Work items that ran to completion.", nil, labels),
		canceled: prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, "canceled_total"),
			"Work items removed before they ran.", nil, labels),
		dropped: prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, "dropped_total"),
			"Work items discarded by a pool shutdown.", nil, labels),

		queued: prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, "queue_depth"),
			"Work items waiting in a worker queue.", workerLabels, labels),
		workerExecuted: prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, "worker_executed_total"),
			"Work items run by a worker.", workerLabels, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.submitted
	ch <- c.executed
	ch <- c.canceled
	ch <- c.dropped
	ch <- c.queued
	ch <- c.workerExecuted
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()

	ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(s.Submitted))
	ch <- prometheus.MustNewConstMetric(c.executed, prometheus.CounterValue, float64(s.Executed))
	ch <- prometheus.MustNewConstMetric(c.canceled, prometheus.CounterValue, float64(s.Canceled))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped))

	for _, w := range s.Workers {
		index, cpu := strconv.Itoa(w.Index), strconv.Itoa(w.CPU)

		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(w.Queued), index, cpu)
		ch <- prometheus.MustNewConstMetric(c.workerExecuted, prometheus.CounterValue, float64(w.Executed), index, cpu)
	}
}
