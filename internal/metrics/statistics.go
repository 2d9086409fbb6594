// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/prometheus/client_golang/prometheus"
)

// statisticsCollector turns a dpm8600.Statistics snapshot into counters on
// every scrape.
type statisticsCollector struct {
	stats *dpm8600.Statistics

	commands *prometheus.Desc
	attempts *prometheus.Desc
	retries  *prometheus.Desc
	timeouts *prometheus.Desc
	errors   *prometheus.Desc
	stale    *prometheus.Desc
}

func newStatisticsCollector(stats *dpm8600.Statistics) *statisticsCollector {
	return &statisticsCollector{
		stats:    stats,
		commands: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "commands_total"), "Logical commands issued", nil, nil),
		attempts: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "attempts_total"), "Frames transmitted, retries included", nil, nil),
		retries:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "retries_total"), "Retransmissions after an unanswered attempt", nil, nil),
		timeouts: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "timeouts_total"), "Commands that exhausted every attempt", nil, nil),
		errors:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "errors_total"), "Failed commands by kind", []string{"kind"}, nil),
		stale:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "discarded_bytes_total"), "Stale bytes dropped from the line before a transmit", nil, nil),
	}
}

func (c *statisticsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.commands
	ch <- c.attempts
	ch <- c.retries
	ch <- c.timeouts
	ch <- c.errors
	ch <- c.stale
}

func (c *statisticsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.commands, prometheus.CounterValue, float64(s.Commands))
	ch <- prometheus.MustNewConstMetric(c.attempts, prometheus.CounterValue, float64(s.Attempts))
	ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(s.Retries))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(s.Timeouts))
	ch <- prometheus.MustNewConstMetric(c.stale, prometheus.CounterValue, float64(s.DiscardedBytes))

	for kind, n := range map[string]uint64{
		"timeout":   s.Timeouts,
		"decode":    s.DecodeErrors,
		"boundary":  s.BoundaryErrors,
		"transport": s.TransportErrors,
	} {
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(n), kind)
	}
}
