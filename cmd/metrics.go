// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"

	"github.com/Thermoquad/dpmctl/internal/metrics"
	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/spf13/cobra"
)

func addMetricsFlags(cmd *cobra.Command) {
	cmd.Flags().String("metrics-listen", "", "Serve Prometheus metrics on this address, e.g. :9100")
	cmd.Flags().String("metrics-path", "/metrics", "HTTP path of the metrics endpoint")
	bindLocalFlag(cmd, "metrics-listen", "metrics.listen")
	bindLocalFlag(cmd, "metrics-path", "metrics.path")
}

// newMetricsExporter builds the exporter when metrics are enabled. The
// returned statistics and options must be used for the bus the exporter
// reports on. Everything is nil when metrics are disabled.
func newMetricsExporter() (*metrics.Exporter, *dpm8600.Statistics, []dpm8600.Option) {
	if cfg.Metrics.Listen == "" {
		return nil, nil, nil
	}

	stats := dpm8600.NewStatistics()
	exporter := metrics.New(stats)
	return exporter, stats, []dpm8600.Option{dpm8600.WithRoundTripHook(exporter.ObserveRoundTrip)}
}

// serveMetrics serves exporter on the configured address until ctx is done
func serveMetrics(ctx context.Context, exporter *metrics.Exporter) error {
	return exporter.Serve(ctx, cfg.Metrics.Listen, cfg.Metrics.Path, logger)
}
