// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports converter readings and driver statistics to
// Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "dpm"

// Exporter owns a registry with the reading gauges, the round-trip
// histogram and a collector that reads driver statistics at scrape time.
type Exporter struct {
	registry *prometheus.Registry

	up          *prometheus.GaugeVec
	voltage     *prometheus.GaugeVec
	current     *prometheus.GaugeVec
	powerOn     *prometheus.GaugeVec
	ccMode      *prometheus.GaugeVec
	temperature *prometheus.GaugeVec
	roundTrip   *prometheus.HistogramVec
}

// New creates an exporter. stats may be nil when no driver statistics are
// tracked.
func New(stats *dpm8600.Statistics) *Exporter {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"address"})
	}

	e := &Exporter{
		registry:    prometheus.NewRegistry(),
		up:          gauge("up", "Whether the last poll of the converter succeeded"),
		voltage:     gauge("voltage_volts", "Output voltage"),
		current:     gauge("current_amps", "Output current"),
		powerOn:     gauge("power_on", "Output switched on (1) or off (0)"),
		ccMode:      gauge("cc_mode", "Constant-current regulation (1) or constant-voltage (0)"),
		temperature: gauge("temperature_celsius", "Converter temperature"),
		roundTrip: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_trip_seconds",
			Help:      "Time from frame transmission to response line",
			Buckets:   []float64{.005, .01, .025, .05, .1, .15, .2, .25},
		}, []string{"address"}),
	}

	e.registry.MustRegister(
		e.up,
		e.voltage,
		e.current,
		e.powerOn,
		e.ccMode,
		e.temperature,
		e.roundTrip,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if stats != nil {
		e.registry.MustRegister(newStatisticsCollector(stats))
	}

	return e
}

// Registry returns the exporter's registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// SetReading publishes a successful poll.
func (e *Exporter) SetReading(r dpm8600.Reading) {
	addr := r.Address.String()
	e.up.WithLabelValues(addr).Set(1)
	e.voltage.WithLabelValues(addr).Set(r.Voltage)
	e.current.WithLabelValues(addr).Set(r.Current)
	e.powerOn.WithLabelValues(addr).Set(boolValue(r.On()))
	e.ccMode.WithLabelValues(addr).Set(boolValue(r.Mode() == dpm8600.ModeCC))
	e.temperature.WithLabelValues(addr).Set(r.Temperature)
}

// SetDown marks a converter whose last poll failed. Its last readings are
// kept.
func (e *Exporter) SetDown(address dpm8600.Address) {
	e.up.WithLabelValues(address.String()).Set(0)
}

// ObserveRoundTrip records one answered attempt. It has the signature of
// dpm8600.WithRoundTripHook.
func (e *Exporter) ObserveRoundTrip(address dpm8600.Address, rtt time.Duration) {
	e.roundTrip.WithLabelValues(address.String()).Observe(rtt.Seconds())
}

// Handler serves the metrics on path and a liveness probe on /health.
func (e *Exporter) Handler(path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Serve runs the metrics HTTP server on addr until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, addr, path string, log logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           e.Handler(path),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", addr).Infof("metrics server listening, path %s", path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
