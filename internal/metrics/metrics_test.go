// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// deadBus swallows every frame and never answers.
type deadBus struct{}

func (deadBus) Read(p []byte) (int, error)  { return 0, nil }
func (deadBus) Write(p []byte) (int, error) { return len(p), nil }

func counterValue(t *testing.T, e *Exporter, name string, label string) float64 {
	t.Helper()
	families, err := e.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s} not found", name, label)
	return 0
}

func TestSetReading(t *testing.T) {
	e := New(nil)
	e.SetReading(dpm8600.Reading{
		Address:     3,
		Voltage:     12.5,
		Current:     1.5,
		Power:       1,
		Status:      1,
		Temperature: 31,
	})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"up", testutil.ToFloat64(e.up.WithLabelValues("03")), 1},
		{"voltage", testutil.ToFloat64(e.voltage.WithLabelValues("03")), 12.5},
		{"current", testutil.ToFloat64(e.current.WithLabelValues("03")), 1.5},
		{"power", testutil.ToFloat64(e.powerOn.WithLabelValues("03")), 1},
		{"cc mode", testutil.ToFloat64(e.ccMode.WithLabelValues("03")), 1},
		{"temperature", testutil.ToFloat64(e.temperature.WithLabelValues("03")), 31},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %g, want %g", tt.name, tt.got, tt.want)
		}
	}

	e.SetDown(3)
	if got := testutil.ToFloat64(e.up.WithLabelValues("03")); got != 0 {
		t.Errorf("up after SetDown = %g, want 0", got)
	}
	if got := testutil.ToFloat64(e.voltage.WithLabelValues("03")); got != 12.5 {
		t.Errorf("voltage after SetDown = %g, want last reading kept", got)
	}
}

func TestObserveRoundTrip(t *testing.T) {
	e := New(nil)
	e.ObserveRoundTrip(1, 20*time.Millisecond)
	e.ObserveRoundTrip(1, 30*time.Millisecond)
	e.ObserveRoundTrip(2, 30*time.Millisecond)

	if n := testutil.CollectAndCount(e.roundTrip); n != 2 {
		t.Errorf("histogram series = %d, want 2", n)
	}
}

func TestStatisticsCollector(t *testing.T) {
	stats := dpm8600.NewStatistics()
	d, err := dpm8600.New(deadBus{}, 1,
		dpm8600.WithStatistics(stats),
		dpm8600.WithMaxRetry(2),
		dpm8600.WithListenTimeout(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := d.Read(context.Background(), dpm8600.ReadVoltage); !errors.Is(err, dpm8600.ErrTimeout) {
		t.Fatalf("Read error = %v, want timeout", err)
	}
	if err := d.Write(context.Background(), dpm8600.WriteVoltage, 1000); err == nil {
		t.Fatal("Write of 1000 V should fail")
	}

	e := New(stats)

	tests := []struct {
		name  string
		label string
		want  float64
	}{
		{"dpm_commands_total", "", 1},
		{"dpm_attempts_total", "", 2},
		{"dpm_retries_total", "", 1},
		{"dpm_timeouts_total", "", 1},
		{"dpm_errors_total", "timeout", 1},
		{"dpm_errors_total", "boundary", 1},
		{"dpm_errors_total", "decode", 0},
		{"dpm_discarded_bytes_total", "", 0},
	}
	for _, tt := range tests {
		if got := counterValue(t, e, tt.name, tt.label); got != tt.want {
			t.Errorf("%s{%s} = %g, want %g", tt.name, tt.label, got, tt.want)
		}
	}
}

func TestHandler(t *testing.T) {
	e := New(nil)
	e.SetReading(dpm8600.Reading{Address: 1, Voltage: 5})
	h := e.Handler("/metrics")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("/health = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `dpm_voltage_volts{address="01"} 5`) {
		t.Errorf("/metrics missing voltage gauge:\n%s", body)
	}
}
