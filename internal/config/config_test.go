// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadDefaults(t)

	if cfg.Serial.Baud != 9600 {
		t.Errorf("serial.baud = %d, want 9600", cfg.Serial.Baud)
	}
	if cfg.Serial.PollInterval != 10*time.Millisecond {
		t.Errorf("serial.poll_interval = %v, want 10ms", cfg.Serial.PollInterval)
	}
	if cfg.Device.Address != 1 || cfg.Device.MaxRetry != 3 || cfg.Device.ListenTimeout != 250*time.Millisecond {
		t.Errorf("device = %+v", cfg.Device)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics.path = %q", cfg.Metrics.Path)
	}
	if cfg.MQTT.PayloadFormat != PayloadJSON || cfg.MQTT.TopicPrefix != "dpm8600" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dpmctl.yaml")
	content := `
serial:
  port: /dev/ttyUSB1
  baud: 19200
device:
  address: 12
  max_retry: 5
  listen_timeout: 200ms
log:
  level: DEBUG
  format: json
metrics:
  listen: ":9108"
  path: stats
mqtt:
  broker: tcp://localhost:1883
  topic_prefix: lab/psu/
  payload_format: CBOR
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Serial.Port != "/dev/ttyUSB1" || cfg.Serial.Baud != 19200 {
		t.Errorf("serial = %+v", cfg.Serial)
	}
	if cfg.Device.Address != 12 || cfg.Device.MaxRetry != 5 || cfg.Device.ListenTimeout != 200*time.Millisecond {
		t.Errorf("device = %+v", cfg.Device)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Metrics.Path != "/stats" {
		t.Errorf("metrics.path = %q, want /stats", cfg.Metrics.Path)
	}
	if cfg.MQTT.TopicPrefix != "lab/psu" || cfg.MQTT.PayloadFormat != PayloadCBOR {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load should fail for a missing explicit file")
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("DPMCTL_DEVICE_ADDRESS", "42")
	t.Setenv("DPMCTL_SERIAL_PORT", "/dev/ttyACM0")

	cfg := loadDefaults(t)

	if cfg.Device.Address != 42 {
		t.Errorf("device.address = %d, want 42", cfg.Device.Address)
	}
	if cfg.Serial.Port != "/dev/ttyACM0" {
		t.Errorf("serial.port = %q", cfg.Serial.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"address zero", func(c *Config) { c.Device.Address = 0 }, "device.address"},
		{"address 100", func(c *Config) { c.Device.Address = 100 }, "device.address"},
		{"lenient address", func(c *Config) { c.Device.Address = 100; c.Device.LenientAddress = true }, ""},
		{"retry zero", func(c *Config) { c.Device.MaxRetry = 0 }, "max_retry"},
		{"zero listen timeout", func(c *Config) { c.Device.ListenTimeout = 0 }, "listen_timeout"},
		{"zero poll interval", func(c *Config) { c.Serial.PollInterval = 0 }, "poll_interval"},
		{"zero baud", func(c *Config) { c.Serial.Baud = 0 }, "baud"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"payload format", func(c *Config) { c.MQTT.PayloadFormat = "xml" }, "payload_format"},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }, "qos"},
		{"mqtt interval", func(c *Config) { c.MQTT.Interval = 0 }, "mqtt.interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadDefaults(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConnection(t *testing.T) {
	cfg := loadDefaults(t)
	if err := cfg.ValidateConnection(); err == nil {
		t.Error("no transport should fail")
	}

	cfg.Serial.Port = "/dev/ttyUSB0"
	if err := cfg.ValidateConnection(); err != nil {
		t.Errorf("serial only: %v", err)
	}

	cfg.WebSocket.URL = "ws://bridge/serial"
	if err := cfg.ValidateConnection(); err == nil {
		t.Error("both transports should fail")
	}
}

func TestDeviceAddress(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Device.Address = 150

	if _, err := cfg.DeviceAddress(); err == nil {
		t.Error("strict addressing should reject 150")
	}

	cfg.Device.LenientAddress = true
	a, err := cfg.DeviceAddress()
	if err != nil || a != 1 {
		t.Errorf("lenient DeviceAddress = %v, %v; want 01", a, err)
	}
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dpmctl.log")

	log, closer, err := NewLogger(LogConfig{Level: "info", Format: "json", File: path})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	log.WithField("address", "01").Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"address":"01"`) {
		t.Errorf("log file = %q", data)
	}
	if log.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v", log.GetLevel())
	}

	if _, _, err := NewLogger(LogConfig{Level: "loud"}); err == nil {
		t.Error("unknown level should fail")
	}
}
