// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads dpmctl settings from flags, DPMCTL_* environment
// variables and an optional dpmctl.yaml file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. DPMCTL_SERIAL_PORT.
const EnvPrefix = "DPMCTL"

// Payload formats accepted by the MQTT bridge
const (
	PayloadJSON = "json"
	PayloadCBOR = "cbor"
)

// Config defines the complete dpmctl configuration
type Config struct {
	Serial    SerialConfig    `mapstructure:"serial"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Device    DeviceConfig    `mapstructure:"device"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
}

// SerialConfig defines the local serial port
type SerialConfig struct {
	Port         string        `mapstructure:"port"`
	Baud         int           `mapstructure:"baud"`
	PollInterval time.Duration `mapstructure:"poll_interval"` // Port read timeout, one listener poll
}

// WebSocketConfig defines a remote WebSocket-to-serial bridge
type WebSocketConfig struct {
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"no_ssl_verify"`
}

// DeviceConfig defines how the converter is addressed
type DeviceConfig struct {
	Address        int           `mapstructure:"address"`
	MaxRetry       int           `mapstructure:"max_retry"`
	ListenTimeout  time.Duration `mapstructure:"listen_timeout"`
	LenientAddress bool          `mapstructure:"lenient_address"` // Out-of-range addresses fall back to 1
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
	File   string `mapstructure:"file"`   // empty or "-" for stderr
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // e.g. ":9108", empty disables
	Path   string `mapstructure:"path"`
}

// MQTTConfig defines the MQTT bridge
type MQTTConfig struct {
	Broker        string        `mapstructure:"broker"` // tcp://host:1883
	ClientID      string        `mapstructure:"client_id"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	TopicPrefix   string        `mapstructure:"topic_prefix"`
	QoS           int           `mapstructure:"qos"`
	Retain        bool          `mapstructure:"retain"`
	Interval      time.Duration `mapstructure:"interval"`
	PayloadFormat string        `mapstructure:"payload_format"`
}

// New returns a viper instance with defaults and environment binding set up.
// Flags are bound onto it by the caller before Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// SetDefaults registers the default value of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 9600)
	v.SetDefault("serial.poll_interval", 10*time.Millisecond)

	v.SetDefault("websocket.url", "")
	v.SetDefault("websocket.username", "")
	v.SetDefault("websocket.no_ssl_verify", false)

	v.SetDefault("device.address", int(dpm8600.DefaultAddress))
	v.SetDefault("device.max_retry", dpm8600.DefaultMaxRetry)
	v.SetDefault("device.listen_timeout", dpm8600.DefaultListenTimeout)
	v.SetDefault("device.lenient_address", false)

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "dpmctl")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "dpm8600")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.interval", 5*time.Second)
	v.SetDefault("mqtt.payload_format", PayloadJSON)
}

// Load reads the config file into v and unmarshals the result. An explicit
// configFile must exist; otherwise dpmctl.yaml is searched for and may be
// absent.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("dpmctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/dpmctl")
		v.AddConfigPath("/etc/dpmctl/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.fixup()
	return &cfg, nil
}

func (c *Config) fixup() {
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
	c.MQTT.PayloadFormat = strings.ToLower(c.MQTT.PayloadFormat)
	c.MQTT.TopicPrefix = strings.TrimSuffix(c.MQTT.TopicPrefix, "/")
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	} else if !strings.HasPrefix(c.Metrics.Path, "/") {
		c.Metrics.Path = "/" + c.Metrics.Path
	}
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	if !c.Device.LenientAddress {
		if _, err := dpm8600.NewAddress(c.Device.Address); err != nil {
			return fmt.Errorf("device.address: %w", err)
		}
	}
	if c.Device.MaxRetry < 1 {
		return fmt.Errorf("device.max_retry must be at least 1, got %d", c.Device.MaxRetry)
	}
	if c.Device.ListenTimeout <= 0 {
		return fmt.Errorf("device.listen_timeout must be positive, got %v", c.Device.ListenTimeout)
	}
	if c.Serial.PollInterval <= 0 {
		return fmt.Errorf("serial.poll_interval must be positive, got %v", c.Serial.PollInterval)
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	switch c.MQTT.PayloadFormat {
	case PayloadJSON, PayloadCBOR:
	default:
		return fmt.Errorf("mqtt.payload_format must be %s or %s, got %q", PayloadJSON, PayloadCBOR, c.MQTT.PayloadFormat)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.Interval <= 0 {
		return fmt.Errorf("mqtt.interval must be positive, got %v", c.MQTT.Interval)
	}

	return nil
}

// ValidateConnection checks that exactly one transport is configured.
func (c *Config) ValidateConnection() error {
	if c.Serial.Port == "" && c.WebSocket.URL == "" {
		return errors.New("either --port or --url is required")
	}
	if c.Serial.Port != "" && c.WebSocket.URL != "" {
		return errors.New("--port and --url are mutually exclusive")
	}
	return nil
}

// DeviceAddress returns the configured bus address, clamped to the default
// when lenient addressing is enabled.
func (c *Config) DeviceAddress() (dpm8600.Address, error) {
	if c.Device.LenientAddress {
		return dpm8600.ClampAddress(c.Device.Address), nil
	}
	return dpm8600.NewAddress(c.Device.Address)
}

// DriverOptions returns the driver options derived from the device section.
func (c *Config) DriverOptions() []dpm8600.Option {
	return []dpm8600.Option{
		dpm8600.WithMaxRetry(c.Device.MaxRetry),
		dpm8600.WithListenTimeout(c.Device.ListenTimeout),
	}
}
