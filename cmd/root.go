// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"time"

	"github.com/Thermoquad/dpmctl/internal/config"
	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	configFile string

	v      = config.New()
	logger = logrus.New()

	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "dpmctl",
	Short: "DPM8600 power converter control",
	Long: `dpmctl - A CLI tool for reading and controlling DPM8600-series programmable
power converters over their ASCII serial protocol.

Every command is one line such as ":01r30=0," sent to the converter at a bus
address (1-99); the converter answers with one line. Unanswered commands are
retried up to --retries times, each attempt waiting --timeout for an answer.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

Settings may also come from DPMCTL_* environment variables or a dpmctl.yaml
file in ., $HOME/.config/dpmctl or /etc/dpmctl (see --config).

For WebSocket authentication, the password is read from the DPMCTL_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&configFile, "config", "", "Config file (default dpmctl.yaml in the search path)")

	// Serial connection flags
	flags.StringP("port", "p", "", "Serial port device")
	flags.IntP("baud", "b", 9600, "Baud rate (serial only)")
	flags.Duration("poll-interval", 10*time.Millisecond, "Serial read timeout used while waiting for an answer")

	// WebSocket connection flags
	flags.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Device flags
	flags.IntP("address", "a", int(dpm8600.DefaultAddress), "Converter bus address (1-99)")
	flags.IntP("retries", "r", dpm8600.DefaultMaxRetry, "Transmissions per command before giving up")
	flags.Duration("timeout", dpm8600.DefaultListenTimeout, "Time to wait for an answer to each transmission")
	flags.Bool("lenient-address", false, "Fall back to address 1 instead of rejecting an out-of-range address")

	// Logging flags
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("log-file", "", "Log file (default stderr)")

	bindFlags(v, flags, map[string]string{
		"serial.port":             "port",
		"serial.baud":             "baud",
		"serial.poll_interval":    "poll-interval",
		"websocket.url":           "url",
		"websocket.username":      "username",
		"websocket.no_ssl_verify": "no-ssl-verify",
		"device.address":          "address",
		"device.max_retry":        "retries",
		"device.listen_timeout":   "timeout",
		"device.lenient_address":  "lenient-address",
		"log.level":               "log-level",
		"log.format":              "log-format",
		"log.file":                "log-file",
	})
}

// bindFlags binds each config key to the named flag. Unknown flag names are a
// programming error.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		f := flags.Lookup(name)
		if f == nil {
			panic("unknown flag " + name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	}
}

// configKeyAnnotation marks a command-local flag as the source of a config
// key. Several commands may bind the same key, so the binding is only made
// for the command that runs.
const configKeyAnnotation = "dpmctl_config_key"

func bindLocalFlag(cmd *cobra.Command, name, key string) {
	if err := cmd.Flags().SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
		panic(err)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var bindErr error
	cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
		if keys := f.Annotations[configKeyAnnotation]; len(keys) > 0 && bindErr == nil {
			bindErr = v.BindPFlag(keys[0], f)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	c, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}

	log, closer, err := config.NewLogger(c.Log)
	if err != nil {
		return err
	}

	cfg, logger, logCloser = c, log, closer
	logger.WithField("command", cmd.Name()).Debug("configuration loaded")
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
