// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/dpmctl/internal/config"
	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Availability payloads
const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// mqttRetryDelay is the wait between broker connection attempts
const mqttRetryDelay = 5 * time.Second

var bridgeAddresses string

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Bridge converters to an MQTT broker",
	Long: `Poll converters and publish their readings to MQTT, and apply set commands
received over MQTT.

Topics, with AA the two-digit bus address:
  <prefix>/bridge/status          online/offline (retained, last will)
  <prefix>/AA/availability        online/offline (retained)
  <prefix>/AA/state               reading as JSON or CBOR
  <prefix>/AA/result              outcome of the last set command (JSON)
  <prefix>/AA/set/voltage         volts, e.g. "12.5"
  <prefix>/AA/set/current         amps, e.g. "1.2"
  <prefix>/AA/set/vc              "12.5,1.2" or {"voltage":12.5,"current":1.2}
  <prefix>/AA/set/power           on/off (or 1/0)

The broker password is read from DPMCTL_MQTT_PASSWORD or the config file.

Example:
  dpmctl bridge --port /dev/ttyUSB0 --addresses 1-3 --broker tcp://localhost:1883`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	flags := bridgeCmd.Flags()
	flags.StringVar(&bridgeAddresses, "addresses", "", "Addresses to bridge, e.g. 1,3,5-7 (default --address)")
	flags.String("broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	flags.String("client-id", "dpmctl", "MQTT client ID")
	flags.String("mqtt-username", "", "MQTT username")
	flags.String("topic-prefix", "dpm8600", "Topic prefix")
	flags.Int("qos", 1, "MQTT QoS (0, 1 or 2)")
	flags.Bool("retain", false, "Retain state messages")
	flags.Duration("interval", 5*time.Second, "Poll and publish interval")
	flags.String("payload-format", config.PayloadJSON, "State payload format (json, cbor)")

	bindLocalFlag(bridgeCmd, "broker", "mqtt.broker")
	bindLocalFlag(bridgeCmd, "client-id", "mqtt.client_id")
	bindLocalFlag(bridgeCmd, "mqtt-username", "mqtt.username")
	bindLocalFlag(bridgeCmd, "topic-prefix", "mqtt.topic_prefix")
	bindLocalFlag(bridgeCmd, "qos", "mqtt.qos")
	bindLocalFlag(bridgeCmd, "retain", "mqtt.retain")
	bindLocalFlag(bridgeCmd, "interval", "mqtt.interval")
	bindLocalFlag(bridgeCmd, "payload-format", "mqtt.payload_format")
	addMetricsFlags(bridgeCmd)
}

// bridgeTopics builds the topic names under one prefix
type bridgeTopics struct {
	prefix string
}

func (t bridgeTopics) status() string {
	return t.prefix + "/bridge/status"
}

func (t bridgeTopics) device(address dpm8600.Address, leaf string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix, address, leaf)
}

func (t bridgeTopics) setFilter(address dpm8600.Address) string {
	return t.device(address, "set/+")
}

// parseSet splits a set topic into address and setting
func (t bridgeTopics) parseSet(topic string) (dpm8600.Address, string, error) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/")
	if !ok {
		return 0, "", fmt.Errorf("topic %q outside prefix %q", topic, t.prefix)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" {
		return 0, "", fmt.Errorf("not a set topic: %q", topic)
	}

	address, err := dpm8600.ParseAddress(parts[0])
	if err != nil {
		return 0, "", err
	}
	return address, parts[2], nil
}

// setResult is published after every set command
type setResult struct {
	Command string `json:"command"`
	Code    int    `json:"code"`
	Error   string `json:"error,omitempty"`
}

// vcPayload is the JSON form of a combined voltage and current write
type vcPayload struct {
	Voltage *float64 `json:"voltage"`
	Current *float64 `json:"current"`
}

// parseSetPayload turns a set message into the write it asks for. power
// holds the power register value when setting is "power".
func parseSetPayload(setting string, payload []byte) (req setRequest, power *float64, err error) {
	text := strings.TrimSpace(string(payload))

	switch setting {
	case "power":
		value, query, err := parsePowerArg(text)
		if err != nil {
			return setRequest{}, nil, err
		}
		if query {
			return setRequest{}, nil, errors.New("status is not a settable power state")
		}
		return setRequest{}, &value, nil

	case "vc":
		if strings.HasPrefix(text, "{") {
			var p vcPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return setRequest{}, nil, fmt.Errorf("invalid vc payload: %w", err)
			}
			if p.Voltage == nil || p.Current == nil {
				return setRequest{}, nil, errors.New("vc payload needs voltage and current")
			}
			return setRequest{kind: dpm8600.WriteVoltageAndCurrent, voltage: *p.Voltage, current: *p.Current}, nil, nil
		}
		fields := strings.Split(text, ",")
		if len(fields) != 2 {
			return setRequest{}, nil, fmt.Errorf("vc payload must be \"VOLTAGE,CURRENT\", got %q", text)
		}
		req, err := parseSetArgs([]string{"vc", strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])})
		return req, nil, err

	case "voltage", "current":
		req, err := parseSetArgs([]string{setting, text})
		return req, nil, err

	default:
		return setRequest{}, nil, fmt.Errorf("unknown setting %q", setting)
	}
}

// handleSetMessage applies one set message to the converter at address
func handleSetMessage(ctx context.Context, b *bus, address dpm8600.Address, setting string, payload []byte) setResult {
	result := setResult{Command: setting}

	req, power, err := parseSetPayload(setting, payload)
	if err == nil {
		err = b.Do(address, func(d *dpm8600.Driver) error {
			if power != nil {
				return d.Write(ctx, dpm8600.WritePower, *power)
			}
			return req.apply(ctx, d)
		})
	}

	result.Code = dpm8600.Code(err)
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// mqttBridge publishes poll results and serves set commands
type mqttBridge struct {
	client    mqtt.Client
	bus       *bus
	topics    bridgeTopics
	addresses []dpm8600.Address
	qos       byte
	retain    bool
	format    string

	mu        sync.Mutex
	available map[dpm8600.Address]bool
}

func newMQTTBridge(c config.MQTTConfig, b *bus, addresses []dpm8600.Address) *mqttBridge {
	br := &mqttBridge{
		bus:       b,
		topics:    bridgeTopics{prefix: c.TopicPrefix},
		addresses: addresses,
		qos:       byte(c.QoS),
		retain:    c.Retain,
		format:    c.PayloadFormat,
		available: make(map[dpm8600.Address]bool),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.Broker)
	opts.SetClientID(c.ClientID)
	opts.SetUsername(c.Username)
	opts.SetPassword(c.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Last will marks the bridge offline if it disappears
	opts.SetWill(br.topics.status(), payloadOffline, br.qos, true)

	// Subscriptions do not survive a reconnect with a clean session
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.WithField("broker", c.Broker).Info("connected to MQTT broker")
		br.publish(br.topics.status(), payloadOnline, true)
		br.subscribe()
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})

	br.client = mqtt.NewClient(opts)
	return br
}

// connect connects to the broker, retrying until it succeeds or ctx is done
func (br *mqttBridge) connect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		token := br.client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		logger.WithError(token.Error()).WithField("attempt", attempt).
			Warnf("MQTT connection failed, retrying in %v", mqttRetryDelay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("MQTT connection cancelled: %w", ctx.Err())
		case <-time.After(mqttRetryDelay):
		}
	}
}

func (br *mqttBridge) subscribe() {
	for _, address := range br.addresses {
		filter := br.topics.setFilter(address)
		token := br.client.Subscribe(filter, br.qos, br.onSetMessage)
		if token.Wait() && token.Error() != nil {
			logger.WithError(token.Error()).WithField("topic", filter).Error("subscribe failed")
		}
	}
}

func (br *mqttBridge) onSetMessage(client mqtt.Client, msg mqtt.Message) {
	log := logger.WithField("topic", msg.Topic())

	address, setting, err := br.topics.parseSet(msg.Topic())
	if err != nil {
		log.WithError(err).Warn("ignoring message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	result := handleSetMessage(ctx, br.bus, address, setting, msg.Payload())
	if result.Error != "" {
		log.WithField("code", result.Code).Warn(result.Error)
	} else {
		log.WithField("payload", string(msg.Payload())).Info("set applied")
	}

	data, err := json.Marshal(result)
	if err != nil {
		log.WithError(err).Error("encode result")
		return
	}
	br.publish(br.topics.device(address, "result"), data, false)
}

// onPollResult publishes a reading, or marks the converter unavailable
func (br *mqttBridge) onPollResult(res pollResult) {
	if res.err != nil {
		logger.WithField("address", res.address.String()).WithError(res.err).Debug("poll failed")
		br.setAvailable(res.address, false)
		return
	}

	data, err := marshalOutput(br.format, res.reading)
	if err != nil {
		logger.WithError(err).Error("encode reading")
		return
	}
	br.setAvailable(res.address, true)
	br.publish(br.topics.device(res.address, "state"), data, br.retain)
}

// setAvailable publishes availability when it changes
func (br *mqttBridge) setAvailable(address dpm8600.Address, available bool) {
	br.mu.Lock()
	prev, known := br.available[address]
	br.available[address] = available
	br.mu.Unlock()

	if known && prev == available {
		return
	}

	payload := payloadOffline
	if available {
		payload = payloadOnline
	}
	br.publish(br.topics.device(address, "availability"), payload, true)
}

func (br *mqttBridge) publish(topic string, payload any, retain bool) {
	token := br.client.Publish(topic, br.qos, retain, payload)
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		logger.WithError(token.Error()).WithField("topic", topic).Warn("publish failed")
	}
}

// shutdown marks everything offline and disconnects
func (br *mqttBridge) shutdown() {
	if !br.client.IsConnected() {
		return
	}
	for _, address := range br.addresses {
		br.publish(br.topics.device(address, "availability"), payloadOffline, true)
	}
	br.publish(br.topics.status(), payloadOffline, true)
	br.client.Disconnect(250)
}

func runBridge(cmd *cobra.Command, args []string) error {
	if cfg.MQTT.Broker == "" {
		return errors.New("--broker is required")
	}
	addresses, err := targetAddresses(bridgeAddresses)
	if err != nil {
		return err
	}

	exporter, stats, opts := newMetricsExporter()
	b, err := openBus(stats, opts...)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := signalContext()
	defer cancel()

	br := newMQTTBridge(cfg.MQTT, b, addresses)
	if err := br.connect(ctx); err != nil {
		return err
	}
	defer br.shutdown()

	logger.WithFields(logrus.Fields{
		"connection": b.Info(),
		"addresses":  fmt.Sprint(addresses),
		"prefix":     cfg.MQTT.TopicPrefix,
	}).Info("bridge running")

	p := &poller{
		bus:       b,
		addresses: addresses,
		interval:  cfg.MQTT.Interval,
		exporter:  exporter,
		onResult:  br.onPollResult,
		onConnLost: func(err error) {
			logger.WithError(err).Warn("converter connection lost, reconnecting")
			for _, address := range addresses {
				br.setAvailable(address, false)
			}
		},
		onReconnected: func(info string) {
			logger.WithField("connection", info).Info("converter connection restored")
		},
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.run(ctx)
	})
	if exporter != nil {
		g.Go(func() error {
			return serveMetrics(ctx, exporter)
		})
	}
	return g.Wait()
}
