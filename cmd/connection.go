// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/dpmctl/internal/config"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// Connection is the byte stream to the converter bus. Read returns (0, nil)
// when nothing arrived within the poll interval, which is what the
// converter driver expects of its channel.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConnection adapts a WebSocket-to-serial bridge to a byte stream.
// A background reader queues incoming messages so Read can give up after the
// poll interval without failing the underlying connection.
type WebSocketConnection struct {
	conn *websocket.Conn
	poll time.Duration

	rx      chan []byte
	buf     []byte
	done    chan struct{} // closed when the reader stops
	err     error         // reader error, valid once done is closed
	closing chan struct{}
	once    sync.Once
}

func newWebSocketConnection(conn *websocket.Conn, poll time.Duration) *WebSocketConnection {
	w := &WebSocketConnection{
		conn:    conn,
		poll:    poll,
		rx:      make(chan []byte, 16),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocketConnection) readLoop() {
	defer close(w.done)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = err
			return
		}

		// The bridge forwards serial bytes as binary or text frames
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}

		select {
		case w.rx <- data:
		case <-w.closing:
			return
		}
	}
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	// If we have buffered data, return it first
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}

	select {
	case data := <-w.rx:
		return w.fill(p, data), nil
	default:
	}

	timer := time.NewTimer(w.poll)
	defer timer.Stop()

	select {
	case data := <-w.rx:
		return w.fill(p, data), nil
	case <-w.done:
		select {
		case data := <-w.rx:
			return w.fill(p, data), nil
		default:
		}
		if w.err != nil {
			return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, w.err)
		}
		return 0, ErrConnectionClosed
	case <-timer.C:
		return 0, nil
	}
}

func (w *WebSocketConnection) fill(p, data []byte) int {
	n := copy(p, data)
	w.buf = data[n:]
	return n
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closing)
		err = w.conn.Close()
	})
	return err
}

// OpenSerialConnection opens a serial port connection. The port's read
// timeout is set to poll so reads come back empty instead of blocking.
func OpenSerialConnection(portName string, baudRate int, poll time.Duration) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(poll); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool, poll time.Duration) (Connection, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	// Validate scheme
	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	// Create dialer with timeout
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	// Configure TLS for wss://
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	// Build HTTP headers with Basic auth
	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	// Connect
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketConnection(conn, poll), nil
}

var (
	passwordOnce   sync.Once
	cachedPassword string
	passwordErr    error
)

// GetPassword retrieves password from environment or prompts user. The
// answer is remembered so reconnects do not prompt again.
func GetPassword() (string, error) {
	passwordOnce.Do(func() {
		cachedPassword, passwordErr = readPassword()
	})
	return cachedPassword, passwordErr
}

func readPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv(config.EnvPrefix + "_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket connection based on the
// configuration. The returned string describes the connection for display.
func OpenConnection(c *config.Config) (Connection, string, error) {
	if err := c.ValidateConnection(); err != nil {
		return nil, "", err
	}

	if c.WebSocket.URL != "" {
		// WebSocket mode
		password := ""
		if c.WebSocket.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(c.WebSocket.URL, c.WebSocket.Username, password, c.WebSocket.NoSSLVerify, c.Serial.PollInterval)
		if err != nil {
			return nil, "", err
		}

		logger.WithField("url", c.WebSocket.URL).Info("websocket connection open")
		return conn, fmt.Sprintf("WebSocket: %s", c.WebSocket.URL), nil
	}

	// Serial mode
	conn, err := OpenSerialConnection(c.Serial.Port, c.Serial.Baud, c.Serial.PollInterval)
	if err != nil {
		return nil, "", err
	}

	logger.WithField("port", c.Serial.Port).WithField("baud", c.Serial.Baud).Info("serial port open")
	return conn, fmt.Sprintf("Serial: %s @ %d baud", c.Serial.Port, c.Serial.Baud), nil
}
