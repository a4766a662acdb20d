// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltoctl Authors

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/ltoflash/ltoctl/pkg/device"
	"github.com/ltoflash/ltoctl/pkg/locutus"
	"github.com/ltoflash/ltoctl/pkg/simulator"
)

// Connection is a device port that can be closed
type Connection interface {
	device.Port
	io.Closer
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// timeouts holds the settings shared by every port adapter
type timeouts struct {
	mu    sync.Mutex
	read  time.Duration
	write time.Duration
}

func (t *timeouts) ReadTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.read
}

func (t *timeouts) WriteTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write
}

func (t *timeouts) setRead(d time.Duration) {
	t.mu.Lock()
	t.read = d
	t.mu.Unlock()
}

func (t *timeouts) SetWriteTimeout(d time.Duration) error {
	t.mu.Lock()
	t.write = d
	t.mu.Unlock()
	return nil
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	timeouts
	port     serial.Port
	baudRate int
	logger   *log.Logger
}

// Read returns locutus.ErrTimeout when the read timeout expires with no data
func (s *SerialConnection) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil {
		return n, err
	}
	if n == 0 && len(p) > 0 {
		return 0, fmt.Errorf("serial read after %v: %w", s.ReadTimeout(), locutus.ErrTimeout)
	}
	return n, nil
}

// Write writes p. The serial driver has no write timeout; the write
// timeout is tracked for the engine only.
func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) SetReadTimeout(d time.Duration) error {
	if err := s.port.SetReadTimeout(d); err != nil {
		return err
	}
	s.setRead(d)
	return nil
}

func (s *SerialConnection) BaudRate() int {
	return s.baudRate
}

func (s *SerialConnection) WaitForBeacon(timeout time.Duration) bool {
	return device.ScanForBeacon(s, timeout)
}

func (s *SerialConnection) Logf(format string, args ...interface{}) {
	s.logger.Printf(format, args...)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// WebSocketConnection carries the serial byte stream over a WebSocket bridge.
// A reader goroutine owns the socket's read side so read timeouts never
// fail the underlying connection.
type WebSocketConnection struct {
	timeouts
	conn   *websocket.Conn
	logger *log.Logger

	messages  chan []byte
	readErr   error
	done      chan struct{}
	closeOnce sync.Once

	buf       []byte
	bufOffset int
}

func newWebSocketConnection(conn *websocket.Conn, logger *log.Logger) *WebSocketConnection {
	w := &WebSocketConnection{
		conn:     conn,
		logger:   logger,
		messages: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	w.read = time.Second
	w.write = time.Second
	go w.readLoop()
	return w
}

func (w *WebSocketConnection) readLoop() {
	defer close(w.messages)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.readErr = err
			return
		}
		// Only binary messages carry device bytes
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case w.messages <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	timeout := w.ReadTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data, ok := <-w.messages:
		if !ok {
			if w.readErr != nil {
				return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, w.readErr)
			}
			return 0, ErrConnectionClosed
		}
		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	case <-timer.C:
		return 0, fmt.Errorf("websocket read after %v: %w", timeout, locutus.ErrTimeout)
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.WriteTimeout())); err != nil {
		return 0, err
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) SetReadTimeout(d time.Duration) error {
	w.setRead(d)
	return nil
}

// BaudRate is unknown behind a bridge
func (w *WebSocketConnection) BaudRate() int {
	return 0
}

func (w *WebSocketConnection) WaitForBeacon(timeout time.Duration) bool {
	return device.ScanForBeacon(w, timeout)
}

func (w *WebSocketConnection) Logf(format string, args ...interface{}) {
	w.logger.Printf(format, args...)
}

// Close stops the reader and closes the socket. Later calls return nil.
func (w *WebSocketConnection) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

// SimulatorConnection is an in-memory device. With a state file, the
// device state is loaded on open and saved on close.
type SimulatorConnection struct {
	*simulator.Simulator
	statePath string
}

func (s *SimulatorConnection) Close() error {
	if s.statePath == "" {
		return nil
	}
	data, err := s.Snapshot()
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.statePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to save simulator state: %w", err)
	}
	return nil
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int, logger *log.Logger) (*SerialConnection, error) {
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

	s := &SerialConnection{port: port, baudRate: baudRate, logger: logger}
	s.write = time.Second
	if err := s.SetReadTimeout(time.Second); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to configure serial port %s: %w", portName, err)
	}
	return s, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool, logger *log.Logger) (*WebSocketConnection, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	// Configure TLS for wss://
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketConnection(conn, logger), nil
}

// OpenSimulatorConnection creates a simulated device, restoring statePath if it exists
func OpenSimulatorConnection(statePath string, logger *log.Logger) (*SimulatorConnection, error) {
	opts := []simulator.Option{simulator.WithLogger(logger)}
	if statePath != "" {
		data, err := os.ReadFile(statePath)
		switch {
		case err == nil:
			state, err := simulator.LoadState(data)
			if err != nil {
				return nil, err
			}
			opts = append(opts, simulator.WithState(state))
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read simulator state: %w", err)
		}
	}
	return &SimulatorConnection{Simulator: simulator.New(opts...), statePath: statePath}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("LTO_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// portLogger writes port diagnostics to stderr when --verbose is set
func portLogger() *log.Logger {
	if verbose {
		return log.New(os.Stderr, "port: ", log.LstdFlags|log.Lmicroseconds)
	}
	return log.New(io.Discard, "", 0)
}

// OpenConnection opens a simulator, WebSocket or serial connection based on flags
func OpenConnection() (Connection, string, error) {
	logger := portLogger()

	if simulate {
		conn, err := OpenSimulatorConnection(simState, logger)
		if err != nil {
			return nil, "", err
		}
		return conn, "Simulator", nil
	}

	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify, logger)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate, logger)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("one of --port, --url or --simulate must be specified")
}

// OpenDevice opens the connection and wraps it in a Device configured from flags
func OpenDevice() (*device.Device, Connection, string, error) {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, nil, "", err
	}

	logger := device.StdLogger{
		L:       log.New(os.Stderr, "", log.LstdFlags),
		Verbose: verbose,
	}
	dev := device.New(conn,
		device.WithLogger(logger),
		device.WithWriteChunkSize(writeChunkSize),
		device.WithResponseTimeout(responseTimeout),
	)
	return dev, conn, connInfo, nil
}

// withDevice opens the device, prints the banner and runs fn. The
// connection is closed afterwards so simulator state is saved.
func withDevice(cmd *cobra.Command, title string, fn func(ctx context.Context, dev *device.Device) error) error {
	dev, conn, connInfo, err := OpenDevice()
	if err != nil {
		return err
	}

	fmt.Printf("ltoctl - %s\n", title)
	fmt.Printf("Connection: %s\n\n", connInfo)

	runErr := fn(cmd.Context(), dev)
	if err := conn.Close(); err != nil && runErr == nil {
		return err
	}
	if runErr != nil && verbose {
		if detail := dev.LastErrorDetail(); detail != "" {
			fmt.Fprintf(os.Stderr, "Last failure:\n%s", detail)
		}
	}
	return runErr
}
