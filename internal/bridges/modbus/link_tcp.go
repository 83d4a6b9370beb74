package modbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	gomodbus "github.com/goburrow/modbus"
)

// Default TCP link timings.
const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultRequestTimeout = 3 * time.Second
	DefaultIdleTimeout    = 60 * time.Second
	DefaultPort           = 502
	DefaultUnitID         = 1
)

// TCPLinkConfig holds the settings for a Modbus TCP connection.
type TCPLinkConfig struct {
	// Host is the controller's IP address or hostname.
	Host string

	// Port is the Modbus TCP port. Default: 502.
	Port int

	// UnitID is the Modbus slave/unit identifier. Default: 1.
	UnitID byte

	// ConnectTimeout bounds Connect. Default: 3 seconds.
	ConnectTimeout time.Duration

	// RequestTimeout bounds each request/response exchange. Default: 3 seconds.
	RequestTimeout time.Duration

	// IdleTimeout closes the socket after a period without traffic.
	// Default: 60 seconds.
	IdleTimeout time.Duration
}

// Address returns host:port.
func (c TCPLinkConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *TCPLinkConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
}

// TCPLink is a DeviceLink over Modbus TCP using holding registers
// (FC3 read, FC6 single write, FC16 multiple write).
//
// The goburrow client is not safe for concurrent use, so every operation
// holds opMu. Reads and writes reconnect implicitly when the link is down,
// until Close; a closed link never dials again.
type TCPLink struct {
	cfg TCPLinkConfig

	opMu    sync.Mutex // serialises all Modbus traffic
	handler *gomodbus.TCPClientHandler
	client  gomodbus.Client
	closed  bool

	stateMu   sync.RWMutex
	connected bool
	lastError error
}

// NewTCPLink creates a disconnected TCP link.
//
// Parameters:
//   - cfg: Connection settings (zero values take defaults)
//
// Returns:
//   - *TCPLink: Call Connect, or let the first read connect implicitly
func NewTCPLink(cfg TCPLinkConfig) *TCPLink {
	cfg.applyDefaults()
	return &TCPLink{cfg: cfg}
}

// Config returns the effective configuration.
func (l *TCPLink) Config() TCPLinkConfig {
	return l.cfg
}

// Connect dials the controller, bounded by ConnectTimeout and ctx.
func (l *TCPLink) Connect(ctx context.Context) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	return l.connectLocked(ctx)
}

func (l *TCPLink) connectLocked(ctx context.Context) error {
	if l.closed {
		return fmt.Errorf("%w: %s: link closed", ErrConnection, l.cfg.Address())
	}
	if l.IsConnected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.ConnectTimeout)
	defer cancel()

	handler := gomodbus.NewTCPClientHandler(l.cfg.Address())
	handler.Timeout = l.cfg.RequestTimeout
	handler.IdleTimeout = l.cfg.IdleTimeout
	handler.SlaveId = l.cfg.UnitID

	connectDone := make(chan error, 1)
	go func() {
		connectDone <- handler.Connect()
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			l.setState(false, err)
			return fmt.Errorf("%w: %s: %w", ErrConnection, l.cfg.Address(), err)
		}
	case <-ctx.Done():
		// A dial that completes after we gave up must not leak its socket.
		go func() {
			if err := <-connectDone; err == nil {
				handler.Close() //nolint:errcheck // abandoned connection
			}
		}()
		l.setState(false, ctx.Err())
		return fmt.Errorf("%w: %s: %w", ErrConnection, l.cfg.Address(), ctx.Err())
	}

	l.handler = handler
	l.client = gomodbus.NewClient(handler)
	l.setState(true, nil)
	return nil
}

// ReadWords reads holding registers with FC3.
func (l *TCPLink) ReadWords(ctx context.Context, address, count uint16) ([]uint16, error) {
	if err := checkCount(count); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}

	l.opMu.Lock()
	defer l.opMu.Unlock()

	if err := l.connectLocked(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}

	data, err := l.client.ReadHoldingRegisters(address, count)
	if err != nil {
		l.handleErrorLocked(err)
		return nil, fmt.Errorf("%w: address %d count %d: %w", ErrRead, address, count, err)
	}
	if len(data) != int(count)*2 {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrRead, int(count)*2, len(data))
	}
	return bytesToWords(data), nil
}

// WriteWord writes one holding register with FC6.
func (l *TCPLink) WriteWord(ctx context.Context, address, value uint16) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if err := l.connectLocked(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	if _, err := l.client.WriteSingleRegister(address, value); err != nil {
		l.handleErrorLocked(err)
		return fmt.Errorf("%w: address %d: %w", ErrWrite, address, err)
	}
	return nil
}

// WriteWords writes consecutive holding registers with FC16.
// A single value is sent with FC6.
func (l *TCPLink) WriteWords(ctx context.Context, address uint16, values []uint16) error {
	switch {
	case len(values) == 0:
		return fmt.Errorf("%w: no values", ErrWrite)
	case len(values) == 1:
		return l.WriteWord(ctx, address, values[0])
	case len(values) > MaxReadCount:
		return fmt.Errorf("%w: %d registers exceeds limit %d", ErrWrite, len(values), MaxReadCount)
	}

	l.opMu.Lock()
	defer l.opMu.Unlock()

	if err := l.connectLocked(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	if _, err := l.client.WriteMultipleRegisters(address, uint16(len(values)), wordsToBytes(values)); err != nil { //nolint:gosec // bounded above
		l.handleErrorLocked(err)
		return fmt.Errorf("%w: address %d: %w", ErrWrite, address, err)
	}
	return nil
}

// IsConnected returns the last known connection state.
func (l *TCPLink) IsConnected() bool {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.connected
}

// LastError returns the most recent connection or transport error.
func (l *TCPLink) LastError() error {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.lastError
}

// Close closes the TCP connection. Operations still queued on the link
// fail with ErrConnection instead of redialling.
func (l *TCPLink) Close() error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.closed = true
	var err error
	if l.handler != nil {
		err = l.handler.Close()
	}
	l.handler = nil
	l.client = nil
	l.setState(false, nil)
	return err
}

// handleErrorLocked drops the connection on transport errors. A Modbus
// exception response proves the device is reachable, so the link stays up.
func (l *TCPLink) handleErrorLocked(err error) {
	var exc *gomodbus.ModbusError
	if errors.As(err, &exc) {
		return
	}
	if l.handler != nil {
		l.handler.Close() //nolint:errcheck // already failing
	}
	l.handler = nil
	l.client = nil
	l.setState(false, err)
}

func (l *TCPLink) setState(connected bool, err error) {
	l.stateMu.Lock()
	l.connected = connected
	l.lastError = err
	l.stateMu.Unlock()
}

func bytesToWords(data []byte) []uint16 {
	words := make([]uint16, len(data)/2)
	for i := range words {
		words[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return words
}

func wordsToBytes(words []uint16) []byte {
	data := make([]byte, len(words)*2)
	for i, w := range words {
		data[2*i] = byte(w >> 8)
		data[2*i+1] = byte(w)
	}
	return data
}
