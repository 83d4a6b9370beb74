package modbus

import (
	"context"
	"fmt"
	"sync"
)

// MaxReadCount is the largest number of holding registers one FC3 request
// may return.
const MaxReadCount = 125

// DeviceLink is a connection to one controller.
// Implementations serialise their own operations.
type DeviceLink interface {
	// Connect establishes the connection. It is a no-op when already connected.
	Connect(ctx context.Context) error

	// ReadWords reads count holding registers starting at address.
	ReadWords(ctx context.Context, address, count uint16) ([]uint16, error)

	// WriteWord writes a single holding register.
	WriteWord(ctx context.Context, address, value uint16) error

	// WriteWords writes consecutive holding registers starting at address.
	WriteWords(ctx context.Context, address uint16, values []uint16) error

	// IsConnected reports the last known connection state.
	IsConnected() bool

	// Close releases the connection. The link must not be used afterwards.
	Close() error
}

// SimulatedLink adapts a SimulatedDevice to the DeviceLink interface.
type SimulatedLink struct {
	device *SimulatedDevice

	mu        sync.RWMutex
	connected bool
	closed    bool
}

// NewSimulatedLink wraps device. The device is not started; the registry
// starts it when the controller is added.
func NewSimulatedLink(device *SimulatedDevice) *SimulatedLink {
	return &SimulatedLink{device: device}
}

// Device returns the underlying simulated device.
func (l *SimulatedLink) Device() *SimulatedDevice {
	return l.device
}

// Connect marks the link connected.
func (l *SimulatedLink) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("%w: link closed", ErrConnection)
	}
	l.connected = true
	return nil
}

// ReadWords reads from the simulated register map. Unknown addresses
// return an error matching both ErrRead and ErrNotFound.
func (l *SimulatedLink) ReadWords(ctx context.Context, address, count uint16) ([]uint16, error) {
	if err := l.ready(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	if err := checkCount(count); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}

	words, err := l.device.Read(address, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return words, nil
}

// WriteWord writes one raw word into the simulated register map.
func (l *SimulatedLink) WriteWord(ctx context.Context, address, value uint16) error {
	return l.WriteWords(ctx, address, []uint16{value})
}

// WriteWords writes raw words into the simulated register map.
func (l *SimulatedLink) WriteWords(ctx context.Context, address uint16, values []uint16) error {
	if err := l.ready(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if len(values) == 0 {
		return fmt.Errorf("%w: no values", ErrWrite)
	}
	if err := l.device.WriteWords(address, values); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

// IsConnected reports whether Connect has been called and Close has not.
func (l *SimulatedLink) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected && !l.closed
}

// Close stops the simulated device.
func (l *SimulatedLink) Close() error {
	l.mu.Lock()
	l.connected = false
	l.closed = true
	l.mu.Unlock()

	l.device.Stop()
	return nil
}

// ready connects implicitly the way a TCP link reconnects, so simulated
// and real links behave the same for callers that skip Connect.
func (l *SimulatedLink) ready(ctx context.Context) error {
	if l.IsConnected() {
		return ctx.Err()
	}
	return l.Connect(ctx)
}

func checkCount(count uint16) error {
	if count == 0 || count > MaxReadCount {
		return fmt.Errorf("register count %d out of range (1-%d)", count, MaxReadCount)
	}
	return nil
}
