package modbus

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// DefaultSimulationTick is how often a simulated device drifts its values.
const DefaultSimulationTick = time.Second

// SimulatedRegister is one value held by a SimulatedDevice.
// Value is the raw (unscaled) device value.
type SimulatedRegister struct {
	Address   uint16
	DataType  DataType
	Value     float64
	Min       float64
	Max       float64
	DriftRate float64
}

// DefaultSimulatedRegisters returns the seed register set used for
// simulated controllers: temperature, pressure, flow, status, counter and
// energy.
func DefaultSimulatedRegisters() []SimulatedRegister {
	return []SimulatedRegister{
		{Address: 0, DataType: Float32, Value: 25.0, Min: 0, Max: 100, DriftRate: 0.5},
		{Address: 2, DataType: Float32, Value: 1013.25, Min: 900, Max: 1100, DriftRate: 2.0},
		{Address: 4, DataType: Float32, Value: 50.0, Min: 0, Max: 200, DriftRate: 5.0},
		{Address: 6, DataType: Int16, Value: 1, Min: 0, Max: 3, DriftRate: 0},
		{Address: 7, DataType: Int32, Value: 0, Min: 0, Max: 1000000, DriftRate: 1.0},
		{Address: 9, DataType: Float32, Value: 0, Min: 0, Max: 1000, DriftRate: 0.1},
	}
}

// SimulatedDevice is an in-process stand-in for a PLC.
//
// Registers drift randomly within their bounds on every tick while the
// device is running. Reads and writes work whether or not it is running.
type SimulatedDevice struct {
	mu        sync.RWMutex
	registers map[uint16]*SimulatedRegister
	rng       *rand.Rand
	tick      time.Duration

	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSimulatedDevice creates a stopped device holding regs.
// Invalid or overlapping registers are resolved the same way Define does:
// later entries replace earlier ones they overlap, unsupported types are skipped.
//
// Parameters:
//   - regs: Initial registers (nil for an empty device)
//   - tick: Drift interval; zero uses DefaultSimulationTick
//
// Returns:
//   - *SimulatedDevice: Ready to Start
func NewSimulatedDevice(regs []SimulatedRegister, tick time.Duration) *SimulatedDevice {
	if tick <= 0 {
		tick = DefaultSimulationTick
	}
	d := &SimulatedDevice{
		registers: make(map[uint16]*SimulatedRegister, len(regs)),
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)), //nolint:gosec // simulation noise
		tick:      tick,
	}
	for _, r := range regs {
		_ = d.Define(r) //nolint:errcheck // invalid seeds are dropped
	}
	return d
}

// Start begins the drift goroutine. Calling Start on a running device is a no-op.
func (d *SimulatedDevice) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	d.running = true
	d.done = make(chan struct{})
	d.wg.Add(1)
	go d.driftLoop(d.done)
}

// Stop halts the drift goroutine and waits for it to exit.
// Safe to call on a stopped device.
func (d *SimulatedDevice) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()
}

// Running reports whether the drift goroutine is active.
func (d *SimulatedDevice) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

func (d *SimulatedDevice) driftLoop(done <-chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			d.step()
		}
	}
}

// step applies one round of drift to every register with a positive rate.
func (d *SimulatedDevice) step() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range d.registers {
		if r.DriftRate <= 0 {
			continue
		}
		delta := (d.rng.Float64()*2 - 1) * r.DriftRate
		v := r.Value + delta
		if v < r.Min {
			v = r.Min
		}
		if v > r.Max {
			v = r.Max
		}
		r.Value = v
	}
}

// Define adds or replaces a register. Any existing register whose words
// overlap the new one is removed first.
//
// Returns:
//   - error: ErrUnsupportedType for unknown data types, ErrEncode if the
//     register would run past address 65535
func (d *SimulatedDevice) Define(reg SimulatedRegister) error {
	if !reg.DataType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, string(reg.DataType))
	}
	end := uint32(reg.Address) + uint32(reg.DataType.Width())
	if end > maxUint16+1 {
		return fmt.Errorf("%w: register at %d overruns address space", ErrEncode, reg.Address)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for addr, existing := range d.registers {
		existingEnd := uint32(existing.Address) + uint32(existing.DataType.Width())
		if uint32(reg.Address) < existingEnd && uint32(existing.Address) < end {
			delete(d.registers, addr)
		}
	}
	r := reg
	d.registers[reg.Address] = &r
	return nil
}

// Value returns the raw value of the register starting at address.
func (d *SimulatedDevice) Value(address uint16) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.registers[address]
	if !ok {
		return 0, false
	}
	return r.Value, true
}

// Registers returns a copy of all registers ordered by address.
func (d *SimulatedDevice) Registers() []SimulatedRegister {
	d.mu.RLock()
	out := make([]SimulatedRegister, 0, len(d.registers))
	for _, r := range d.registers {
		out = append(out, *r)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Read returns count consecutive words starting at address.
//
// Every requested word must belong to a defined register; a read that
// starts or ends inside a multi-word register returns the covered half.
//
// Returns:
//   - []uint16: The raw words
//   - error: ErrNotFound if any word is not backed by a register
func (d *SimulatedDevice) Read(address, count uint16) ([]uint16, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	image := d.wordImageLocked()
	words := make([]uint16, count)
	for i := range words {
		addr := uint32(address) + uint32(i)
		w, ok := image[addr]
		if !ok {
			return nil, fmt.Errorf("%w: address %d", ErrNotFound, addr)
		}
		words[i] = w
	}
	return words, nil
}

// Write sets the raw value of the register starting at address.
// The value is stored as given; Min/Max only bound drift.
func (d *SimulatedDevice) Write(address uint16, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.registers[address]
	if !ok {
		return fmt.Errorf("%w: address %d", ErrNotFound, address)
	}
	r.Value = value
	return nil
}

// WriteWords stores raw words starting at address, the way a PLC would
// accept FC6/FC16. Each touched register is re-decoded from its patched
// words. Nothing is written unless every word maps to a register.
func (d *SimulatedDevice) WriteWords(address uint16, values []uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	type patch struct {
		reg   *SimulatedRegister
		words []uint16
	}
	patches := make(map[uint16]*patch)

	for i, v := range values {
		addr := uint32(address) + uint32(i)
		r := d.coveringLocked(addr)
		if r == nil {
			return fmt.Errorf("%w: address %d", ErrNotFound, addr)
		}
		p, ok := patches[r.Address]
		if !ok {
			p = &patch{reg: r, words: saturate(r.Value, r.DataType)}
			patches[r.Address] = p
		}
		p.words[addr-uint32(r.Address)] = v
	}

	for _, p := range patches {
		v, err := Decode(p.words, p.reg.DataType, 1.0)
		if err != nil {
			return err
		}
		p.reg.Value = v
	}
	return nil
}

// wordImageLocked renders every register into an address -> word map.
// Caller must hold d.mu.
func (d *SimulatedDevice) wordImageLocked() map[uint32]uint16 {
	image := make(map[uint32]uint16, len(d.registers)*2)
	for _, r := range d.registers {
		words, err := Encode(r.Value, r.DataType, 1.0)
		if err != nil {
			words = saturate(r.Value, r.DataType)
		}
		for i, w := range words {
			image[uint32(r.Address)+uint32(i)] = w
		}
	}
	return image
}

// coveringLocked returns the register containing addr, or nil.
// Caller must hold d.mu.
func (d *SimulatedDevice) coveringLocked(addr uint32) *SimulatedRegister {
	for _, r := range d.registers {
		start := uint32(r.Address)
		if addr >= start && addr < start+uint32(r.DataType.Width()) {
			return r
		}
	}
	return nil
}
