package modbus

import (
	"context"
	"encoding/json"
	"sync"
)

// SnapshotPublisher forwards every Snapshot on the bus to MQTT as a
// retained message on StateTopic(controllerID).
type SnapshotPublisher struct {
	bus       *UpdateBus
	publisher Publisher
	logger    Logger

	mu  sync.Mutex
	sub *Subscription
	wg  sync.WaitGroup
}

// NewSnapshotPublisher creates a publisher. Call Start to begin forwarding.
func NewSnapshotPublisher(bus *UpdateBus, publisher Publisher) *SnapshotPublisher {
	return &SnapshotPublisher{
		bus:       bus,
		publisher: publisher,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the publisher.
func (p *SnapshotPublisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Start subscribes to the bus and forwards snapshots until ctx ends or
// Stop is called. Calling Start twice has no effect.
func (p *SnapshotPublisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub != nil {
		return
	}

	p.sub = p.bus.Subscribe()
	p.wg.Add(1)
	go p.forward(ctx, p.sub)
}

// Stop unsubscribes and waits for the forwarding goroutine.
func (p *SnapshotPublisher) Stop() {
	p.mu.Lock()
	sub := p.sub
	p.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	p.wg.Wait()
}

func (p *SnapshotPublisher) forward(ctx context.Context, sub *Subscription) {
	defer p.wg.Done()

	for {
		snap, ok := sub.Next(ctx)
		if !ok {
			return
		}
		if !p.publisher.IsConnected() {
			continue // retained state catches up on the next cycle
		}

		payload, err := json.Marshal(snap)
		if err != nil {
			p.logger.Error("failed to marshal snapshot", "controller_id", snap.ControllerID, "error", err)
			continue
		}
		if err := p.publisher.Publish(StateTopic(snap.ControllerID), payload, 1, true); err != nil {
			p.logger.Warn("failed to publish snapshot", "controller_id", snap.ControllerID, "error", err)
		}
	}
}
