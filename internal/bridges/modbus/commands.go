package modbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultCommandTimeout bounds a single MQTT-initiated write.
const DefaultCommandTimeout = 5 * time.Second

// CommandHandler executes write commands received over MQTT and
// acknowledges them on AckTopic.
//
// Subscribe its Handle method to CommandSubscribeTopic().
type CommandHandler struct {
	registry  *Registry
	source    ConfigSource
	publisher Publisher
	timeout   time.Duration
	logger    Logger
	onWrite   func(controllerID, registerID string, value float64)
}

// NewCommandHandler creates a command handler.
//
// Parameters:
//   - registry: Target of the writes
//   - source: Resolves register IDs to definitions
//   - publisher: Receives acknowledgements (nil disables them)
//   - timeout: Per-command deadline; zero uses DefaultCommandTimeout
func NewCommandHandler(registry *Registry, source ConfigSource, publisher Publisher, timeout time.Duration) *CommandHandler {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &CommandHandler{
		registry:  registry,
		source:    source,
		publisher: publisher,
		timeout:   timeout,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the handler.
func (c *CommandHandler) SetLogger(logger Logger) {
	c.logger = logger
}

// OnWrite registers fn to run after each successful write. Used to feed
// the operator audit trail.
func (c *CommandHandler) OnWrite(fn func(controllerID, registerID string, value float64)) {
	c.onWrite = fn
}

// Handle processes one command message. The signature matches the MQTT
// client's message handler.
func (c *CommandHandler) Handle(topic string, payload []byte) error {
	controllerID, ok := controllerFromTopic(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected command topic %q", ErrWrite, topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		c.ack(controllerID, cmd, nil, ErrCodeInvalidCommand, err)
		return fmt.Errorf("%w: invalid command payload: %w", ErrWrite, err)
	}
	if cmd.RegisterID == "" || cmd.Value == nil {
		err := errors.New("register_id and value are required")
		c.ack(controllerID, cmd, nil, ErrCodeInvalidCommand, err)
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	words, err := c.execute(ctx, controllerID, cmd)
	if err != nil {
		c.ack(controllerID, cmd, nil, errorCode(err), err)
		return err
	}

	c.logger.Info("register written via MQTT", "controller_id", controllerID, "register_id", cmd.RegisterID, "value", *cmd.Value)
	c.ack(controllerID, cmd, words, "", nil)
	if c.onWrite != nil {
		c.onWrite(controllerID, cmd.RegisterID, *cmd.Value)
	}
	return nil
}

func (c *CommandHandler) execute(ctx context.Context, controllerID string, cmd CommandMessage) ([]uint16, error) {
	def, err := c.source.Register(ctx, controllerID, cmd.RegisterID)
	if err != nil {
		return nil, err
	}
	if err := def.CheckBounds(*cmd.Value); err != nil {
		return nil, err
	}

	if !c.registry.Has(controllerID) {
		cfg, err := c.source.ControllerConnection(ctx, controllerID)
		if err != nil {
			return nil, err
		}
		if err := c.registry.Add(cfg); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
	}

	return c.registry.WriteValue(ctx, controllerID, def, *cmd.Value)
}

func (c *CommandHandler) ack(controllerID string, cmd CommandMessage, words []uint16, code string, cause error) {
	if c.publisher == nil {
		return
	}

	msg := AckMessage{
		CommandID:    cmd.ID,
		Timestamp:    time.Now().UTC(),
		ControllerID: controllerID,
		RegisterID:   cmd.RegisterID,
		Status:       AckAccepted,
		Protocol:     Protocol,
		Words:        words,
	}
	if cause != nil {
		msg.Status = AckFailed
		msg.Error = &AckError{Code: code, Message: cause.Error()}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := c.publisher.Publish(AckTopic(controllerID), payload, 1, false); err != nil {
		c.logger.Warn("failed to publish ack", "controller_id", controllerID, "error", err)
	}
}

// errorCode maps engine errors onto ack error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrOutOfRange):
		return ErrCodeOutOfRange
	case errors.Is(err, ErrEncode):
		return ErrCodeEncodeFailed
	case errors.Is(err, ErrConnection):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrWrite):
		return ErrCodeWriteFailed
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotConfigured
	default:
		return ErrCodeWriteFailed
	}
}
