package modbus

import (
	"fmt"
	"strings"
	"time"
)

// MQTT message types exchanged between the engine and other services.

// Protocol is the protocol identifier used in topics and messages.
const Protocol = "modbus"

// CommandMessage asks the engine to write a register.
// Topic: plcwatch/command/modbus/{controller_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. Optional.
	ID string `json:"id,omitempty"`

	// RegisterID is the catalogue ID of the register to write.
	RegisterID string `json:"register_id"`

	// Value is the engineering (scaled) value to write.
	Value *float64 `json:"value"`

	// Source indicates where the command originated ("api", "mqtt", ...).
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the value was written to the controller.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage reports the result of a CommandMessage.
// Topic: plcwatch/ack/modbus/{controller_id}
type AckMessage struct {
	CommandID    string    `json:"command_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	ControllerID string    `json:"controller_id"`
	RegisterID   string    `json:"register_id"`
	Status       AckStatus `json:"status"`
	Protocol     string    `json:"protocol"`

	// Words holds the raw words written, when accepted.
	Words []uint16 `json:"words,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeOutOfRange        = "OUT_OF_RANGE"
	ErrCodeEncodeFailed      = "ENCODE_FAILED"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeWriteFailed       = "WRITE_FAILED"
)

// HealthStatus represents the operational status of the engine.
type HealthStatus string

const (
	// HealthHealthy indicates every monitored controller answered its last poll.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates MQTT is down or some controllers are unreachable.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the engine vanished (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the engine is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the engine is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports engine status.
// Topic: plcwatch/health/modbus
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Controllers is the number of controllers in the registry.
	Controllers int `json:"controllers"`

	// Monitored is the number of running poll loops.
	Monitored int `json:"monitored"`

	// Unreachable lists monitored controllers whose last poll failed to connect.
	Unreachable []string `json:"unreachable,omitempty"`

	Statistics *EngineStatistics `json:"statistics,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// EngineStatistics contains cumulative poll counters.
type EngineStatistics struct {
	PollCycles         uint64 `json:"poll_cycles"`
	ConnectionFailures uint64 `json:"connection_failures"`
	RegisterErrors     uint64 `json:"register_errors"`
}

// NewLWTMessage creates the Last Will and Testament health message.
func NewLWTMessage() HealthMessage {
	return HealthMessage{
		Bridge:    Protocol,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// TopicPrefix is the base topic for all PLCWatch messages.
const TopicPrefix = "plcwatch"

// StateTopic returns the topic snapshots for a controller are published on.
// Example: plcwatch/state/modbus/plc-1
func StateTopic(controllerID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, controllerID)
}

// CommandTopic returns the topic write commands for a controller arrive on.
// Example: plcwatch/command/modbus/plc-1
func CommandTopic(controllerID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, controllerID)
}

// AckTopic returns the topic command acknowledgements are published on.
// Example: plcwatch/ack/modbus/plc-1
func AckTopic(controllerID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, controllerID)
}

// HealthTopic returns the engine health topic.
// Example: plcwatch/health/modbus
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
// Example: plcwatch/command/modbus/+
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// controllerFromTopic extracts the controller ID from a
// plcwatch/{kind}/modbus/{controller_id} topic.
func controllerFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	const topicParts = 4
	if len(parts) != topicParts || parts[0] != TopicPrefix || parts[2] != Protocol || parts[3] == "" {
		return "", false
	}
	return parts[3], true
}
