package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
)

// PollMeasurement is the measurement poll-cycle statistics are written to.
const PollMeasurement = "plc_poll"

// WritePollResult records one poll cycle.
//
// The write is non-blocking; points are batched and sent asynchronously.
//
// Tags: controller_id, outcome
// Fields: connected, requested, succeeded, failed, duration_ms
func (c *Client) WritePollResult(res modbus.PollResult) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(pollPoint(res))
}

// pollPoint converts a poll result to a line-protocol point.
func pollPoint(res modbus.PollResult) *write.Point {
	ts := res.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		PollMeasurement,
		map[string]string{
			"controller_id": res.ControllerID,
			"outcome":       string(res.Outcome),
		},
		map[string]any{
			"connected":   res.Connected,
			"requested":   res.Requested,
			"succeeded":   res.Succeeded,
			"failed":      res.Failed(),
			"duration_ms": float64(res.Duration) / float64(time.Millisecond),
		},
		ts,
	)
}

// PollRecorder adapts a Client to modbus.PollObserver so the monitor can
// write cycle statistics directly.
type PollRecorder struct {
	client *Client
}

// NewPollRecorder returns an observer writing to client. A nil client
// yields an observer that drops every result.
func NewPollRecorder(client *Client) *PollRecorder {
	return &PollRecorder{client: client}
}

// ObservePoll implements modbus.PollObserver.
func (r *PollRecorder) ObservePoll(res modbus.PollResult) {
	if r == nil || r.client == nil {
		return
	}
	r.client.WritePollResult(res)
}
