package modbus

import "time"

// PollOutcome classifies a finished poll cycle.
type PollOutcome string

// Poll outcomes reported to observers.
const (
	// PollOK means every monitored register was read.
	PollOK PollOutcome = "ok"

	// PollPartial means at least one register failed to read or decode.
	PollPartial PollOutcome = "partial"

	// PollConnectionFailed means the controller could not be reached.
	PollConnectionFailed PollOutcome = "connection_failed"

	// PollSourceError means the register definitions could not be loaded.
	PollSourceError PollOutcome = "source_error"
)

// PollResult describes one poll cycle.
type PollResult struct {
	ControllerID string
	Outcome      PollOutcome
	Connected    bool
	Requested    int
	Succeeded    int
	Duration     time.Duration
	Timestamp    time.Time
	Err          error
}

// Failed returns the number of registers that could not be read.
func (r PollResult) Failed() int {
	return r.Requested - r.Succeeded
}

// PollObserver is notified after every poll cycle. Implementations must
// return quickly; they run on the poll goroutine.
type PollObserver interface {
	ObservePoll(res PollResult)
}

// PollObserverFunc adapts a function to PollObserver.
type PollObserverFunc func(res PollResult)

// ObservePoll calls f(res).
func (f PollObserverFunc) ObservePoll(res PollResult) {
	f(res)
}

// Observers fans a result out to several observers in order.
type Observers []PollObserver

// ObservePoll notifies each non-nil observer.
func (o Observers) ObservePoll(res PollResult) {
	for _, obs := range o {
		if obs != nil {
			obs.ObservePoll(res)
		}
	}
}
