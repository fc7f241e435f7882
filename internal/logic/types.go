// Package logic turns successive sensor readings into settled drum and flow
// state transitions.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State is the settled state of the drum or the water line.
type State string

const (
	StateForward State = "FORWARD"
	StateReverse State = "REVERSE"
	StateStopped State = "STOPPED"

	StateFlowing State = "FLOWING"
	StateIdle    State = "IDLE"
)

// EventType represents a state transition event.
type EventType string

const (
	EventDrumForward EventType = "DRUM_FORWARD"
	EventDrumReverse EventType = "DRUM_REVERSE"
	EventDrumStopped EventType = "DRUM_STOPPED"
	EventFlowStarted EventType = "FLOW_STARTED"
	EventFlowStopped EventType = "FLOW_STOPPED"
)

// Event represents a state transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Drum      State
	Flow      State
	// RPM and FlowRate are the values of the reading that settled the state.
	RPM      int64
	FlowRate float64
}

// ChannelState tracks settle state for the drum or the flow channel.
type ChannelState struct {
	// Current settled state
	Stable State
	// Candidate state waiting to settle
	Pending State
	// Time when pending state was first observed
	PendingSince time.Time
	// Whether we have established a baseline
	Baselined bool
}

// Input is one reading as seen by the detector.
type Input struct {
	RPM      int64
	FlowRate float64
	// A degraded channel carries a fallback zero and is ignored.
	DrumDegraded bool
	FlowDegraded bool
	Time         time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	DrumForward int
	DrumReverse int
	DrumStopped int
	FlowStarted int
	FlowStopped int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}

func drumState(rpm int64) State {
	switch {
	case rpm > 0:
		return StateForward
	case rpm < 0:
		return StateReverse
	default:
		return StateStopped
	}
}

func flowState(rate float64) State {
	if rate > 0 {
		return StateFlowing
	}
	return StateIdle
}
