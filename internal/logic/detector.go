package logic

import "time"

// Detector tracks drum and flow state and detects settled transitions.
type Detector struct {
	settle        time.Duration
	drum          ChannelState
	flow          ChannelState
	baselined     bool
	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// NewDetector creates a detector that reports a state once it has held for
// settle. The startTime is used for calculating uptime in heartbeat events.
func NewDetector(settle time.Duration, startTime time.Time) *Detector {
	return &Detector{
		settle:        settle,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process takes a new reading and returns any events that should be emitted.
// Events are only returned after baseline is established and on state
// transitions. When both channels change together the drum event comes first.
func (d *Detector) Process(input Input) []Event {
	var drumTransition, flowTransition bool
	if !input.DrumDegraded {
		drumTransition = d.processChannel(&d.drum, drumState(input.RPM), input.Time)
	}
	if !input.FlowDegraded {
		flowTransition = d.processChannel(&d.flow, flowState(input.FlowRate), input.Time)
	}

	if !d.baselined {
		if d.drum.Baselined && d.flow.Baselined {
			d.baselined = true
		}
		return nil
	}

	var events []Event
	if drumTransition {
		events = append(events, d.event(drumEvent(d.drum.Stable), input))
	}
	if flowTransition {
		events = append(events, d.event(flowEvent(d.flow.Stable), input))
	}

	for _, e := range events {
		switch e.Type {
		case EventDrumForward:
			d.eventCounts.DrumForward++
		case EventDrumReverse:
			d.eventCounts.DrumReverse++
		case EventDrumStopped:
			d.eventCounts.DrumStopped++
		case EventFlowStarted:
			d.eventCounts.FlowStarted++
		case EventFlowStopped:
			d.eventCounts.FlowStopped++
		}
	}

	return events
}

func (d *Detector) event(t EventType, input Input) Event {
	return Event{
		Timestamp: input.Time,
		Type:      t,
		Drum:      d.drum.Stable,
		Flow:      d.flow.Stable,
		RPM:       input.RPM,
		FlowRate:  input.FlowRate,
	}
}

// processChannel handles settle logic for a single channel.
// Returns true if the stable state changed after baseline.
func (d *Detector) processChannel(ch *ChannelState, newState State, now time.Time) bool {
	if !ch.Baselined {
		if ch.Pending != newState {
			// First sample, or the state moved before settling
			ch.Pending = newState
			ch.PendingSince = now
		}
		if now.Sub(ch.PendingSince) >= d.settle {
			ch.Stable = newState
			ch.Baselined = true
			ch.Pending = ""
		}
		return false
	}

	if newState == ch.Stable {
		ch.Pending = ""
		return false
	}

	if ch.Pending != newState {
		ch.Pending = newState
		ch.PendingSince = now
	}

	if now.Sub(ch.PendingSince) >= d.settle {
		ch.Stable = newState
		ch.Pending = ""
		return true
	}
	return false
}

func drumEvent(s State) EventType {
	switch s {
	case StateForward:
		return EventDrumForward
	case StateReverse:
		return EventDrumReverse
	default:
		return EventDrumStopped
	}
}

func flowEvent(s State) EventType {
	if s == StateFlowing {
		return EventFlowStarted
	}
	return EventFlowStopped
}

// IsBaselined returns whether the detector has established a baseline.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// CurrentState returns the current settled states.
func (d *Detector) CurrentState() (drum State, flow State) {
	return d.drum.Stable, d.flow.Stable
}

// Counts returns the events emitted since startup.
func (d *Detector) Counts() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !d.baselined {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}
