// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sweeney/pulse-sensor/internal/logic"
	"github.com/sweeney/pulse-sensor/internal/sensor"
)

// DefaultTopicPrefix is the topic root for all messages of this daemon.
const DefaultTopicPrefix = "mixer/pulse-sensor"

// Topics are the MQTT topics used by the daemon.
type Topics struct {
	// Readings carries periodic and on-demand readings.
	Readings string
	// Events carries settled drum and flow transitions.
	Events string
	// System carries lifecycle events and the last will.
	System string
	// Read is subscribed to; any message on it triggers a reading.
	Read string
}

// NewTopics builds the topic set under prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Readings: prefix + "/readings",
		Events:   prefix + "/events",
		System:   prefix + "/system",
		Read:     prefix + "/read",
	}
}

// Publisher publishes readings and events to MQTT.
type Publisher interface {
	// PublishReading sends a sensor reading to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishReading(r sensor.Reading) error

	// Publish sends a drum or flow transition event.
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// ReadingPayload is the MQTT payload for a reading.
type ReadingPayload struct {
	Reading ReadingJSON `json:"reading"`
}

// ReadingJSON contains the reading details.
type ReadingJSON struct {
	Timestamp   string  `json:"timestamp"`
	RPM         int64   `json:"rpm"`
	Direction   string  `json:"direction"`
	Revolutions uint64  `json:"revolutions"`
	FlowRate    float64 `json:"flow_rate"`
	TotalVolume uint64  `json:"total_volume"`
	Unit        string  `json:"unit"`
	Status      string  `json:"status"`
}

// FormatReadingPayload creates the JSON payload for a reading.
// flow_rate is rounded to three decimals and total_volume to a whole unit.
func FormatReadingPayload(r sensor.Reading) ([]byte, error) {
	status := "OK"
	if r.Degraded() {
		status = "DEGRADED"
	}
	payload := ReadingPayload{
		Reading: ReadingJSON{
			Timestamp:   r.Time.UTC().Format(time.RFC3339),
			RPM:         r.RPM,
			Direction:   r.Direction.String(),
			Revolutions: r.Revolutions,
			FlowRate:    decimal.NewFromFloat(r.FlowRate).Round(3).InexactFloat64(),
			TotalVolume: r.Volume,
			Unit:        r.Unit,
			Status:      status,
		},
	}
	return json.Marshal(payload)
}

// Payload represents the MQTT message payload for a transition event.
type Payload struct {
	Mixer MixerPayload `json:"mixer"`
}

// MixerPayload contains the transition details.
type MixerPayload struct {
	Timestamp string       `json:"timestamp"`
	Event     string       `json:"event"`
	Drum      ChannelState `json:"drum"`
	Flow      ChannelState `json:"flow"`
}

// ChannelState represents a single channel's state.
type ChannelState struct {
	State string `json:"state"`
}

// FormatPayload creates the JSON payload for a transition event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Mixer: MixerPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Drum:      ChannelState{State: string(event.Drum)},
			Flow:      ChannelState{State: string(event.Flow)},
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
