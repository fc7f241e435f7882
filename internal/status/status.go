// Package status provides a thread-safe status tracker for the pulse-sensor daemon.
// It is read by HTTP handlers and by the MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/pulse-sensor/internal/logic"
	"github.com/sweeney/pulse-sensor/internal/sensor"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	NotifyMs    int64
	SettleMs    int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Chip        string
	RPMPin      int
	DirPin      int
	FlowPin     int
	Unit        string
	// Source is the config file actually loaded.
	Source string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	BootID        string
	Drum          logic.State
	Flow          logic.State
	Baselined     bool
	Counts        logic.EventCounts
	Reading       *sensor.Reading
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
// Each tracker gets a fresh boot id so consumers can tell restarts apart.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			BootID:    uuid.NewString(),
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the settled states, baseline status, and event counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(drum, flow logic.State, baselined bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Drum = drum
	t.snap.Flow = flow
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetReading stores the most recent sensor reading.
func (t *Tracker) SetReading(r sensor.Reading) {
	t.mu.Lock()
	t.snap.Reading = &r
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.Reading != nil {
		r := *s.Reading
		s.Reading = &r
	}
	s.Now = time.Now()
	return s
}
