package status

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sweeney/pulse-sensor/internal/sensor"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	BootID        string       `json:"boot_id"`
	Drum          string       `json:"drum"`
	Flow          string       `json:"flow"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Reading       *ReadingJSON `json:"reading,omitempty"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	DrumForward int `json:"drum_forward"`
	DrumReverse int `json:"drum_reverse"`
	DrumStopped int `json:"drum_stopped"`
	FlowStarted int `json:"flow_started"`
	FlowStopped int `json:"flow_stopped"`
}

// ReadingJSON is the JSON representation of a sensor reading. total_volume
// is the exact decimal volume, encoded as a string.
type ReadingJSON struct {
	Timestamp      string          `json:"timestamp"`
	RPM            int64           `json:"rpm"`
	Direction      string          `json:"direction"`
	Revolutions    uint64          `json:"revolutions"`
	RotationStatus string          `json:"rotation_status"`
	FlowRate       float64         `json:"flow_rate"`
	TotalVolume    decimal.Decimal `json:"total_volume"`
	Unit           string          `json:"unit"`
	FlowStatus     string          `json:"flow_status"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	NotifyMs    int64  `json:"notify_ms"`
	SettleMs    int64  `json:"settle_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Chip        string `json:"chip"`
	RPMPin      int    `json:"rpm_pin"`
	DirPin      int    `json:"direction_pin"`
	FlowPin     int    `json:"flow_pin"`
	Unit        string `json:"unit"`
	Source      string `json:"source,omitempty"`
}

func stateOrUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

// NewReadingJSON converts a reading for JSON output.
func NewReadingJSON(r sensor.Reading) *ReadingJSON {
	return &ReadingJSON{
		Timestamp:      r.Time.UTC().Format(time.RFC3339),
		RPM:            r.RPM,
		Direction:      r.Direction.String(),
		Revolutions:    r.Revolutions,
		RotationStatus: string(r.RotationStatus),
		FlowRate:       r.FlowRate,
		TotalVolume:    r.TotalVolume,
		Unit:           r.Unit,
		FlowStatus:     string(r.FlowStatus),
	}
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		BootID:        snap.BootID,
		Drum:          stateOrUnknown(string(snap.Drum)),
		Flow:          stateOrUnknown(string(snap.Flow)),
		Ready:         snap.Baselined,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			DrumForward: snap.Counts.DrumForward,
			DrumReverse: snap.Counts.DrumReverse,
			DrumStopped: snap.Counts.DrumStopped,
			FlowStarted: snap.Counts.FlowStarted,
			FlowStopped: snap.Counts.FlowStopped,
		},
		Config: ConfigJSON{
			NotifyMs:    snap.Config.NotifyMs,
			SettleMs:    snap.Config.SettleMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Chip:        snap.Config.Chip,
			RPMPin:      snap.Config.RPMPin,
			DirPin:      snap.Config.DirPin,
			FlowPin:     snap.Config.FlowPin,
			Unit:        snap.Config.Unit,
			Source:      snap.Config.Source,
		},
	}
	if snap.Reading != nil {
		inner.Reading = NewReadingJSON(*snap.Reading)
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
