package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/pulse-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"stateClass": func(s string) string {
		switch s {
		case "FORWARD", "REVERSE", "FLOWING":
			return "active"
		case "STOPPED", "IDLE":
			return "idle"
		default:
			return "unknown"
		}
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Pulse Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.active { color: green; font-weight: bold; }
.idle { color: #888; }
.unknown { color: orange; }
.degraded { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Pulse Sensor</h1>

<h2>State</h2>
<table>
{{- $drum := stateOrUnknown (printf "%s" .Drum)}}{{$flow := stateOrUnknown (printf "%s" .Flow)}}
<tr><th>Drum</th><td id="drum-state" class="{{stateClass $drum}}">{{$drum}}</td></tr>
<tr><th>Water</th><td id="flow-state" class="{{stateClass $flow}}">{{$flow}}</td></tr>
<tr><th>Ready</th><td>{{if .Baselined}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Last Reading</h2>
{{if .Reading}}<table>
<tr><th>Time</th><td>{{.Reading.Time.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Drum</th><td class="{{if eq (printf "%s" .Reading.RotationStatus) "DEGRADED"}}degraded{{end}}">{{.Reading.RPM}} rpm ({{.Reading.Direction}})</td></tr>
<tr><th>Revolutions</th><td>{{.Reading.Revolutions}}</td></tr>
<tr><th>Flow</th><td class="{{if eq (printf "%s" .Reading.FlowStatus) "DEGRADED"}}degraded{{end}}">{{printf "%.2f" .Reading.FlowRate}} {{.Reading.Unit}}/min</td></tr>
<tr><th>Total volume</th><td>{{.Reading.TotalVolume.StringFixed 2}} {{.Reading.Unit}}</td></tr>
</table>{{else}}<p>No reading yet.</p>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>DRUM FORWARD</th><td>{{.Counts.DrumForward}}</td></tr>
<tr><th>DRUM REVERSE</th><td>{{.Counts.DrumReverse}}</td></tr>
<tr><th>DRUM STOPPED</th><td>{{.Counts.DrumStopped}}</td></tr>
<tr><th>FLOW STARTED</th><td>{{.Counts.FlowStarted}}</td></tr>
<tr><th>FLOW STOPPED</th><td>{{.Counts.FlowStopped}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Boot</th><td>{{.BootID}}</td></tr>
<tr><th>Pins</th><td>rpm {{.Config.RPMPin}}, direction {{.Config.DirPin}}, flow {{.Config.FlowPin}} on {{.Config.Chip}}</td></tr>
<tr><th>Notify</th><td>{{.Config.NotifyMs}}ms</td></tr>
<tr><th>Settle</th><td>{{.Config.SettleMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/read.json">Read now</a> | <a href="/metrics">Metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
