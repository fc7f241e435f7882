package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sweeney/pulse-sensor/internal/config"
	"github.com/sweeney/pulse-sensor/internal/logic"
	"github.com/sweeney/pulse-sensor/internal/mqtt"
	"github.com/sweeney/pulse-sensor/internal/pulse"
	"github.com/sweeney/pulse-sensor/internal/sensor"
	"github.com/sweeney/pulse-sensor/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func setNetworkEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	setNetworkEnv(t)

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}

	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")

	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "")
	t.Setenv(envNetworkWifiSSID, "")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want connected", info.Status)
	}
	if info.Type != "" || info.SSID != "" {
		t.Errorf("unset fields should be empty, got %+v", info)
	}
}

// clearNetworkEnv unsets the network vars for the rest of the test and
// restores them afterwards.
func clearNetworkEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{envNetworkType, envNetworkIP, envNetworkStatus, envNetworkGateway, envNetworkWifiStatus, envNetworkWifiSSID} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearNetworkEnv(t)
	path := filepath.Join(t.TempDir(), "pi-helper.env")
	content := "NETWORK_STATUS=connected\nNETWORK_IP=10.0.0.7\nNETWORK_TYPE=ethernet\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	loadEnvFile(path, zerolog.Nop())

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected network info from env file")
	}
	if info.IP != "10.0.0.7" || info.Type != "ethernet" {
		t.Errorf("got %+v", info)
	}
}

func TestLoadEnvFileKeepsExistingVars(t *testing.T) {
	clearNetworkEnv(t)
	t.Setenv(envNetworkIP, "192.168.0.2")
	path := filepath.Join(t.TempDir(), "pi-helper.env")
	if err := os.WriteFile(path, []byte("NETWORK_STATUS=connected\nNETWORK_IP=10.0.0.7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	loadEnvFile(path, zerolog.Nop())

	if got := os.Getenv(envNetworkIP); got != "192.168.0.2" {
		t.Errorf("NETWORK_IP: got %q, want the existing 192.168.0.2", got)
	}
}

func TestLoadEnvFileMissingIsSilent(t *testing.T) {
	var buf bytes.Buffer
	loadEnvFile(filepath.Join(t.TempDir(), "absent.env"), zerolog.New(&buf))

	if buf.Len() != 0 {
		t.Errorf("expected no log output for a missing file, got %s", buf.String())
	}
}

func TestRunMissingConfig(t *testing.T) {
	err := run(filepath.Join(t.TempDir(), "config.yaml"), false, "", zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestRunPrintConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
raspberrypi_sensors:
  rpm_sensor:
    rpm_pin: 24
  hall_sensor:
    direction_pin: 23
  water_meter:
    flow_pin: 13
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := run(path, true, "", zerolog.Nop()); err != nil {
		t.Fatalf("print-config should exit cleanly without touching GPIO: %v", err)
	}
}

func TestStatusConfig(t *testing.T) {
	cfg := &config.Config{
		Chip:           "gpiochip4",
		NotifyInterval: 5 * time.Second,
		Heartbeat:      15 * time.Minute,
		Settle:         2 * time.Second,
		MQTT:           config.MQTT{Broker: "tcp://broker:1883"},
		HTTP:           config.HTTP{Addr: ":9090"},
		Path:           "/etc/pulse-sensor/config.3.yaml",
	}
	cfg.Sensors.RPM.Pin = 24
	cfg.Sensors.Hall.Pin = 23
	cfg.Sensors.Water.Pin = 13
	cfg.Sensors.Water.Unit = "L"

	got := statusConfig(cfg)
	want := status.Config{
		NotifyMs:    5000,
		SettleMs:    2000,
		HeartbeatMs: 900000,
		Broker:      "tcp://broker:1883",
		HTTPAddr:    ":9090",
		Chip:        "gpiochip4",
		RPMPin:      24,
		DirPin:      23,
		FlowPin:     13,
		Unit:        "L",
		Source:      "/etc/pulse-sensor/config.3.yaml",
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

// --- runLoop tests ---

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// scriptedReader returns its readings in order, then repeats the last one.
type scriptedReader struct {
	readings []sensor.Reading
	calls    int
}

func (r *scriptedReader) Read() sensor.Reading {
	i := r.calls
	r.calls++
	if i >= len(r.readings) {
		i = len(r.readings) - 1
	}
	return r.readings[i]
}

func reading(rpm int64, flowRate float64) sensor.Reading {
	dir := pulse.Forward
	if rpm < 0 {
		dir = pulse.Reverse
	}
	return sensor.Reading{
		RPM:            rpm,
		Direction:      dir,
		RotationStatus: pulse.StatusOK,
		FlowRate:       flowRate,
		TotalVolume:    decimal.Zero,
		Unit:           "L",
		FlowStatus:     pulse.StatusOK,
	}
}

// repeat returns n copies of r.
func repeat(r sensor.Reading, n int) []sensor.Reading {
	out := make([]sensor.Reading, n)
	for i := range out {
		out[i] = r
	}
	return out
}

type fakeRecorder struct {
	ok, failed int
}

func (f *fakeRecorder) ObservePublish(err error) {
	if err != nil {
		f.failed++
		return
	}
	f.ok++
}

// runRunLoop drives runLoop for nTicks and then sends signal.
func runRunLoop(t *testing.T, l loop, clock func() time.Time, nTicks int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(l, clock, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	return <-errCh
}

func testLoop(readings []sensor.Reading, pub *mqtt.FakePublisher) loop {
	return loop{
		sensors:   &scriptedReader{readings: readings},
		publisher: pub,
		settle:    250 * time.Millisecond,
		log:       zerolog.Nop(),
	}
}

func TestRunLoopNoEventsAtBaseline(t *testing.T) {
	readings := repeat(reading(0, 0), 4)
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(start, 100*time.Millisecond)

	err := runRunLoop(t, testLoop(readings, pub), clock, len(readings), syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Events) != 0 {
		t.Errorf("expected 0 transition events, got %d", len(pub.Events))
	}
	if len(pub.Readings) != 4 {
		t.Errorf("expected one reading per tick, got %d", len(pub.Readings))
	}
	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	if pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN event, got %q", pub.SystemEvents[0].Event)
	}
}

func TestRunLoopDrumTransition(t *testing.T) {
	readings := append(repeat(reading(0, 0), 4), repeat(reading(840, 0), 4)...)
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(start, 100*time.Millisecond)

	err := runRunLoop(t, testLoop(readings, pub), clock, len(readings), syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Events) != 1 {
		t.Fatalf("expected 1 transition event, got %d", len(pub.Events))
	}
	e := pub.Events[0]
	if e.Type != logic.EventDrumForward {
		t.Errorf("expected DRUM_FORWARD, got %s", e.Type)
	}
	if e.Drum != logic.StateForward || e.Flow != logic.StateIdle {
		t.Errorf("states: got %s/%s, want FORWARD/IDLE", e.Drum, e.Flow)
	}
	if e.RPM != 840 {
		t.Errorf("RPM: got %d, want 840", e.RPM)
	}
}

func TestRunLoopMultipleTransitions(t *testing.T) {
	// baseline → forward → water on → reverse with water → stopped and dry
	var readings []sensor.Reading
	readings = append(readings, repeat(reading(0, 0), 4)...)
	readings = append(readings, repeat(reading(12, 0), 4)...)
	readings = append(readings, repeat(reading(12, 7.57), 4)...)
	readings = append(readings, repeat(reading(-12, 7.57), 4)...)
	readings = append(readings, repeat(reading(0, 0), 4)...)

	pub := mqtt.NewFakePublisher()
	clock := fakeClock(start, 100*time.Millisecond)

	err := runRunLoop(t, testLoop(readings, pub), clock, len(readings), syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	want := []logic.EventType{
		logic.EventDrumForward,
		logic.EventFlowStarted,
		logic.EventDrumReverse,
		logic.EventDrumStopped,
		logic.EventFlowStopped,
	}
	if len(pub.Events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(pub.Events), pub.Events)
	}
	for i, w := range want {
		if pub.Events[i].Type != w {
			t.Errorf("event %d: expected %s, got %s", i, w, pub.Events[i].Type)
		}
	}
}

func TestRunLoopShortBurstRejected(t *testing.T) {
	// One tick of drum motion is shorter than settle.
	readings := append(repeat(reading(0, 0), 4), reading(60, 0))
	readings = append(readings, repeat(reading(0, 0), 4)...)
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(start, 100*time.Millisecond)

	err := runRunLoop(t, testLoop(readings, pub), clock, len(readings), syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Events) != 0 {
		t.Errorf("expected 0 events (burst rejected), got %d", len(pub.Events))
	}
}

func TestRunLoopDegradedReadingsAreNotTransitions(t *testing.T) {
	// A failing direction sensor yields rpm 0 with DEGRADED; that is not a stop.
	degraded := reading(0, 0)
	degraded.RotationStatus = pulse.StatusDegraded
	readings := append(repeat(reading(30, 0), 4), repeat(degraded, 6)...)

	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(start, status.Config{})
	l := testLoop(readings, pub)
	l.tracker = tracker
	clock := fakeClock(start, 100*time.Millisecond)

	err := runRunLoop(t, l, clock, len(readings), syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Events) != 0 {
		t.Errorf("degraded readings produced events: %+v", pub.Events)
	}
	if len(pub.Readings) != len(readings) {
		t.Errorf("degraded readings should still be published: got %d, want %d", len(pub.Readings), len(readings))
	}
	if drum := tracker.Snapshot().Drum; drum != logic.StateForward {
		t.Errorf("tracker drum: got %s, want FORWARD", drum)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	setNetworkEnv(t)

	// Clock calls: start, then ticks at +5m, +10m, +15m, +20m.
	// The first sample at +5m starts pending; +15m baselines (10m settle)
	// and CheckHeartbeat(+15m, 15m) fires. +20m is too soon for another.
	readings := repeat(reading(0, 0), 4)
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	tracker := status.NewTracker(start, status.Config{HeartbeatMs: 900000})
	l := testLoop(readings, pub)
	l.settle = 10 * time.Minute
	l.heartbeat = 15 * time.Minute
	l.tracker = tracker
	l.mqttStatus = pub
	clock := fakeClock(start, 5*time.Minute)

	err := runRunLoop(t, l, clock, len(readings), syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var heartbeats, shutdowns int
	for _, se := range pub.SystemEvents {
		switch se.Event {
		case "HEARTBEAT":
			heartbeats++
			if !se.Timestamp.Equal(start.Add(15 * time.Minute)) {
				t.Errorf("heartbeat timestamp: got %v", se.Timestamp)
			}
			var parsed status.StatusJSON
			if err := json.Unmarshal(se.RawPayload, &parsed); err != nil {
				t.Fatalf("heartbeat payload: %v", err)
			}
			if parsed.Status.Event != "HEARTBEAT" {
				t.Errorf("payload event: got %q", parsed.Status.Event)
			}
			if parsed.Status.Network == nil || parsed.Status.Network.SSID != "MyNetwork" {
				t.Errorf("payload network: got %+v", parsed.Status.Network)
			}
			if !parsed.Status.Ready || !parsed.Status.MQTT.Connected {
				t.Errorf("payload should be ready and connected: %+v", parsed.Status)
			}
		case "SHUTDOWN":
			shutdowns++
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT event, got %d", heartbeats)
	}
	if shutdowns != 1 {
		t.Errorf("expected 1 SHUTDOWN event, got %d", shutdowns)
	}
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	readings := repeat(reading(0, 0), 8)
	pub := mqtt.NewFakePublisher()
	l := testLoop(readings, pub)
	clock := fakeClock(start, time.Hour)

	if err := runRunLoop(t, l, clock, len(readings), syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	for _, se := range pub.SystemEvents {
		if se.Event == "HEARTBEAT" {
			t.Fatal("heartbeat published with interval 0")
		}
	}
}

func TestRunLoopPublishError(t *testing.T) {
	readings := append(repeat(reading(0, 0), 4), repeat(reading(30, 0), 4)...)
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker unavailable")
	rec := &fakeRecorder{}
	l := testLoop(readings, pub)
	l.recorder = rec
	clock := fakeClock(start, 100*time.Millisecond)

	err := runRunLoop(t, l, clock, len(readings), syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Events) != 0 || len(pub.Readings) != 0 {
		t.Errorf("failed publishes should not be recorded: %d events, %d readings", len(pub.Events), len(pub.Readings))
	}
	// 8 readings and 1 event failed; SHUTDOWN went through PublishSystem.
	if rec.failed != 9 {
		t.Errorf("failed publishes: got %d, want 9", rec.failed)
	}
	if rec.ok != 1 {
		t.Errorf("successful publishes: got %d, want 1", rec.ok)
	}

	found := false
	for _, se := range pub.SystemEvents {
		if se.Event == "SHUTDOWN" {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event despite publish errors")
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(start, 100*time.Millisecond)

	err := runRunLoop(t, testLoop(repeat(reading(0, 0), 2), pub), clock, 2, syscall.SIGINT)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	se := pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" || se.Reason != "SIGINT" {
		t.Errorf("got %s/%s, want SHUTDOWN/SIGINT", se.Event, se.Reason)
	}
	if !se.Retained {
		t.Error("SHUTDOWN should be retained")
	}
	if se.RawPayload != nil {
		t.Error("no tracker, so no status payload expected")
	}
}

func TestRunLoopShutdownSIGTERMWithStatus(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(start, status.Config{})
	l := testLoop(repeat(reading(-6, 7.57), 4), pub)
	l.tracker = tracker
	clock := fakeClock(start, 100*time.Millisecond)

	if err := runRunLoop(t, l, clock, 4, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	se := pub.SystemEvents[len(pub.SystemEvents)-1]
	if se.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", se.Reason)
	}
	var parsed status.StatusJSON
	if err := json.Unmarshal(se.RawPayload, &parsed); err != nil {
		t.Fatalf("shutdown payload: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("payload: got %s/%s", parsed.Status.Event, parsed.Status.Reason)
	}
	if parsed.Status.Drum != "REVERSE" || parsed.Status.Flow != "FLOWING" {
		t.Errorf("payload states: got %s/%s", parsed.Status.Drum, parsed.Status.Flow)
	}
}

func TestRunLoopShutdownUnknownSignal(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(start, time.Second)

	if err := runRunLoop(t, testLoop(repeat(reading(0, 0), 1), pub), clock, 0, syscall.SIGHUP); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if got := pub.SystemEvents[0].Reason; got != "UNKNOWN" {
		t.Errorf("Reason: got %q, want UNKNOWN", got)
	}
}

func TestRunLoopUpdatesTracker(t *testing.T) {
	r := reading(-6, 7.57)
	r.Revolutions = 6
	r.TotalVolume = decimal.RequireFromString("7.57")
	r.Volume = 8
	readings := append(repeat(reading(0, 0), 4), repeat(r, 4)...)

	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	tracker := status.NewTracker(start, status.Config{})
	l := testLoop(readings, pub)
	l.tracker = tracker
	l.mqttStatus = pub
	clock := fakeClock(start, 100*time.Millisecond)

	if err := runRunLoop(t, l, clock, len(readings), syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	snap := tracker.Snapshot()
	if !snap.Baselined {
		t.Error("expected tracker baselined")
	}
	if snap.Drum != logic.StateReverse || snap.Flow != logic.StateFlowing {
		t.Errorf("states: got %s/%s, want REVERSE/FLOWING", snap.Drum, snap.Flow)
	}
	if snap.Counts.DrumReverse != 1 || snap.Counts.FlowStarted != 1 {
		t.Errorf("counts: got %+v", snap.Counts)
	}
	if snap.Reading == nil || snap.Reading.Volume != 8 {
		t.Errorf("reading: got %+v", snap.Reading)
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTT connected in tracker")
	}
}
