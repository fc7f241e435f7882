// Command pulse-sensor counts drum and water meter pulses on GPIO inputs and
// publishes drum speed, direction and water volume to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/pulse-sensor/internal/config"
	"github.com/sweeney/pulse-sensor/internal/gpio"
	"github.com/sweeney/pulse-sensor/internal/logger"
	"github.com/sweeney/pulse-sensor/internal/logic"
	"github.com/sweeney/pulse-sensor/internal/metrics"
	"github.com/sweeney/pulse-sensor/internal/mqtt"
	"github.com/sweeney/pulse-sensor/internal/pulse"
	"github.com/sweeney/pulse-sensor/internal/sensor"
	"github.com/sweeney/pulse-sensor/internal/status"
	"github.com/sweeney/pulse-sensor/internal/web"
)

func main() {
	configPath := flag.String("config", "/etc/pulse-sensor/config.yaml", "Sensor config file (.yaml, .json or .toml); the highest name.N.ext next to it wins")
	printConfig := flag.Bool("print-config", false, "Print the resolved configuration and exit")
	envFile := flag.String("env-file", "/run/pi-helper.env", "Network environment file (ignored if missing)")

	flag.Parse()

	boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	if err := run(*configPath, *printConfig, *envFile, boot); err != nil {
		boot.Fatal().Err(err).Msg("fatal")
	}
}

func run(configPath string, printConfig bool, envFile string, boot zerolog.Logger) error {
	loadEnvFile(envFile, boot)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if printConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("print config: %w", err)
		}
		fmt.Printf("# %s\n%s", cfg.Path, out)
		return nil
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	if err != nil {
		return err
	}

	// Initialize GPIO
	bank, err := gpio.NewRealBank(cfg.Chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer func() {
		if err := bank.Close(); err != nil {
			log.Warn().Err(err).Msg("release gpio lines")
		}
	}()

	rec := metrics.New()
	sensors, err := sensor.New(cfg.Sensors, bank, sensor.Options{Logger: log, Recorder: rec})
	if err != nil {
		return err
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		Topics:     mqtt.NewTopics(cfg.MQTT.TopicPrefix),
		BufferSize: cfg.MQTT.BufferSize,
		OnRead: func() sensor.Reading {
			r := sensors.Read()
			tracker.SetReading(r)
			return r
		},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()
	tracker.SetMQTTConnected(publisher.IsConnected())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Warn().Err(err).Msg("failed to publish startup event")
	} else {
		log.Info().Msg("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, web.Options{
			Reader:  sensors,
			Metrics: rec.Handler(),
			Logger:  log,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
	}

	log.Info().
		Str("config", cfg.Path).
		Dur("notify", cfg.NotifyInterval).
		Dur("settle", cfg.Settle).
		Dur("heartbeat", cfg.Heartbeat).
		Str("broker", cfg.MQTT.Broker).
		Msg("started")

	ticker := time.NewTicker(cfg.NotifyInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loop{
		sensors:    sensors,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		recorder:   rec,
		settle:     cfg.Settle,
		heartbeat:  cfg.Heartbeat,
		log:        log,
	}, time.Now, ticker.C, sigCh)
}

// reader takes one reading of both sensors.
type reader interface {
	Read() sensor.Reading
}

// publishRecorder counts publish outcomes.
type publishRecorder interface {
	ObservePublish(err error)
}

// loop holds the collaborators of runLoop. Only sensors and publisher are
// required.
type loop struct {
	sensors    reader
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	recorder   publishRecorder
	settle     time.Duration
	heartbeat  time.Duration
	log        zerolog.Logger
}

func (l loop) observe(err error) {
	if l.recorder != nil {
		l.recorder.ObservePublish(err)
	}
}

func (l loop) refreshMQTT() {
	if l.tracker != nil && l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

func runLoop(l loop, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := now()
	detector := logic.NewDetector(l.settle, startTime)

	for {
		select {
		case s := <-sig:
			l.log.Info().Str("signal", s.String()).Msg("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if l.tracker != nil {
				l.refreshMQTT()
				event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			err := l.publisher.PublishSystem(event)
			l.observe(err)
			if err != nil {
				l.log.Warn().Err(err).Msg("failed to publish shutdown event")
			} else {
				l.log.Info().Msg("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			r := l.sensors.Read()
			if l.tracker != nil {
				l.tracker.SetReading(r)
			}

			err := l.publisher.PublishReading(r)
			l.observe(err)
			if err != nil {
				// Don't crash on publish failure
				l.log.Warn().Err(err).Msg("reading publish error")
			}
			l.log.Debug().
				Int64("rpm", r.RPM).
				Uint64("revolutions", r.Revolutions).
				Float64("flow_rate", r.FlowRate).
				Str("total_volume", r.TotalVolume.String()).
				Bool("degraded", r.Degraded()).
				Msg("reading")

			events := detector.Process(logic.Input{
				RPM:          r.RPM,
				FlowRate:     r.FlowRate,
				DrumDegraded: r.RotationStatus == pulse.StatusDegraded,
				FlowDegraded: r.FlowStatus == pulse.StatusDegraded,
				Time:         t,
			})

			for _, event := range events {
				l.log.Info().
					Str("event", string(event.Type)).
					Str("drum", string(event.Drum)).
					Str("flow", string(event.Flow)).
					Msg("transition")
				err := l.publisher.Publish(event)
				l.observe(err)
				if err != nil {
					l.log.Warn().Err(err).Msg("event publish error")
				}
			}

			l.updateTracker(detector)

			if !detector.IsBaselined() {
				continue
			}

			if hbData := detector.CheckHeartbeat(t, l.heartbeat); hbData != nil {
				l.log.Info().
					Dur("uptime", hbData.Uptime).
					Int("drum_forward", hbData.Counts.DrumForward).
					Int("drum_reverse", hbData.Counts.DrumReverse).
					Int("drum_stopped", hbData.Counts.DrumStopped).
					Int("flow_started", hbData.Counts.FlowStarted).
					Int("flow_stopped", hbData.Counts.FlowStopped).
					Msg("heartbeat")

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     "HEARTBEAT",
				}
				if l.tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						l.tracker.SetNetwork(net)
					}
					hbEvent.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "HEARTBEAT", "")
				}
				err := l.publisher.PublishSystem(hbEvent)
				l.observe(err)
				if err != nil {
					l.log.Warn().Err(err).Msg("heartbeat publish error")
				}
			}
		}
	}
}

// updateTracker copies detector state for HTTP consumers.
func (l loop) updateTracker(d *logic.Detector) {
	if l.tracker == nil {
		return
	}
	drum, flow := d.CurrentState()
	l.tracker.Update(drum, flow, d.IsBaselined(), d.Counts())
	l.refreshMQTT()
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

// loadEnvFile merges path into the process environment without overriding
// variables that are already set.
func loadEnvFile(path string, log zerolog.Logger) {
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		log.Warn().Err(err).Str("path", path).Msg("ignoring env file")
	}
}

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		NotifyMs:    cfg.NotifyInterval.Milliseconds(),
		SettleMs:    cfg.Settle.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		Chip:        cfg.Chip,
		RPMPin:      cfg.Sensors.RPM.Pin,
		DirPin:      cfg.Sensors.Hall.Pin,
		FlowPin:     cfg.Sensors.Water.Pin,
		Unit:        cfg.Sensors.Water.Unit,
		Source:      cfg.Path,
	}
}
