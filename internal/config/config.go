// Package config loads the sensor daemon configuration.
//
// A config file is YAML, JSON or TOML (chosen by extension). Versioned
// copies next to the base file, such as sensors.1.yaml and sensors.2.yaml,
// take precedence over sensors.yaml; the highest version wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	Sensors Sensors `yaml:"raspberrypi_sensors" toml:"raspberrypi_sensors"`
	// Chip is the GPIO character device name.
	Chip string `yaml:"chip" toml:"chip" default:"gpiochip0" validate:"required"`
	// NotifyInterval is how often readings are pushed to subscribers.
	NotifyInterval time.Duration `yaml:"notify_interval" toml:"notify_interval" default:"5s" validate:"gt=0"`
	// Heartbeat is the system heartbeat interval (0 disables).
	Heartbeat time.Duration `yaml:"heartbeat" toml:"heartbeat" default:"15m" validate:"gte=0"`
	// Settle is how long a drum or flow state must hold before it is reported.
	Settle time.Duration `yaml:"settle" toml:"settle" default:"2s" validate:"gte=0"`
	MQTT   MQTT          `yaml:"mqtt" toml:"mqtt"`
	HTTP   HTTP          `yaml:"http" toml:"http"`
	Log    Log           `yaml:"log" toml:"log"`

	// Path is the file the config was read from after version resolution.
	Path string `yaml:"-" toml:"-"`
}

// Sensors holds the pin assignments, keyed as in the device's Config.json.
type Sensors struct {
	RPM   RPMSensor  `yaml:"rpm_sensor" toml:"rpm_sensor"`
	Hall  HallSensor `yaml:"hall_sensor" toml:"hall_sensor"`
	Water WaterMeter `yaml:"water_meter" toml:"water_meter"`
}

// RPMSensor is the drum pulse input.
type RPMSensor struct {
	Pin                 int           `yaml:"rpm_pin" toml:"rpm_pin" default:"-1" validate:"gte=0,lte=63"`
	Pull                string        `yaml:"pull" toml:"pull" default:"down" validate:"oneof=down up none"`
	Debounce            time.Duration `yaml:"debounce" toml:"debounce" validate:"gte=0"`
	PulsesPerRevolution uint64        `yaml:"pulses_per_revolution" toml:"pulses_per_revolution" default:"1" validate:"gte=1"`
}

// HallSensor is the drum direction input.
type HallSensor struct {
	Pin      int           `yaml:"direction_pin" toml:"direction_pin" default:"-1" validate:"gte=0,lte=63"`
	Pull     string        `yaml:"pull" toml:"pull" default:"down" validate:"oneof=down up none"`
	Debounce time.Duration `yaml:"debounce" toml:"debounce" default:"100ms" validate:"gte=0"`
	// ReverseLevel is the line level that means reverse rotation.
	ReverseLevel int `yaml:"reverse_level" toml:"reverse_level" default:"1" validate:"oneof=0 1"`
}

// WaterMeter is the flow meter pulse input.
type WaterMeter struct {
	Pin      int           `yaml:"flow_pin" toml:"flow_pin" default:"-1" validate:"gte=0,lte=63"`
	Pull     string        `yaml:"pull" toml:"pull" default:"down" validate:"oneof=down up none"`
	Debounce time.Duration `yaml:"debounce" toml:"debounce" validate:"gte=0"`
	// PulsesPerUnit is the meter constant (pulses per gallon).
	PulsesPerUnit float64 `yaml:"pulses_per_unit" toml:"pulses_per_unit" default:"100" validate:"gt=0"`
	// UnitConversion converts meter units to reported units (litres per gallon).
	UnitConversion float64 `yaml:"unit_conversion" toml:"unit_conversion" default:"3.785" validate:"gt=0"`
	// MaxRate in reported units per minute; 0 disables the warning.
	MaxRate float64 `yaml:"max_rate" toml:"max_rate" default:"190" validate:"gte=0"`
	Unit    string  `yaml:"unit" toml:"unit" default:"L" validate:"required"`
}

// MQTT configures the broker connection.
type MQTT struct {
	Broker string `yaml:"broker" toml:"broker" default:"tcp://localhost:1883" validate:"required"`
	// ClientID defaults to pulse-sensor-<random> when empty.
	ClientID    string `yaml:"client_id" toml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix" default:"mixer/pulse-sensor" validate:"required"`
	// BufferSize is how many messages are kept while disconnected.
	BufferSize int `yaml:"buffer_size" toml:"buffer_size" default:"100" validate:"gte=1"`
}

// HTTP configures the status server.
type HTTP struct {
	// Addr is the listen address; empty disables the server.
	Addr string `yaml:"addr" toml:"addr" default:":8080"`
}

// Log configures process logging.
type Log struct {
	Level  string `yaml:"level" toml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" toml:"format" default:"console" validate:"oneof=console json"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load resolves the latest version of path, parses it and validates it.
// Any error means the daemon cannot bind its sensors.
func Load(path string) (*Config, error) {
	resolved, err := Resolve(path)
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c, err := Parse(b, filepath.Ext(resolved))
	if err != nil {
		return nil, err
	}
	c.Path = resolved
	return c, nil
}

// Parse applies defaults, decodes data in the format named by ext and
// validates the result.
func Parse(data []byte, ext string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case ".yaml", ".yml", ".json":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("parse config: unsupported format %q", ext)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Validate checks field constraints and that no two sensors share a pin.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	pins := map[int]string{}
	for _, p := range []struct {
		name string
		pin  int
	}{
		{"rpm_sensor.rpm_pin", c.Sensors.RPM.Pin},
		{"hall_sensor.direction_pin", c.Sensors.Hall.Pin},
		{"water_meter.flow_pin", c.Sensors.Water.Pin},
	} {
		if other, ok := pins[p.pin]; ok {
			return fmt.Errorf("%s: pin %d already assigned to %s", p.name, p.pin, other)
		}
		pins[p.pin] = p.name
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
