// Run configuration for the gantry drift measurement harness
//
// The configuration is read once at startup into an immutable Config and
// passed explicitly to every component. There is no package-level mutable
// state and nothing edits a Config after Load returns.
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	gderr "gantry-drift/pkg/errors"
)

// Reserved sensor keys always present in every sample.
const (
	SensorKeyBed      = "bed"
	SensorKeyExtruder = "extruder"
	SensorKeyFrame    = "frame"
	SensorKeyChamber  = "chamber"
)

// Transport names accepted in the `transport` field.
const (
	TransportHTTP      = "http"
	TransportWebsocket = "websocket"
)

// Duration wraps time.Duration so YAML values like "90s" or "2h" decode
// directly into config fields.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UserConfig identifies the operator and hardware for the run metadata.
type UserConfig struct {
	ID           string `yaml:"id"`
	PrinterModel string `yaml:"printer_model"`
	HomeType     string `yaml:"home_type"`
	ProbeType    string `yaml:"probe_type"`
	Backers      string `yaml:"backers"`
	XRails       string `yaml:"x_rails"`
	Notes        string `yaml:"notes"`
}

// TempConfig holds heater targets and the reach tolerance.
type TempConfig struct {
	BedTarget      float64 `yaml:"bed_target"`
	ExtruderTarget float64 `yaml:"extruder_target"`
	Tolerance      float64 `yaml:"tolerance"`
}

// TimingConfig holds all phase durations and the sampling cadence.
type TimingConfig struct {
	SampleInterval Duration `yaml:"sample_interval"`
	SoakDuration   Duration `yaml:"soak_duration"`
	HotDuration    Duration `yaml:"hot_duration"`
	CoolDuration   Duration `yaml:"cool_duration"`
	HeatingTimeout Duration `yaml:"heating_timeout"`
	IdleTimeout    Duration `yaml:"idle_timeout"`
}

// CommandConfig names the macros the engine executes. Level may be empty,
// which skips the leveling phase entirely.
type CommandConfig struct {
	Home          string `yaml:"home"`
	Level         string `yaml:"level"`
	MeshCalibrate string `yaml:"mesh_calibrate"`
	MeshClear     string `yaml:"mesh_clear"`
	Measure       string `yaml:"measure"`
	FrameCompOff  string `yaml:"frame_comp_off"`
	FrameCompOn   string `yaml:"frame_comp_on"`
}

// SensorsConfig maps sample keys to Klipper status object names.
// Bed and extruder heaters are implicit; frame and chamber are optional
// named sensors; Extra is an open-ended key -> object mapping.
type SensorsConfig struct {
	Frame   string            `yaml:"frame"`
	Chamber string            `yaml:"chamber"`
	Extra   map[string]string `yaml:"extra"`
}

// RetryConfig bounds the exponential backoff applied to transport errors.
type RetryConfig struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
}

// ZOffsetConfig names the status object and field the sampler reads for
// the per-sample Z measurement after the measure macro completes.
type ZOffsetConfig struct {
	Object string `yaml:"object"`
	Field  string `yaml:"field"`
	Index  int    `yaml:"index"`
}

// Config is the complete, immutable run configuration.
type Config struct {
	PrinterURL        string        `yaml:"printer_url"`
	Transport         string        `yaml:"transport"`
	OutputDir         string        `yaml:"output_dir"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	SafeHeightPercent float64       `yaml:"safe_height_percent"`
	User              UserConfig    `yaml:"user"`
	Temperatures      TempConfig    `yaml:"temperatures"`
	Timing            TimingConfig  `yaml:"timing"`
	Commands          CommandConfig `yaml:"commands"`
	Sensors           SensorsConfig `yaml:"sensors"`
	Retry             RetryConfig   `yaml:"retry"`
	ZOffset           ZOffsetConfig `yaml:"z_offset"`
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, gderr.ConfigErrorf("unable to read config %s: %v", path, err)
	}
	return Parse(raw)
}

// Parse decodes, defaults and validates configuration bytes.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, gderr.ConfigErrorf("unable to parse config: %v", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportHTTP
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.SafeHeightPercent == 0 {
		c.SafeHeightPercent = 50
	}
	if c.Temperatures.Tolerance == 0 {
		c.Temperatures.Tolerance = 0.5
	}
	if c.Timing.SampleInterval == 0 {
		c.Timing.SampleInterval = Duration(60 * time.Second)
	}
	if c.Timing.SoakDuration == 0 {
		c.Timing.SoakDuration = Duration(15 * time.Minute)
	}
	if c.Timing.HotDuration == 0 {
		c.Timing.HotDuration = Duration(2 * time.Hour)
	}
	if c.Timing.HeatingTimeout == 0 {
		c.Timing.HeatingTimeout = Duration(45 * time.Minute)
	}
	if c.Timing.IdleTimeout == 0 {
		c.Timing.IdleTimeout = Duration(5 * time.Minute)
	}
	if c.Commands.Home == "" {
		c.Commands.Home = "G28"
	}
	if c.Commands.MeshCalibrate == "" {
		c.Commands.MeshCalibrate = "BED_MESH_CALIBRATE"
	}
	if c.Commands.MeshClear == "" {
		c.Commands.MeshClear = "BED_MESH_CLEAR"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = Duration(500 * time.Millisecond)
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = Duration(10 * time.Second)
	}
	if c.ZOffset.Object == "" {
		c.ZOffset.Object = "gcode_move"
		c.ZOffset.Field = "gcode_position"
		c.ZOffset.Index = 2
	}
}

func (c *Config) validate() error {
	if c.PrinterURL == "" {
		return gderr.ConfigError("printer_url is required")
	}
	if !strings.HasPrefix(c.PrinterURL, "http://") && !strings.HasPrefix(c.PrinterURL, "https://") {
		return gderr.ConfigErrorf("printer_url %q must start with http:// or https://", c.PrinterURL)
	}
	if c.Transport != TransportHTTP && c.Transport != TransportWebsocket {
		return gderr.ConfigErrorf("transport %q must be %q or %q", c.Transport, TransportHTTP, TransportWebsocket)
	}
	if c.Temperatures.BedTarget <= 0 {
		return gderr.ConfigError("temperatures.bed_target must be positive")
	}
	if c.Temperatures.ExtruderTarget < 0 {
		return gderr.ConfigError("temperatures.extruder_target must not be negative")
	}
	if c.Temperatures.Tolerance <= 0 {
		return gderr.ConfigError("temperatures.tolerance must be positive")
	}
	if c.Timing.SampleInterval.Std() <= 0 {
		return gderr.ConfigError("timing.sample_interval must be positive")
	}
	if c.Timing.HotDuration.Std() <= 0 {
		return gderr.ConfigError("timing.hot_duration must be positive")
	}
	if c.Timing.CoolDuration.Std() < 0 {
		return gderr.ConfigError("timing.cool_duration must not be negative")
	}
	if c.SafeHeightPercent <= 0 || c.SafeHeightPercent > 100 {
		return gderr.ConfigErrorf("safe_height_percent %.1f must be in (0, 100]", c.SafeHeightPercent)
	}
	if c.Commands.Measure == "" {
		return gderr.ConfigError("commands.measure is required")
	}
	if c.Retry.MaxAttempts < 1 {
		return gderr.ConfigError("retry.max_attempts must be at least 1")
	}
	if err := c.validateSensorKeys(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSensorKeys() error {
	reserved := map[string]bool{
		SensorKeyBed:      true,
		SensorKeyExtruder: true,
		SensorKeyFrame:    true,
		SensorKeyChamber:  true,
	}
	for key, object := range c.Sensors.Extra {
		if key == "" {
			return gderr.ConfigError("sensors.extra contains an empty key")
		}
		if reserved[key] {
			return gderr.ConfigErrorf("sensors.extra key %q shadows a reserved sensor key", key)
		}
		if object == "" {
			return gderr.ConfigErrorf("sensors.extra.%s has no object name", key)
		}
	}
	return nil
}

// SensorObjects returns the key -> status object mapping for every
// configured sensor, including the implicit heater sensors. Keys are
// fixed here for the lifetime of the session.
func (c *Config) SensorObjects() map[string]string {
	objects := map[string]string{
		SensorKeyBed:      "heater_bed",
		SensorKeyExtruder: "extruder",
	}
	if c.Sensors.Frame != "" {
		objects[SensorKeyFrame] = c.Sensors.Frame
	}
	if c.Sensors.Chamber != "" {
		objects[SensorKeyChamber] = c.Sensors.Chamber
	}
	for key, object := range c.Sensors.Extra {
		objects[key] = object
	}
	return objects
}
