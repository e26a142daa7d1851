package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gderr "gantry-drift/pkg/errors"
)

const validConfig = `
printer_url: http://192.168.1.15
user:
  id: tester
  printer_model: voron_v2_350
  probe_type: microswitch_probe
  backers: steel_8mm
  x_rails: single_mgn12
temperatures:
  bed_target: 105
  extruder_target: 100
timing:
  sample_interval: 60s
  hot_duration: 2h
  cool_duration: 1h
commands:
  level: QUAD_GANTRY_LEVEL
  measure: PROBE_Z_SINGLE
sensors:
  frame: temperature_sensor frame
  chamber: temperature_sensor chamber
  extra:
    gantry: temperature_sensor gantry_rail
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.PrinterURL != "http://192.168.1.15" {
		t.Errorf("unexpected printer_url: %s", cfg.PrinterURL)
	}
	if cfg.Temperatures.BedTarget != 105 {
		t.Errorf("unexpected bed_target: %v", cfg.Temperatures.BedTarget)
	}
	if cfg.Timing.SampleInterval.Std() != 60*time.Second {
		t.Errorf("unexpected sample_interval: %v", cfg.Timing.SampleInterval.Std())
	}
	if cfg.Timing.HotDuration.Std() != 2*time.Hour {
		t.Errorf("unexpected hot_duration: %v", cfg.Timing.HotDuration.Std())
	}
	if cfg.Commands.Level != "QUAD_GANTRY_LEVEL" {
		t.Errorf("unexpected level command: %s", cfg.Commands.Level)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Transport != TransportHTTP {
		t.Errorf("expected default transport http, got %s", cfg.Transport)
	}
	if cfg.Commands.Home != "G28" {
		t.Errorf("expected default home G28, got %s", cfg.Commands.Home)
	}
	if cfg.Commands.MeshCalibrate != "BED_MESH_CALIBRATE" {
		t.Errorf("expected default mesh command, got %s", cfg.Commands.MeshCalibrate)
	}
	if cfg.Temperatures.Tolerance != 0.5 {
		t.Errorf("expected default tolerance 0.5, got %v", cfg.Temperatures.Tolerance)
	}
	if cfg.SafeHeightPercent != 50 {
		t.Errorf("expected default safe height 50, got %v", cfg.SafeHeightPercent)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("expected default retry attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.ZOffset.Object != "gcode_move" || cfg.ZOffset.Field != "gcode_position" || cfg.ZOffset.Index != 2 {
		t.Errorf("unexpected z_offset defaults: %+v", cfg.ZOffset)
	}
}

func TestValidationErrors(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(s string) string
		wantSub string
	}{
		{
			"missing printer_url",
			func(s string) string { return strings.Replace(s, "printer_url: http://192.168.1.15", "", 1) },
			"printer_url is required",
		},
		{
			"bad scheme",
			func(s string) string {
				return strings.Replace(s, "http://192.168.1.15", "telnet://192.168.1.15", 1)
			},
			"must start with http",
		},
		{
			"missing measure command",
			func(s string) string { return strings.Replace(s, "measure: PROBE_Z_SINGLE", "", 1) },
			"commands.measure is required",
		},
		{
			"missing bed target",
			func(s string) string { return strings.Replace(s, "bed_target: 105", "bed_target: 0", 1) },
			"bed_target must be positive",
		},
		{
			"reserved extra key",
			func(s string) string {
				return strings.Replace(s, "gantry: temperature_sensor gantry_rail",
					"frame: temperature_sensor other", 1)
			},
			"shadows a reserved sensor key",
		},
		{
			"empty extra object",
			func(s string) string {
				return strings.Replace(s, "gantry: temperature_sensor gantry_rail", `gantry: ""`, 1)
			},
			"has no object name",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.mutate(validConfig)))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !gderr.IsConfig(err) {
				t.Errorf("expected CONFIG error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.wantSub)
			}
		})
	}
}

func TestInvalidDuration(t *testing.T) {
	bad := strings.Replace(validConfig, "sample_interval: 60s", "sample_interval: sixty", 1)
	_, err := Parse([]byte(bad))
	if err == nil {
		t.Fatal("expected parse error for bad duration")
	}
	if !gderr.IsConfig(err) {
		t.Errorf("expected CONFIG error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !gderr.IsConfig(err) {
		t.Errorf("expected CONFIG error, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(validConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.User.ID != "tester" {
		t.Errorf("unexpected user id: %s", cfg.User.ID)
	}
}

func TestSensorObjects(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	objects := cfg.SensorObjects()
	want := map[string]string{
		"bed":      "heater_bed",
		"extruder": "extruder",
		"frame":    "temperature_sensor frame",
		"chamber":  "temperature_sensor chamber",
		"gantry":   "temperature_sensor gantry_rail",
	}
	if len(objects) != len(want) {
		t.Fatalf("expected %d sensor objects, got %d", len(want), len(objects))
	}
	for key, object := range want {
		if objects[key] != object {
			t.Errorf("sensor %s = %q, want %q", key, objects[key], object)
		}
	}
}

func TestSensorObjectsOmitsUnconfigured(t *testing.T) {
	trimmed := strings.Replace(validConfig, "chamber: temperature_sensor chamber", "", 1)
	cfg, err := Parse([]byte(trimmed))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	objects := cfg.SensorObjects()
	if _, ok := objects["chamber"]; ok {
		t.Error("chamber should be absent when not configured")
	}
	if _, ok := objects["bed"]; !ok {
		t.Error("bed must always be present")
	}
}
