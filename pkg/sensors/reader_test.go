package sensors

import (
	"context"
	"io"
	"testing"

	"gantry-drift/pkg/config"
	gderr "gantry-drift/pkg/errors"
	"gantry-drift/pkg/log"
	"gantry-drift/pkg/moonraker"
)

type fakeStatusClient struct {
	objects []string
	status  moonraker.Status
	queries []map[string][]string
	err     error
}

func (f *fakeStatusClient) ListObjects(ctx context.Context) ([]string, error) {
	return f.objects, nil
}

func (f *fakeStatusClient) QueryObjects(ctx context.Context, objects map[string][]string) (moonraker.Status, error) {
	f.queries = append(f.queries, objects)
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func testLogger() *log.Logger {
	l := log.New("test")
	l.SetWriter(io.Discard)
	return l
}

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.Parse([]byte(`
printer_url: http://printer.local
temperatures:
  bed_target: 105
commands:
  measure: PROBE_Z_SINGLE
sensors:
  frame: temperature_sensor frame
  extra:
    gantry: temperature_sensor gantry_rail
`))
	if err != nil {
		t.Fatalf("config parse failed: %v", err)
	}
	return cfg
}

func allObjects() []string {
	return []string{
		"heater_bed", "extruder", "toolhead",
		"temperature_sensor frame", "temperature_sensor gantry_rail",
	}
}

func TestResolve(t *testing.T) {
	client := &fakeStatusClient{objects: allObjects()}
	reader, err := Resolve(context.Background(), client, testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := []string{"bed", "extruder", "frame", "gantry"}
	keys := reader.Keys()
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), keys)
	}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("key %d = %q, want %q", i, keys[i], k)
		}
	}
}

func TestResolveUnknownSensor(t *testing.T) {
	client := &fakeStatusClient{objects: []string{"heater_bed", "extruder"}}
	_, err := Resolve(context.Background(), client, testConfig(t), testLogger())
	if err == nil {
		t.Fatal("expected configuration error for unresolvable sensor")
	}
	if !gderr.IsConfig(err) {
		t.Errorf("expected CONFIG error, got %v", err)
	}
	if len(client.queries) != 0 {
		t.Errorf("resolution must not issue object queries, got %d", len(client.queries))
	}
}

func TestReadAllBatchesOneQuery(t *testing.T) {
	temp := func(v float64) map[string]any { return map[string]any{"temperature": v} }
	client := &fakeStatusClient{
		objects: allObjects(),
		status: moonraker.Status{
			"heater_bed":                     temp(104.8),
			"extruder":                       temp(99.9),
			"temperature_sensor frame":       temp(41.2),
			"temperature_sensor gantry_rail": temp(38.7),
		},
	}

	reader, err := Resolve(context.Background(), client, testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	readings, err := reader.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	if len(client.queries) != 1 {
		t.Fatalf("expected one batched query, got %d", len(client.queries))
	}
	if len(client.queries[0]) != 4 {
		t.Errorf("expected 4 objects in batch, got %d", len(client.queries[0]))
	}

	if readings["bed"] == nil || *readings["bed"] != 104.8 {
		t.Errorf("unexpected bed reading: %v", readings["bed"])
	}
	if readings["frame"] == nil || *readings["frame"] != 41.2 {
		t.Errorf("unexpected frame reading: %v", readings["frame"])
	}
}

func TestReadAllMissingObjectYieldsNil(t *testing.T) {
	temp := func(v float64) map[string]any { return map[string]any{"temperature": v} }
	client := &fakeStatusClient{
		objects: allObjects(),
		status: moonraker.Status{
			"heater_bed": temp(104.8),
			"extruder":   temp(99.9),
			// frame and gantry absent from this poll
		},
	}

	reader, err := Resolve(context.Background(), client, testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	readings, err := reader.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll must not fail on per-key misses: %v", err)
	}
	if readings["frame"] != nil {
		t.Errorf("expected nil frame reading, got %v", *readings["frame"])
	}
	if readings["bed"] == nil {
		t.Error("expected bed reading to survive")
	}
	if len(readings) != 4 {
		t.Errorf("every key must appear in readings, got %d of 4", len(readings))
	}
}

func TestReadAllQueryFailure(t *testing.T) {
	client := &fakeStatusClient{
		objects: allObjects(),
		err:     gderr.New(gderr.ErrTransport, "connection refused"),
	}

	reader, err := Resolve(context.Background(), client, testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if _, err := reader.ReadAll(context.Background()); err == nil {
		t.Fatal("expected error when the whole batched query fails")
	}
}
