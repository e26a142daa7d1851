package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input string
		want  Level
	}{
		{"DEBUG", DEBUG},
		{"debug", DEBUG},
		{"INFO", INFO},
		{"WARN", WARN},
		{"warning", WARN},
		{"ERROR", ERROR},
		{"bogus", INFO},
		{"", INFO},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := ParseLevel(tc.input); got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New("test")
	l.SetWriter(&buf)
	l.SetColorize(false)
	l.SetLevel(WARN)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below WARN should be filtered, got: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("WARN and ERROR messages missing, got: %s", out)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("engine")
	l.SetWriter(&buf)
	l.SetColorize(false)

	l.Info("phase %s entered", "Heating")

	out := buf.String()
	if !strings.Contains(out, "[INFO ]") {
		t.Errorf("expected level tag in output, got: %s", out)
	}
	if !strings.Contains(out, "engine: phase Heating entered") {
		t.Errorf("expected prefix and formatted message, got: %s", out)
	}
}

func TestTextFormatFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	l := New("sampler")
	l.SetWriter(&buf)
	l.SetColorize(false)

	l.InfoFields("sample recorded", Fields{"z": 0.012, "elapsed": 60.0, "phase": "HotMeasure"})

	out := buf.String()
	idxElapsed := strings.Index(out, "elapsed=")
	idxPhase := strings.Index(out, "phase=")
	idxZ := strings.Index(out, "z=")
	if idxElapsed < 0 || idxPhase < 0 || idxZ < 0 {
		t.Fatalf("missing fields in output: %s", out)
	}
	if !(idxElapsed < idxPhase && idxPhase < idxZ) {
		t.Errorf("fields not sorted by key: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("client")
	l.SetWriter(&buf)
	l.SetFormat(FormatJSON)

	l.ErrorFields("request failed", Fields{"attempt": 2})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["level"] != "ERROR" {
		t.Errorf("expected level ERROR, got %v", entry["level"])
	}
	if entry["logger"] != "client" {
		t.Errorf("expected logger 'client', got %v", entry["logger"])
	}
	if entry["message"] != "request failed" {
		t.Errorf("expected message 'request failed', got %v", entry["message"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok {
		t.Fatal("missing fields object")
	}
	if fields["attempt"] != float64(2) {
		t.Errorf("expected attempt field 2, got %v", fields["attempt"])
	}
}

func TestWithPrefixSharesSettings(t *testing.T) {
	var buf bytes.Buffer
	l := New("root")
	l.SetWriter(&buf)
	l.SetColorize(false)
	l.SetLevel(ERROR)

	child := l.WithPrefix("child")
	child.Info("should be filtered")
	child.Error("should appear")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Errorf("child logger did not inherit level: %s", out)
	}
	if !strings.Contains(out, "child: should appear") {
		t.Errorf("child logger missing prefix or message: %s", out)
	}
}
