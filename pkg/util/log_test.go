package util

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// saveLoggerState saves the current logger state for restoration
func saveLoggerState() (io.Writer, logrus.Level, logrus.Formatter) {
	return Logger.Out, Logger.Level, Logger.Formatter
}

// restoreLoggerState restores the logger to its previous state
func restoreLoggerState(out io.Writer, level logrus.Level, formatter logrus.Formatter) {
	Logger.SetOutput(out)
	Logger.SetLevel(level)
	Logger.SetFormatter(formatter)
}

func TestSetLogLevel(t *testing.T) {
	out, level, formatter := saveLoggerState()
	defer restoreLoggerState(out, level, formatter)

	tests := []struct {
		level   string
		wantErr bool
	}{
		{"debug", false},
		{"info", false},
		{"warn", false},
		{"warning", false},
		{"error", false},
		{"invalid", true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			err := SetLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("SetLogLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
			}
		})
	}
}

func TestSetJSONFormat(t *testing.T) {
	out, level, formatter := saveLoggerState()
	defer restoreLoggerState(out, level, formatter)

	var buf bytes.Buffer
	SetLogOutput(&buf)
	SetJSONFormat()

	Info("test json")

	output := buf.String()
	if len(output) == 0 {
		t.Fatal("Expected output")
	}
	if output[0] != '{' {
		t.Errorf("Expected JSON output starting with '{', got: %s", output)
	}
}

func TestWithDevice(t *testing.T) {
	out, level, formatter := saveLoggerState()
	defer restoreLoggerState(out, level, formatter)

	var buf bytes.Buffer
	SetLogOutput(&buf)

	WithDevice("node-1", "eth0").Info("shaping")

	for _, want := range []string{"host=node-1", "device=eth0", "shaping"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log line %q missing %q", buf.String(), want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	out, level, formatter := saveLoggerState()
	defer restoreLoggerState(out, level, formatter)

	var buf bytes.Buffer
	SetLogOutput(&buf)
	if err := SetLogLevel("warn"); err != nil {
		t.Fatal(err)
	}

	Debugf("debug %d", 1)
	Infof("info %d", 2)
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got %q", buf.String())
	}

	Warnf("warn %d", 3)
	Errorf("error %d", 4)
	if !strings.Contains(buf.String(), "warn 3") || !strings.Contains(buf.String(), "error 4") {
		t.Errorf("missing warn/error output: %q", buf.String())
	}
}

func TestWithHostAndOperation(t *testing.T) {
	if WithHost("h1") == nil {
		t.Error("WithHost should return non-nil entry")
	}
	if WithOperation("emulation.deploy") == nil {
		t.Error("WithOperation should return non-nil entry")
	}
	if WithField("k", "v") == nil || WithFields(map[string]interface{}{"a": 1}) == nil {
		t.Error("WithField/WithFields should return non-nil entries")
	}
}

func TestConfigure(t *testing.T) {
	out, level, formatter := saveLoggerState()
	defer restoreLoggerState(out, level, formatter)

	if err := Configure("debug", "json"); err != nil {
		t.Fatalf("Configure() error: %v", err)
	}
	if Logger.Level != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", Logger.Level)
	}
	if _, ok := Logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T, want JSON", Logger.Formatter)
	}

	if err := Configure("warn", "xml"); err == nil {
		t.Error("unknown format should fail")
	}
	if Logger.Level != logrus.DebugLevel {
		t.Error("failed Configure should leave the level unchanged")
	}
	if err := Configure("loud", "text"); err == nil {
		t.Error("unknown level should fail")
	}
}
