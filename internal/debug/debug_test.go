package debug

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T, lvl int, format string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(lvl, format)
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		Init(LevelOff, "text")
	})
	return &buf
}

func TestLevelGating(t *testing.T) {
	buf := capture(t, LevelInfo, "text")

	Info("homing complete")
	Live("command received")
	Trace("pin toggled")

	out := buf.String()
	if !strings.Contains(out, "homing complete") {
		t.Errorf("info message missing from output: %q", out)
	}
	if strings.Contains(out, "command received") {
		t.Errorf("live message should be filtered at level %d", LevelInfo)
	}
	if strings.Contains(out, "pin toggled") {
		t.Errorf("trace message should be filtered at level %d", LevelInfo)
	}
}

func TestOffProducesNothing(t *testing.T) {
	buf := capture(t, LevelOff, "text")

	Info("silent")
	Error(errors.New("also silent"))
	Logger().Info("discarded")

	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t, LevelTrace, "json")

	GPIO("WritePin", 22, true)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, buf.String())
	}
	if entry["tag"] != "GPIO" {
		t.Errorf("tag = %v, want GPIO", entry["tag"])
	}
	if entry["pin"] != float64(22) {
		t.Errorf("pin = %v, want 22", entry["pin"])
	}
}

func TestIsEnabled(t *testing.T) {
	capture(t, LevelLive, "text")

	if !IsEnabled(LevelInfo) || !IsEnabled(LevelLive) {
		t.Error("info and live should be enabled at live level")
	}
	if IsEnabled(LevelVerbose) {
		t.Error("verbose should be disabled at live level")
	}
}
