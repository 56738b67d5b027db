package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "monitor"))
	log.Warn("delivery failed", Int64("recipient", 42), Err(errors.New("blocked")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v (%q)", err, buf.String())
	}
	if rec["comp"] != "monitor" {
		t.Fatalf("comp = %v, want monitor", rec["comp"])
	}
	if rec["err"] != "blocked" {
		t.Fatalf("err = %v, want blocked", rec["err"])
	}
	if rec["level"] != "warn" {
		t.Fatalf("level = %v, want warn", rec["level"])
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var log Logger
	if !log.IsZero() {
		t.Fatal("expected zero logger")
	}
	log.Info("ignored", String("k", "v"))
}

func TestFormatRecord(t *testing.T) {
	t.Parallel()
	got := formatRecord([]byte(`{"level":"error","message":"poll failed","time":"x","group":"ИС-1-23"}` + "\n"))
	if !strings.HasPrefix(got, "[ERROR] poll failed") {
		t.Fatalf("unexpected prefix: %q", got)
	}
	if !strings.Contains(got, "- group=ИС-1-23") {
		t.Fatalf("missing field: %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time should be omitted: %q", got)
	}

	if got := formatRecord([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("formatRecord(plain) = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARNING": LevelWarn,
		" error ": LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
