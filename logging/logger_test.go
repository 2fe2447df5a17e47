package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerFieldsAndLevelSwitch(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(Config{Service: "cuckoo", Module: "test"}, &buf)

	SetLevel("warn")
	l.InfoContext(context.Background(), "suppressed")
	if buf.Len() != 0 {
		t.Fatalf("info record should be filtered at warn level, got %s", buf.String())
	}

	SetLevel("debug")
	defer SetLevel("info")
	l.Named("table").DebugContext(context.Background(), "slot written", "bucket", 7)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("record is not JSON: %v (%s)", err, buf.String())
	}
	if rec["service"] != "cuckoo" || rec["component"] != "table" {
		t.Errorf("missing service/component attrs: %v", rec)
	}
	if _, ok := rec["timestamp"]; !ok {
		t.Errorf("time key should be renamed to timestamp: %v", rec)
	}
}
