package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q): got (%v, %v), want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("chatty"); err == nil {
		t.Error("ParseLevel(chatty): expected error")
	}
}

func TestSetup_LevelFollowsSetLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	level := Setup(&buf)

	slog.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug logged at info level: %s", buf.String())
	}

	if err := SetLevel(level, "debug"); err != nil {
		t.Fatal(err)
	}
	slog.Debug("shown", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Errorf("got %v, want msg=shown k=v", rec)
	}
}

func TestSetLevel_InvalidKeepsLevel(t *testing.T) {
	var level slog.LevelVar
	level.Set(slog.LevelWarn)
	if err := SetLevel(&level, "chatty"); err == nil {
		t.Fatal("expected error")
	}
	if got := level.Level(); got != slog.LevelWarn {
		t.Errorf("level: got %v, want %v", got, slog.LevelWarn)
	}
}
