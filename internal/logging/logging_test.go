package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"off", LevelOff},
		{"error", LevelError},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"info", LevelInfo},
		{"debug", LevelDebug},
		{"trace", LevelTrace},
		{"TRACE", LevelTrace},
		{"Info", LevelInfo},
		{"", LevelWarn},
	}

	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) returned error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseLevelUnknown(t *testing.T) {
	got, err := ParseLevel("verbose")
	if err == nil {
		t.Error("expected error for unknown level")
	}
	if got != LevelWarn {
		t.Errorf("unknown level should fall back to warn, got %v", got)
	}
}

func TestLevelString(t *testing.T) {
	for _, lvl := range []Level{LevelOff, LevelError, LevelWarn, LevelInfo, LevelDebug, LevelTrace} {
		round, err := ParseLevel(LevelString(lvl))
		if err != nil {
			t.Fatalf("LevelString(%v) not parseable: %v", lvl, err)
		}
		if round != lvl {
			t.Errorf("level %v did not round-trip, got %v", lvl, round)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelWarn, Output: &buf, Component: "test"})

	l.Info("hidden")
	l.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record emitted at warn level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("warn record missing at warn level")
	}
	if !strings.Contains(out, "component=test") {
		t.Errorf("component attribute missing: %s", out)
	}
}

func TestOffSilencesEverything(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelOff, Output: &buf})

	l.Error("nope")
	if buf.Len() != 0 {
		t.Errorf("expected no output at off level, got %q", buf.String())
	}
}

func TestTraceLevelName(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelTrace, Output: &buf})

	l.Trace("deep detail")
	if !strings.Contains(buf.String(), "TRACE") {
		t.Errorf("trace record not labelled TRACE: %s", buf.String())
	}
}
