package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", Debug},
		{"INFO", Info},
		{"warning", Warn},
		{"warn", Warn},
		{" error ", Error},
		{"", Info},
		{"verbose", Info},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_LevelGating(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(Warn)
	defer SetLevel(Info)

	l := WithPrefix("engine")
	l.Debugf("hidden %d", 1)
	l.Infof("hidden %d", 2)
	l.Warnf("shown %d", 3)
	l.Errorf("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected debug/info to be suppressed, got %q", out)
	}
	if !strings.Contains(out, "WARN  [engine] shown 3") {
		t.Errorf("expected warn line with prefix, got %q", out)
	}
	if !strings.Contains(out, "ERROR [engine] shown 4") {
		t.Errorf("expected error line with prefix, got %q", out)
	}
}

func TestPackageLevelFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(Debug)
	defer SetLevel(Info)

	Debugf("d")
	Infof("i")
	if !strings.Contains(buf.String(), "DEBUG d") || !strings.Contains(buf.String(), "INFO  i") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestLogger_StdLogger(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(Info)

	WithPrefix("api").StdLogger().Printf("http: TLS handshake error from 10.0.0.1:5000: EOF\n")

	out := buf.String()
	if !strings.Contains(out, "WARN  [api] http: TLS handshake error") {
		t.Errorf("unexpected output %q", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Errorf("expected a single line, got %q", out)
	}
}
